package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jaakkos/agentshq/internal/app"
	"github.com/jaakkos/agentshq/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	agent_id TEXT PRIMARY KEY,
	agent_type TEXT NOT NULL DEFAULT '',
	project TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'offline',
	last_activity TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL DEFAULT 0,
	doc TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS transitions (
	seq INTEGER PRIMARY KEY,
	time TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	old_status TEXT NOT NULL,
	new_status TEXT NOT NULL,
	tool TEXT,
	task TEXT
);
`

// indexes for the cleanup queries (offline agents, per-agent transition purge)
const indexes = `
CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
CREATE INDEX IF NOT EXISTS idx_transitions_agent ON transitions(agent_id);
`

// Store implements app.StateStore using SQLite. Each agent record is one
// row, so a record write is atomic. After every record write the store
// touches the notify signal file so watchers in other processes can resync.
type Store struct {
	db         *sql.DB
	signalPath string
}

// New opens the SQLite database at path (creating parent dirs and schema).
// signalPath may be empty to disable change signalling.
func New(path, signalPath string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite indexes: %w", err)
	}
	return &Store{db: db, signalPath: signalPath}, nil
}

// Close releases the database connection. Call on shutdown for clean exit.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// parseTime parses RFC3339Nano; an empty string is the zero time.
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeRecord(agentID, doc string) (*domain.AgentState, error) {
	var rec domain.AgentState
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("agent %s: %v: %w", agentID, err, app.ErrCorruptRecord)
	}
	rec.AgentID = agentID
	rec.Normalize()
	return &rec, nil
}

// Load implements app.StateStore.
func (s *Store) Load(agentID string) (*domain.AgentState, error) {
	var doc string
	err := s.db.QueryRow("SELECT doc FROM agents WHERE agent_id = ?", agentID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("agents: %w", err)
	}
	return decodeRecord(agentID, doc)
}

// Save implements app.StateStore.
func (s *Store) Save(state *domain.AgentState) error {
	if state == nil {
		return fmt.Errorf("state is nil")
	}
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode agent %s: %w", state.AgentID, err)
	}
	_, err = s.db.Exec(`INSERT INTO agents (agent_id, agent_type, project, status, last_activity, version, doc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			agent_type = excluded.agent_type,
			project = excluded.project,
			status = excluded.status,
			last_activity = excluded.last_activity,
			version = excluded.version,
			doc = excluded.doc,
			updated_at = excluded.updated_at`,
		state.AgentID, state.AgentType, state.Project, string(state.Status),
		formatTime(state.LastActivity), int64(state.Version), string(doc), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("agents upsert: %w", err)
	}
	_ = app.TouchNotifySignal(s.signalPath)
	return nil
}

// Delete implements app.StateStore.
func (s *Store) Delete(agentID string) error {
	res, err := s.db.Exec("DELETE FROM agents WHERE agent_id = ?", agentID)
	if err != nil {
		return fmt.Errorf("agents delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		_ = app.TouchNotifySignal(s.signalPath)
	}
	return nil
}

// DeleteAll implements app.StateStore. Undecodable rows go too.
func (s *Store) DeleteAll() (int, error) {
	res, err := s.db.Exec("DELETE FROM agents")
	if err != nil {
		return 0, fmt.Errorf("agents delete all: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		_ = app.TouchNotifySignal(s.signalPath)
	}
	return int(n), nil
}

// List implements app.StateStore. Undecodable rows are skipped.
func (s *Store) List() ([]*domain.AgentState, error) {
	rows, err := s.db.Query("SELECT agent_id, doc FROM agents ORDER BY agent_id")
	if err != nil {
		return nil, fmt.Errorf("agents: %w", err)
	}
	defer rows.Close()
	var out []*domain.AgentState
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(id, doc)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agents iteration: %w", err)
	}
	return out, nil
}

// LoadTransitions implements app.StateStore.
func (s *Store) LoadTransitions() ([]domain.Transition, error) {
	rows, err := s.db.Query("SELECT time, agent_id, old_status, new_status, tool, task FROM transitions ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("transitions: %w", err)
	}
	defer rows.Close()
	var out []domain.Transition
	for rows.Next() {
		var (
			t          domain.Transition
			ts         string
			tool, task sql.NullString
		)
		if err := rows.Scan(&ts, &t.AgentID, &t.OldStatus, &t.NewStatus, &tool, &task); err != nil {
			return nil, err
		}
		if t.Time, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("transitions: parse timestamp %q: %w", ts, err)
		}
		if tool.Valid {
			t.Tool = &tool.String
		}
		if task.Valid {
			t.Task = &task.String
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transitions iteration: %w", err)
	}
	return out, nil
}

// SaveTransitions implements app.StateStore. The table is replaced in one transaction.
func (s *Store) SaveTransitions(entries []domain.Transition) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM transitions"); err != nil {
		return err
	}
	for i, t := range entries {
		if _, err := tx.Exec("INSERT INTO transitions (seq, time, agent_id, old_status, new_status, tool, task) VALUES (?, ?, ?, ?, ?, ?, ?)",
			i+1, formatTime(t.Time), t.AgentID, string(t.OldStatus), string(t.NewStatus), nullString(t.Tool), nullString(t.Task)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
