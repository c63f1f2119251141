// Package filestore implements app.StateStore as one JSON document per agent
// under <state_dir>/agents plus <state_dir>/transitions.json. Other processes
// may write records into the same directory; the change watcher picks them up.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/jaakkos/agentshq/internal/app"
	"github.com/jaakkos/agentshq/internal/domain"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// FileKey returns the file name stem for an agent id. Ids that are already
// filesystem-safe are used as-is; others are sanitized and suffixed with a
// hash of the original id so distinct ids never share a file.
func FileKey(agentID string) string {
	safe := unsafeChars.ReplaceAllString(agentID, "_")
	if safe == agentID && safe != "" {
		return safe
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(agentID))
	return fmt.Sprintf("%s-%08x", safe, h.Sum32())
}

// Store is a directory-backed StateStore. Every write goes to a temp file
// that is renamed into place, so readers never see a partial record.
type Store struct {
	agentsDir       string
	transitionsPath string

	mu    sync.Mutex
	paths map[string]string // agent id -> record file, including files written by others
}

// New creates the agents directory if needed and returns a Store.
func New(agentsDir, transitionsPath string) (*Store, error) {
	if err := os.MkdirAll(agentsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create agents dir: %w", err)
	}
	return &Store{
		agentsDir:       agentsDir,
		transitionsPath: transitionsPath,
		paths:           make(map[string]string),
	}, nil
}

// Dir returns the agents directory.
func (s *Store) Dir() string { return s.agentsDir }

// recordFile is the wire shape of a record file: external writers may use
// "id" instead of "agentId".
type recordFile struct {
	domain.AgentState
	ID string `json:"id,omitempty"`
}

func decode(path string, data []byte) (*domain.AgentState, error) {
	var rf recordFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", filepath.Base(path), err, app.ErrCorruptRecord)
	}
	rec := rf.AgentState
	if rec.AgentID == "" {
		rec.AgentID = rf.ID
	}
	if rec.AgentID == "" {
		return nil, fmt.Errorf("%s: no agent id: %w", filepath.Base(path), app.ErrCorruptRecord)
	}
	rec.Normalize()
	return &rec, nil
}

func (s *Store) pathFor(agentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.paths[agentID]; ok {
		return p
	}
	return filepath.Join(s.agentsDir, FileKey(agentID)+".json")
}

func (s *Store) track(agentID, path string) {
	s.mu.Lock()
	s.paths[agentID] = path
	s.mu.Unlock()
}

// Load implements app.StateStore.
func (s *Store) Load(agentID string) (*domain.AgentState, error) {
	path := s.pathFor(agentID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rec, err := decode(path, data)
	if err != nil {
		return nil, err
	}
	rec.AgentID = agentID
	s.track(agentID, path)
	return rec, nil
}

// Save implements app.StateStore.
func (s *Store) Save(state *domain.AgentState) error {
	if state == nil {
		return fmt.Errorf("state is nil")
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode agent %s: %w", state.AgentID, err)
	}
	path := s.pathFor(state.AgentID)
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	s.track(state.AgentID, path)
	return nil
}

// Delete implements app.StateStore.
func (s *Store) Delete(agentID string) error {
	path := s.pathFor(agentID)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	s.mu.Lock()
	delete(s.paths, agentID)
	s.mu.Unlock()
	return nil
}

// DeleteAll implements app.StateStore. Every record file is removed,
// including ones that cannot be decoded. Removal errors are joined; the count
// covers the files actually removed.
func (s *Store) DeleteAll() (int, error) {
	entries, err := os.ReadDir(s.agentsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read agents dir: %w", err)
	}
	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(s.agentsDir, name)
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			}
			continue
		}
		removed++
	}
	s.mu.Lock()
	s.paths = make(map[string]string)
	s.mu.Unlock()
	return removed, errors.Join(errs...)
}

// List implements app.StateStore. Files that cannot be read or decoded are
// skipped. Records are returned in agent id order.
func (s *Store) List() ([]*domain.AgentState, error) {
	entries, err := os.ReadDir(s.agentsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agents dir: %w", err)
	}
	var out []*domain.AgentState
	seen := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(s.agentsDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		rec, err := decode(path, data)
		if err != nil || seen[rec.AgentID] {
			continue
		}
		seen[rec.AgentID] = true
		s.track(rec.AgentID, path)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

// IDForPath maps a record file to its agent id. Files not seen before are
// read to find the id; removed files resolve only if they were tracked.
func (s *Store) IDForPath(path string) (string, bool) {
	path = filepath.Clean(path)
	s.mu.Lock()
	for id, p := range s.paths {
		if filepath.Clean(p) == path {
			s.mu.Unlock()
			return id, true
		}
	}
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	rec, err := decode(path, data)
	if err != nil {
		return "", false
	}
	s.track(rec.AgentID, path)
	return rec.AgentID, true
}

// LoadTransitions implements app.StateStore. A missing or unreadable log is empty.
func (s *Store) LoadTransitions() ([]domain.Transition, error) {
	data, err := os.ReadFile(s.transitionsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read transitions: %w", err)
	}
	var out []domain.Transition
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, nil
	}
	return out, nil
}

// SaveTransitions implements app.StateStore.
func (s *Store) SaveTransitions(entries []domain.Transition) error {
	if entries == nil {
		entries = []domain.Transition{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode transitions: %w", err)
	}
	return writeFileAtomic(s.transitionsPath, data)
}

// writeFileAtomic writes data to a hidden temp file in the target directory
// and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
