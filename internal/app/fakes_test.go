package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jaakkos/agentshq/internal/domain"
	"github.com/jaakkos/agentshq/internal/policy"
)

// memStore is an in-memory StateStore. Records are stored as JSON so that
// callers never share memory with the store, like the real backends.
type memStore struct {
	mu          sync.Mutex
	records     map[string][]byte
	transitions []domain.Transition
	failLoad    error
	failSave    error
	failDelete  map[string]error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string][]byte), failDelete: make(map[string]error)}
}

func (m *memStore) Load(agentID string) (*domain.AgentState, error) {
	if m.failLoad != nil {
		return nil, m.failLoad
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[agentID]
	if !ok {
		return nil, nil
	}
	var rec domain.AgentState
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%s: %w", agentID, ErrCorruptRecord)
	}
	rec.Normalize()
	return &rec, nil
}

func (m *memStore) Save(state *domain.AgentState) error {
	if m.failSave != nil {
		return m.failSave
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[state.AgentID] = data
	return nil
}

func (m *memStore) Delete(agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failDelete[agentID]; err != nil {
		return err
	}
	delete(m.records, agentID)
	return nil
}

func (m *memStore) DeleteAll() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.records)
	m.records = make(map[string][]byte)
	return n, nil
}

func (m *memStore) List() ([]*domain.AgentState, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	var out []*domain.AgentState
	for _, id := range ids {
		rec, err := m.Load(id)
		if err != nil || rec == nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStore) LoadTransitions() ([]domain.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Transition(nil), m.transitions...), nil
}

func (m *memStore) SaveTransitions(t []domain.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append([]domain.Transition(nil), t...)
	return nil
}

// put writes a record directly, as an external process would.
func (m *memStore) put(t *testing.T, rec *domain.AgentState) {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	m.records[rec.AgentID] = data
	m.mu.Unlock()
}

func (m *memStore) putRaw(agentID, raw string) {
	m.mu.Lock()
	m.records[agentID] = []byte(raw)
	m.mu.Unlock()
}

func (m *memStore) remove(agentID string) {
	m.mu.Lock()
	delete(m.records, agentID)
	m.mu.Unlock()
}

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []any
}

func (r *recorder) Publish(event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EventType
	for _, e := range r.events {
		switch ev := e.(type) {
		case domain.InitEvent:
			out = append(out, ev.Type)
		case domain.ConfigUpdateEvent:
			out = append(out, ev.Type)
		case domain.UpdateEvent:
			out = append(out, ev.Type)
		case domain.AgentMessageEvent:
			out = append(out, ev.Type)
		case domain.SubagentToolsEvent:
			out = append(out, ev.Type)
		}
	}
	return out
}

func (r *recorder) last() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testPolicy() Policy {
	return policy.New(policy.DefaultConfig())
}

type fixture struct {
	store *memStore
	pub   *recorder
	clock *fakeClock
	svc   *FleetService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: newMemStore(), pub: &recorder{}, clock: newFakeClock()}
	f.svc = NewFleetService(f.store, testPolicy(), testLogger(), WithClock(f.clock.Now))
	f.svc.SetPublisher(f.pub)
	if err := f.svc.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return f
}

// report ingests a JSON body as the HTTP layer would.
func (f *fixture) report(t *testing.T, agentID, body string) IngestResult {
	t.Helper()
	res, err := f.svc.Ingest(agentID, domain.ParseStatusPatch([]byte(body)))
	if err != nil {
		t.Fatalf("Ingest(%s): %v", agentID, err)
	}
	return res
}

var errDisk = errors.New("disk full")
