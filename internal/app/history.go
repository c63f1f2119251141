package app

import (
	"sync"

	"github.com/jaakkos/agentshq/internal/domain"
)

// ring is a fixed-capacity log that drops its oldest entry once full.
type ring[T any] struct {
	mu    sync.Mutex
	items []T
	max   int
}

func newRing[T any](max int) *ring[T] {
	if max <= 0 {
		max = 1
	}
	return &ring[T]{max: max}
}

// appendLocked adds v and returns a copy of the contents.
func (r *ring[T]) appendLocked(v T) []T {
	r.items = append(r.items, v)
	if n := len(r.items); n > r.max {
		r.items = append([]T(nil), r.items[n-r.max:]...)
	}
	return r.snapshotLocked()
}

func (r *ring[T]) snapshotLocked() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

func (r *ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// TransitionLog is the bounded, persisted status-transition log.
// Every change is written through save while the log is locked, so the
// persisted copy never goes back in time.
type TransitionLog struct {
	ring *ring[domain.Transition]
	save func([]domain.Transition) error
}

// NewTransitionLog creates a log holding at most max entries.
func NewTransitionLog(max int, save func([]domain.Transition) error) *TransitionLog {
	if save == nil {
		save = func([]domain.Transition) error { return nil }
	}
	return &TransitionLog{ring: newRing[domain.Transition](max), save: save}
}

// Restore replaces the contents without persisting (startup recovery).
func (l *TransitionLog) Restore(entries []domain.Transition) {
	l.ring.mu.Lock()
	defer l.ring.mu.Unlock()
	l.ring.items = nil
	for _, e := range entries {
		l.ring.appendLocked(e)
	}
}

// Append adds an entry and persists the log.
func (l *TransitionLog) Append(t domain.Transition) error {
	l.ring.mu.Lock()
	defer l.ring.mu.Unlock()
	return l.save(l.ring.appendLocked(t))
}

// RemoveAgents drops every entry of the given agents and persists the log.
// Returns how many entries were dropped.
func (l *TransitionLog) RemoveAgents(agentIDs ...string) (int, error) {
	if len(agentIDs) == 0 {
		return 0, nil
	}
	drop := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		drop[id] = true
	}
	l.ring.mu.Lock()
	defer l.ring.mu.Unlock()
	kept := l.ring.items[:0:0]
	for _, e := range l.ring.items {
		if !drop[e.AgentID] {
			kept = append(kept, e)
		}
	}
	n := len(l.ring.items) - len(kept)
	if n == 0 {
		return 0, nil
	}
	l.ring.items = kept
	return n, l.save(l.ring.snapshotLocked())
}

// Reset empties the log and persists the empty log.
func (l *TransitionLog) Reset() error {
	l.ring.mu.Lock()
	defer l.ring.mu.Unlock()
	l.ring.items = nil
	return l.save([]domain.Transition{})
}

// Snapshot returns a copy of the log, oldest first.
func (l *TransitionLog) Snapshot() []domain.Transition {
	return l.ring.Snapshot()
}

// ForAgent returns the entries of one agent, oldest first.
func (l *TransitionLog) ForAgent(agentID string) []domain.Transition {
	var out []domain.Transition
	for _, e := range l.ring.Snapshot() {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out
}

// MessageLog is the bounded in-memory log of inter-agent messages.
type MessageLog struct {
	ring *ring[domain.AgentMessage]
}

// NewMessageLog creates a log holding at most max messages.
func NewMessageLog(max int) *MessageLog {
	return &MessageLog{ring: newRing[domain.AgentMessage](max)}
}

// Append adds a message.
func (l *MessageLog) Append(m domain.AgentMessage) {
	l.ring.mu.Lock()
	defer l.ring.mu.Unlock()
	l.ring.appendLocked(m)
}

// Snapshot returns a copy of the log, oldest first.
func (l *MessageLog) Snapshot() []domain.AgentMessage {
	return l.ring.Snapshot()
}

// Reset empties the log.
func (l *MessageLog) Reset() {
	l.ring.mu.Lock()
	defer l.ring.mu.Unlock()
	l.ring.items = nil
}
