package app

import (
	"sync"
	"time"
)

type toolTimer struct {
	tool  string
	start time.Time
}

// ToolTimers pairs tool-start and tool-completion events per agent to
// measure tool durations. A new start replaces an unfinished one.
type ToolTimers struct {
	mu     sync.Mutex
	timers map[string]toolTimer
}

// NewToolTimers creates an empty timer set.
func NewToolTimers() *ToolTimers {
	return &ToolTimers{timers: make(map[string]toolTimer)}
}

// Start opens (or replaces) the timer for agentID.
func (t *ToolTimers) Start(agentID, tool string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timers[agentID] = toolTimer{tool: tool, start: at}
}

// Stop closes the timer for agentID and returns the elapsed time and the tool
// it was opened for. ok is false when no timer was open.
func (t *ToolTimers) Stop(agentID string, at time.Time) (elapsed time.Duration, tool string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.timers[agentID]
	if !ok {
		return 0, "", false
	}
	delete(t.timers, agentID)
	elapsed = at.Sub(tm.start)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed, tm.tool, true
}

// Open reports the tool an agent currently has a timer for.
func (t *ToolTimers) Open(agentID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.timers[agentID]
	return tm.tool, ok
}

// Forget drops the timers of the given agents.
func (t *ToolTimers) Forget(agentIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range agentIDs {
		delete(t.timers, id)
	}
}

// Reset drops all timers.
func (t *ToolTimers) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timers = make(map[string]toolTimer)
}

// agentLocks serializes every state-record mutation of one agent.
// Entries are never removed; the map grows with the number of distinct ids.
type agentLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *agentLocks) lock(agentID string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[agentID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[agentID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
