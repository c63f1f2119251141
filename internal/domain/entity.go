// Package domain holds the agent fleet entities: identities, persisted
// state records, and the bounded history entries derived from them.
// It has no dependencies on other packages.
package domain

import (
	"encoding/json"
	"time"
)

// Status is an agent's liveness status.
type Status string

const (
	StatusActive  Status = "active"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusIdle, StatusOffline:
		return true
	}
	return false
}

// Hook events sent by the reporting clients.
const (
	HookPreToolUse         = "PreToolUse"
	HookPostToolUse        = "PostToolUse"
	HookPostToolUseFailure = "PostToolUseFailure"
	HookSubagentTool       = "SubagentTool"

	// HookLivenessSweep marks event log entries written by the liveness sweep.
	HookLivenessSweep = "LivenessSweep"
)

// IsToolCompletion reports whether hookEvent closes a tool invocation.
func IsToolCompletion(hookEvent string) bool {
	return hookEvent == HookPostToolUse || hookEvent == HookPostToolUseFailure
}

// UnknownType is the agent type used when a reporter sends none.
const UnknownType = "unknown"

// UnknownProject is the project of an agent with no working directory.
const UnknownProject = "unknown"

// Bounded history sizes.
const (
	MaxEventLog      = 200
	MaxTransitions   = 500
	MaxMessages      = 200
	MaxMessageLength = 300
)

// Identity is the registry entry for an agent: display and classification metadata.
type Identity struct {
	AgentID      string `json:"agentId"`
	AgentType    string `json:"agentType"`
	Project      string `json:"project"`
	Cwd          string `json:"cwd"`
	SessionID    string `json:"sessionId"`
	Color        string `json:"color"`
	Abbreviation string `json:"abbreviation"`
}

// ActivityEvent is one entry of an agent's bounded event log.
type ActivityEvent struct {
	Time       time.Time `json:"time"`
	HookEvent  string    `json:"hookEvent,omitempty"`
	Status     Status    `json:"status"`
	Tool       string    `json:"tool,omitempty"`
	Task       string    `json:"task,omitempty"`
	DurationMs *int64    `json:"durationMs,omitempty"`
}

// AgentState is the persisted state record of one agent.
type AgentState struct {
	AgentID           string          `json:"agentId"`
	AgentType         string          `json:"agentType,omitempty"`
	Project           string          `json:"project,omitempty"`
	Cwd               string          `json:"cwd,omitempty"`
	SessionID         string          `json:"sessionId,omitempty"`
	Status            Status          `json:"status"`
	CurrentTask       *string         `json:"currentTask"`
	CurrentTool       *string         `json:"currentTool"`
	LastActivity      time.Time       `json:"lastActivity"`
	SessionStart      *time.Time      `json:"sessionStart"`
	LastMessage       string          `json:"lastMessage,omitempty"`
	ToolDetail        json.RawMessage `json:"toolDetail,omitempty"`
	LastCompletedTool string          `json:"lastCompletedTool,omitempty"`
	LastToolDuration  *int64          `json:"lastToolDuration,omitempty"` // milliseconds
	EventLog          []ActivityEvent `json:"eventLog,omitempty"`
	ToolCounts        map[string]int  `json:"toolCounts,omitempty"`
	Version           uint64          `json:"version"`
}

// NewAgentState returns the default record for an agent that has never been persisted.
func NewAgentState(agentID string) *AgentState {
	return &AgentState{
		AgentID:    agentID,
		Status:     StatusOffline,
		ToolCounts: make(map[string]int),
	}
}

// Normalize enforces the record invariants: an offline agent has no current
// tool and no open session, the status is a known value, and the event log
// stays bounded.
func (a *AgentState) Normalize() {
	if !a.Status.Valid() {
		a.Status = StatusOffline
	}
	if a.Status == StatusOffline {
		a.CurrentTool = nil
		a.SessionStart = nil
	}
	if a.ToolCounts == nil {
		a.ToolCounts = make(map[string]int)
	}
	if n := len(a.EventLog); n > MaxEventLog {
		a.EventLog = append([]ActivityEvent(nil), a.EventLog[n-MaxEventLog:]...)
	}
}

// AppendEvent adds ev to the event log, discarding the oldest entry when full.
func (a *AgentState) AppendEvent(ev ActivityEvent) {
	a.EventLog = append(a.EventLog, ev)
	if n := len(a.EventLog); n > MaxEventLog {
		a.EventLog = append([]ActivityEvent(nil), a.EventLog[n-MaxEventLog:]...)
	}
}

// Clone returns a deep copy of the record.
func (a *AgentState) Clone() *AgentState {
	if a == nil {
		return nil
	}
	c := *a
	if a.CurrentTask != nil {
		v := *a.CurrentTask
		c.CurrentTask = &v
	}
	if a.CurrentTool != nil {
		v := *a.CurrentTool
		c.CurrentTool = &v
	}
	if a.SessionStart != nil {
		v := *a.SessionStart
		c.SessionStart = &v
	}
	if a.LastToolDuration != nil {
		v := *a.LastToolDuration
		c.LastToolDuration = &v
	}
	if a.ToolDetail != nil {
		c.ToolDetail = append(json.RawMessage(nil), a.ToolDetail...)
	}
	if a.EventLog != nil {
		c.EventLog = append([]ActivityEvent(nil), a.EventLog...)
	}
	if a.ToolCounts != nil {
		c.ToolCounts = make(map[string]int, len(a.ToolCounts))
		for k, v := range a.ToolCounts {
			c.ToolCounts[k] = v
		}
	}
	return &c
}

// Transition is one entry of the global status-transition log.
type Transition struct {
	Time      time.Time `json:"time"`
	AgentID   string    `json:"agentId"`
	OldStatus Status    `json:"oldStatus"`
	NewStatus Status    `json:"newStatus"`
	Tool      *string   `json:"tool"`
	Task      *string   `json:"task"`
}

// AgentMessage is an inter-agent message observed through a send-message tool call.
type AgentMessage struct {
	Time    time.Time `json:"time"`
	FromID  string    `json:"fromId"`
	ToID    string    `json:"toId"`
	Type    string    `json:"type"`
	Summary string    `json:"summary"`
	Content string    `json:"content"`
}

// ToolUse is one retroactively reported tool invocation of a subagent.
type ToolUse struct {
	Tool       string          `json:"tool"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	DurationMs *int64          `json:"durationMs,omitempty"`
	Time       time.Time       `json:"time,omitempty"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
