package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAgentState(t *testing.T) {
	s := NewAgentState("a1")
	require.NotNil(t, s)
	assert.Equal(t, "a1", s.AgentID)
	assert.Equal(t, StatusOffline, s.Status)
	assert.NotNil(t, s.ToolCounts)
}

func TestNormalize_OfflineClearsToolAndSession(t *testing.T) {
	now := time.Now()
	s := &AgentState{
		AgentID:      "a1",
		Status:       StatusOffline,
		CurrentTool:  StringPtr("Read"),
		CurrentTask:  StringPtr("reviewing"),
		SessionStart: &now,
	}
	s.Normalize()
	assert.Nil(t, s.CurrentTool)
	assert.Nil(t, s.SessionStart)
	assert.Equal(t, "reviewing", Deref(s.CurrentTask), "task survives going offline")
}

func TestNormalize_UnknownStatusBecomesOffline(t *testing.T) {
	s := &AgentState{AgentID: "a1", Status: "sleeping", CurrentTool: StringPtr("Bash")}
	s.Normalize()
	assert.Equal(t, StatusOffline, s.Status)
	assert.Nil(t, s.CurrentTool)
}

func TestAppendEvent_Bounded(t *testing.T) {
	s := NewAgentState("a1")
	for i := 0; i < MaxEventLog+25; i++ {
		s.AppendEvent(ActivityEvent{Tool: "T", Task: string(rune('a' + i%26))})
	}
	assert.Len(t, s.EventLog, MaxEventLog)
}

func TestClone_IsDeep(t *testing.T) {
	d := int64(12)
	s := &AgentState{
		AgentID:          "a1",
		Status:           StatusActive,
		CurrentTool:      StringPtr("Read"),
		LastToolDuration: &d,
		ToolCounts:       map[string]int{"Read": 1},
		EventLog:         []ActivityEvent{{Tool: "Read"}},
	}
	c := s.Clone()
	*c.CurrentTool = "Write"
	c.ToolCounts["Read"] = 5
	c.EventLog[0].Tool = "Edit"
	*c.LastToolDuration = 99

	assert.Equal(t, "Read", *s.CurrentTool)
	assert.Equal(t, 1, s.ToolCounts["Read"])
	assert.Equal(t, "Read", s.EventLog[0].Tool)
	assert.Equal(t, int64(12), *s.LastToolDuration)
}

func TestAgentState_JSONShape(t *testing.T) {
	s := NewAgentState("a1")
	s.Status = StatusIdle
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "a1", m["agentId"])
	assert.Equal(t, "idle", m["status"])
	// Cleared fields are sent as explicit nulls so subscribers can drop them.
	v, ok := m["currentTool"]
	assert.True(t, ok)
	assert.Nil(t, v)
}
