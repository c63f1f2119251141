package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/agentshq/internal/domain"
)

func seedFleet(t *testing.T, f *fixture) {
	t.Helper()
	f.report(t, "x-active", `{"agentType":"coder","cwd":"/p/x","status":"active"}`)
	f.report(t, "x-off", `{"agentType":"coder","cwd":"/p/x","status":"active"}`)
	f.report(t, "x-off", `{"status":"offline"}`)
	f.report(t, "y-1", `{"agentType":"tester","cwd":"/p/y","status":"active"}`)
	f.report(t, "y-1", `{"status":"offline"}`)
	f.report(t, "y-2", `{"agentType":"tester","cwd":"/p/y","status":"idle"}`)
	f.report(t, "y-2", `{"status":"offline"}`)
	f.pub.reset()
}

func TestRemoveOfflineProjects(t *testing.T) {
	f := newFixture(t)
	seedFleet(t, f)

	removed, err := f.svc.RemoveOfflineProjects()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	states, _ := f.svc.States()
	assert.Contains(t, states, "x-active")
	assert.Contains(t, states, "x-off", "project x still has a live agent")
	assert.NotContains(t, states, "y-1")
	assert.NotContains(t, states, "y-2")
	assert.False(t, f.svc.Registry().Has("y-1"))
	assert.Empty(t, f.svc.Transitions("y-1"))

	snap, ok := f.pub.last().(domain.InitEvent)
	require.True(t, ok)
	assert.Len(t, snap.States, 2)
	assert.Len(t, snap.Config, 2)
}

func TestRemoveOfflineAgents(t *testing.T) {
	f := newFixture(t)
	seedFleet(t, f)
	before, _ := f.store.Load("x-active")

	removed, err := f.svc.RemoveOfflineAgents()
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	states, _ := f.svc.States()
	require.Len(t, states, 1)
	for _, rec := range states {
		assert.NotEqual(t, domain.StatusOffline, rec.Status)
	}
	assert.Equal(t, before, states["x-active"], "remaining agents are untouched")
	assert.Equal(t, []domain.EventType{domain.EventInit}, f.pub.types())

	// Idempotent: nothing left, no broadcast.
	f.pub.reset()
	removed, err = f.svc.RemoveOfflineAgents()
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Empty(t, f.pub.types())
}

func TestRemoveOfflineAgents_CountsOnlySuccessfulDeletes(t *testing.T) {
	f := newFixture(t)
	seedFleet(t, f)
	f.store.failDelete["y-1"] = errDisk

	removed, err := f.svc.RemoveOfflineAgents()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.True(t, f.svc.Registry().Has("y-1"), "failed deletions keep their registry entry")
}

func TestRemoveOfflineAgents_UntrackedRecords(t *testing.T) {
	f := newFixture(t)
	rec := domain.NewAgentState("external")
	f.store.put(t, rec)

	removed, err := f.svc.RemoveOfflineAgents()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestResetAll(t *testing.T) {
	f := newFixture(t)
	seedFleet(t, f)
	f.report(t, "lead", `{"agentType":"lead","status":"active","hookEvent":"PreToolUse","currentTool":"SendMessage","toolDetail":{"meta":{"recipient":"x"}}}`)
	require.Len(t, f.svc.Messages(), 1)
	f.pub.reset()

	removed, err := f.svc.ResetAll()
	require.NoError(t, err)
	assert.Equal(t, 5, removed)

	states, _ := f.svc.States()
	assert.Empty(t, states)
	assert.Empty(t, f.svc.Identities())
	assert.Empty(t, f.svc.Messages())
	assert.Empty(t, f.svc.Transitions(""))

	snap, ok := f.pub.last().(domain.InitEvent)
	require.True(t, ok)
	assert.Empty(t, snap.Config)
	assert.Empty(t, snap.States)

	// Colors start over.
	f.report(t, "new", `{"agentType":"planner","status":"active"}`)
	assert.Equal(t, testPolicy().Palette()[0], f.svc.Identities()[0].Color)

	// Resetting an empty fleet still broadcasts.
	f.pub.reset()
	_, err = f.svc.ResetAll()
	require.NoError(t, err)
	assert.Equal(t, []domain.EventType{domain.EventInit}, f.pub.types())
}

func TestResetAll_RemovesUndecodableRecords(t *testing.T) {
	f := newFixture(t)
	f.report(t, "a1", `{"agentType":"coder","status":"active"}`)
	f.store.putRaw("garbled", "{not json")

	removed, err := f.svc.ResetAll()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	rec, err := f.store.Load("garbled")
	assert.NoError(t, err)
	assert.Nil(t, rec, "undecodable record survives a reset")
}
