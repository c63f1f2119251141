package app

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/agentshq/internal/domain"
)

func TestIngest_ToolDurationScenario(t *testing.T) {
	f := newFixture(t)

	res := f.report(t, "a1", `{"agentType":"coder","workingDirectory":"/proj/x","status":"active","currentTool":"Read","hookEvent":"PreToolUse"}`)
	require.False(t, res.Skipped)
	assert.True(t, res.IsNew)
	assert.Equal(t, "x", res.State.Project)
	assert.Equal(t, domain.StatusActive, res.State.Status)
	require.NotNil(t, res.State.SessionStart)
	assert.Equal(t, "Read", domain.Deref(res.State.CurrentTool))

	f.clock.Advance(50 * time.Millisecond)
	res = f.report(t, "a1", `{"hookEvent":"PostToolUse","completedToolName":"Read"}`)

	rec := res.State
	assert.Equal(t, "Read", rec.LastCompletedTool)
	require.NotNil(t, rec.LastToolDuration)
	assert.Equal(t, int64(50), *rec.LastToolDuration)
	assert.Equal(t, 1, rec.ToolCounts["Read"])
	assert.Equal(t, "Read", domain.Deref(rec.CurrentTool), "absent currentTool leaves it unchanged")
	assert.Equal(t, domain.StatusActive, rec.Status)
	assert.Equal(t, uint64(2), rec.Version)
	assert.Len(t, rec.EventLog, 2)

	stored, err := f.store.Load("a1")
	require.NoError(t, err)
	assert.Equal(t, rec.Version, stored.Version)
}

func TestIngest_CompletionWithoutTimer(t *testing.T) {
	f := newFixture(t)
	f.report(t, "a1", `{"agentType":"coder","status":"active"}`)

	res := f.report(t, "a1", `{"hookEvent":"PostToolUse","toolName":"Bash"}`)
	assert.Nil(t, res.State.LastToolDuration)
	assert.Equal(t, "Bash", res.State.LastCompletedTool)
}

func TestIngest_CompletedToolFallsBackToTimer(t *testing.T) {
	f := newFixture(t)
	f.report(t, "a1", `{"agentType":"coder","status":"active","currentTool":"Grep","hookEvent":"PreToolUse"}`)
	f.clock.Advance(time.Second)

	res := f.report(t, "a1", `{"hookEvent":"PostToolUseFailure"}`)
	assert.Equal(t, "Grep", res.State.LastCompletedTool)
	require.NotNil(t, res.State.LastToolDuration)
	assert.Equal(t, int64(1000), *res.State.LastToolDuration)
}

func TestIngest_Skipped(t *testing.T) {
	f := newFixture(t)

	res := f.report(t, "ghost", `{"agentType":"coder","status":"offline"}`)
	assert.True(t, res.Skipped)
	res = f.report(t, "anon", `{"status":"active"}`)
	assert.True(t, res.Skipped)

	recs, _ := f.store.List()
	assert.Empty(t, recs)
	assert.Empty(t, f.pub.types())
	assert.Empty(t, f.svc.Identities())
}

func TestIngest_NullVersusAbsent(t *testing.T) {
	f := newFixture(t)
	f.report(t, "a1", `{"agentType":"coder","status":"active","currentTask":"write tests","currentTool":"Edit"}`)

	res := f.report(t, "a1", `{"currentTool":null}`)
	assert.Nil(t, res.State.CurrentTool, "explicit null clears")
	assert.Equal(t, "write tests", domain.Deref(res.State.CurrentTask), "absent keeps")

	res = f.report(t, "a1", `{"currentTask":""}`)
	assert.Nil(t, res.State.CurrentTask, "empty string clears")
}

func TestIngest_MalformedFieldsAreAbsent(t *testing.T) {
	f := newFixture(t)
	f.report(t, "a1", `{"agentType":"coder","status":"active","currentTask":"t"}`)

	res := f.report(t, "a1", `{"status":"sleeping","currentTask":42}`)
	assert.Equal(t, domain.StatusActive, res.State.Status)
	assert.Equal(t, "t", domain.Deref(res.State.CurrentTask))

	res = f.report(t, "a1", `not json`)
	assert.Equal(t, domain.StatusActive, res.State.Status)
}

func TestIngest_OfflineClearsToolAndSession(t *testing.T) {
	f := newFixture(t)
	f.report(t, "a1", `{"agentType":"coder","status":"active","currentTool":"Read","hookEvent":"PreToolUse"}`)

	res := f.report(t, "a1", `{"status":"offline"}`)
	assert.Equal(t, domain.StatusOffline, res.State.Status)
	assert.Nil(t, res.State.CurrentTool)
	assert.Nil(t, res.State.SessionStart)

	res = f.report(t, "a1", `{"status":"active"}`)
	require.NotNil(t, res.State.SessionStart)
	assert.Equal(t, f.clock.Now(), *res.State.SessionStart)
}

func TestIngest_SessionStartKeptWhileActive(t *testing.T) {
	f := newFixture(t)
	first := f.report(t, "a1", `{"agentType":"coder","status":"active"}`)
	f.clock.Advance(time.Minute)
	second := f.report(t, "a1", `{"status":"active"}`)
	assert.Equal(t, *first.State.SessionStart, *second.State.SessionStart)
	assert.True(t, second.State.LastActivity.After(first.State.LastActivity))
}

func TestIngest_TransitionsAndEventOrder(t *testing.T) {
	f := newFixture(t)
	f.report(t, "a1", `{"agentType":"coder","cwd":"/p/x","status":"active"}`)
	f.clock.Advance(time.Second)
	f.report(t, "a1", `{"hookEvent":"PreToolUse","currentTool":"Read","currentTask":"look"}`)
	f.clock.Advance(time.Second)
	f.report(t, "a1", `{"hookEvent":"PostToolUse"}`) // no transition
	f.clock.Advance(time.Second)
	f.report(t, "a1", `{"status":"idle"}`)

	got := f.svc.Transitions("a1")
	require.Len(t, got, 3)
	assert.Equal(t, domain.StatusOffline, got[0].OldStatus)
	assert.Equal(t, domain.StatusActive, got[0].NewStatus)
	assert.Equal(t, domain.StatusActive, got[1].NewStatus)
	assert.Equal(t, "Read", domain.Deref(got[1].Tool))
	assert.Equal(t, "look", domain.Deref(got[1].Task))
	assert.Equal(t, domain.StatusIdle, got[2].NewStatus)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Time.After(got[i-1].Time))
	}

	f.store.mu.Lock()
	persisted := len(f.store.transitions)
	f.store.mu.Unlock()
	assert.Equal(t, 3, persisted)
}

func TestIngest_BroadcastOrder(t *testing.T) {
	f := newFixture(t)
	f.report(t, "a1", `{"agentType":"coder","cwd":"/p/x","status":"active"}`)
	assert.Equal(t, []domain.EventType{domain.EventConfigUpdate, domain.EventUpdate}, f.pub.types())

	f.pub.reset()
	f.report(t, "a1", `{"status":"active"}`)
	assert.Equal(t, []domain.EventType{domain.EventUpdate}, f.pub.types())

	f.pub.reset()
	f.report(t, "a1", `{"cwd":"/p/y"}`)
	assert.Equal(t, []domain.EventType{domain.EventConfigUpdate, domain.EventUpdate}, f.pub.types(), "project change")
}

func TestIngest_DetectsMessages(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("é", 400)
	body := `{"agentType":"lead","status":"active","hookEvent":"PreToolUse","currentTool":"SendMessage",
		"toolDetail":{"meta":{"recipient":"worker-2","summary":"next step","content":"` + long + `"}}}`

	res := f.report(t, "lead-1", body)
	require.NotNil(t, res.Message)
	assert.Equal(t, "lead-1", res.Message.FromID)
	assert.Equal(t, "worker-2", res.Message.ToID)
	assert.Equal(t, "message", res.Message.Type, "type defaults")
	assert.Equal(t, 300, len([]rune(res.Message.Content)))

	assert.Equal(t, []domain.EventType{domain.EventConfigUpdate, domain.EventUpdate, domain.EventAgentMessage}, f.pub.types())
	assert.Len(t, f.svc.Messages(), 1)
	assert.NotEmpty(t, res.State.ToolDetail)

	// Other tools and non-start events carry no message.
	res = f.report(t, "lead-1", `{"hookEvent":"PostToolUse","toolDetail":{"meta":{"recipient":"x"}}}`)
	assert.Nil(t, res.Message)
	res = f.report(t, "lead-1", `{"hookEvent":"PreToolUse","currentTool":"Read","toolDetail":{"meta":{"recipient":"x"}}}`)
	assert.Nil(t, res.Message)
	assert.Len(t, f.svc.Messages(), 1)
}

func TestIngest_CorruptRecordStartsFresh(t *testing.T) {
	f := newFixture(t)
	f.store.putRaw("a1", `{"agentId":`)

	res := f.report(t, "a1", `{"agentType":"coder","status":"active"}`)
	assert.Equal(t, domain.StatusActive, res.State.Status)
	assert.Equal(t, uint64(1), res.State.Version)
}

func TestIngest_SaveFailureIsLocal(t *testing.T) {
	f := newFixture(t)
	f.report(t, "ok", `{"agentType":"coder","status":"active"}`)
	f.pub.reset()

	f.store.failSave = errDisk
	_, err := f.svc.Ingest("bad", domain.ParseStatusPatch([]byte(`{"agentType":"coder","status":"active"}`)))
	assert.ErrorIs(t, err, errDisk)
	assert.NotContains(t, f.pub.types(), domain.EventUpdate)
	assert.False(t, f.svc.Registry().Has("bad"), "unsaved agent is not registered")

	f.store.failSave = nil
	res := f.report(t, "ok", `{"status":"idle"}`)
	assert.Equal(t, domain.StatusIdle, res.State.Status)
}

func TestIngest_LoadFailureRegistersNothing(t *testing.T) {
	f := newFixture(t)
	f.report(t, "ok", `{"agentType":"coder","status":"active"}`)
	f.pub.reset()

	f.store.failLoad = errDisk
	_, err := f.svc.Ingest("new-1", domain.ParseStatusPatch([]byte(
		`{"agentType":"coder","status":"active","hookEvent":"PreToolUse","currentTool":"Read"}`)))
	assert.ErrorIs(t, err, errDisk)
	_, _, err = f.svc.RecordSubagentTools("sub-9", "ok", "explorer", "", []domain.ToolUse{{Tool: "Read"}})
	assert.ErrorIs(t, err, errDisk)

	assert.False(t, f.svc.Registry().Has("new-1"))
	assert.False(t, f.svc.Registry().Has("sub-9"))
	assert.Len(t, f.svc.Identities(), 1)
	assert.Empty(t, f.pub.types())

	f.store.failLoad = nil
	res := f.report(t, "new-1", `{"agentType":"coder","status":"active","hookEvent":"PostToolUse","toolName":"Read"}`)
	assert.True(t, res.IsNew)
	assert.Nil(t, res.State.LastToolDuration, "timer started by the failed report is gone")
	assert.Contains(t, f.pub.types(), domain.EventConfigUpdate)
}

func TestIngest_LastMessagePassthrough(t *testing.T) {
	f := newFixture(t)
	f.report(t, "a1", `{"agentType":"coder","status":"active","lastMessage":"done with step 1"}`)
	res := f.report(t, "a1", `{"lastMessage":""}`)
	assert.Equal(t, "done with step 1", res.State.LastMessage, "empty lastMessage keeps the previous one")
}

func TestRecordSubagentTools(t *testing.T) {
	f := newFixture(t)
	f.report(t, "sub-1", `{"agentType":"explorer","status":"active"}`)
	before, _ := f.store.Load("sub-1")
	f.pub.reset()
	f.clock.Advance(time.Minute)

	d1, d2 := int64(120), int64(80)
	n, rec, err := f.svc.RecordSubagentTools("sub-1", "lead-1", "", "", []domain.ToolUse{
		{Tool: "Read", DurationMs: &d1},
		{Tool: ""},
		{Tool: "Grep", DurationMs: &d2},
		{Tool: "Read"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, rec.ToolCounts["Read"])
	assert.Equal(t, 1, rec.ToolCounts["Grep"])
	assert.Equal(t, "Grep", rec.LastCompletedTool)
	assert.Equal(t, int64(80), *rec.LastToolDuration)
	assert.Equal(t, before.LastActivity, rec.LastActivity, "retroactive history does not count as activity")
	assert.Equal(t, []domain.EventType{domain.EventUpdate, domain.EventSubagentTools}, f.pub.types())

	ev, ok := f.pub.last().(domain.SubagentToolsEvent)
	require.True(t, ok)
	assert.Equal(t, "lead-1", ev.ParentID)
	assert.Len(t, ev.Tools, 3)
}

func TestRecordSubagentTools_UnknownUntypedIsSkipped(t *testing.T) {
	f := newFixture(t)
	n, rec, err := f.svc.RecordSubagentTools("nobody", "", "", "", []domain.ToolUse{{Tool: "Read"}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Nil(t, rec)
	assert.Empty(t, f.pub.types())
}
