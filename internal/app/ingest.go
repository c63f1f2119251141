package app

import (
	"unicode/utf8"

	"github.com/jaakkos/agentshq/internal/domain"
)

// IngestResult is the outcome of one status report.
type IngestResult struct {
	// Skipped is set when the report came from an unknown agent that was not
	// registered; nothing was stored or broadcast.
	Skipped        bool
	State          *domain.AgentState
	IsNew          bool
	ProjectChanged bool
	Message        *domain.AgentMessage
}

// Ingest merges a status report into the agent's record, persists it and
// broadcasts the resulting events (config_update, update, agent_message).
// A persistence failure is logged and returned; nothing is broadcast then.
func (s *FleetService) Ingest(agentID string, patch domain.StatusPatch) (IngestResult, error) {
	unlock := s.locks.lock(agentID)
	defer unlock()

	agentType, _ := patch.AgentType.Get()
	cwd, _ := patch.Cwd.Get()
	sessionID, _ := patch.SessionID.Get()
	res := s.registry.Resolve(agentID, agentType, cwd, sessionID, patch.GoingOffline())
	if res.Skipped {
		return IngestResult{Skipped: true}, nil
	}

	now := s.clock()
	hook := patch.Hook()
	startedTool, started := patch.StartedTool()

	var (
		duration  *int64
		timedTool string
	)
	switch {
	case started:
		s.timers.Start(agentID, startedTool, now)
	case domain.IsToolCompletion(hook):
		if elapsed, tool, ok := s.timers.Stop(agentID, now); ok {
			ms := elapsed.Milliseconds()
			duration = &ms
			timedTool = tool
		}
	}

	rec, err := s.load(agentID)
	if err != nil {
		s.logger.Printf("Ingest: %v", err)
		s.dropUnsaved(agentID, res)
		return IngestResult{}, err
	}
	if rec == nil {
		rec = domain.NewAgentState(agentID)
	}
	oldStatus := rec.Status
	if !oldStatus.Valid() {
		oldStatus = domain.StatusOffline
	}

	id := res.Identity
	rec.AgentID = agentID
	rec.AgentType = id.AgentType
	rec.Project = id.Project
	rec.Cwd = id.Cwd
	rec.SessionID = id.SessionID

	if status, ok := patch.Status.Get(); ok {
		rec.Status = status
	}
	if rec.Status == "" {
		rec.Status = domain.StatusOffline
	}
	switch rec.Status {
	case domain.StatusActive:
		if rec.SessionStart == nil {
			t := now
			rec.SessionStart = &t
		}
	case domain.StatusOffline:
		rec.SessionStart = nil
	}

	if patch.CurrentTask.Set {
		v, _ := patch.CurrentTask.Get()
		rec.CurrentTask = domain.StringPtr(v)
	}
	if patch.CurrentTool.Set {
		v, _ := patch.CurrentTool.Get()
		rec.CurrentTool = domain.StringPtr(v)
	}
	if msg, ok := patch.LastMessage.Get(); ok && msg != "" {
		rec.LastMessage = msg
	}
	if len(patch.ToolDetail) > 0 {
		rec.ToolDetail = append([]byte(nil), patch.ToolDetail...)
	}
	if duration != nil {
		rec.LastToolDuration = duration
	}
	if domain.IsToolCompletion(hook) {
		if name, ok := patch.CompletedToolName.Get(); ok && name != "" {
			rec.LastCompletedTool = name
		} else if timedTool != "" {
			rec.LastCompletedTool = timedTool
		}
	}
	rec.LastActivity = now
	if started {
		if rec.ToolCounts == nil {
			rec.ToolCounts = make(map[string]int)
		}
		rec.ToolCounts[startedTool]++
	}

	ev := domain.ActivityEvent{
		Time:       now,
		HookEvent:  hook,
		Status:     rec.Status,
		Tool:       domain.Deref(rec.CurrentTool),
		Task:       domain.Deref(rec.CurrentTask),
		DurationMs: duration,
	}
	if domain.IsToolCompletion(hook) {
		ev.Tool = rec.LastCompletedTool
	}
	rec.AppendEvent(ev)

	if err := s.save(rec); err != nil {
		s.logger.Printf("Ingest: %v", err)
		s.dropUnsaved(agentID, res)
		return IngestResult{}, err
	}

	if rec.Status != oldStatus || started {
		s.appendTransition(domain.Transition{
			Time:      now,
			AgentID:   agentID,
			OldStatus: oldStatus,
			NewStatus: rec.Status,
			Tool:      copyPtr(rec.CurrentTool),
			Task:      copyPtr(rec.CurrentTask),
		})
	}

	var msg *domain.AgentMessage
	if started && startedTool == s.policy.SendMessageTool() {
		if meta, ok := patch.MessageMeta(); ok {
			m := domain.AgentMessage{
				Time:    now,
				FromID:  agentID,
				ToID:    meta.Recipient,
				Type:    meta.MsgType,
				Summary: meta.Summary,
				Content: truncateRunes(meta.Content, domain.MaxMessageLength),
			}
			if m.Type == "" {
				m.Type = "message"
			}
			s.messages.Append(m)
			msg = &m
		}
	}

	if res.IsNew || res.ProjectChanged {
		s.publishConfig()
	}
	s.publishUpdate(rec)
	if msg != nil {
		s.publish(domain.AgentMessageEvent{Type: domain.EventAgentMessage, Message: *msg})
	}

	return IngestResult{
		State:          rec.Clone(),
		IsNew:          res.IsNew,
		ProjectChanged: res.ProjectChanged,
		Message:        msg,
	}, nil
}

// RecordSubagentTools stores a retroactively reported batch of tool uses of a
// subagent: tool counts, event log entries and the last timed tool. The
// agent's liveness is not touched. Returns the number of tools recorded.
func (s *FleetService) RecordSubagentTools(agentID, parentID, agentType, cwd string, tools []domain.ToolUse) (int, *domain.AgentState, error) {
	unlock := s.locks.lock(agentID)
	defer unlock()

	res := s.registry.Resolve(agentID, agentType, cwd, "", false)
	if res.Skipped {
		return 0, nil, nil
	}

	kept := make([]domain.ToolUse, 0, len(tools))
	for _, t := range tools {
		if t.Tool != "" {
			kept = append(kept, t)
		}
	}

	rec, err := s.load(agentID)
	if err != nil {
		s.dropUnsaved(agentID, res)
		return 0, nil, err
	}
	if rec == nil {
		rec = domain.NewAgentState(agentID)
	}
	rec.AgentType = res.Identity.AgentType
	rec.Project = res.Identity.Project
	rec.Cwd = res.Identity.Cwd
	rec.SessionID = res.Identity.SessionID
	if rec.ToolCounts == nil {
		rec.ToolCounts = make(map[string]int)
	}

	now := s.clock()
	for i := range kept {
		t := &kept[i]
		if t.Time.IsZero() {
			t.Time = now
		}
		t.Time = t.Time.UTC()
		rec.ToolCounts[t.Tool]++
		rec.AppendEvent(domain.ActivityEvent{
			Time:       t.Time,
			HookEvent:  domain.HookSubagentTool,
			Status:     rec.Status,
			Tool:       t.Tool,
			DurationMs: t.DurationMs,
		})
		if t.DurationMs != nil {
			rec.LastCompletedTool = t.Tool
			d := *t.DurationMs
			rec.LastToolDuration = &d
		}
	}

	if err := s.save(rec); err != nil {
		s.logger.Printf("RecordSubagentTools: %v", err)
		s.dropUnsaved(agentID, res)
		return 0, nil, err
	}

	if res.IsNew || res.ProjectChanged {
		s.publishConfig()
	}
	s.publishUpdate(rec)
	s.publish(domain.SubagentToolsEvent{
		Type:     domain.EventSubagentTools,
		AgentID:  agentID,
		ParentID: parentID,
		Tools:    kept,
	})
	return len(kept), rec.Clone(), nil
}

func copyPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// dropUnsaved forgets an agent registered by a report that failed to persist.
func (s *FleetService) dropUnsaved(agentID string, res Resolution) {
	if !res.IsNew {
		return
	}
	s.registry.Remove(agentID)
	s.timers.Forget(agentID)
}
