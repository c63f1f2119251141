package app

import (
	"time"

	"github.com/jaakkos/agentshq/internal/domain"
)

// Demotion describes one status change made by a liveness sweep.
type Demotion struct {
	AgentID string
	From    domain.Status
	To      domain.Status
}

// demotionTarget returns the status an agent should be demoted to, or "".
// The sweep never promotes.
func demotionTarget(rec *domain.AgentState, now time.Time, idleAfter, offlineAfter time.Duration) domain.Status {
	if rec.LastActivity.IsZero() || rec.Status == domain.StatusOffline {
		return ""
	}
	elapsed := now.Sub(rec.LastActivity)
	switch {
	case elapsed >= offlineAfter:
		return domain.StatusOffline
	case elapsed >= idleAfter && rec.Status == domain.StatusActive:
		return domain.StatusIdle
	}
	return ""
}

// Sweep demotes agents whose last activity is older than the thresholds:
// active to idle after idleAfter, any live status to offline after
// offlineAfter. Each candidate is re-read under its agent lock, so a report
// that arrived since the listing wins. Errors on single agents are logged
// and skipped.
func (s *FleetService) Sweep(now time.Time, idleAfter, offlineAfter time.Duration) ([]Demotion, error) {
	records, err := s.store.List()
	if err != nil {
		return nil, err
	}
	now = now.UTC()

	var demoted []Demotion
	for _, candidate := range records {
		if demotionTarget(candidate, now, idleAfter, offlineAfter) == "" {
			continue
		}
		if d, ok := s.demote(candidate.AgentID, now, idleAfter, offlineAfter); ok {
			demoted = append(demoted, d)
		}
	}
	return demoted, nil
}

func (s *FleetService) demote(agentID string, now time.Time, idleAfter, offlineAfter time.Duration) (Demotion, bool) {
	unlock := s.locks.lock(agentID)
	defer unlock()

	rec, err := s.store.Load(agentID)
	if err != nil || rec == nil {
		if err != nil {
			s.logger.Printf("Sweeper: reload %s: %v", agentID, err)
		}
		return Demotion{}, false
	}
	target := demotionTarget(rec, now, idleAfter, offlineAfter)
	if target == "" {
		return Demotion{}, false
	}

	from := rec.Status
	rec.Status = target
	rec.CurrentTool = nil
	if target == domain.StatusOffline {
		rec.SessionStart = nil
	}
	rec.AppendEvent(domain.ActivityEvent{
		Time:      now,
		HookEvent: domain.HookLivenessSweep,
		Status:    target,
	})
	if err := s.save(rec); err != nil {
		s.logger.Printf("Sweeper: %v", err)
		return Demotion{}, false
	}
	if target == domain.StatusOffline {
		s.timers.Forget(agentID)
	}

	s.appendTransition(domain.Transition{
		Time:      now,
		AgentID:   agentID,
		OldStatus: from,
		NewStatus: target,
	})
	s.publishUpdate(rec)
	return Demotion{AgentID: agentID, From: from, To: target}, true
}
