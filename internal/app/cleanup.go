package app

import (
	"sort"

	"github.com/jaakkos/agentshq/internal/domain"
)

// RemoveOfflineAgents deletes every offline agent: its record, registry
// entry, transitions and timer. Subscribers get a fresh init when anything
// was removed. Returns the number of records actually deleted.
func (s *FleetService) RemoveOfflineAgents() (int, error) {
	records, err := s.store.List()
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, rec := range records {
		if rec.Status == domain.StatusOffline {
			ids = append(ids, rec.AgentID)
		}
	}
	return s.removeOffline(ids), nil
}

// RemoveOfflineProjects deletes every agent of each project whose agents are
// all offline. Agents are grouped by their registry project, falling back to
// the record's project.
func (s *FleetService) RemoveOfflineProjects() (int, error) {
	records, err := s.store.List()
	if err != nil {
		return 0, err
	}
	groups := make(map[string][]*domain.AgentState)
	var order []string
	for _, rec := range records {
		project := rec.Project
		if id, ok := s.registry.Get(rec.AgentID); ok && id.Project != "" {
			project = id.Project
		}
		if project == "" {
			project = domain.UnknownProject
		}
		if _, ok := groups[project]; !ok {
			order = append(order, project)
		}
		groups[project] = append(groups[project], rec)
	}

	var ids []string
	for _, project := range order {
		members := groups[project]
		allOffline := true
		for _, rec := range members {
			if rec.Status != domain.StatusOffline {
				allOffline = false
				break
			}
		}
		if !allOffline {
			continue
		}
		for _, rec := range members {
			ids = append(ids, rec.AgentID)
		}
	}
	return s.removeOffline(ids), nil
}

// removeOffline deletes the given agents if they are still offline once
// locked, then purges them from the registry and the logs.
func (s *FleetService) removeOffline(ids []string) int {
	var removed []string
	for _, id := range ids {
		if s.deleteIfOffline(id) {
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return 0
	}
	s.registry.Remove(removed...)
	s.forget(removed...)
	if _, err := s.transitions.RemoveAgents(removed...); err != nil {
		s.logger.Printf("Warning: persist transition log: %v", err)
	}
	s.logger.Printf("Cleanup: removed %d offline agents", len(removed))
	s.publish(s.Snapshot())
	return len(removed)
}

func (s *FleetService) deleteIfOffline(agentID string) bool {
	unlock := s.locks.lock(agentID)
	defer unlock()

	rec, err := s.store.Load(agentID)
	if err != nil && !isCorrupt(err) {
		s.logger.Printf("Cleanup: reload %s: %v", agentID, err)
		return false
	}
	if rec != nil && rec.Status != domain.StatusOffline {
		return false
	}
	if err := s.store.Delete(agentID); err != nil {
		s.logger.Printf("Cleanup: delete %s: %v", agentID, err)
		return false
	}
	return true
}

// ResetAll deletes every record, undecodable ones included, and clears the
// registry, color assignments, both logs and all tool timers, then
// broadcasts an empty init. Returns the number of records deleted.
func (s *FleetService) ResetAll() (int, error) {
	records, err := s.store.List()
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.AgentID)
	}
	sort.Strings(ids)
	unlocks := make([]func(), 0, len(ids))
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		unlocks = append(unlocks, s.locks.lock(id))
	}
	removed, err := s.store.DeleteAll()
	for _, unlock := range unlocks {
		unlock()
	}
	if err != nil {
		s.logger.Printf("Reset: %v", err)
	}

	s.registry.Reset()
	s.timers.Reset()
	s.messages.Reset()
	s.fpMu.Lock()
	s.published = make(map[string]uint64)
	s.fpMu.Unlock()
	if err := s.transitions.Reset(); err != nil {
		s.logger.Printf("Warning: persist transition log: %v", err)
	}

	s.logger.Printf("Reset: removed %d agent records", removed)
	s.publish(domain.InitEvent{
		Type:        domain.EventInit,
		Config:      []domain.Identity{},
		States:      map[string]*domain.AgentState{},
		Transitions: []domain.Transition{},
	})
	return removed, nil
}
