package app

// NotifyChanged is called when an agent's record may have been written by
// another process. A record identical to the last one broadcast is ignored,
// which also absorbs the echo of this service's own writes. An unknown agent
// whose record carries a type is registered.
func (s *FleetService) NotifyChanged(agentID string) {
	unlock := s.locks.lock(agentID)
	rec, err := s.store.Load(agentID)
	if err != nil {
		unlock()
		if !isCorrupt(err) {
			s.logger.Printf("Watcher: load %s: %v", agentID, err)
		}
		return
	}
	if rec == nil {
		unlock()
		s.NotifyRemoved(agentID)
		return
	}
	if s.seen(rec) {
		unlock()
		return
	}
	res := s.registry.Resolve(agentID, rec.AgentType, rec.Cwd, rec.SessionID, false)
	if res.IsNew || res.ProjectChanged {
		s.publishConfig()
	}
	s.publishUpdate(rec)
	unlock()
}

// NotifyRemoved is called when an agent's record may have been deleted by
// another process. It is a no-op while the record still exists or when the
// agent was never broadcast.
func (s *FleetService) NotifyRemoved(agentID string) {
	unlock := s.locks.lock(agentID)
	rec, err := s.store.Load(agentID)
	if err != nil || rec != nil {
		unlock()
		return
	}
	s.fpMu.Lock()
	_, known := s.published[agentID]
	s.fpMu.Unlock()
	if !known && !s.registry.Has(agentID) {
		unlock()
		return
	}
	s.registry.Remove(agentID)
	s.forget(agentID)
	unlock()

	s.publish(s.Snapshot())
}

// Resync compares the store with what subscribers have seen and emits the
// missing notifications. It backs up event-based watching, and is the only
// change source for stores without file events.
func (s *FleetService) Resync() error {
	records, err := s.store.List()
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(records))
	for _, rec := range records {
		present[rec.AgentID] = true
		if !s.seen(rec) {
			s.NotifyChanged(rec.AgentID)
		}
	}
	for _, id := range s.publishedIDs() {
		if !present[id] {
			s.NotifyRemoved(id)
		}
	}
	return nil
}
