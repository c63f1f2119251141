package app

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jaakkos/agentshq/internal/domain"
)

// FleetService runs the fleet use cases over the state store: ingestion,
// liveness sweeps, external change notifications and cleanup. Every record
// mutation of an agent is serialized through that agent's lock.
type FleetService struct {
	store       StateStore
	policy      Policy
	logger      *log.Logger
	registry    *Registry
	transitions *TransitionLog
	messages    *MessageLog
	timers      *ToolTimers
	locks       agentLocks
	now         func() time.Time

	pubMu     sync.RWMutex
	publisher Publisher // set via SetPublisher after construction

	fpMu      sync.Mutex
	published map[string]uint64 // fingerprint of the last record broadcast per agent
}

// ServiceOption configures a FleetService.
type ServiceOption func(*FleetService)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *FleetService) { s.now = now }
}

// NewFleetService returns a FleetService over store. Call Bootstrap before serving.
func NewFleetService(store StateStore, policy Policy, logger *log.Logger, opts ...ServiceOption) *FleetService {
	s := &FleetService{
		store:     store,
		policy:    policy,
		logger:    logger,
		registry:  NewRegistry(policy.Palette()),
		messages:  NewMessageLog(policy.MessageLogMax()),
		timers:    NewToolTimers(),
		now:       time.Now,
		publisher: nopPublisher{},
		published: make(map[string]uint64),
	}
	s.transitions = NewTransitionLog(policy.TransitionLogMax(), store.SaveTransitions)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPublisher attaches the broadcast hub. Events published before this call are discarded.
func (s *FleetService) SetPublisher(p Publisher) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if p == nil {
		p = nopPublisher{}
	}
	s.publisher = p
}

func (s *FleetService) publish(event any) {
	s.pubMu.RLock()
	p := s.publisher
	s.pubMu.RUnlock()
	p.Publish(event)
}

func (s *FleetService) clock() time.Time {
	return s.now().UTC()
}

// Bootstrap recovers the transition log and the registry from the store.
// Identities are restored in agent id order so color assignment is stable
// across restarts.
func (s *FleetService) Bootstrap() error {
	transitions, err := s.store.LoadTransitions()
	if err != nil {
		return fmt.Errorf("load transitions: %w", err)
	}
	s.transitions.Restore(transitions)

	records, err := s.store.List()
	if err != nil {
		return fmt.Errorf("list state records: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].AgentID < records[j].AgentID })
	for _, rec := range records {
		s.registry.Resolve(rec.AgentID, rec.AgentType, rec.Cwd, rec.SessionID, false)
		s.remember(rec)
	}
	s.logger.Printf("Recovered %d agent records, %d known agents, %d transitions",
		len(records), s.registry.Len(), len(transitions))
	return nil
}

// Registry returns the agent registry.
func (s *FleetService) Registry() *Registry { return s.registry }

// Identities returns the registry snapshot.
func (s *FleetService) Identities() []domain.Identity {
	return s.registry.Snapshot()
}

// States returns every persisted record keyed by agent id.
func (s *FleetService) States() (map[string]*domain.AgentState, error) {
	records, err := s.store.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*domain.AgentState, len(records))
	for _, rec := range records {
		out[rec.AgentID] = rec
	}
	return out, nil
}

// Agent returns the persisted record of one agent, or nil.
func (s *FleetService) Agent(agentID string) (*domain.AgentState, error) {
	return s.store.Load(agentID)
}

// Messages returns the inter-agent message log.
func (s *FleetService) Messages() []domain.AgentMessage {
	return s.messages.Snapshot()
}

// Transitions returns the status-transition log. A non-empty agentID
// restricts it to that agent.
func (s *FleetService) Transitions(agentID string) []domain.Transition {
	if agentID != "" {
		return s.transitions.ForAgent(agentID)
	}
	return s.transitions.Snapshot()
}

// Snapshot builds the full init event. A store listing failure yields an
// empty state map rather than no snapshot.
func (s *FleetService) Snapshot() domain.InitEvent {
	states, err := s.States()
	if err != nil {
		s.logger.Printf("Warning: list state records for snapshot: %v", err)
		states = map[string]*domain.AgentState{}
	}
	return domain.InitEvent{
		Type:        domain.EventInit,
		Config:      s.registry.Snapshot(),
		States:      states,
		Transitions: s.transitions.Snapshot(),
	}
}

// SubscriberSnapshot returns the events a new subscriber receives, in order.
func (s *FleetService) SubscriberSnapshot() []any {
	return []any{
		s.Snapshot(),
		domain.MessageHistoryEvent{Type: domain.EventMessageHistory, Messages: s.messages.Snapshot()},
	}
}

func (s *FleetService) publishConfig() {
	s.publish(domain.ConfigUpdateEvent{Type: domain.EventConfigUpdate, Config: s.registry.Snapshot()})
}

func (s *FleetService) publishUpdate(state *domain.AgentState) {
	s.remember(state)
	s.publish(domain.UpdateEvent{Type: domain.EventUpdate, Agent: state.Clone()})
}

// load reads a record, falling back to defaults for a corrupt one.
func (s *FleetService) load(agentID string) (*domain.AgentState, error) {
	rec, err := s.store.Load(agentID)
	if err != nil {
		if !isCorrupt(err) {
			return nil, fmt.Errorf("load %s: %w", agentID, err)
		}
		s.logger.Printf("Warning: %v (starting from an empty record)", err)
		rec = nil
	}
	return rec, nil
}

// save bumps the record version and persists it.
func (s *FleetService) save(rec *domain.AgentState) error {
	rec.Version++
	rec.Normalize()
	if err := s.store.Save(rec); err != nil {
		return fmt.Errorf("save %s: %w", rec.AgentID, err)
	}
	return nil
}

func (s *FleetService) appendTransition(t domain.Transition) {
	if err := s.transitions.Append(t); err != nil {
		s.logger.Printf("Warning: persist transition log: %v", err)
	}
}

// remember records the fingerprint of a record that subscribers have seen.
func (s *FleetService) remember(rec *domain.AgentState) {
	fp := fingerprint(rec)
	s.fpMu.Lock()
	s.published[rec.AgentID] = fp
	s.fpMu.Unlock()
}

// seen reports whether rec is identical to the last broadcast record of its agent.
func (s *FleetService) seen(rec *domain.AgentState) bool {
	fp := fingerprint(rec)
	s.fpMu.Lock()
	defer s.fpMu.Unlock()
	prev, ok := s.published[rec.AgentID]
	return ok && prev == fp
}

func (s *FleetService) forget(agentIDs ...string) {
	s.fpMu.Lock()
	for _, id := range agentIDs {
		delete(s.published, id)
	}
	s.fpMu.Unlock()
	s.timers.Forget(agentIDs...)
}

func (s *FleetService) publishedIDs() []string {
	s.fpMu.Lock()
	defer s.fpMu.Unlock()
	ids := make([]string, 0, len(s.published))
	for id := range s.published {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func fingerprint(rec *domain.AgentState) uint64 {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64()
}
