package app

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jaakkos/agentshq/internal/domain"
)

// Resolution is the outcome of Registry.Resolve.
type Resolution struct {
	Identity       domain.Identity
	IsNew          bool
	ProjectChanged bool
	// Skipped is set when an unknown agent cannot or should not be registered;
	// no entry was created.
	Skipped bool
}

// Registry is the in-memory directory of known agents. Display colors are
// claimed per agent type, in order of first appearance, and stay stable
// until Reset.
type Registry struct {
	mu         sync.RWMutex
	agents     map[string]*domain.Identity
	typeColors map[string]string
	nextColor  int
	palette    []string
}

// NewRegistry creates an empty registry drawing colors from palette.
func NewRegistry(palette []string) *Registry {
	if len(palette) == 0 {
		palette = []string{"#b8b8b8"}
	}
	return &Registry{
		agents:     make(map[string]*domain.Identity),
		typeColors: make(map[string]string),
		palette:    append([]string(nil), palette...),
	}
}

// Resolve returns the identity for agentID, registering it when unknown.
// Unknown agents are skipped when they are going offline or carry no usable
// type. For known agents, project and cwd are refreshed only when cwd is
// non-empty, and sessionID whenever it is non-empty.
func (r *Registry) Resolve(agentID, agentType, cwd, sessionID string, goingOffline bool) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.agents[agentID]; ok {
		var changed bool
		if cwd != "" {
			project := ProjectName(cwd)
			changed = id.Project != project || id.Cwd != cwd
			id.Project = project
			id.Cwd = cwd
		}
		if sessionID != "" {
			id.SessionID = sessionID
		}
		return Resolution{Identity: *id, ProjectChanged: changed}
	}

	if goingOffline || agentType == "" || agentType == domain.UnknownType {
		return Resolution{Skipped: true}
	}

	id := &domain.Identity{
		AgentID:      agentID,
		AgentType:    agentType,
		Project:      ProjectName(cwd),
		Cwd:          cwd,
		SessionID:    sessionID,
		Color:        r.colorForTypeLocked(agentType),
		Abbreviation: Abbreviation(agentType),
	}
	r.agents[agentID] = id
	return Resolution{Identity: *id, IsNew: true}
}

func (r *Registry) colorForTypeLocked(agentType string) string {
	if c, ok := r.typeColors[agentType]; ok {
		return c
	}
	c := r.palette[r.nextColor%len(r.palette)]
	r.typeColors[agentType] = c
	r.nextColor++
	return c
}

// Get returns a copy of the identity for agentID.
func (r *Registry) Get(agentID string) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.agents[agentID]
	if !ok {
		return domain.Identity{}, false
	}
	return *id, true
}

// Has reports whether agentID is registered.
func (r *Registry) Has(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Snapshot returns all identities sorted by agent id.
func (r *Registry) Snapshot() []domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Identity, 0, len(r.agents))
	for _, id := range r.agents {
		out = append(out, *id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Remove deletes the given agents. Type colors stay claimed.
func (r *Registry) Remove(agentIDs ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range agentIDs {
		if _, ok := r.agents[id]; ok {
			delete(r.agents, id)
			n++
		}
	}
	return n
}

// Reset clears all entries and the color assignments.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]*domain.Identity)
	r.typeColors = make(map[string]string)
	r.nextColor = 0
}

// ProjectName derives a project name from a working directory: its last path
// segment, or "unknown".
func ProjectName(cwd string) string {
	trimmed := strings.TrimRight(cwd, `/\`)
	if i := strings.LastIndexAny(trimmed, `/\`); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" || trimmed == "." {
		return domain.UnknownProject
	}
	return trimmed
}

// Abbreviation is the short label shown for an agent type: its first three
// characters, upper-cased.
func Abbreviation(agentType string) string {
	if utf8.RuneCountInString(agentType) <= 3 {
		return strings.ToUpper(agentType)
	}
	runes := []rune(agentType)
	return strings.ToUpper(string(runes[:3]))
}
