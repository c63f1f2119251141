// Package app implements the fleet use cases and defines their ports
// (state store, publisher, configuration).
package app

import (
	"errors"

	"github.com/jaakkos/agentshq/internal/domain"
)

// ErrCorruptRecord is returned (wrapped) by a StateStore when a persisted
// record exists but cannot be decoded. Ingestion treats it as an empty record.
var ErrCorruptRecord = errors.New("corrupt state record")

// StateStore persists one state record per agent plus the transition log.
// Implementations: internal/repository/filestore, internal/repository/sqlite.
// Writes must be atomic per record: readers never observe a partial record.
type StateStore interface {
	// Load returns the record for agentID, or (nil, nil) when none exists.
	Load(agentID string) (*domain.AgentState, error)
	Save(state *domain.AgentState) error
	// Delete removes the record. A missing record is not an error.
	Delete(agentID string) error
	// List returns every decodable record; undecodable ones are skipped.
	List() ([]*domain.AgentState, error)
	// DeleteAll removes every record, decodable or not, and returns how
	// many were removed.
	DeleteAll() (int, error)

	LoadTransitions() ([]domain.Transition, error)
	SaveTransitions([]domain.Transition) error
}

// Publisher fans an event out to live subscribers. Implemented by hub.Hub.
type Publisher interface {
	Publish(event any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(any) {}

func isCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptRecord)
}
