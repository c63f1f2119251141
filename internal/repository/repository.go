// Package repository selects the StateStore backend from the policy.
package repository

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/jaakkos/agentshq/internal/app"
	"github.com/jaakkos/agentshq/internal/policy"
	"github.com/jaakkos/agentshq/internal/repository/filestore"
	"github.com/jaakkos/agentshq/internal/repository/sqlite"
)

// Backend is an opened state store plus what the change watcher needs to follow it.
type Backend struct {
	Store app.StateStore
	// WatchDir is the directory the watcher observes.
	WatchDir string
	// WatchOptions point the watcher at record files or the notify signal file.
	WatchOptions []app.WatcherOption

	closer io.Closer
}

// Close releases the store, if it holds resources.
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// NewStateStore opens the backend configured by pol ("file" or "sqlite").
func NewStateStore(pol *policy.Policy) (*Backend, error) {
	switch pol.StoreBackend() {
	case policy.StoreSQLite:
		signal := filepath.Join(pol.StateDir(), app.NotifySignalName)
		store, err := sqlite.New(pol.StateFile(), signal)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Store:        store,
			WatchDir:     pol.StateDir(),
			WatchOptions: []app.WatcherOption{app.WithSignalFile(signal)},
			closer:       store,
		}, nil
	case policy.StoreFile:
		store, err := filestore.New(pol.AgentsDir(), pol.TransitionsFile())
		if err != nil {
			return nil, err
		}
		return &Backend{
			Store:        store,
			WatchDir:     store.Dir(),
			WatchOptions: []app.WatcherOption{app.WithPathResolver(store.IDForPath)},
		}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", pol.StoreBackend())
	}
}
