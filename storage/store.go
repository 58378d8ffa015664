// Package storage keeps the wallet working directory durable.
//
// The module works against a plain directory. Persist copies that directory
// to durable storage and Reload copies it back, so a host can start from the
// state a previous host flushed.
package storage

import "context"

// Store persists and reloads the module's working directory.
type Store interface {
	// Persist flushes the working directory to durable storage.
	Persist(ctx context.Context) error
	// Reload replaces the working directory with the durable copy. A store
	// that has never been persisted reloads successfully with no effect.
	Reload(ctx context.Context) error
}

// Nop is a Store without durable storage.
type Nop struct{}

func (Nop) Persist(context.Context) error { return nil }
func (Nop) Reload(context.Context) error  { return nil }
