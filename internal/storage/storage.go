// Package storage defines the save backends for the persisted document.
package storage

import (
	"context"
	"errors"

	"github.com/stockyard/extension/internal/persist"
)

// ErrUnknownBackend is returned by NewBackend for an unrecognised type.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Save replaces the stored document.
	Save(ctx context.Context, doc *persist.Document) error
	// Load returns the stored document, or persist.ErrNoSave when there is
	// none.
	Load(ctx context.Context) (*persist.Document, error)
}

// Locatable is an optional interface for backends that can name where the
// document lives, reported by the status command.
type Locatable interface {
	Location() string
}
