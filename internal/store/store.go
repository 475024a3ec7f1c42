// Package store defines the persistence interface for game documents.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/misionbonos/sim-engine/internal/model"
)

// Store persists full game documents. A document is the whole per-game
// aggregate and is always replaced as one unit — no partial writes.
type Store interface {
	// Load returns the document for a game code, or a fresh default
	// document if none has been saved yet.
	Load(ctx context.Context, code string) (*model.GameDocument, error)

	// Save replaces the stored document atomically.
	Save(ctx context.Context, doc *model.GameDocument) error

	// ListCodes returns all game codes with a saved document.
	ListCodes(ctx context.Context) ([]string, error)
}
