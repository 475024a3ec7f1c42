package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/misionbonos/sim-engine/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte // code → JSON document
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, code string) (*model.GameDocument, error) {
	s.mu.RLock()
	data, ok := s.docs[code]
	s.mu.RUnlock()

	if !ok {
		return model.NewGameDocument(code), nil
	}

	var doc model.GameDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("load game %s: %w", code, err)
	}
	return &doc, nil
}

func (s *MemoryStore) Save(_ context.Context, doc *model.GameDocument) error {
	// Serialize to decouple the stored state from the caller's copy.
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("save game %s: %w", doc.Game.Code, err)
	}

	s.mu.Lock()
	s.docs[doc.Game.Code] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListCodes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make([]string, 0, len(s.docs))
	for code := range s.docs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}
