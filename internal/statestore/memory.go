package statestore

import (
	"context"
	"sync"

	"github.com/sells-group/crm-migrate/internal/model"
)

// MemoryStore keeps mappings in process memory. Used for tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[model.EntityKind]map[string]string
}

func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[model.EntityKind]map[string]string)}
}

func (s *MemoryStore) Put(_ context.Context, rec model.MappingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kindMap := s.data[rec.Kind]
	if kindMap == nil {
		kindMap = make(map[string]string)
		s.data[rec.Kind] = kindMap
	}
	if _, exists := kindMap[rec.SourceID]; !exists {
		kindMap[rec.SourceID] = rec.TargetID
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, kind model.EntityKind, sourceID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.data[kind][sourceID]
	return target, ok, nil
}

func (s *MemoryStore) LoadKind(_ context.Context, kind model.EntityKind) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.data[kind]))
	for src, tgt := range s.data[kind] {
		out[src] = tgt
	}
	return out, nil
}

func (s *MemoryStore) Counts(_ context.Context) (map[model.EntityKind]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.EntityKind]int, len(s.data))
	for kind, kindMap := range s.data {
		out[kind] = len(kindMap)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
