package statestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-migrate/internal/model"
)

// FileStore persists mappings as one JSON file per kind under a directory,
// e.g. contact_mapping.json holding {"sourceID": "targetID"}. Every write
// goes through a temp file and rename so a crash never truncates state.
type FileStore struct {
	dir string

	mu   sync.Mutex
	data map[model.EntityKind]map[string]string
}

func NewFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "statestore: create dir %s", dir)
	}

	s := &FileStore{dir: dir, data: make(map[model.EntityKind]map[string]string)}
	for _, kind := range []model.EntityKind{
		model.KindCustomField, model.KindPipeline, model.KindStage,
		model.KindContact, model.KindOpportunity,
	} {
		m, err := readKindFile(s.path(kind))
		if err != nil {
			return nil, err
		}
		s.data[kind] = m
	}
	return s, nil
}

func (s *FileStore) path(kind model.EntityKind) string {
	return filepath.Join(s.dir, string(kind)+"_mapping.json")
}

func readKindFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "statestore: read %s", path)
	}
	m := make(map[string]string)
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, eris.Wrapf(err, "statestore: parse %s", path)
	}
	return m, nil
}

func (s *FileStore) Put(_ context.Context, rec model.MappingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kindMap := s.data[rec.Kind]
	if kindMap == nil {
		kindMap = make(map[string]string)
		s.data[rec.Kind] = kindMap
	}
	if _, exists := kindMap[rec.SourceID]; exists {
		return nil
	}
	kindMap[rec.SourceID] = rec.TargetID
	return s.flushLocked(rec.Kind)
}

func (s *FileStore) flushLocked(kind model.EntityKind) error {
	raw, err := json.MarshalIndent(s.data[kind], "", "  ")
	if err != nil {
		return eris.Wrap(err, "statestore: marshal mappings")
	}

	path := s.path(kind)
	tmp, err := os.CreateTemp(s.dir, string(kind)+"_mapping-*.tmp")
	if err != nil {
		return eris.Wrap(err, "statestore: create temp file")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "statestore: write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "statestore: close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "statestore: rename to %s", path)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, kind model.EntityKind, sourceID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.data[kind][sourceID]
	return target, ok, nil
}

func (s *FileStore) LoadKind(_ context.Context, kind model.EntityKind) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data[kind]))
	for src, tgt := range s.data[kind] {
		out[src] = tgt
	}
	return out, nil
}

func (s *FileStore) Counts(_ context.Context) (map[model.EntityKind]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.EntityKind]int, len(s.data))
	for kind, kindMap := range s.data {
		out[kind] = len(kindMap)
	}
	return out, nil
}

func (s *FileStore) Close() error { return nil }
