package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps attachments in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryEntry
}

type memoryEntry struct {
	rec     Record
	content []byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Create(_ context.Context, rec Record, content []byte) (Record, error) {
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = &memoryEntry{
		rec:     rec,
		content: append([]byte(nil), content...),
	}
	return rec, nil
}

func (s *MemoryStore) AppendChunk(_ context.Context, id string, offset int64, chunk []byte) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if int64(len(e.content)) != offset {
		return Record{}, ErrBadOffset
	}

	e.content = append(e.content, chunk...)
	return e.rec, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return e.rec, nil
}

func (s *MemoryStore) Content(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.content...), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) ListForRecord(_ context.Context, recordID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, e := range s.records {
		if e.rec.ParentID == recordID {
			out = append(out, e.rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// StoredBytes returns how many payload bytes are held for id.
// Used by handlers to decide chunked-upload completion.
func (s *MemoryStore) StoredBytes(_ context.Context, id string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[id]
	if !ok {
		return 0, ErrNotFound
	}
	return int64(len(e.content)), nil
}
