package exchange

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process exchange log for local/dev use and
// tests. Appends serialize on a mutex; reads copy, so listing is safe while
// writers run.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
	nextID  int64
	lastTS  time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1}
}

func (s *InMemoryStore) Append(_ context.Context, record Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.ID = s.nextID
	s.nextID++

	// Clamp so timestamps never go backwards within one store instance.
	now := time.Now().UTC()
	if now.Before(s.lastTS) {
		now = s.lastTS
	}
	s.lastTS = now
	record.Timestamp = now

	s.records = append(s.records, record)
	return record, nil
}

func (s *InMemoryStore) List(_ context.Context, conversationID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Records append in timestamp order, so walking backwards yields newest
	// first without sorting.
	filtered := make([]Record, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if conversationID != "" && r.ConversationID != conversationID {
			continue
		}
		filtered = append(filtered, r)
	}

	if offset >= len(filtered) {
		return []Record{}, nil
	}
	filtered = filtered[offset:]
	if limit < len(filtered) {
		filtered = filtered[:limit]
	}

	out := make([]Record, len(filtered))
	copy(out, filtered)
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context, conversationID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if conversationID == "" {
		return int64(len(s.records)), nil
	}
	var count int64
	for _, r := range s.records {
		if r.ConversationID == conversationID {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) Close() error { return nil }
