package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/omnierp/go-erp/es"
)

// NewCursorStore creates an in-memory es.CursorStore.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		cursors: make(map[string]int64),
	}
}

// CursorStore keeps projection cursors in a map.
type CursorStore struct {
	mu      sync.RWMutex
	cursors map[string]int64
}

func cursorKey(tenantID es.TenantID, aggregateID es.AggregateID, projection string) string {
	return fmt.Sprintf("%s.%s.%s", tenantID, projection, aggregateID)
}

func (s *CursorStore) Get(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID, projection string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cursors[cursorKey(tenantID, aggregateID, projection)], nil
}

func (s *CursorStore) Set(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID, projection string, sequenceNumber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[cursorKey(tenantID, aggregateID, projection)] = sequenceNumber
	return nil
}

func (s *CursorStore) Clear(ctx context.Context, tenantID es.TenantID, projection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := fmt.Sprintf("%s.%s.", tenantID, projection)
	for key := range s.cursors {
		if strings.HasPrefix(key, prefix) {
			delete(s.cursors, key)
		}
	}
	return nil
}

// NewDeadLetterStore creates an in-memory es.DeadLetterStore.
func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{}
}

// DeadLetterStore keeps dead letters in a slice.
type DeadLetterStore struct {
	mu      sync.RWMutex
	letters []es.DeadLetter
}

func (s *DeadLetterStore) Record(ctx context.Context, letter es.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.letters = append(s.letters, letter)
	return nil
}

// Letters returns a copy of everything recorded so far.
func (s *DeadLetterStore) Letters() []es.DeadLetter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]es.DeadLetter, len(s.letters))
	copy(out, s.letters)
	return out
}
