package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/omnierp/go-erp/es"
)

// Option so we can inject test data.
type Option = func(*Store)

// WithEvents seeds the store with already-committed events.
func WithEvents(events ...es.Event) Option {
	return func(s *Store) {
		for _, evt := range events {
			key := streamKey(evt.TenantID, evt.AggregateID)
			s.streams[key] = append(s.streams[key], evt)
		}
	}
}

// NewStore creates an in-memory event store. It holds the same contract
// as the durable stores and is meant for tests and local runs.
func NewStore(opts ...Option) *Store {
	s := &Store{
		streams:   make(map[string][]es.Event),
		snapshots: make(map[string]es.Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store is an in-memory es.EventStore and es.SnapshotStore.
type Store struct {
	mu        sync.RWMutex
	streams   map[string][]es.Event
	snapshots map[string]es.Snapshot
}

func streamKey(tenantID es.TenantID, aggregateID es.AggregateID) string {
	return fmt.Sprintf("%s.%s", tenantID, aggregateID)
}

func (s *Store) Append(ctx context.Context, events []es.UncommittedEvent, expected es.ExpectedVersion) ([]es.Event, error) {
	if len(events) == 0 {
		return nil, es.Validationf("nothing to append")
	}

	first := events[0]
	if first.TenantID.IsZero() {
		return nil, es.Validationf("append is missing a tenant id")
	}
	for _, evt := range events[1:] {
		if evt.TenantID != first.TenantID || evt.AggregateID != first.AggregateID || evt.AggregateType != first.AggregateType {
			return nil, es.Validationf("append spans more than one stream")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey(first.TenantID, first.AggregateID)
	existing := s.streams[key]

	current := int64(len(existing))
	if len(existing) > 0 && existing[0].AggregateType != first.AggregateType {
		return nil, es.TenantIsolationf("stream %s holds %s events, want %s", first.AggregateID, existing[0].AggregateType, first.AggregateType)
	}
	if !expected.Matches(current) {
		return nil, es.Conflictf("stream %s is at version %d, expected %s", first.AggregateID, current, expected)
	}

	committed := make([]es.Event, 0, len(events))
	for i, evt := range events {
		committed = append(committed, es.Event{
			EventID:        es.NewEventID(),
			TenantID:       evt.TenantID,
			AggregateID:    evt.AggregateID,
			AggregateType:  evt.AggregateType,
			SequenceNumber: current + int64(i) + 1,
			EventType:      evt.EventType,
			EventVersion:   evt.EventVersion,
			OccurredAt:     evt.OccurredAt,
			Payload:        evt.Payload,
			Metadata:       evt.Metadata,
		})
	}

	s.streams[key] = append(existing, committed...)
	return committed, nil
}

func (s *Store) LoadStream(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID) ([]es.Event, error) {
	return s.LoadStreamFrom(ctx, tenantID, aggregateID, 0)
}

func (s *Store) LoadStreamFrom(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID, after int64) ([]es.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing := s.streams[streamKey(tenantID, aggregateID)]
	out := make([]es.Event, 0, len(existing))
	for _, evt := range existing {
		if evt.SequenceNumber > after {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (s *Store) LoadAllForTenant(ctx context.Context, tenantID es.TenantID, fn func(es.Event) error) error {
	s.mu.RLock()
	var all []es.Event
	for _, stream := range s.streams {
		for _, evt := range stream {
			if evt.TenantID == tenantID {
				all = append(all, evt)
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].AggregateID != all[j].AggregateID {
			return all[i].AggregateID.String() < all[j].AggregateID.String()
		}
		return all[i].SequenceNumber < all[j].SequenceNumber
	})

	for _, evt := range all {
		if err := fn(evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snapshot es.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey(snapshot.TenantID, snapshot.AggregateID)
	if old, ok := s.snapshots[key]; !ok || snapshot.Version >= old.Version {
		s.snapshots[key] = snapshot
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, tenantID es.TenantID, aggregateID es.AggregateID) (*es.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[streamKey(tenantID, aggregateID)]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// Close the underlying connection.
func (s *Store) Close() error {
	return nil
}
