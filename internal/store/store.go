// Package store provides storage backends for dialog state and event batches.
//
// It includes an in-memory store for tests and SQLite and PostgreSQL backends
// for production. Persisting a batch and its state snapshot is atomic: both
// writes happen in one transaction or neither does.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/BellwoodLabs/DrillLine/internal/events"
	"github.com/BellwoodLabs/DrillLine/internal/models"
)

// DialogRepository is the engine's state-store collaborator.
//
// FetchDialogState returns a fresh zero state with seq "0" when the
// subscriber has never been seen. PersistDialogState must be atomic across
// the event-batch append and the state snapshot write.
type DialogRepository interface {
	FetchDialogState(ctx context.Context, phoneNumber string) (*models.DialogState, error)
	PersistDialogState(ctx context.Context, batch *events.DialogEventBatch, state *models.DialogState) error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore is a simple in-memory dialog repository for tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	states  map[string][]byte
	batches map[string][]*events.DialogEventBatch
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:  make(map[string][]byte),
		batches: make(map[string][]*events.DialogEventBatch),
	}
}

// FetchDialogState returns a deep copy of the stored state, or a fresh zero
// state for an unknown subscriber.
func (s *InMemoryStore) FetchDialogState(ctx context.Context, phoneNumber string) (*models.DialogState, error) {
	s.mu.RLock()
	raw, ok := s.states[phoneNumber]
	s.mu.RUnlock()
	if !ok {
		return models.NewDialogState(phoneNumber), nil
	}
	var state models.DialogState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// PersistDialogState stores the batch and the state snapshot together.
func (s *InMemoryStore) PersistDialogState(ctx context.Context, batch *events.DialogEventBatch, state *models.DialogState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.PhoneNumber] = raw
	s.batches[batch.PhoneNumber] = append(s.batches[batch.PhoneNumber], batch)
	return nil
}

// EventBatches returns the batches persisted for a subscriber, in order.
func (s *InMemoryStore) EventBatches(phoneNumber string) []*events.DialogEventBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*events.DialogEventBatch(nil), s.batches[phoneNumber]...)
}
