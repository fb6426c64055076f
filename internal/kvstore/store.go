// Package kvstore persists small JSON documents in named slots.
//
// Each slot holds one value and falls back to a default when nothing has been
// written yet. Slots are independent: the only multi-slot write is Commit,
// which hands every staged value to the backend in a single commit.
package kvstore

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Backend defines the raw persistence operations a Store needs
type Backend interface {
	// Load returns the stored bytes for key and whether the key exists
	Load(key string) ([]byte, bool, error)

	// Save persists value under key
	Save(key string, value []byte) error

	// SaveAll persists every value in one commit
	SaveAll(values map[string][]byte) error

	// Close releases the backend
	Close() error
}

// Store serializes access to a Backend
type Store struct {
	mu      sync.Mutex
	backend Backend
}

// New creates a Store on top of backend
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Close closes the underlying backend
func (s *Store) Close() error {
	return s.backend.Close()
}

// Write is a staged slot value produced by Slot.Stage
type Write struct {
	key   string
	value []byte
	err   error
}

// Commit persists all staged writes at once. Nothing is written if any value
// failed to encode.
func (s *Store) Commit(writes ...Write) error {
	values := make(map[string][]byte, len(writes))
	for _, w := range writes {
		if w.err != nil {
			return fmt.Errorf("encoding slot %s: %w", w.key, w.err)
		}
		values[w.key] = w.value
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.SaveAll(values); err != nil {
		return fmt.Errorf("committing slots: %w", err)
	}
	return nil
}

// Slot is a typed view over one key of a Store
type Slot[T any] struct {
	store  *Store
	key    string
	def    []byte
	defErr error
}

// NewSlot creates a slot for key. def is returned by Get while the key is absent.
func NewSlot[T any](store *Store, key string, def T) *Slot[T] {
	data, err := json.Marshal(def)
	return &Slot[T]{store: store, key: key, def: data, defErr: err}
}

// Key returns the slot name
func (s *Slot[T]) Key() string {
	return s.key
}

// Get returns the current value, or a fresh copy of the default if absent
func (s *Slot[T]) Get() (T, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.load()
}

// Set persists value immediately
func (s *Slot[T]) Set(value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding slot %s: %w", s.key, err)
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if err := s.store.backend.Save(s.key, data); err != nil {
		return fmt.Errorf("saving slot %s: %w", s.key, err)
	}
	return nil
}

// Update applies fn to the current value and persists the result. The read and
// the write happen under the store lock, so concurrent updates never lose each
// other's changes. If fn returns an error nothing is written.
func (s *Slot[T]) Update(fn func(prev T) (T, error)) (T, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	prev, err := s.load()
	if err != nil {
		return prev, err
	}

	next, err := fn(prev)
	if err != nil {
		var zero T
		return zero, err
	}

	data, err := json.Marshal(next)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("encoding slot %s: %w", s.key, err)
	}
	if err := s.store.backend.Save(s.key, data); err != nil {
		var zero T
		return zero, fmt.Errorf("saving slot %s: %w", s.key, err)
	}
	return next, nil
}

// Stage encodes value for a later Store.Commit
func (s *Slot[T]) Stage(value T) Write {
	data, err := json.Marshal(value)
	return Write{key: s.key, value: data, err: err}
}

func (s *Slot[T]) load() (T, error) {
	var value T
	if s.defErr != nil {
		return value, fmt.Errorf("encoding default for slot %s: %w", s.key, s.defErr)
	}

	data, ok, err := s.store.backend.Load(s.key)
	if err != nil {
		return value, fmt.Errorf("loading slot %s: %w", s.key, err)
	}
	if !ok {
		data = s.def
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("decoding slot %s: %w", s.key, err)
	}
	return value, nil
}
