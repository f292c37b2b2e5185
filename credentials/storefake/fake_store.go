// Package storefake provides an in-memory credentials.Store for tests.
package storefake

import (
	"sync"

	"github.com/openhms/hms-client/credentials"
)

// FakeStore is a thread-safe in-memory credential store.
type FakeStore struct {
	mu   sync.Mutex
	pair *credentials.Pair

	Saves  int // number of Save calls
	Clears int // number of Clear calls
}

// NewFakeStore creates an empty fake store.
func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

func (s *FakeStore) Load() (*credentials.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair == nil {
		return nil, nil
	}
	pair := *s.pair
	return &pair, nil
}

func (s *FakeStore) Save(pair credentials.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = &pair
	s.Saves++
	return nil
}

func (s *FakeStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = nil
	s.Clears++
	return nil
}

var _ credentials.Store = (*FakeStore)(nil)
