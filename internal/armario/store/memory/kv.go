package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/BrandonDHaskell/Armario/internal/armario/store"
)

// ErrInjected is returned by Put while FailPuts is set.
var ErrInjected = errors.New("memory kv: injected write failure")

// KV is an in-memory store.KV for tests and the memory backend.
type KV struct {
	mu   sync.RWMutex
	data map[string][]byte

	failPuts bool
}

func NewKV() *KV {
	return &KV{data: make(map[string][]byte)}
}

func (s *KV) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *KV) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPuts {
		return ErrInjected
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *KV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// FailPuts makes every subsequent Put fail until called with false.
// Test-only helper.
func (s *KV) FailPuts(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPuts = fail
}

// Len returns the number of stored keys.  Test-only helper.
func (s *KV) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
