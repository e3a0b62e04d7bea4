// Package client is the Go SDK of the ZFlow API: session credentials, an
// authenticating HTTP transport and the realtime channel.
package client

import (
	"sync"
)

// Durable storage keys of the session credentials
const (
	KeyToken        = "zflow:token"
	KeyRefreshToken = "zflow:refreshToken"
	KeyUser         = "zflow:user"
)

var credentialKeys = []string{KeyToken, KeyRefreshToken, KeyUser}

// Storage is durable key/value storage for credentials
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(keys ...string) error
}

// MemoryStorage keeps credentials for the lifetime of the process
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStorage) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

func clearCredentials(s Storage) error {
	return s.Delete(credentialKeys...)
}
