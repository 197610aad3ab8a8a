package identity

import "sync"

// Storage is the collaborator used to persist an exported identity between
// runs. Implementations are free to store the blob anywhere; all the identity
// layer needs is get, set and clear for a single key.
type Storage interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Clear(key string) error
}

// MemStorage is an in-memory Storage, mainly for tests and ephemeral peers.
type MemStorage struct {
	mu    sync.Mutex
	items map[string][]byte
}

func NewMemStorage() *MemStorage {
	return &MemStorage{items: make(map[string][]byte)}
}

func (s *MemStorage) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.items[key]
	return value, ok, nil
}

func (s *MemStorage) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *MemStorage) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}
