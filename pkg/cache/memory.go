package cache

import (
	"fmt"
	"sync"

	"github.com/cuemby/proxyworld/pkg/types"
	"github.com/google/uuid"
)

// MemoryStore is a Store without persistence, used by one-shot generation
type MemoryStore struct {
	mu      sync.RWMutex
	proxies map[uuid.UUID]ProxyEntry
	rules   map[uuid.UUID]RuleEntry
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proxies: make(map[uuid.UUID]ProxyEntry),
		rules:   make(map[uuid.UUID]RuleEntry),
	}
}

func (s *MemoryStore) PutProxies(id uuid.UUID, entry *ProxyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxies[id] = *entry
	return nil
}

func (s *MemoryStore) GetProxies(id uuid.UUID) (*ProxyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.proxies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &entry, nil
}

func (s *MemoryStore) DeleteProxies(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.proxies, id)
	return nil
}

func (s *MemoryStore) PutRules(id uuid.UUID, entry *RuleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[id] = *entry
	return nil
}

func (s *MemoryStore) GetRules(id uuid.UUID) (*RuleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &entry, nil
}

func (s *MemoryStore) DeleteRules(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
	return nil
}

func (s *MemoryStore) Snapshot() (types.ProxyCache, types.RuleCache, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proxies := make(types.ProxyCache, len(s.proxies))
	for id, e := range s.proxies {
		proxies[id] = e.Nodes
	}
	rules := make(types.RuleCache, len(s.rules))
	for id, e := range s.rules {
		rules[id] = e.Provider
	}
	return proxies, rules, nil
}

func (s *MemoryStore) Prune(keep map[uuid.UUID]bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id := range s.proxies {
		if !keep[id] {
			delete(s.proxies, id)
			removed++
		}
	}
	for id := range s.rules {
		if !keep[id] {
			delete(s.rules, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
