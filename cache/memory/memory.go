// Package memory provides an in-process cache.Store.
//
// Contents are lost when the process exits. It is the default store for
// tests and for gateways that only need offline tolerance for the lifetime
// of a single process.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/meigma/gateway/cache"
)

// Store implements cache.Store with in-memory maps.
// The zero value is not usable; call New.
type Store struct {
	mu         sync.RWMutex
	order      []string
	partitions map[string]map[string]entry
}

type entry struct {
	id   cache.Identity
	snap cache.Snapshot
}

// Interface compliance.
var _ cache.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{partitions: make(map[string]map[string]entry)}
}

// Open implements cache.Store.
func (s *Store) Open(_ context.Context, partition string) error {
	if err := cache.ValidatePartition(partition); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openLocked(partition)
	return nil
}

// Match implements cache.Store.
func (s *Store) Match(_ context.Context, partition string, id cache.Identity) (cache.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := s.order
	if partition != cache.AnyPartition {
		names = []string{partition}
	}
	key := id.Key()
	for _, name := range names {
		if e, ok := s.partitions[name][key]; ok {
			return e.snap.Clone(), true, nil
		}
	}
	return cache.Snapshot{}, false, nil
}

// Put implements cache.Store.
func (s *Store) Put(_ context.Context, partition string, id cache.Identity, snap cache.Snapshot) error {
	if err := cache.CheckPut(partition, id, snap); err != nil {
		return err
	}
	stored := snap.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openLocked(partition)[id.Key()] = entry{id: id, snap: stored}
	return nil
}

// Identities implements cache.Store.
func (s *Store) Identities(_ context.Context, partition string) ([]cache.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.partitions[partition]
	ids := make([]cache.Identity, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.id)
	}
	slices.SortFunc(ids, func(a, b cache.Identity) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return ids, nil
}

// Partitions implements cache.Store.
func (s *Store) Partitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order), nil
}

// DeletePartition implements cache.Store.
func (s *Store) DeletePartition(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[name]; !ok {
		return false, nil
	}
	delete(s.partitions, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return true, nil
}

func (s *Store) openLocked(partition string) map[string]entry {
	entries, ok := s.partitions[partition]
	if !ok {
		entries = make(map[string]entry)
		s.partitions[partition] = entries
		s.order = append(s.order, partition)
	}
	return entries
}
