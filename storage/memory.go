// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package storage

import (
	"context"
	"sync"
	"time"

	"axonflow/coordinator/registry"
)

// MemoryStore is the process-local storage fallback. It mirrors the
// semantics of PostgresStore exactly: name lookups resolve to the most
// recent registration and listings are newest first.
type MemoryStore struct {
	mu        sync.RWMutex
	services  []*registry.Service
	byID      map[string]*registry.Service
	snapshots []memorySnapshot
}

type memorySnapshot struct {
	version int
	payload []byte
	saved   time.Time
}

var _ registry.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*registry.Service),
	}
}

// InsertService stores a new service record.
func (s *MemoryStore) InsertService(_ context.Context, svc *registry.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneService(svc)
	s.services = append(s.services, cp)
	s.byID[cp.ID] = cp
	return nil
}

// GetServiceByID returns the service with the given ID.
func (s *MemoryStore) GetServiceByID(_ context.Context, id string) (*registry.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.byID[id]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return cloneService(svc), nil
}

// GetServiceByName returns the most recently registered service with the
// given name. Insertion order is the tiebreaker, scanning from the tail.
func (s *MemoryStore) GetServiceByName(_ context.Context, name string) (*registry.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.services) - 1; i >= 0; i-- {
		if s.services[i].Name == name {
			return cloneService(s.services[i]), nil
		}
	}
	return nil, registry.ErrNotFound
}

// ListServices returns all services, newest first.
func (s *MemoryStore) ListServices(_ context.Context) ([]*registry.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*registry.Service, 0, len(s.services))
	for i := len(s.services) - 1; i >= 0; i-- {
		out = append(out, cloneService(s.services[i]))
	}
	return out, nil
}

// UpdateServiceStatus sets the status and last-health-check timestamp.
func (s *MemoryStore) UpdateServiceStatus(_ context.Context, id string, status registry.Status, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.byID[id]
	if !ok {
		return registry.ErrNotFound
	}
	svc.Status = status
	t := checkedAt
	svc.LastHealthCheck = &t
	return nil
}

// CountServices returns the total number of registered services.
func (s *MemoryStore) CountServices(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.services), nil
}

// CountActiveServices returns the number of services with status active.
func (s *MemoryStore) CountActiveServices(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, svc := range s.services {
		if svc.Status == registry.StatusActive {
			count++
		}
	}
	return count, nil
}

// SaveGraphSnapshot keeps the snapshot in process memory.
func (s *MemoryStore) SaveGraphSnapshot(_ context.Context, version int, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.snapshots = append(s.snapshots, memorySnapshot{
		version: version,
		payload: cp,
		saved:   time.Now().UTC(),
	})
	return nil
}

// LatestGraphSnapshot returns the highest-version snapshot.
func (s *MemoryStore) LatestGraphSnapshot(_ context.Context) (int, []byte, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return 0, nil, time.Time{}, ErrNoSnapshot
	}

	latest := s.snapshots[0]
	for _, snap := range s.snapshots[1:] {
		if snap.version >= latest.version {
			latest = snap
		}
	}

	payload := make([]byte, len(latest.payload))
	copy(payload, latest.payload)
	return latest.version, payload, latest.saved, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneService(svc *registry.Service) *registry.Service {
	cp := *svc
	if svc.Migration != nil {
		m := *svc.Migration
		if svc.Migration.Tables != nil {
			m.Tables = append([]string(nil), svc.Migration.Tables...)
		}
		cp.Migration = &m
	}
	if svc.LastHealthCheck != nil {
		t := *svc.LastHealthCheck
		cp.LastHealthCheck = &t
	}
	return &cp
}
