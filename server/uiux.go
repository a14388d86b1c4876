// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package server

import (
	"sync"
	"time"
)

// UIConfigStore holds the centralized UI/UX configuration registered
// microservice frontends fetch from the coordinator. Versioned,
// process-local.
type UIConfigStore struct {
	mu        sync.RWMutex
	config    map[string]interface{}
	version   int
	updatedAt time.Time
}

// NewUIConfigStore creates an empty store.
func NewUIConfigStore() *UIConfigStore {
	return &UIConfigStore{}
}

// Update replaces the configuration and bumps the version.
func (s *UIConfigStore) Update(config map[string]interface{}) (version int, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = config
	s.version++
	s.updatedAt = time.Now().UTC()
	return s.version, s.updatedAt
}

// Get returns the current configuration, or ok=false when none has
// been uploaded yet.
func (s *UIConfigStore) Get() (config map[string]interface{}, version int, updatedAt time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return nil, 0, time.Time{}, false
	}
	return s.config, s.version, s.updatedAt, true
}
