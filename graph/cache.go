// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"axonflow/coordinator/registry"
	"axonflow/coordinator/shared/logger"
)

// DefaultCacheTTL bounds how long a cached snapshot is served without
// consulting persistence or rebuilding.
const DefaultCacheTTL = 30 * time.Second

// ServiceLister is the registry surface the cache needs.
type ServiceLister interface {
	ListFull(ctx context.Context) ([]*registry.Service, error)
}

// SnapshotStore persists graph snapshots. Persistence is best effort:
// a failing store degrades the cache to memory-only operation.
type SnapshotStore interface {
	SaveGraphSnapshot(ctx context.Context, version int, payload []byte) error
	LatestGraphSnapshot(ctx context.Context) (version int, payload []byte, updatedAt time.Time, err error)
}

// RebuildError wraps the first hard failure of an explicit rebuild.
type RebuildError struct {
	Err error
}

func (e *RebuildError) Error() string {
	return fmt.Sprintf("graph rebuild failed: %v", e.Err)
}

func (e *RebuildError) Unwrap() error {
	return e.Err
}

// Cache wraps Build with a time-boxed cache and snapshot persistence.
//
// The TTL check-then-use is intentionally not atomic across callers:
// two concurrent cache misses may both rebuild. Rebuilds are idempotent
// and the last persisted write wins, so this is safe, just not
// work-efficient.
type Cache struct {
	services  ServiceLister
	snapshots SnapshotStore
	ttl       time.Duration
	log       *logger.Logger

	mu         sync.RWMutex
	cached     *Graph
	lastUpdate time.Time
}

// NewCache creates a Cache over the given registry view and snapshot
// store. A non-positive ttl falls back to DefaultCacheTTL.
func NewCache(services ServiceLister, snapshots SnapshotStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		services:  services,
		snapshots: snapshots,
		ttl:       ttl,
		log:       logger.New("knowledge-graph"),
	}
}

// Get returns the current graph. Unless forceRebuild is set, a cached
// snapshot younger than the TTL is served directly; otherwise the
// persisted snapshot is adopted if one exists, and only then is the
// graph rebuilt from the registry.
func (c *Cache) Get(ctx context.Context, forceRebuild bool) (*Graph, error) {
	if !forceRebuild {
		c.mu.RLock()
		cached, age := c.cached, time.Since(c.lastUpdate)
		c.mu.RUnlock()

		if cached != nil && age < c.ttl {
			c.log.Debug("", "Returning cached knowledge graph", nil)
			return cached, nil
		}

		if g, ok := c.loadPersisted(ctx); ok {
			return g, nil
		}
	}

	c.log.Info("", "Rebuilding knowledge graph from services", nil)
	return c.rebuild(ctx)
}

// Rebuild unconditionally regenerates and persists a new snapshot. The
// first hard failure (a registry read error) is propagated as a
// RebuildError; persistence failures only degrade to cache-only.
func (c *Cache) Rebuild(ctx context.Context) (*Graph, error) {
	return c.rebuild(ctx)
}

func (c *Cache) rebuild(ctx context.Context) (*Graph, error) {
	services, err := c.services.ListFull(ctx)
	if err != nil {
		return nil, &RebuildError{Err: fmt.Errorf("failed to read registry: %w", err)}
	}

	g := Build(services, c.nextVersion())

	if err := c.persist(ctx, g); err != nil {
		c.log.Warn("", "Failed to persist knowledge graph, serving from cache only", map[string]interface{}{
			"version": g.Metadata.Version,
			"error":   err.Error(),
		})
	} else {
		c.log.Info("", "Knowledge graph rebuilt and persisted", map[string]interface{}{
			"version":        g.Metadata.Version,
			"total_services": g.Metadata.TotalServices,
		})
	}

	c.adopt(g, time.Now())
	return g, nil
}

// FindServiceByQuery is the deterministic fallback match used by the
// router: case-insensitive containment against service names first,
// then schema names, then relationship endpoints mentioned in the
// query. The first hit wins.
func (c *Cache) FindServiceByQuery(ctx context.Context, query string) (*registry.Service, error) {
	g, err := c.Get(ctx, false)
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(query)

	for i := range g.Nodes {
		name := strings.ToLower(g.Nodes[i].Data.Name)
		if strings.Contains(name, queryLower) || strings.Contains(queryLower, domainPrefix(name)) {
			svc := g.Nodes[i].Data
			return &svc, nil
		}
	}

	// Map iteration order is randomized; sort schema names so equal
	// queries resolve to the same service.
	schemaNames := make([]string, 0, len(g.Schemas))
	for name := range g.Schemas {
		schemaNames = append(schemaNames, name)
	}
	sort.Strings(schemaNames)

	for _, name := range schemaNames {
		if !strings.Contains(queryLower, strings.ToLower(name)) {
			continue
		}
		schema := g.Schemas[name]
		if len(schema.Services) == 0 {
			continue
		}
		if svc := g.nodeByName(schema.Services[0]); svc != nil {
			return svc, nil
		}
	}

	for _, rel := range g.Relationships {
		if strings.Contains(queryLower, strings.ToLower(rel.From)) ||
			strings.Contains(queryLower, strings.ToLower(rel.To)) {
			if svc := g.nodeByName(rel.From); svc != nil {
				return svc, nil
			}
		}
	}

	return nil, nil
}

// RelatedServices returns the services connected to name by any
// relationship, annotated with the relationship details and sorted by
// weight descending. Equal weights preserve discovery order.
func (c *Cache) RelatedServices(ctx context.Context, name string) ([]RelatedService, error) {
	g, err := c.Get(ctx, false)
	if err != nil {
		return nil, err
	}

	var related []RelatedService
	for _, rel := range g.Relationships {
		var otherName string
		switch name {
		case rel.From:
			otherName = rel.To
		case rel.To:
			otherName = rel.From
		default:
			continue
		}

		svc := g.nodeByName(otherName)
		if svc == nil {
			continue
		}

		related = append(related, RelatedService{
			Service:            *svc,
			RelationshipType:   rel.Type,
			RelationshipReason: rel.Reasons,
			Weight:             rel.Weight,
		})
	}

	sort.SliceStable(related, func(i, j int) bool {
		return related[i].Weight > related[j].Weight
	})

	return related, nil
}

// loadPersisted tries to adopt the latest persisted snapshot into the
// cache. Returns false when none exists or it cannot be decoded.
func (c *Cache) loadPersisted(ctx context.Context) (*Graph, bool) {
	version, payload, updatedAt, err := c.snapshots.LatestGraphSnapshot(ctx)
	if err != nil {
		c.log.Debug("", "No persisted knowledge graph available", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, false
	}

	g := &Graph{}
	if err := json.Unmarshal(payload, g); err != nil {
		c.log.Warn("", "Persisted knowledge graph is invalid, rebuilding", map[string]interface{}{
			"version": version,
			"error":   err.Error(),
		})
		return nil, false
	}

	c.adopt(g, updatedAt)
	c.log.Info("", "Knowledge graph loaded from storage", map[string]interface{}{
		"version": version,
	})
	return g, true
}

func (c *Cache) persist(ctx context.Context, g *Graph) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	return c.snapshots.SaveGraphSnapshot(ctx, g.Metadata.Version, payload)
}

func (c *Cache) adopt(g *Graph, updatedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = g
	c.lastUpdate = updatedAt
}

// nextVersion is previous cached version + 1, or 1 if none.
func (c *Cache) nextVersion() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cached != nil {
		return c.cached.Metadata.Version + 1
	}
	return 1
}

func (g *Graph) nodeByName(name string) *registry.Service {
	for i := range g.Nodes {
		if g.Nodes[i].Data.Name == name {
			svc := g.Nodes[i].Data
			return &svc
		}
	}
	return nil
}
