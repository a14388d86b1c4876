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

// Package graph derives a knowledge graph from the service registry:
// one node per service, directed edges for every inferred relationship,
// and a schema index. Build is pure; Cache adds a TTL cache and
// best-effort snapshot persistence on top.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"axonflow/coordinator/registry"
)

// Build derives a graph snapshot from the given services. It performs
// no I/O; all inputs are already materialized. Relationship inference
// compares every ordered pair of services, which is O(n^2) in registry
// size - acceptable for registries of modest size.
func Build(services []*registry.Service, version int) *Graph {
	g := &Graph{
		Metadata: Metadata{
			TotalServices:  len(services),
			ActiveServices: countActive(services),
			LastUpdated:    time.Now().UTC(),
			Version:        version,
		},
		Nodes:         make([]Node, 0, len(services)),
		Edges:         []Edge{},
		Schemas:       make(map[string]*Schema),
		Relationships: []Relationship{},
	}

	for _, svc := range services {
		g.Nodes = append(g.Nodes, Node{
			ID:    svc.ID,
			Label: svc.Name,
			Type:  "microservice",
			Data:  *svc,
		})
	}

	for _, svc := range services {
		g.indexSchema(svc)

		for _, other := range services {
			if svc.ID == other.ID {
				continue
			}

			rel := inferRelationship(svc, other)
			if len(rel.Reasons) == 0 {
				continue
			}

			g.Relationships = append(g.Relationships, rel)
			g.Edges = append(g.Edges, Edge{
				From:   svc.ID,
				To:     other.ID,
				Type:   rel.Type,
				Label:  strings.Join(rel.Reasons, ", "),
				Weight: rel.Weight,
			})
		}
	}

	// Sorted table lists keep snapshot JSON deterministic
	for _, schema := range g.Schemas {
		sort.Strings(schema.Tables)
	}

	return g
}

// inferRelationship computes the relationship candidate for the ordered
// pair (svc, other). Rules are evaluated schema, tables, domain: the
// weight accumulates from every fired rule, while the type label is the
// last assignment in that order. A domain match therefore relabels a
// schema- or table-derived type even though their weights remain.
func inferRelationship(svc, other *registry.Service) Relationship {
	rel := Relationship{
		From: svc.Name,
		To:   other.Name,
		Type: "related",
	}

	schemaA := migrationSchema(svc)
	schemaB := migrationSchema(other)
	if schemaA != "" && schemaA == schemaB {
		rel.Reasons = append(rel.Reasons, "shared_schema")
		rel.Type = TypeSchemaRelated
		rel.Weight += WeightSharedSchema
	}

	if shared := sharedTables(svc, other); len(shared) > 0 {
		rel.Reasons = append(rel.Reasons, fmt.Sprintf("shared_tables: %s", strings.Join(shared, ", ")))
		rel.Type = TypeDataRelated
		rel.Weight += WeightPerSharedTable * len(shared)
	}

	if base := domainPrefix(svc.Name); base != "" && base == domainPrefix(other.Name) {
		rel.Reasons = append(rel.Reasons, "same_domain")
		rel.Type = TypeDomainRelated
		rel.Weight += WeightSameDomain
	}

	return rel
}

// indexSchema adds the service to the schema index. A service that
// declared a migration descriptor without a schema name lands under
// "default".
func (g *Graph) indexSchema(svc *registry.Service) {
	if svc.Migration == nil {
		return
	}

	name := svc.Migration.Schema
	if name == "" {
		name = "default"
	}

	schema, ok := g.Schemas[name]
	if !ok {
		schema = &Schema{Version: name}
		g.Schemas[name] = schema
	}

	schema.Services = append(schema.Services, svc.Name)
	for _, table := range svc.Migration.Tables {
		if !containsString(schema.Tables, table) {
			schema.Tables = append(schema.Tables, table)
		}
	}
}

func migrationSchema(svc *registry.Service) string {
	if svc.Migration == nil {
		return ""
	}
	return svc.Migration.Schema
}

func sharedTables(svc, other *registry.Service) []string {
	if svc.Migration == nil || other.Migration == nil {
		return nil
	}

	var shared []string
	for _, table := range svc.Migration.Tables {
		if containsString(other.Migration.Tables, table) {
			shared = append(shared, table)
		}
	}
	return shared
}

// domainPrefix returns the first hyphen-delimited token of a service
// name, e.g. "user" for "user-auth-service".
func domainPrefix(name string) string {
	if idx := strings.Index(name, "-"); idx >= 0 {
		return name[:idx]
	}
	return name
}

func countActive(services []*registry.Service) int {
	count := 0
	for _, svc := range services {
		if svc.Status == registry.StatusActive {
			count++
		}
	}
	return count
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
