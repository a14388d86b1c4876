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
	"time"

	"axonflow/coordinator/registry"
)

// Relationship types inferred between services. When several inference
// rules fire for the same pair, the label set last in evaluation order
// (schema, tables, domain) wins while the weight accumulates from all
// fired rules.
const (
	TypeSchemaRelated = "schema_related"
	TypeDataRelated   = "data_related"
	TypeDomainRelated = "domain_related"
)

// Inference weights per fired rule.
const (
	WeightSharedSchema   = 3
	WeightPerSharedTable = 2
	WeightSameDomain     = 1
)

// Metadata describes a graph snapshot.
type Metadata struct {
	TotalServices  int       `json:"totalServices"`
	ActiveServices int       `json:"activeServices"`
	LastUpdated    time.Time `json:"lastUpdated"`
	Version        int       `json:"version"`
}

// Node is one registered service in the graph, carrying a denormalized
// copy of its record.
type Node struct {
	ID    string           `json:"id"`
	Label string           `json:"label"`
	Type  string           `json:"type"`
	Data  registry.Service `json:"data"`
}

// Edge is the compact directed form of an inferred relationship.
type Edge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Type   string `json:"type"`
	Label  string `json:"label"`
	Weight int    `json:"weight"`
}

// Relationship is the descriptive form of an inferred relationship,
// keyed by service name with the individual reasons preserved.
type Relationship struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Type    string   `json:"type"`
	Reasons []string `json:"reason"`
	Weight  int      `json:"weight"`
}

// Schema groups the services and tables contributing to one declared
// database schema.
type Schema struct {
	Version  string   `json:"version"`
	Services []string `json:"services"`
	Tables   []string `json:"tables"`
}

// Graph is an immutable-per-version snapshot of the registered services
// and their inferred relationships.
type Graph struct {
	Metadata      Metadata           `json:"metadata"`
	Nodes         []Node             `json:"nodes"`
	Edges         []Edge             `json:"edges"`
	Schemas       map[string]*Schema `json:"schemas"`
	Relationships []Relationship     `json:"relationships"`
}

// RelatedService is a service connected to another by an inferred
// relationship, annotated with the relationship details.
type RelatedService struct {
	registry.Service
	RelationshipType   string   `json:"relationshipType"`
	RelationshipReason []string `json:"relationshipReason"`
	Weight             int      `json:"weight"`
}
