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

package registry

import (
	"time"
)

// Status is the lifecycle state of a registered service.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Migration describes the database footprint a service declared at
// registration time. It drives relationship inference in the knowledge
// graph.
type Migration struct {
	Schema string   `json:"schema,omitempty"`
	Tables []string `json:"tables,omitempty"`
}

// Service is the full record of a registered microservice.
type Service struct {
	ID              string     `json:"id"`
	Name            string     `json:"serviceName"`
	Version         string     `json:"version"`
	Endpoint        string     `json:"endpoint"`
	HealthCheck     string     `json:"healthCheck"`
	Migration       *Migration `json:"migrationFile,omitempty"`
	RegisteredAt    time.Time  `json:"registeredAt"`
	LastHealthCheck *time.Time `json:"lastHealthCheck"`
	Status          Status     `json:"status"`
}

// Summary is the cheap discovery view of a Service.
type Summary struct {
	Name         string    `json:"serviceName"`
	Version      string    `json:"version"`
	Endpoint     string    `json:"endpoint"`
	Status       Status    `json:"status"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Summary returns the discovery view of the service.
func (s *Service) Summary() Summary {
	return Summary{
		Name:         s.Name,
		Version:      s.Version,
		Endpoint:     s.Endpoint,
		Status:       s.Status,
		RegisteredAt: s.RegisteredAt,
	}
}

// RegisterInput is the payload accepted by Register.
type RegisterInput struct {
	Name        string     `json:"serviceName"`
	Version     string     `json:"version"`
	Endpoint    string     `json:"endpoint"`
	HealthCheck string     `json:"healthCheck,omitempty"`
	Migration   *Migration `json:"migrationFile,omitempty"`
}
