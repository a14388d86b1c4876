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

// Package registry keeps the live record of registered microservices.
// Storage is pluggable through the Store interface; both the Postgres
// and the in-memory implementation satisfy it and callers must not
// depend on which one is active.
package registry

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"axonflow/coordinator/shared/logger"
)

// Store is the persistence contract the registry needs. Implementations
// must resolve GetServiceByName to the most recently registered record
// when names collide, and list services newest first.
type Store interface {
	InsertService(ctx context.Context, svc *Service) error
	GetServiceByID(ctx context.Context, id string) (*Service, error)
	GetServiceByName(ctx context.Context, name string) (*Service, error)
	ListServices(ctx context.Context) ([]*Service, error)
	UpdateServiceStatus(ctx context.Context, id string, status Status, checkedAt time.Time) error
	CountServices(ctx context.Context) (int, error)
	CountActiveServices(ctx context.Context) (int, error)
}

// Registry provides registration and lookup of services.
type Registry struct {
	store   Store
	log     *logger.Logger
	rebuild func()
}

// New creates a Registry backed by the given store.
func New(store Store) *Registry {
	return &Registry{
		store: store,
		log:   logger.New("registry"),
	}
}

// SetRebuildTrigger installs the callback fired after registrations and
// status updates. The callback runs on its own goroutine; its failures
// must never propagate into the triggering request, so the callback is
// expected to log and swallow them.
func (r *Registry) SetRebuildTrigger(fn func()) {
	r.rebuild = fn
}

// Register validates and stores a new service record, then triggers an
// asynchronous graph rebuild. Rebuild failures do not fail the
// registration.
func (r *Registry) Register(ctx context.Context, input RegisterInput) (*Service, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	healthCheck := strings.TrimSpace(input.HealthCheck)
	if healthCheck == "" {
		healthCheck = "/health"
	}

	migration := input.Migration
	if migration == nil {
		migration = &Migration{}
	}

	svc := &Service{
		ID:           uuid.New().String(),
		Name:         strings.TrimSpace(input.Name),
		Version:      strings.TrimSpace(input.Version),
		Endpoint:     strings.TrimSpace(input.Endpoint),
		HealthCheck:  healthCheck,
		Migration:    migration,
		RegisteredAt: time.Now().UTC(),
		Status:       StatusActive,
	}

	if err := r.store.InsertService(ctx, svc); err != nil {
		r.log.Error("", "Failed to register service", map[string]interface{}{
			"service_name": svc.Name,
			"error":        err.Error(),
		})
		return nil, err
	}

	r.log.Info("", "Service registered successfully", map[string]interface{}{
		"service_id":   svc.ID,
		"service_name": svc.Name,
		"version":      svc.Version,
		"endpoint":     svc.Endpoint,
	})

	r.triggerRebuild()

	return svc, nil
}

// GetByID returns the service with the given ID or ErrNotFound.
func (r *Registry) GetByID(ctx context.Context, id string) (*Service, error) {
	return r.store.GetServiceByID(ctx, id)
}

// GetByName returns the most recently registered service with the given
// name or ErrNotFound.
func (r *Registry) GetByName(ctx context.Context, name string) (*Service, error) {
	return r.store.GetServiceByName(ctx, name)
}

// ListSummaries returns the discovery view of all registered services.
func (r *Registry) ListSummaries(ctx context.Context) ([]Summary, error) {
	services, err := r.store.ListServices(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(services))
	for _, svc := range services {
		summaries = append(summaries, svc.Summary())
	}
	return summaries, nil
}

// ListFull returns all registered services with every field populated.
// Used by the graph builder.
func (r *Registry) ListFull(ctx context.Context) ([]*Service, error) {
	return r.store.ListServices(ctx)
}

// SetStatus updates the status and last-health-check timestamp of a
// service, then triggers an asynchronous graph rebuild.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status) error {
	if err := r.store.UpdateServiceStatus(ctx, id, status, time.Now().UTC()); err != nil {
		return err
	}

	r.log.Info("", "Service status updated", map[string]interface{}{
		"service_id": id,
		"status":     string(status),
	})

	r.triggerRebuild()
	return nil
}

// Count returns the total number of registered services.
func (r *Registry) Count(ctx context.Context) (int, error) {
	return r.store.CountServices(ctx)
}

// CountActive returns the number of services with status active.
func (r *Registry) CountActive(ctx context.Context) (int, error) {
	return r.store.CountActiveServices(ctx)
}

func (r *Registry) triggerRebuild() {
	if r.rebuild == nil {
		return
	}
	go r.rebuild()
}

func validateInput(input RegisterInput) error {
	var errs []string

	if strings.TrimSpace(input.Name) == "" {
		errs = append(errs, "serviceName is required and must be a non-empty string")
	}
	if strings.TrimSpace(input.Version) == "" {
		errs = append(errs, "version is required and must be a non-empty string")
	}

	endpoint := strings.TrimSpace(input.Endpoint)
	if endpoint == "" {
		errs = append(errs, "endpoint is required and must be a non-empty string")
	} else if u, err := url.Parse(endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "endpoint must be a valid URL")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
