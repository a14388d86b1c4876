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
	"errors"
	"testing"
	"time"

	"axonflow/coordinator/registry"
)

type stubLister struct {
	services []*registry.Service
	err      error
	calls    int
}

func (s *stubLister) ListFull(ctx context.Context) ([]*registry.Service, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.services, nil
}

type stubSnapshots struct {
	version int
	payload []byte
	updated time.Time
	saveErr error
	saves   int
}

func (s *stubSnapshots) SaveGraphSnapshot(ctx context.Context, version int, payload []byte) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.version = version
	s.payload = payload
	s.updated = time.Now()
	return nil
}

func (s *stubSnapshots) LatestGraphSnapshot(ctx context.Context) (int, []byte, time.Time, error) {
	if s.payload == nil {
		return 0, nil, time.Time{}, errors.New("no snapshot available")
	}
	return s.version, s.payload, s.updated, nil
}

func TestCache_GetServesCachedWithinTTL(t *testing.T) {
	lister := &stubLister{services: []*registry.Service{
		testService("a", "user-auth", nil),
	}}
	cache := NewCache(lister, &stubSnapshots{}, time.Hour)

	first, err := cache.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := cache.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Error("expected the cached graph to be served on the second call")
	}
	if lister.calls != 1 {
		t.Errorf("expected 1 registry read, got %d", lister.calls)
	}
}

func TestCache_ForceRebuildBypassesCache(t *testing.T) {
	lister := &stubLister{}
	cache := NewCache(lister, &stubSnapshots{}, time.Hour)

	g1, err := cache.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g2, err := cache.Get(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if lister.calls != 2 {
		t.Errorf("expected 2 registry reads, got %d", lister.calls)
	}
	if g2.Metadata.Version != g1.Metadata.Version+1 {
		t.Errorf("expected version to advance from %d, got %d",
			g1.Metadata.Version, g2.Metadata.Version)
	}
}

func TestCache_VersionsStrictlyIncrease(t *testing.T) {
	snapshots := &stubSnapshots{}
	cache := NewCache(&stubLister{}, snapshots, time.Hour)

	for want := 1; want <= 3; want++ {
		g, err := cache.Rebuild(context.Background())
		if err != nil {
			t.Fatalf("rebuild %d failed: %v", want, err)
		}
		if g.Metadata.Version != want {
			t.Errorf("expected version %d, got %d", want, g.Metadata.Version)
		}
		if snapshots.version != want {
			t.Errorf("expected persisted version %d, got %d", want, snapshots.version)
		}
	}
	if snapshots.saves != 3 {
		t.Errorf("expected 3 persisted snapshots, got %d", snapshots.saves)
	}
}

func TestCache_PersistFailureStillServesGraph(t *testing.T) {
	snapshots := &stubSnapshots{saveErr: errors.New("storage down")}
	cache := NewCache(&stubLister{services: []*registry.Service{
		testService("a", "orders", nil),
	}}, snapshots, time.Hour)

	g, err := cache.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("expected rebuild to succeed despite persistence failure, got %v", err)
	}
	if g.Metadata.TotalServices != 1 {
		t.Errorf("expected graph with 1 service, got %d", g.Metadata.TotalServices)
	}

	cached, err := cache.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cached != g {
		t.Error("expected the unpersisted graph to be cached anyway")
	}
}

func TestCache_AdoptsPersistedSnapshot(t *testing.T) {
	persisted := Build([]*registry.Service{
		testService("a", "billing", nil),
	}, 5)
	payload, err := json.Marshal(persisted)
	if err != nil {
		t.Fatalf("failed to marshal snapshot: %v", err)
	}

	lister := &stubLister{}
	cache := NewCache(lister, &stubSnapshots{
		version: 5,
		payload: payload,
		updated: time.Now(),
	}, time.Hour)

	g, err := cache.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Metadata.Version != 5 {
		t.Errorf("expected persisted version 5, got %d", g.Metadata.Version)
	}
	if lister.calls != 0 {
		t.Errorf("expected no registry read when a snapshot exists, got %d", lister.calls)
	}
}

func TestCache_RebuildWrapsRegistryError(t *testing.T) {
	cache := NewCache(&stubLister{err: errors.New("connection refused")}, &stubSnapshots{}, time.Hour)

	_, err := cache.Rebuild(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var rebuildErr *RebuildError
	if !errors.As(err, &rebuildErr) {
		t.Errorf("expected RebuildError, got %T", err)
	}
}

func TestCache_FindServiceByQuery(t *testing.T) {
	lister := &stubLister{services: []*registry.Service{
		testService("a", "user-auth", &registry.Migration{Schema: "identity", Tables: []string{"users"}}),
		testService("b", "user-profile", &registry.Migration{Schema: "identity", Tables: []string{"users"}}),
		testService("c", "billing-engine", &registry.Migration{Schema: "commerce", Tables: []string{"invoices"}}),
	}}
	cache := NewCache(lister, &stubSnapshots{}, time.Hour)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"exact name containment", "auth", "user-auth"},
		{"domain prefix in query", "fetch user data please", "user-auth"},
		{"schema name in query", "anything touching the commerce schema", "billing-engine"},
		{"case insensitive", "AUTH", "user-auth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := cache.FindServiceByQuery(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if svc == nil {
				t.Fatalf("expected a match for %q", tt.query)
			}
			if svc.Name != tt.want {
				t.Errorf("expected %q, got %q", tt.want, svc.Name)
			}
		})
	}

	t.Run("no match returns nil without error", func(t *testing.T) {
		svc, err := cache.FindServiceByQuery(context.Background(), "weather forecast")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc != nil {
			t.Errorf("expected no match, got %q", svc.Name)
		}
	})
}

func TestCache_RelatedServicesSortedByWeight(t *testing.T) {
	// user-auth relates to user-profile (schema+tables+domain, weight 6)
	// and to user-gateway (domain only, weight 1).
	lister := &stubLister{services: []*registry.Service{
		testService("a", "user-auth", &registry.Migration{Schema: "identity", Tables: []string{"users"}}),
		testService("b", "user-profile", &registry.Migration{Schema: "identity", Tables: []string{"users"}}),
		testService("c", "user-gateway", nil),
	}}
	cache := NewCache(lister, &stubSnapshots{}, time.Hour)

	related, err := cache.RelatedServices(context.Background(), "user-auth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(related) == 0 {
		t.Fatal("expected related services")
	}
	if related[0].Name != "user-profile" {
		t.Errorf("expected user-profile first, got %q", related[0].Name)
	}
	for i := 1; i < len(related); i++ {
		if related[i].Weight > related[i-1].Weight {
			t.Errorf("expected weights descending, got %d before %d",
				related[i-1].Weight, related[i].Weight)
		}
	}
}
