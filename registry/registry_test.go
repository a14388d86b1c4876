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
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStore is a minimal Store for exercising the registry in
// isolation from the storage package.
type fakeStore struct {
	mu        sync.Mutex
	services  []*Service
	insertErr error
}

func (f *fakeStore) InsertService(ctx context.Context, svc *Service) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services = append(f.services, svc)
	return nil
}

func (f *fakeStore) GetServiceByID(ctx context.Context, id string) (*Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, svc := range f.services {
		if svc.ID == id {
			return svc, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) GetServiceByName(ctx context.Context, name string) (*Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.services) - 1; i >= 0; i-- {
		if f.services[i].Name == name {
			return f.services[i], nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) ListServices(ctx context.Context) ([]*Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Service, len(f.services))
	copy(out, f.services)
	return out, nil
}

func (f *fakeStore) UpdateServiceStatus(ctx context.Context, id string, status Status, checkedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, svc := range f.services {
		if svc.ID == id {
			svc.Status = status
			svc.LastHealthCheck = &checkedAt
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeStore) CountServices(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.services), nil
}

func (f *fakeStore) CountActiveServices(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, svc := range f.services {
		if svc.Status == StatusActive {
			count++
		}
	}
	return count, nil
}

func validInput() RegisterInput {
	return RegisterInput{
		Name:     "user-auth",
		Version:  "1.2.0",
		Endpoint: "http://user-auth:8080",
	}
}

func TestRegister_Defaults(t *testing.T) {
	r := New(&fakeStore{})

	svc, err := r.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if svc.ID == "" {
		t.Error("expected generated ID")
	}
	if svc.Status != StatusActive {
		t.Errorf("expected active status, got %q", svc.Status)
	}
	if svc.HealthCheck != "/health" {
		t.Errorf("expected default health check /health, got %q", svc.HealthCheck)
	}
	if svc.Migration == nil {
		t.Error("expected empty migration descriptor, got nil")
	}
	if svc.RegisteredAt.IsZero() {
		t.Error("expected registration timestamp")
	}
}

func TestRegister_TrimsFields(t *testing.T) {
	r := New(&fakeStore{})

	svc, err := r.Register(context.Background(), RegisterInput{
		Name:     "  user-auth  ",
		Version:  " 1.0.0 ",
		Endpoint: " http://user-auth:8080 ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if svc.Name != "user-auth" || svc.Version != "1.0.0" || svc.Endpoint != "http://user-auth:8080" {
		t.Errorf("expected trimmed fields, got %+v", svc)
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name      string
		input     RegisterInput
		wantErrs  int
		wantMatch string
	}{
		{
			name:      "empty input",
			input:     RegisterInput{},
			wantErrs:  3,
			wantMatch: "serviceName is required and must be a non-empty string",
		},
		{
			name:      "missing name only",
			input:     RegisterInput{Version: "1.0.0", Endpoint: "http://x:1"},
			wantErrs:  1,
			wantMatch: "serviceName is required and must be a non-empty string",
		},
		{
			name:      "whitespace name",
			input:     RegisterInput{Name: "   ", Version: "1.0.0", Endpoint: "http://x:1"},
			wantErrs:  1,
			wantMatch: "serviceName is required and must be a non-empty string",
		},
		{
			name:      "endpoint without scheme",
			input:     RegisterInput{Name: "x", Version: "1.0.0", Endpoint: "not a url"},
			wantErrs:  1,
			wantMatch: "endpoint must be a valid URL",
		},
		{
			name:      "endpoint without host",
			input:     RegisterInput{Name: "x", Version: "1.0.0", Endpoint: "http://"},
			wantErrs:  1,
			wantMatch: "endpoint must be a valid URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			r := New(store)

			_, err := r.Register(context.Background(), tt.input)
			if err == nil {
				t.Fatal("expected validation error")
			}

			ve, ok := IsValidation(err)
			if !ok {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if len(ve.Errors) != tt.wantErrs {
				t.Errorf("expected %d errors, got %v", tt.wantErrs, ve.Errors)
			}

			found := false
			for _, msg := range ve.Errors {
				if msg == tt.wantMatch {
					found = true
				}
			}
			if !found {
				t.Errorf("expected %q among %v", tt.wantMatch, ve.Errors)
			}

			// A rejected registration must not touch the store.
			if count, _ := store.CountServices(context.Background()); count != 0 {
				t.Errorf("expected store untouched, got %d services", count)
			}
		})
	}
}

func TestRegister_DuplicateNamesAllowed(t *testing.T) {
	store := &fakeStore{}
	r := New(store)

	first, err := r.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.ID == second.ID {
		t.Error("expected distinct IDs for duplicate names")
	}

	// Name lookup resolves to the most recent registration.
	got, err := r.GetByName(context.Background(), "user-auth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("expected most recent registration, got %q", got.ID)
	}
}

func TestRegister_TriggersRebuild(t *testing.T) {
	r := New(&fakeStore{})

	done := make(chan struct{}, 1)
	r.SetRebuildTrigger(func() {
		done <- struct{}{}
	})

	if _, err := r.Register(context.Background(), validInput()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected rebuild trigger to fire")
	}
}

func TestRegister_StoreErrorPropagates(t *testing.T) {
	storeErr := errors.New("disk full")
	r := New(&fakeStore{insertErr: storeErr})

	_, err := r.Register(context.Background(), validInput())
	if !errors.Is(err, storeErr) {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	store := &fakeStore{}
	r := New(store)

	svc, err := r.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.SetStatus(context.Background(), svc.ID, StatusInactive); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := r.GetByID(context.Background(), svc.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusInactive {
		t.Errorf("expected inactive, got %q", got.Status)
	}
	if got.LastHealthCheck == nil {
		t.Error("expected last health check timestamp")
	}

	active, _ := r.CountActive(context.Background())
	if active != 0 {
		t.Errorf("expected 0 active, got %d", active)
	}

	if err := r.SetStatus(context.Background(), "missing", StatusActive); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListSummaries(t *testing.T) {
	r := New(&fakeStore{})

	if _, err := r.Register(context.Background(), validInput()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summaries, err := r.ListSummaries(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}

	s := summaries[0]
	if s.Name != "user-auth" || s.Version != "1.2.0" || s.Status != StatusActive {
		t.Errorf("unexpected summary %+v", s)
	}
}
