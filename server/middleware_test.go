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

package server

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestSanitizeValue(t *testing.T) {
	in := map[string]interface{}{
		"name\x00": "user\x07-auth",
		"nested": map[string]interface{}{
			"note": "line1\nline2",
		},
		"list":  []interface{}{"a\rb", float64(3)},
		"count": float64(7),
	}

	got := sanitizeValue(in).(map[string]interface{})

	want := map[string]interface{}{
		"name": "user-auth",
		"nested": map[string]interface{}{
			"note": "line1line2",
		},
		"list":  []interface{}{"ab", float64(3)},
		"count": float64(7),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sanitizeValue mismatch:\ngot  %v\nwant %v", got, want)
	}
}

func TestClientAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:41000"
	if got := clientAddr(r); got != "203.0.113.9" {
		t.Errorf("expected remote host, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "198.51.100.2, 10.0.0.1")
	if got := clientAddr(r); got != "198.51.100.2" {
		t.Errorf("expected first forwarded entry, got %q", got)
	}
}

func TestWithSanitizedURL(t *testing.T) {
	s := newTestServer(t, downOracle{})

	var seenPath string
	handler := s.withSanitizedURL(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	req.RequestURI = "/health%0A"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seenPath != "/health" {
		t.Errorf("expected encoded newline stripped, got %q", seenPath)
	}
}

func TestWithRecovery(t *testing.T) {
	s := newTestServer(t, downOracle{})

	handler := s.withRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/panic", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestWithRecovery_ProductionMasksDetail(t *testing.T) {
	s := newTestServer(t, downOracle{})
	s.cfg.Environment = "production"

	handler := s.withRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("secret database password leaked")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/panic", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if body := rec.Body.String(); body == "" || strings.Contains(body, "secret") {
		t.Errorf("expected masked error message, got %q", body)
	}
}
