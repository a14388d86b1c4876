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
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const ctxKeyRequestID contextKey = "request_id"

// requestID returns the correlation ID assigned to the request.
func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// withRequestID assigns a correlation ID to every request and logs the
// exchange with its duration.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id))

		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.InfoWithDuration(id, "Request handled",
			float64(time.Since(start).Milliseconds()), map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
			})
	})
}

// withRecovery converts panics into a 500. Production mode masks the
// panic detail.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			s.log.Error(requestID(r), "Panic in request handler", map[string]interface{}{
				"panic":  rec,
				"method": r.Method,
				"path":   r.URL.Path,
			})

			message := "Internal server error"
			if !s.cfg.IsProduction() {
				message = "Internal server error: " + stringify(rec)
			}
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"success": false,
				"message": message,
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// withSanitizedURL strips URL-encoded newlines, carriage returns, and
// trailing whitespace from the request URL before routing. Clients
// copy-pasting endpoint lists tend to include them.
func (s *Server) withSanitizedURL(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cleaned := strings.NewReplacer("%0A", "", "%0D", "", "\n", "", "\r", "").Replace(r.RequestURI)
		cleaned = strings.TrimRight(cleaned, " \t")

		if cleaned != r.RequestURI {
			if u, err := url.ParseRequestURI(cleaned); err == nil {
				r.URL = u
				r.RequestURI = cleaned
			}
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit rejects clients over the sliding-window limit.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil || !s.limiter.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(r.Context(), clientAddr(r)) {
			s.log.Warn(requestID(r), "Rate limit exceeded", map[string]interface{}{
				"client": clientAddr(r),
				"path":   r.URL.Path,
			})
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"success": false,
				"message": "Rate limit exceeded, retry later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr identifies the caller for rate limiting.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sanitizeValue strips control characters from every string in a
// decoded JSON value, walking maps and slices.
func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return stripControl(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[stripControl(k)] = sanitizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, s)
}

func stringify(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unexpected error"
}
