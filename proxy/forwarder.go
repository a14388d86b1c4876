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

// Package proxy relays HTTP exchanges to a routed target service.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"axonflow/coordinator/registry"
	"axonflow/coordinator/shared/logger"
)

// DefaultTimeout is the hard per-call forwarding timeout.
const DefaultTimeout = 30 * time.Second

// Hop-by-hop headers stripped from the outbound request.
// Accept-Encoding stays off the wire so the transport negotiates and
// transparently decompresses; relaying the client's value would leave
// gzip bytes in Response.Body after Relay drops Content-Encoding.
var strippedRequestHeaders = []string{"Host", "Connection", "Content-Length", "Accept-Encoding"}

// Hop-by-hop headers a caller must not relay from the outbound
// response.
var strippedResponseHeaders = []string{"Connection", "Transfer-Encoding", "Content-Encoding"}

// TimeoutError reports that the downstream call exceeded the hard
// timeout.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timeout after %s", e.Timeout)
}

// TransportError reports any non-timeout transport failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to forward request: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Response is the outbound exchange mapped back for relaying. Body is
// normalized: JSON content is parsed and re-serialized, anything else
// passes through as opaque bytes.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Forwarder relays inbound requests to target services under a hard
// timeout. There are no retries: a failure surfaces immediately.
type Forwarder struct {
	timeout time.Duration
	client  *http.Client
	log     *logger.Logger
}

// New creates a Forwarder. A non-positive timeout falls back to
// DefaultTimeout.
func New(timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Forwarder{
		timeout: timeout,
		client:  &http.Client{},
		log:     logger.New("proxy"),
	}
}

// Forward issues the outbound call for the inbound request against the
// target service and maps the response back. parsedBody is the decoded
// JSON body of the inbound request (nil when absent); for POST, PUT and
// PATCH it is re-serialized as the outbound JSON body.
func (f *Forwarder) Forward(ctx context.Context, inbound *http.Request, target *registry.Service, parsedBody interface{}) (*Response, error) {
	targetURL := strings.TrimSuffix(target.Endpoint, "/") + inbound.URL.Path
	if raw := inbound.URL.Query().Encode(); raw != "" {
		targetURL += "?" + raw
	}

	f.log.Info("", "Forwarding request to microservice", map[string]interface{}{
		"method":       inbound.Method,
		"path":         inbound.URL.Path,
		"target_url":   targetURL,
		"service_name": target.Name,
	})

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var body io.Reader
	hasJSONBody := false
	switch inbound.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if parsedBody != nil {
			encoded, err := json.Marshal(parsedBody)
			if err != nil {
				return nil, &TransportError{Err: fmt.Errorf("failed to encode body: %w", err)}
			}
			body = bytes.NewReader(encoded)
			hasJSONBody = true
		}
	}

	outbound, err := http.NewRequestWithContext(ctx, inbound.Method, targetURL, body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	copyRequestHeaders(outbound.Header, inbound.Header)
	outbound.Header.Set("X-Forwarded-For", clientIP(inbound))
	outbound.Header.Set("X-Forwarded-Proto", requestScheme(inbound))
	outbound.Header.Set("X-Forwarded-Host", inbound.Host)
	outbound.Header.Set("X-Coordinator-Service", "coordinator")
	outbound.Header.Set("X-Target-Service", target.Name)
	if hasJSONBody {
		outbound.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(outbound)
	if err != nil {
		if isTimeout(ctx, err) {
			f.log.Error("", "Forwarding timed out", map[string]interface{}{
				"target_url":   targetURL,
				"service_name": target.Name,
				"timeout":      f.timeout.String(),
			})
			return nil, &TimeoutError{Timeout: f.timeout}
		}
		f.log.Error("", "Failed to forward request to microservice", map[string]interface{}{
			"target_url":   targetURL,
			"service_name": target.Name,
			"error":        err.Error(),
		})
		return nil, &TransportError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   normalizeBody(resp.Header.Get("Content-Type"), respBody),
	}, nil
}

// Relay writes an outbound response back to the inbound writer,
// skipping hop-by-hop headers.
func Relay(w http.ResponseWriter, resp *Response) {
	for key, values := range resp.Header {
		if isStrippedResponseHeader(key) {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// normalizeBody re-serializes JSON payloads; anything else passes
// through untouched.
func normalizeBody(contentType string, body []byte) []byte {
	if !strings.Contains(contentType, "application/json") || len(body) == 0 {
		return body
	}
	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return body
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return body
	}
	return normalized
}

func copyRequestHeaders(dst, src http.Header) {
	for key, values := range src {
		if isStrippedRequestHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isStrippedRequestHeader(key string) bool {
	for _, h := range strippedRequestHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

func isStrippedResponseHeader(key string) bool {
	for _, h := range strippedResponseHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
