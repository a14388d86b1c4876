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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"axonflow/coordinator/proxy"
	"axonflow/coordinator/registry"
	"axonflow/coordinator/routing"
)

// Paths owned by the coordinator itself. Requests under them are never
// proxied; anything else falls through to AI routing.
var coordinatorPaths = []string{
	"/register",
	"/uiux",
	"/services",
	"/registry",
	"/route",
	"/knowledge-graph",
	"/graph",
	"/health",
	"/metrics",
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// handleRoot serves the endpoint directory.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Coordinator Microservice",
		"version": "1.0.0",
		"status":  "running",
		"endpoints": map[string]string{
			"register":       "POST /register",
			"route":          "GET /route, POST /route (AI-based routing)",
			"knowledgeGraph": "GET /knowledge-graph, GET /graph",
			"uiux":           "GET /uiux, POST /uiux",
			"services":       "GET /services, GET /registry",
			"health":         "GET /health",
			"metrics":        "GET /metrics",
			"proxy":          "All other routes are proxied through AI routing",
		},
	})
}

// handleRegister registers a new microservice.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	promRegistrationRequests.Inc()

	var input registry.RegisterInput
	if err := decodeSanitizedJSON(r.Body, &input); err != nil {
		promRegistrationFailures.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Request body must be valid JSON",
		})
		return
	}

	svc, err := s.registry.Register(r.Context(), input)
	if err != nil {
		promRegistrationFailures.Inc()

		if ve, ok := registry.IsValidation(err); ok {
			s.log.Warn(requestID(r), "Validation failed for registration request", map[string]interface{}{
				"errors": ve.Errors,
			})
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"message": "Validation failed",
				"errors":  ve.Errors,
			})
			return
		}

		s.log.ErrorWithCode(requestID(r), "Service registration failed", http.StatusInternalServerError, err, nil)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": s.errorMessage(err, "Failed to register service"),
		})
		return
	}

	if count, err := s.registry.Count(r.Context()); err == nil {
		promRegisteredServices.Set(float64(count))
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"message":   "Service registered successfully",
		"serviceId": svc.ID,
	})
}

// handleListServices serves the discovery listing.
func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.registry.ListSummaries(r.Context())
	if err != nil {
		s.log.ErrorWithCode(requestID(r), "Failed to retrieve services", http.StatusInternalServerError, err, nil)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": s.errorMessage(err, "Failed to retrieve services"),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"services": services,
		"total":    len(services),
	})
}

// handleGraph serves the knowledge graph, optionally forcing a rebuild
// with ?rebuild=true.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	forceRebuild := r.URL.Query().Get("rebuild") == "true"

	g, err := s.cache.Get(r.Context(), forceRebuild)
	if err != nil {
		s.log.ErrorWithCode(requestID(r), "Failed to retrieve knowledge graph", http.StatusInternalServerError, err, nil)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": s.errorMessage(err, "Failed to retrieve knowledge graph"),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"knowledgeGraph": g,
	})
}

// handleGraphRebuild forces a rebuild and persists the new snapshot.
func (s *Server) handleGraphRebuild(w http.ResponseWriter, r *http.Request) {
	s.log.Info(requestID(r), "Manual knowledge graph rebuild requested", nil)

	g, err := s.cache.Rebuild(r.Context())
	if err != nil {
		s.log.ErrorWithCode(requestID(r), "Failed to rebuild knowledge graph", http.StatusInternalServerError, err, nil)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": s.errorMessage(err, "Failed to rebuild knowledge graph"),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Knowledge graph rebuilt successfully",
		"graph": map[string]interface{}{
			"version":       g.Metadata.Version,
			"totalServices": g.Metadata.TotalServices,
			"relationships": len(g.Relationships),
		},
	})
}

// handleRoutePost decides a target service for the query in the body.
func (s *Server) handleRoutePost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query  string                 `json:"query"`
		Intent string                 `json:"intent"`
		Method string                 `json:"method"`
		Path   string                 `json:"path"`
		Body   map[string]interface{} `json:"body"`
	}
	if err := decodeSanitizedJSON(r.Body, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Request body must be valid JSON",
		})
		return
	}

	query := body.Query
	if query == "" {
		query = body.Intent
	}
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": `Either "query" or "intent" is required`,
		})
		return
	}

	method := body.Method
	if method == "" {
		method = r.Method
	}
	path := body.Path
	if path == "" {
		path = r.URL.Path
	}

	s.respondWithRouting(w, r, query, routing.RequestContext{
		Method: method,
		Path:   path,
		Body:   body.Body,
	})
}

// handleRouteGet decides a target service for a query parameter.
func (s *Server) handleRouteGet(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	query := params.Get("q")
	if query == "" {
		query = params.Get("query")
	}
	if query == "" {
		query = params.Get("intent")
	}
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": `Query parameter "q", "query", or "intent" is required`,
		})
		return
	}

	s.respondWithRouting(w, r, query, routing.RequestContext{
		Method: "GET",
		Path:   r.URL.Path,
	})
}

// respondWithRouting runs the oracle-then-fallback decision and writes
// the outcome.
func (s *Server) respondWithRouting(w http.ResponseWriter, r *http.Request, query string, reqCtx routing.RequestContext) {
	result, err := s.decide(r, query, reqCtx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": s.errorMessage(err, "Routing failed"),
		})
		return
	}

	if !result.Success {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success":           false,
			"message":           "No suitable service found for this request",
			"error":             result.Error,
			"availableServices": result.AvailableServices,
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// decide runs Route and, on oracle failure, exactly one Fallback.
// Non-oracle errors surface to the caller.
func (s *Server) decide(r *http.Request, query string, reqCtx routing.RequestContext) (*routing.Result, error) {
	result, err := s.router.Route(r.Context(), query, reqCtx)
	if err == nil {
		promRouteDecisions.WithLabelValues(result.Path).Inc()
		return result, nil
	}
	if !routing.IsOracleError(err) {
		return nil, err
	}

	s.log.Warn(requestID(r), "AI routing failed, using fallback", map[string]interface{}{
		"query": query,
		"error": err.Error(),
	})

	result, err = s.router.Fallback(r.Context(), query)
	if err != nil {
		return nil, err
	}
	promRouteDecisions.WithLabelValues(result.Path).Inc()
	return result, nil
}

// handleHealth serves the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.registry.Count(r.Context())
	if err != nil {
		count = 0
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"uptime":             uptimeSeconds(),
		"registeredServices": count,
	})
}

// handleUIConfigGet serves the centralized UI/UX configuration.
func (s *Server) handleUIConfigGet(w http.ResponseWriter, r *http.Request) {
	promConfigFetches.Inc()

	config, version, updatedAt, ok := s.uiConfig.Get()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"message": "No UI/UX configuration found",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"config":      config,
		"version":     version,
		"lastUpdated": updatedAt,
	})
}

// handleUIConfigPost replaces the centralized UI/UX configuration.
func (s *Server) handleUIConfigPost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Config map[string]interface{} `json:"config"`
	}
	if err := decodeSanitizedJSON(r.Body, &body); err != nil || body.Config == nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "config is required and must be an object",
		})
		return
	}

	version, updatedAt := s.uiConfig.Update(body.Config)
	s.log.Info(requestID(r), "UI/UX configuration updated", map[string]interface{}{
		"version": version,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "UI/UX configuration updated successfully",
		"version":     version,
		"lastUpdated": updatedAt,
	})
}

// handleProxy is the catch-all: any request not matching a coordinator
// endpoint is routed to the most relevant registered service and
// forwarded there.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if isCoordinatorPath(r.URL.Path) {
		s.notFound(w, r)
		return
	}

	parsedBody := s.readJSONBody(r)
	query := buildQueryFromRequest(r, parsedBody)

	s.log.Info(requestID(r), "Proxying request through AI routing", map[string]interface{}{
		"query":  query,
		"method": r.Method,
		"path":   r.URL.Path,
	})

	var bodyMap map[string]interface{}
	if m, ok := parsedBody.(map[string]interface{}); ok {
		bodyMap = m
	}

	result, err := s.decide(r, query, routing.RequestContext{
		Method: r.Method,
		Path:   r.URL.Path,
		Body:   bodyMap,
	})
	if err != nil || !result.Success || result.Routing == nil || result.Routing.ServiceName == nil {
		promProxyRequests.WithLabelValues("no_match").Inc()
		services, _ := s.registry.ListSummaries(r.Context())
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success":           false,
			"message":           "No suitable microservice found for this request",
			"query":             query,
			"availableServices": services,
		})
		return
	}

	serviceName := *result.Routing.ServiceName
	target, err := s.registry.GetByName(r.Context(), serviceName)
	if err != nil {
		promProxyRequests.WithLabelValues("no_target").Inc()
		status := http.StatusNotFound
		message := "Service " + serviceName + " not found in registry"
		if !errors.Is(err, registry.ErrNotFound) {
			status = http.StatusInternalServerError
			message = s.errorMessage(err, "Failed to resolve target service")
		}
		writeJSON(w, status, map[string]interface{}{
			"success": false,
			"message": message,
		})
		return
	}

	resp, err := s.forwarder.Forward(r.Context(), r, target, parsedBody)
	if err != nil {
		promProxyRequests.WithLabelValues("error").Inc()
		s.log.ErrorWithCode(requestID(r), "Proxy request failed", http.StatusBadGateway, err, map[string]interface{}{
			"method":         r.Method,
			"path":           r.URL.Path,
			"target_service": serviceName,
		})
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"message": "Failed to proxy request to microservice",
			"error":   s.errorMessage(err, "forwarding failed"),
		})
		return
	}

	promProxyRequests.WithLabelValues("forwarded").Inc()
	proxy.Relay(w, resp)

	s.log.Info(requestID(r), "Request proxied successfully", map[string]interface{}{
		"method":         r.Method,
		"path":           r.URL.Path,
		"target_service": serviceName,
		"status_code":    resp.Status,
	})
}

// notFound handles unmatched coordinator-internal routes.
func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.log.Warn(requestID(r), "Route not found", map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	})
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"success": false,
		"message": "Route " + r.Method + " " + r.URL.Path + " not found",
		"hint":    "Make sure the URL does not contain trailing spaces or newlines. Try: POST /register",
	})
}

// errorMessage masks internal detail in production mode.
func (s *Server) errorMessage(err error, fallback string) string {
	if s.cfg.IsProduction() {
		return fallback
	}
	return err.Error()
}

// readJSONBody decodes a JSON request body when present. Only JSON
// bodies are forwarded; anything else is ignored.
func (s *Server) readJSONBody(r *http.Request) interface{} {
	if r.Body == nil {
		return nil
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil || len(data) == 0 {
		return nil
	}

	var parsed interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil
	}
	return sanitizeValue(parsed)
}

// buildQueryFromRequest turns an arbitrary request into a natural
// language routing query. Keys are sorted so equal requests produce
// equal queries.
func buildQueryFromRequest(r *http.Request, parsedBody interface{}) string {
	var b strings.Builder
	b.WriteString(r.Method + " request to " + r.URL.Path)

	if m, ok := parsedBody.(map[string]interface{}); ok && len(m) > 0 {
		b.WriteString(" with data: " + strings.Join(sortedKeys(m), ", "))
	}

	if params := r.URL.Query(); len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" with params: " + strings.Join(keys, ", "))
	}

	return b.String()
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isCoordinatorPath(path string) bool {
	for _, p := range coordinatorPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// decodeSanitizedJSON decodes JSON and strips control characters from
// every string field.
func decodeSanitizedJSON(body io.Reader, dst interface{}) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	sanitized, err := json.Marshal(sanitizeValue(raw))
	if err != nil {
		return err
	}
	return json.Unmarshal(sanitized, dst)
}
