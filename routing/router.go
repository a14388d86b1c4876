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

// Package routing decides which registered service should handle a
// request. It asks the external oracle first and degrades to
// deterministic graph and keyword matching when the oracle fails or is
// inconclusive. A decision (or a structured no-match) is always
// produced; routing never throws past its boundary.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"axonflow/coordinator/graph"
	"axonflow/coordinator/registry"
	"axonflow/coordinator/shared/logger"
)

// Heuristic confidence constants per fallback path. These are fixed
// labels, not calibrated probabilities.
const (
	GraphMatchConfidence   = 0.8
	KeywordMatchConfidence = 0.7
)

// Decision path labels. Every Result carries the one that produced it.
const (
	PathOracle  = "oracle"
	PathGraph   = "graph"
	PathKeyword = "keyword"
	PathNone    = "none"
)

// RequestContext carries the inbound request details embedded into the
// oracle prompt.
type RequestContext struct {
	Method string                 `json:"method,omitempty"`
	Path   string                 `json:"path,omitempty"`
	Body   map[string]interface{} `json:"body,omitempty"`
}

// ServiceRef is the resolved subset of a service record a caller needs
// to forward a request.
type ServiceRef struct {
	Endpoint string          `json:"endpoint"`
	Version  string          `json:"version"`
	Status   registry.Status `json:"status"`
}

// DecisionDetail is the routing outcome for a successful decision.
type DecisionDetail struct {
	ServiceName *string     `json:"serviceName"`
	Confidence  float64     `json:"confidence"`
	Reasoning   string      `json:"reasoning"`
	Service     *ServiceRef `json:"service"`
}

// Result is the per-request routing decision. On a no-match the full
// service list is attached so a caller can self-select. Path names the
// decision path that produced the result; it is for callers (metric
// labels), not for clients.
type Result struct {
	Success           bool               `json:"success"`
	Error             string             `json:"error,omitempty"`
	Routing           *DecisionDetail    `json:"routing,omitempty"`
	AvailableServices []registry.Summary `json:"availableServices,omitempty"`
	Path              string             `json:"-"`
}

// Registry is the registry surface the router needs.
type Registry interface {
	GetByName(ctx context.Context, name string) (*registry.Service, error)
	ListSummaries(ctx context.Context) ([]registry.Summary, error)
}

// GraphView is the knowledge-graph surface the router needs.
type GraphView interface {
	Get(ctx context.Context, forceRebuild bool) (*graph.Graph, error)
	FindServiceByQuery(ctx context.Context, query string) (*registry.Service, error)
}

// Router turns a query plus request context into a target-service
// decision.
type Router struct {
	registry Registry
	graph    GraphView
	oracle   CompletionClient
	log      *logger.Logger
}

// NewRouter creates a Router.
func NewRouter(reg Registry, g GraphView, oracle CompletionClient) *Router {
	return &Router{
		registry: reg,
		graph:    g,
		oracle:   oracle,
		log:      logger.New("routing"),
	}
}

// Route attempts an oracle-backed decision. A returned error is always
// an OracleError; the caller must then invoke Fallback exactly once.
// Oracle calls are never retried internally.
func (r *Router) Route(ctx context.Context, query string, reqCtx RequestContext) (*Result, error) {
	prompt, err := r.buildPrompt(ctx, query, reqCtx)
	if err != nil {
		return nil, &OracleError{Reason: "prompt assembly failed", Err: err}
	}

	content, err := r.oracle.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	decision, err := ParseDecision(content)
	if err != nil {
		return nil, err
	}

	r.log.Info("", "Oracle routing decision", map[string]interface{}{
		"query":        query,
		"service_name": decision.ServiceName,
		"confidence":   decision.Confidence,
	})

	if decision.ServiceName == nil {
		return r.noMatch(ctx, "No suitable service found for this request")
	}

	target, err := r.registry.GetByName(ctx, *decision.ServiceName)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return r.noMatch(ctx, fmt.Sprintf("Service %s suggested by oracle is not registered", *decision.ServiceName))
		}
		return nil, &OracleError{Reason: "target resolution failed", Err: err}
	}

	return &Result{
		Success: true,
		Path:    PathOracle,
		Routing: &DecisionDetail{
			ServiceName: decision.ServiceName,
			Confidence:  decision.Confidence,
			Reasoning:   decision.Reasoning,
			Service:     refOf(target),
		},
	}, nil
}

// Fallback produces a deterministic decision: knowledge-graph query
// match first, then keyword matching on registry summaries, then a
// structured no-match with the full service list.
func (r *Router) Fallback(ctx context.Context, query string) (*Result, error) {
	matched, err := r.graph.FindServiceByQuery(ctx, query)
	if err != nil {
		r.log.Warn("", "Graph lookup failed during fallback routing", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if matched != nil {
		name := matched.Name
		return &Result{
			Success: true,
			Path:    PathGraph,
			Routing: &DecisionDetail{
				ServiceName: &name,
				Confidence:  GraphMatchConfidence,
				Reasoning:   "Matched using knowledge graph",
				Service:     refOf(matched),
			},
		}, nil
	}

	summaries, err := r.registry.ListSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list services for fallback routing: %w", err)
	}

	queryLower := strings.ToLower(query)
	for _, svc := range summaries {
		base := strings.ToLower(strings.SplitN(svc.Name, "-", 2)[0])
		if base != "" && strings.Contains(queryLower, base) {
			name := svc.Name
			return &Result{
				Success: true,
				Path:    PathKeyword,
				Routing: &DecisionDetail{
					ServiceName: &name,
					Confidence:  KeywordMatchConfidence,
					Reasoning:   "Matched by keyword",
					Service: &ServiceRef{
						Endpoint: svc.Endpoint,
						Version:  svc.Version,
						Status:   svc.Status,
					},
				},
			}, nil
		}
	}

	res, err := r.noMatch(ctx, "No matching service found")
	if err != nil {
		return nil, err
	}
	return res, nil
}

// noMatch assembles the structured no-match result with the full
// service list attached.
func (r *Router) noMatch(ctx context.Context, message string) (*Result, error) {
	summaries, err := r.registry.ListSummaries(ctx)
	if err != nil {
		summaries = nil
	}
	return &Result{
		Success:           false,
		Path:              PathNone,
		Error:             message,
		AvailableServices: summaries,
	}, nil
}

const systemPrompt = "You are an intelligent API router. Respond only with valid JSON."

// buildPrompt embeds the current graph's service list and the request
// context into the routing prompt.
func (r *Router) buildPrompt(ctx context.Context, query string, reqCtx RequestContext) (string, error) {
	servicesContext, err := r.servicesContext(ctx)
	if err != nil {
		return "", err
	}

	method := reqCtx.Method
	if method == "" {
		method = "GET"
	}
	path := reqCtx.Path
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `You are an intelligent API router for a microservices architecture. Your job is to determine which microservice should handle a given request.

Available Microservices:
%s

User Request:
- Query/Intent: %s
- HTTP Method: %s
- Path: %s
`, servicesContext, query, method, path)

	if len(reqCtx.Body) > 0 {
		if body, err := json.Marshal(reqCtx.Body); err == nil {
			fmt.Fprintf(&b, "- Body: %s\n", body)
		}
	}

	b.WriteString(`
Instructions:
1. Analyze the user's request and determine which microservice is most appropriate to handle it.
2. Consider the service name, version, and inferred purpose.
3. Return ONLY a JSON object with this exact format:
{
  "serviceName": "exact-service-name-from-list",
  "confidence": 0.0-1.0,
  "reasoning": "brief explanation"
}

If no service matches, return:
{
  "serviceName": null,
  "confidence": 0.0,
  "reasoning": "No suitable service found"
}

Respond with ONLY the JSON, no additional text.`)

	return b.String(), nil
}

// servicesContext formats the graph's service list for the prompt.
func (r *Router) servicesContext(ctx context.Context) (string, error) {
	g, err := r.graph.Get(ctx, false)
	if err != nil {
		return "", err
	}

	if len(g.Nodes) == 0 {
		return "No services are currently registered.", nil
	}

	var b strings.Builder
	for i := range g.Nodes {
		svc := &g.Nodes[i].Data
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, `%d. %s (v%s)
   - Endpoint: %s
   - Status: %s
   - Description: Handles %s`,
			i+1, svc.Name, svc.Version, svc.Endpoint, svc.Status, inferServicePurpose(svc.Name))
	}
	return b.String(), nil
}

// inferServicePurpose derives a one-line purpose from keywords in the
// service name.
func inferServicePurpose(serviceName string) string {
	name := strings.ToLower(serviceName)
	switch {
	case strings.Contains(name, "user"):
		return "user management, authentication, profiles"
	case strings.Contains(name, "product"):
		return "product catalog, inventory, search"
	case strings.Contains(name, "order"):
		return "order processing, payments, shipping"
	case strings.Contains(name, "payment"):
		return "payment processing, transactions"
	case strings.Contains(name, "notification"):
		return "notifications, messaging"
	default:
		return "various operations"
	}
}

func refOf(svc *registry.Service) *ServiceRef {
	return &ServiceRef{
		Endpoint: svc.Endpoint,
		Version:  svc.Version,
		Status:   svc.Status,
	}
}
