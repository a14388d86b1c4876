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

// Package server wires the coordinator's HTTP surface: registration,
// discovery, knowledge graph, AI routing and the catch-all proxy.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"axonflow/coordinator/config"
	"axonflow/coordinator/graph"
	"axonflow/coordinator/proxy"
	"axonflow/coordinator/registry"
	"axonflow/coordinator/routing"
	"axonflow/coordinator/shared/logger"
	"axonflow/coordinator/storage"
)

// Run loads configuration, assembles the coordinator and serves until
// a shutdown signal arrives.
func Run() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	s, err := New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize coordinator: %v", err)
	}

	if err := s.Run(); err != nil {
		log.Fatalf("Coordinator exited with error: %v", err)
	}
}

// Server owns the coordinator's components and HTTP handlers.
type Server struct {
	cfg       *config.Config
	log       *logger.Logger
	registry  *registry.Registry
	cache     *graph.Cache
	router    *routing.Router
	forwarder *proxy.Forwarder
	uiConfig  *UIConfigStore
	limiter   *RateLimiter

	closers []func() error
}

// New assembles a Server from configuration. The storage backend is
// Postgres when DATABASE_URL is set, in-memory otherwise.
func New(cfg *config.Config) (*Server, error) {
	log := logger.New("coordinator")

	s := &Server{
		cfg:      cfg,
		log:      log,
		uiConfig: NewUIConfigStore(),
	}

	var store registry.Store
	var snapshots graph.SnapshotStore
	if cfg.UsePostgres() {
		pg, err := storage.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		s.closers = append(s.closers, pg.Close)
		store, snapshots = pg, pg
		log.Info("", "Using PostgreSQL storage backend", nil)
	} else {
		mem := storage.NewMemoryStore()
		store, snapshots = mem, mem
		log.Warn("", "DATABASE_URL not set, using in-memory storage", nil)
	}

	s.registry = registry.New(store)
	s.cache = graph.NewCache(s.registry, snapshots, cfg.GraphCacheTTL)

	oracle := routing.NewOpenAIClient(routing.OracleConfig{
		APIKey: cfg.OracleAPIKey,
		APIURL: cfg.OracleAPIURL,
		Model:  cfg.OracleModel,
	})
	if !cfg.OracleConfigured() {
		log.Warn("", "OPENAI_API_KEY not set, AI routing will fall back to graph and keyword matching", nil)
	}
	s.router = routing.NewRouter(s.registry, s.cache, oracle)
	s.forwarder = proxy.New(cfg.ProxyTimeout)

	// Registrations refresh the graph in the background.
	s.registry.SetRebuildTrigger(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.cache.Rebuild(ctx); err != nil {
			log.Warn("", "Background graph rebuild failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	})

	if cfg.RateLimitPerMinute > 0 {
		limiter, err := NewRateLimiter(cfg.RedisURL, cfg.RateLimitPerMinute)
		if err != nil {
			log.Warn("", "Redis unavailable, rate limiting falls back to in-memory windows", map[string]interface{}{
				"error": err.Error(),
			})
			limiter, _ = NewRateLimiter("", cfg.RateLimitPerMinute)
		}
		s.limiter = limiter
		s.closers = append(s.closers, limiter.Close)
	}

	return s, nil
}

// Handler builds the full middleware and routing chain.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/services", s.handleListServices).Methods(http.MethodGet)
	r.HandleFunc("/registry", s.handleListServices).Methods(http.MethodGet)
	r.HandleFunc("/knowledge-graph", s.handleGraph).Methods(http.MethodGet)
	r.HandleFunc("/graph", s.handleGraph).Methods(http.MethodGet)
	r.HandleFunc("/knowledge-graph/rebuild", s.handleGraphRebuild).Methods(http.MethodPost)
	r.HandleFunc("/graph/rebuild", s.handleGraphRebuild).Methods(http.MethodPost)
	r.HandleFunc("/route", s.handleRoutePost).Methods(http.MethodPost)
	r.HandleFunc("/route", s.handleRouteGet).Methods(http.MethodGet)
	r.HandleFunc("/uiux", s.handleUIConfigGet).Methods(http.MethodGet)
	r.HandleFunc("/uiux", s.handleUIConfigPost).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Everything else is proxied through AI routing. Must stay last.
	r.PathPrefix("/").HandlerFunc(s.handleProxy)
	r.NotFoundHandler = http.HandlerFunc(s.notFound)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
	})

	var handler http.Handler = r
	handler = s.withRateLimit(handler)
	handler = c.Handler(handler)
	handler = s.withRecovery(handler)
	handler = s.withRequestID(handler)
	handler = s.withSanitizedURL(handler)
	return handler
}

// Run serves until SIGINT or SIGTERM, then drains in-flight requests.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Warm the graph so the first routed request does not pay for a
	// full rebuild.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.cache.Get(ctx, false); err != nil {
			s.log.Warn("", "Startup graph build failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("", "Coordinator listening", map[string]interface{}{
			"port":        s.cfg.Port,
			"environment": s.cfg.Environment,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		s.closeAll()
		return err
	case sig := <-stop:
		s.log.Info("", "Shutdown signal received, draining connections", map[string]interface{}{
			"signal": sig.String(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.closeAll()
		return fmt.Errorf("shutdown failed: %w", err)
	}

	s.closeAll()
	s.log.Info("", "Coordinator stopped", nil)
	return nil
}

func (s *Server) closeAll() {
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.log.Warn("", "Error closing resource", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
