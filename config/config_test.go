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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENVIRONMENT", "DATABASE_URL", "OPENAI_API_KEY",
		"OPENAI_API_URL", "OPENAI_MODEL", "GRAPH_CACHE_TTL",
		"PROXY_TIMEOUT", "REDIS_URL", "RATE_LIMIT_PER_MINUTE",
		"COORDINATOR_CONFIG_FILE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.Environment != "development" {
		t.Errorf("expected development, got %q", cfg.Environment)
	}
	if cfg.GraphCacheTTL != 30*time.Second {
		t.Errorf("expected 30s TTL, got %s", cfg.GraphCacheTTL)
	}
	if cfg.ProxyTimeout != 30*time.Second {
		t.Errorf("expected 30s proxy timeout, got %s", cfg.ProxyTimeout)
	}
	if cfg.OracleAPIURL != DefaultOracleURL {
		t.Errorf("expected default oracle URL, got %q", cfg.OracleAPIURL)
	}
	if cfg.UsePostgres() {
		t.Error("expected in-memory storage without DATABASE_URL")
	}
	if cfg.OracleConfigured() {
		t.Error("expected oracle unconfigured without API key")
	}
	if cfg.IsProduction() {
		t.Error("expected non-production by default")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DATABASE_URL", "postgres://coordinator@db/coordinator")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GRAPH_CACHE_TTL", "90s")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.Port)
	}
	if !cfg.IsProduction() || !cfg.UsePostgres() || !cfg.OracleConfigured() {
		t.Errorf("expected production postgres oracle config, got %+v", cfg)
	}
	if cfg.GraphCacheTTL != 90*time.Second {
		t.Errorf("expected 90s TTL, got %s", cfg.GraphCacheTTL)
	}
	if cfg.RateLimitPerMinute != 120 {
		t.Errorf("expected limit 120, got %d", cfg.RateLimitPerMinute)
	}
}

func TestLoad_InvalidRateLimit(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_PER_MINUTE", "lots")

	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric rate limit")
	}

	t.Setenv("RATE_LIMIT_PER_MINUTE", "-5")
	if _, err := Load(); err == nil {
		t.Error("expected error for negative rate limit")
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("GRAPH_CACHE_TTL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GraphCacheTTL != DefaultGraphCacheTTL {
		t.Errorf("expected fallback TTL, got %s", cfg.GraphCacheTTL)
	}
}

func TestLoad_FileOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")

	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	data := []byte("port: \"7070\"\nenvironment: staging\ngraph_cache_ttl: 45s\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("COORDINATOR_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// File values take precedence over the environment.
	if cfg.Port != "7070" {
		t.Errorf("expected file port 7070, got %q", cfg.Port)
	}
	if cfg.Environment != "staging" {
		t.Errorf("expected staging, got %q", cfg.Environment)
	}
	if cfg.GraphCacheTTL != 45*time.Second {
		t.Errorf("expected 45s TTL, got %s", cfg.GraphCacheTTL)
	}
	// Unset file values keep their env or default values.
	if cfg.ProxyTimeout != DefaultProxyTimeout {
		t.Errorf("expected default proxy timeout, got %s", cfg.ProxyTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("COORDINATOR_CONFIG_FILE", "/nonexistent/coordinator.yaml")

	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}
