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

// Package config loads coordinator configuration from environment
// variables, optionally overlaid by a YAML file named in
// COORDINATOR_CONFIG_FILE. Backend selection (Postgres vs in-memory,
// oracle enabled vs disabled, rate limiting on vs off) happens here,
// once, at startup; business logic never probes the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the environment nor the config file
// provide a value.
const (
	DefaultPort          = "8080"
	DefaultGraphCacheTTL = 30 * time.Second
	DefaultProxyTimeout  = 30 * time.Second
	DefaultOracleURL     = "https://api.openai.com/v1/chat/completions"
	DefaultOracleModel   = "gpt-3.5-turbo"
)

// Config holds all startup configuration for the coordinator.
type Config struct {
	Port        string
	Environment string

	// DatabaseURL selects the storage backend: when set the Postgres
	// store is used, otherwise the in-memory store.
	DatabaseURL string

	// Oracle (OpenAI-compatible chat completions endpoint)
	OracleAPIKey string
	OracleAPIURL string
	OracleModel  string

	GraphCacheTTL time.Duration
	ProxyTimeout  time.Duration

	// Rate limiting. A zero RateLimitPerMinute disables limiting.
	RedisURL           string
	RateLimitPerMinute int
}

// fileConfig is the YAML form of Config. Durations are strings in Go
// duration syntax ("45s", "2m").
type fileConfig struct {
	Port               string `yaml:"port"`
	Environment        string `yaml:"environment"`
	DatabaseURL        string `yaml:"database_url"`
	OracleAPIKey       string `yaml:"oracle_api_key"`
	OracleAPIURL       string `yaml:"oracle_api_url"`
	OracleModel        string `yaml:"oracle_model"`
	GraphCacheTTL      string `yaml:"graph_cache_ttl"`
	ProxyTimeout       string `yaml:"proxy_timeout"`
	RedisURL           string `yaml:"redis_url"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// IsProduction reports whether the coordinator runs in production mode.
// Production mode masks internal error details in HTTP responses.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// UsePostgres reports whether the persistent store was selected.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// OracleConfigured reports whether the external oracle can be called.
func (c *Config) OracleConfigured() bool {
	return c.OracleAPIKey != ""
}

// Load builds the configuration. Precedence: YAML file (if
// COORDINATOR_CONFIG_FILE is set) over environment variables over
// defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", DefaultPort),
		Environment:   getEnv("ENVIRONMENT", "development"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		OracleAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OracleAPIURL:  getEnv("OPENAI_API_URL", DefaultOracleURL),
		OracleModel:   getEnv("OPENAI_MODEL", DefaultOracleModel),
		GraphCacheTTL: getEnvDuration("GRAPH_CACHE_TTL", DefaultGraphCacheTTL),
		ProxyTimeout:  getEnvDuration("PROXY_TIMEOUT", DefaultProxyTimeout),
		RedisURL:      os.Getenv("REDIS_URL"),
	}

	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE %q", v)
		}
		cfg.RateLimitPerMinute = n
	}

	if path := os.Getenv("COORDINATOR_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if cfg.GraphCacheTTL <= 0 {
		cfg.GraphCacheTTL = DefaultGraphCacheTTL
	}
	if cfg.ProxyTimeout <= 0 {
		cfg.ProxyTimeout = DefaultProxyTimeout
	}

	return cfg, nil
}

// applyFile overlays non-zero values from a YAML config file.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if file.Port != "" {
		c.Port = file.Port
	}
	if file.Environment != "" {
		c.Environment = file.Environment
	}
	if file.DatabaseURL != "" {
		c.DatabaseURL = file.DatabaseURL
	}
	if file.OracleAPIKey != "" {
		c.OracleAPIKey = file.OracleAPIKey
	}
	if file.OracleAPIURL != "" {
		c.OracleAPIURL = file.OracleAPIURL
	}
	if file.OracleModel != "" {
		c.OracleModel = file.OracleModel
	}
	if file.GraphCacheTTL != "" {
		d, err := time.ParseDuration(file.GraphCacheTTL)
		if err != nil {
			return fmt.Errorf("invalid graph_cache_ttl in %s: %w", path, err)
		}
		c.GraphCacheTTL = d
	}
	if file.ProxyTimeout != "" {
		d, err := time.ParseDuration(file.ProxyTimeout)
		if err != nil {
			return fmt.Errorf("invalid proxy_timeout in %s: %w", path, err)
		}
		c.ProxyTimeout = d
	}
	if file.RedisURL != "" {
		c.RedisURL = file.RedisURL
	}
	if file.RateLimitPerMinute > 0 {
		c.RateLimitPerMinute = file.RateLimitPerMinute
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
