package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/prodsearch/internal/domain"
)

// Config holds the prodsearch API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds the product store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite file path
}

// CacheConfig holds the Redis cache tier settings. An empty Addr disables
// the cache tier entirely; the pipeline then runs cache-less.
type CacheConfig struct {
	Addr                string `yaml:"addr"`
	Password            string `yaml:"password"`
	KeyPrefix           string `yaml:"key_prefix"`
	OpTimeoutMS         int    `yaml:"op_timeout_ms"`
	ReadinessTimeoutSec int    `yaml:"readiness_timeout_sec"`
}

// RetrievalConfig holds retriever fan-out settings.
type RetrievalConfig struct {
	LexicalTimeoutMS int `yaml:"lexical_timeout_ms"`
	VectorTimeoutMS  int `yaml:"vector_timeout_ms"`
	PoolCap          int `yaml:"pool_cap"`
	FetchConcurrency int `yaml:"fetch_concurrency"` // feature fetcher cap
}

// ArtifactsConfig points at offline-built model artifacts. Missing files
// degrade the corresponding feature instead of failing startup.
type ArtifactsConfig struct {
	VectorIndexPath   string `yaml:"vector_index_path"`
	FactorModelPath   string `yaml:"factor_model_path"`
	MinCFInteractions int    `yaml:"min_cf_interactions"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string  `yaml:"api_key"`
	BaseURL    string  `yaml:"base_url"`
	Model      string  `yaml:"model"`
	Dimensions int     `yaml:"dimensions"`
	RPS        float64 `yaml:"rps"`   // provider-side request throttle, 0 = unthrottled
	Burst      int     `yaml:"burst"` // throttle burst size
}

// RateLimitConfig holds admission control settings.
type RateLimitConfig struct {
	Limit                int `yaml:"limit"` // requests per window per identity
	WindowSec            int `yaml:"window_sec"`
	Burst                int `yaml:"burst"`
	BurstGraceSec        int `yaml:"burst_grace_sec"`
	SameQueryThreshold   int `yaml:"same_query_threshold"`
	EnumerationThreshold int `yaml:"enumeration_threshold"`
	AbusePenaltySec      int `yaml:"abuse_penalty_sec"`
}

// BreakerConfig holds shared circuit breaker settings.
type BreakerConfig struct {
	ErrorThreshold float64 `yaml:"error_threshold"`
	WindowSec      int     `yaml:"window_sec"`
	MinSamples     int     `yaml:"min_samples"`
	CooldownSec    int     `yaml:"cooldown_sec"`
	ProbeFraction  float64 `yaml:"probe_fraction"`
}

// RankingConfig holds the configured ranking weight set, used whenever the
// cached live set is unavailable.
type RankingConfig struct {
	Weights domain.WeightSet `yaml:",inline"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Path == "" {
		c.Database.Path = "prodsearch.db"
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "prodsearch:"
	}
	if c.Cache.OpTimeoutMS <= 0 {
		c.Cache.OpTimeoutMS = 200
	}
	if c.Cache.ReadinessTimeoutSec <= 0 {
		c.Cache.ReadinessTimeoutSec = 10
	}
	if c.Retrieval.LexicalTimeoutMS <= 0 {
		c.Retrieval.LexicalTimeoutMS = 200
	}
	if c.Retrieval.VectorTimeoutMS <= 0 {
		c.Retrieval.VectorTimeoutMS = 300
	}
	if c.Retrieval.PoolCap <= 0 {
		c.Retrieval.PoolCap = 200
	}
	if c.Retrieval.FetchConcurrency <= 0 {
		c.Retrieval.FetchConcurrency = 8
	}
	if c.Artifacts.MinCFInteractions <= 0 {
		c.Artifacts.MinCFInteractions = 5
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = 100
	}
	if c.RateLimit.WindowSec <= 0 {
		c.RateLimit.WindowSec = 60
	}
	if c.RateLimit.BurstGraceSec <= 0 {
		c.RateLimit.BurstGraceSec = 10
	}
	if c.RateLimit.SameQueryThreshold <= 0 {
		c.RateLimit.SameQueryThreshold = 20
	}
	if c.RateLimit.EnumerationThreshold <= 0 {
		c.RateLimit.EnumerationThreshold = 8
	}
	if c.RateLimit.AbusePenaltySec <= 0 {
		c.RateLimit.AbusePenaltySec = 60
	}
	if c.Breaker.ErrorThreshold <= 0 {
		c.Breaker.ErrorThreshold = 0.5
	}
	if c.Breaker.WindowSec <= 0 {
		c.Breaker.WindowSec = 60
	}
	if c.Breaker.MinSamples <= 0 {
		c.Breaker.MinSamples = 10
	}
	if c.Breaker.CooldownSec <= 0 {
		c.Breaker.CooldownSec = 30
	}
	if c.Breaker.ProbeFraction <= 0 {
		c.Breaker.ProbeFraction = 0.1
	}
	if c.Ranking.Weights.Global == (domain.RankingWeights{}) {
		c.Ranking.Weights.Global = domain.DefaultWeights()
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Breaker.ErrorThreshold > 1 {
		return fmt.Errorf("circuit_breaker.error_threshold must be at most 1, got %g", c.Breaker.ErrorThreshold)
	}
	if c.Breaker.ProbeFraction > 1 {
		return fmt.Errorf("circuit_breaker.probe_fraction must be at most 1, got %g", c.Breaker.ProbeFraction)
	}
	if w := c.Ranking.Weights.Global; w.Retrieval < 0 || w.Popularity < 0 || w.Freshness < 0 || w.Affinity < 0 || w.CategoryBoost < 0 {
		return fmt.Errorf("ranking weights must be non-negative")
	}
	if c.Artifacts.VectorIndexPath != "" && c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding provider is required when a vector index is configured")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
