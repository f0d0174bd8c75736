package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	SourcePath   string
	PollInterval time.Duration

	CacheTTL     time.Duration
	CacheBackend string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	AlertRetention     int
	HistoryCapacity    int
	TrendsDefaultLimit int
	TrendsMaxLimit     int

	RAGURL            string
	RAGTimeout        time.Duration
	RAGRetryAttempts  int
	RAGRetryBaseDelay time.Duration
	RAGRetryMaxDelay  time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	RateLimitRPS    int
	RateLimitBurst  int
	RequestTimeout  time.Duration
	CoalesceTimeout time.Duration

	WarmViews    bool
	WarmInterval time.Duration

	IngestWindow time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Source struct {
		Path         string `yaml:"path"`
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"source"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Alerts struct {
		Retention int `yaml:"retention"`
	} `yaml:"alerts"`

	History struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"history"`

	Trends struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"trends"`

	RAG struct {
		URL              string `yaml:"url"`
		Timeout          string `yaml:"timeout"`
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"rag"`

	Reliability struct {
		RateLimitRPS    int    `yaml:"rate_limit_rps"`
		RateLimitBurst  int    `yaml:"rate_limit_burst"`
		RequestTimeout  string `yaml:"request_timeout"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
	} `yaml:"reliability"`

	Warming struct {
		Enabled  *bool  `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"warming"`

	Health struct {
		IngestWindow string `yaml:"ingest_window"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"inflight_timeout"`
		InFlightCheckInterval string `yaml:"inflight_check_interval"`
	} `yaml:"shutdown"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev).
// SOURCE_PATH, RAG_URL, CACHE_BACKEND and MEMCACHED_ADDRS env vars override
// the file values. Call from the project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.SourcePath = strings.TrimSpace(os.Getenv("SOURCE_PATH"))
	if cfg.SourcePath == "" {
		cfg.SourcePath = strings.TrimSpace(fc.Source.Path)
	}
	if cfg.SourcePath == "" {
		cfg.SourcePath = filepath.Join("data", "sensor_data.csv")
	}
	cfg.PollInterval = parseDuration(fc.Source.PollInterval, 2*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 2*time.Second)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.AlertRetention = fc.Alerts.Retention
	if cfg.AlertRetention <= 0 {
		cfg.AlertRetention = 500
	}
	cfg.HistoryCapacity = fc.History.Capacity
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = 5000
	}
	cfg.TrendsDefaultLimit = fc.Trends.DefaultLimit
	if cfg.TrendsDefaultLimit <= 0 {
		cfg.TrendsDefaultLimit = 100
	}
	cfg.TrendsMaxLimit = fc.Trends.MaxLimit
	if cfg.TrendsMaxLimit <= 0 {
		cfg.TrendsMaxLimit = 1000
	}

	cfg.RAGURL = strings.TrimSpace(os.Getenv("RAG_URL"))
	if cfg.RAGURL == "" {
		cfg.RAGURL = strings.TrimSpace(fc.RAG.URL)
	}
	if cfg.RAGURL == "" {
		cfg.RAGURL = "http://localhost:8011"
	}
	cfg.RAGTimeout = parseDuration(fc.RAG.Timeout, 2*time.Second)
	cfg.RAGRetryAttempts = fc.RAG.RetryMaxAttempts
	if cfg.RAGRetryAttempts <= 0 {
		cfg.RAGRetryAttempts = 2
	}
	cfg.RAGRetryBaseDelay = parseDuration(fc.RAG.RetryBaseDelay, 100*time.Millisecond)
	cfg.RAGRetryMaxDelay = parseDuration(fc.RAG.RetryMaxDelay, 1*time.Second)

	cfg.CircuitBreakerEnabled = true
	if fc.RAG.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.RAG.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = fc.RAG.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = fc.RAG.CircuitBreaker.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.RAG.CircuitBreaker.Timeout, 30*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.RequestTimeout = parseDuration(fc.Reliability.RequestTimeout, 5*time.Second)
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.CoalesceTimeout, 10*time.Second)

	if fc.Warming.Enabled != nil {
		cfg.WarmViews = *fc.Warming.Enabled
	}
	cfg.WarmInterval = parseDuration(fc.Warming.Interval, 0)

	cfg.IngestWindow = parseDuration(fc.Health.IngestWindow, 60*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string, returning defaultVal on empty input
// or parse error.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks cross-field constraints after defaults are applied. The
// request timeout must cover one full collaborator call; it is raised rather
// than rejected when it does not.
func validate(cfg *Config) error {
	if cfg.CacheTTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.RAGTimeout <= 0 {
		return fmt.Errorf("rag.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.RAGTimeout {
		cfg.RequestTimeout = cfg.RAGTimeout + time.Second
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("source.poll_interval must be positive")
	}
	return nil
}
