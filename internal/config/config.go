package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/onnwee/imgclassify/internal/utils"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	ListenAddr string
	UserAgent  string
	// Result cache
	CacheMaxSize int           // maximum number of cached classification results
	CacheTTL     time.Duration // age after which a cached result is treated as absent
	CacheBackend string        // "lru" or "ristretto"
	// Usage monitor
	MonitorWindow        time.Duration // staleness threshold for usage records
	MonitorSweepInterval time.Duration // proactive sweep period (0 disables the background sweeper)
	ReportTopN           int
	ReportStreamInterval time.Duration
	// Model server
	SqueezeNetVersion   int
	ModelURL            string
	ModelName           string
	ModelTimeout        time.Duration
	ModelMaxConcurrency int
	// Image fetching
	FetchTimeout   time.Duration
	FetchMaxBytes  int64
	FetchMaxPixels int64 // width*height ceiling checked before decoding
	FetchRPS       float64
	FetchBurst     int
	HTTPMaxRetries int
	HTTPRetryBase  time.Duration
	LogHTTPRetries bool
	// Circuit breaker shared by the fetch and model collaborators
	BreakerFailureThreshold int
	BreakerTimeout          time.Duration
	// Admin API token for gating admin endpoints (Bearer token)
	AdminAPIToken string
	// Security settings
	RateLimitGlobal      float64  // requests per second globally
	RateLimitGlobalBurst int      // burst size for global rate limit
	RateLimitPerIP       float64  // requests per second per IP
	RateLimitPerIPBurst  int      // burst size for per-IP rate limit
	CORSAllowedOrigins   []string // allowed CORS origins
	EnableRateLimit      bool     // enable rate limiting middleware
	// Observability settings
	LogLevel          string  // log level: debug, info, warn, error
	OTELEnabled       bool    // enable OpenTelemetry tracing
	OTELEndpoint      string  // OpenTelemetry collector endpoint
	OTELSampleRate    float64 // trace sampling rate (0.0 to 1.0)
	SentryDSN         string  // Sentry DSN for error reporting
	SentryEnvironment string  // Sentry environment (dev, staging, production)
	SentryRelease     string  // Sentry release version
	SentrySampleRate  float64 // Sentry error sampling rate (0.0 to 1.0)
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	cached = &Config{
		ListenAddr:           utils.GetEnvAsString("LISTEN_ADDR", ":8000"),
		UserAgent:            utils.GetEnvAsString("USER_AGENT", "imgclassify/0.1"),
		CacheMaxSize:         utils.GetEnvAsInt("CACHE_MAXSIZE", 1024),
		CacheTTL:             utils.GetEnvAsSeconds("CACHE_TTL", 3600),
		CacheBackend:         strings.ToLower(utils.GetEnvAsString("CACHE_BACKEND", "lru")),
		MonitorWindow:        utils.GetEnvAsSeconds("MONITOR_WINDOW", 259200),
		MonitorSweepInterval: utils.GetEnvAsSeconds("MONITOR_SWEEP_INTERVAL", 300),
		ReportTopN:           utils.GetEnvAsInt("REPORT_TOP_N", 10),
		ReportStreamInterval: utils.GetEnvAsMillis("REPORT_STREAM_INTERVAL_MS", 5000),
		SqueezeNetVersion:    utils.GetEnvAsInt("SQUEEZENET_VERSION", 2),
		ModelURL:             strings.TrimRight(utils.GetEnvAsString("MODEL_URL", "http://localhost:8080"), "/"),
		ModelName:            strings.TrimSpace(os.Getenv("MODEL_NAME")),
		ModelTimeout:         utils.GetEnvAsMillis("MODEL_TIMEOUT_MS", 30000),
		ModelMaxConcurrency:  utils.GetEnvAsInt("MODEL_MAX_CONCURRENCY", 4),
		FetchTimeout:         utils.GetEnvAsMillis("FETCH_TIMEOUT_MS", 15000),
		FetchMaxBytes:        utils.GetEnvAsInt64("FETCH_MAX_BYTES", 10*1024*1024),
		FetchMaxPixels:       utils.GetEnvAsInt64("FETCH_MAX_PIXELS", 89478485),
		FetchRPS:             utils.GetEnvAsFloat("FETCH_RPS", 20.0),
		FetchBurst:           utils.GetEnvAsInt("FETCH_BURST", 40),
		HTTPMaxRetries:       utils.GetEnvAsInt("HTTP_MAX_RETRIES", 3),
		HTTPRetryBase:        utils.GetEnvAsMillis("HTTP_RETRY_BASE_MS", 300),
		LogHTTPRetries:       utils.GetEnvAsBool("LOG_HTTP_RETRIES", false),
		// Breaker defaults match circuitbreaker.New's
		BreakerFailureThreshold: utils.GetEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerTimeout:          utils.GetEnvAsSeconds("BREAKER_TIMEOUT", 60),
		AdminAPIToken:           strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN")),
		// Security settings with sensible defaults
		RateLimitGlobal:      utils.GetEnvAsFloat("RATE_LIMIT_GLOBAL", 100.0),
		RateLimitGlobalBurst: utils.GetEnvAsInt("RATE_LIMIT_GLOBAL_BURST", 200),
		RateLimitPerIP:       utils.GetEnvAsFloat("RATE_LIMIT_PER_IP", 10.0),
		RateLimitPerIPBurst:  utils.GetEnvAsInt("RATE_LIMIT_PER_IP_BURST", 20),
		EnableRateLimit:      utils.GetEnvAsBool("ENABLE_RATE_LIMIT", true),
		CORSAllowedOrigins:   utils.GetEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}, ","),
		// Observability settings
		LogLevel:          strings.ToLower(utils.GetEnvAsString("LOG_LEVEL", "info")),
		OTELEnabled:       utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:    utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:         strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryEnvironment: strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT")),
		SentryRelease:     strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
		SentrySampleRate:  utils.GetEnvAsFloat("SENTRY_SAMPLE_RATE", 1.0),
	}
	if cached.ModelName == "" {
		cached.ModelName = modelNameForVersion(cached.SqueezeNetVersion)
	}
	if cached.SentryEnvironment == "" {
		if env := os.Getenv("ENV"); env != "" {
			cached.SentryEnvironment = env
		} else {
			cached.SentryEnvironment = "development"
		}
	}
	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }

// Validate reports configuration values the service cannot run with.
func (c *Config) Validate() error {
	if c.CacheMaxSize < 1 {
		return fmt.Errorf("CACHE_MAXSIZE must be positive, got %d", c.CacheMaxSize)
	}
	if c.CacheBackend != "lru" && c.CacheBackend != "ristretto" {
		return fmt.Errorf("CACHE_BACKEND must be lru or ristretto, got %q", c.CacheBackend)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.MonitorWindow <= 0 {
		return fmt.Errorf("MONITOR_WINDOW must be positive, got %s", c.MonitorWindow)
	}
	if c.ReportTopN < 1 {
		return fmt.Errorf("REPORT_TOP_N must be positive, got %d", c.ReportTopN)
	}
	if c.ReportStreamInterval <= 0 {
		return fmt.Errorf("REPORT_STREAM_INTERVAL_MS must be positive, got %s", c.ReportStreamInterval)
	}
	if c.ModelMaxConcurrency < 1 {
		return fmt.Errorf("MODEL_MAX_CONCURRENCY must be positive, got %d", c.ModelMaxConcurrency)
	}
	if c.FetchRPS <= 0 {
		return fmt.Errorf("FETCH_RPS must be positive, got %g", c.FetchRPS)
	}
	if c.FetchBurst < 1 {
		return fmt.Errorf("FETCH_BURST must be positive, got %d", c.FetchBurst)
	}
	if c.FetchMaxPixels < 1 {
		return fmt.Errorf("FETCH_MAX_PIXELS must be positive, got %d", c.FetchMaxPixels)
	}
	if !strings.HasPrefix(c.ModelURL, "http://") && !strings.HasPrefix(c.ModelURL, "https://") {
		return fmt.Errorf("MODEL_URL must be an http(s) URL, got %q", c.ModelURL)
	}
	return nil
}

// modelNameForVersion maps SQUEEZENET_VERSION to the served model name.
func modelNameForVersion(version int) string {
	if version == 1 {
		return "squeezenet1_0"
	}
	return "squeezenet1_1"
}
