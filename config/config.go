package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Humanize  HumanizeConfig
	Fetch     FetchConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
	Engine    EngineConfig
	Inference InferenceConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls how the renderer process is launched.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is the proxy URL passed to the renderer.
	Proxy string

	// Stealth injects evasion scripts into every new document.
	Stealth bool // default: false
}

// HumanizeConfig holds the randomized delay bounds of a rendered fetch.
// Each pair is a half-open interval [Min, Max).
type HumanizeConfig struct {
	WarmupMin time.Duration // default: 500ms
	WarmupMax time.Duration // default: 1500ms
	SettleMin time.Duration // default: 1s
	SettleMax time.Duration // default: 3s
}

// FetchConfig controls both fetch strategies.
type FetchConfig struct {
	// HTTPTimeout bounds a direct fetch end to end.
	HTTPTimeout time.Duration // default: 30s

	// NavigationTimeout bounds navigation plus load wait in rendered mode.
	NavigationTimeout time.Duration // default: 30s

	// RenderTimeout bounds a whole rendered fetch, including delays.
	RenderTimeout time.Duration // default: 90s

	// MaxBodyBytes caps the buffered body of a direct fetch.
	MaxBodyBytes int64 // default: 10 MiB

	// UserAgents is the rotation list used when a direct fetch carries no User-Agent.
	UserAgents []string

	// ObserveStatus replaces the fixed 200 of rendered fetches with the
	// main document status seen on the renderer's network events.
	ObserveStatus bool // default: false
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls API and outbound rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained API rate per identity.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum API burst size per identity.
	Burst int // default: 10

	// GlobalFetchRPS caps outbound fetches across all domains.
	GlobalFetchRPS float64 // default: 10

	// DomainFetchRPS caps outbound fetches per target domain.
	DomainFetchRPS float64 // default: 2
}

// CacheConfig controls the fetch result cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached results. 0 disables caching.
	MaxEntries int // default: 0

	// TTL is how long a cached result stays valid.
	TTL time.Duration // default: 10m
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// EngineConfig controls the direct→rendered escalation dispatcher.
type EngineConfig struct {
	// EnableEscalation toggles escalation to a rendered fetch.
	EnableEscalation bool // default: true

	// DomainMemoryTTL is how long a domain stays marked as render-only.
	DomainMemoryTTL time.Duration // default: 24h
}

// InferenceConfig controls the scoring engine.
type InferenceConfig struct {
	// ModelPath is used when a request does not name a model.
	ModelPath string

	// ModelDir confines request-supplied model paths. When empty, requests
	// may only use the default model.
	ModelDir string

	// MaxModelBytes caps the size of a model file.
	MaxModelBytes int64 // default: 256 MiB

	// IntraOpThreads is the fixed intra-op parallelism degree.
	IntraOpThreads int // default: 4
}

// DefaultUserAgents is the built-in User-Agent rotation list.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("SCRAM_HOST", "0.0.0.0"),
			Port: envIntOr("SCRAM_PORT", 8080),
			Mode: envOr("SCRAM_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:   envBoolOr("SCRAM_HEADLESS", true),
			NoSandbox:  envBoolOr("SCRAM_NO_SANDBOX", false),
			BrowserBin: os.Getenv("SCRAM_BROWSER_BIN"),
			Proxy:      os.Getenv("SCRAM_PROXY"),
			Stealth:    envBoolOr("SCRAM_STEALTH", false),
		},
		Humanize: HumanizeConfig{
			WarmupMin: envDurationOr("SCRAM_WARMUP_MIN", 500*time.Millisecond),
			WarmupMax: envDurationOr("SCRAM_WARMUP_MAX", 1500*time.Millisecond),
			SettleMin: envDurationOr("SCRAM_SETTLE_MIN", 1000*time.Millisecond),
			SettleMax: envDurationOr("SCRAM_SETTLE_MAX", 3000*time.Millisecond),
		},
		Fetch: FetchConfig{
			HTTPTimeout:       envDurationOr("SCRAM_HTTP_TIMEOUT", 30*time.Second),
			NavigationTimeout: envDurationOr("SCRAM_NAV_TIMEOUT", 30*time.Second),
			RenderTimeout:     envDurationOr("SCRAM_RENDER_TIMEOUT", 90*time.Second),
			MaxBodyBytes:      int64(envIntOr("SCRAM_MAX_BODY_BYTES", 10<<20)),
			UserAgents:        envSliceOr("SCRAM_USER_AGENTS", DefaultUserAgents),
			ObserveStatus:     envBoolOr("SCRAM_OBSERVE_STATUS", false),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("SCRAM_AUTH_ENABLED", false),
			APIKeys: envSliceOr("SCRAM_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("SCRAM_RATE_RPS", 5.0),
			Burst:             envIntOr("SCRAM_RATE_BURST", 10),
			GlobalFetchRPS:    envFloatOr("SCRAM_GLOBAL_FETCH_RPS", 10.0),
			DomainFetchRPS:    envFloatOr("SCRAM_DOMAIN_FETCH_RPS", 2.0),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("SCRAM_CACHE_MAX_ENTRIES", 0),
			TTL:        envDurationOr("SCRAM_CACHE_TTL", 10*time.Minute),
		},
		Log: LogConfig{
			Level:  envOr("SCRAM_LOG_LEVEL", "info"),
			Format: envOr("SCRAM_LOG_FORMAT", "json"),
		},
		Engine: EngineConfig{
			EnableEscalation: envBoolOr("SCRAM_ESCALATION", true),
			DomainMemoryTTL:  envDurationOr("SCRAM_DOMAIN_MEMORY_TTL", 24*time.Hour),
		},
		Inference: InferenceConfig{
			ModelPath:      os.Getenv("SCRAM_MODEL_PATH"),
			ModelDir:       os.Getenv("SCRAM_MODEL_DIR"),
			MaxModelBytes:  int64(envIntOr("SCRAM_MAX_MODEL_BYTES", 256<<20)),
			IntraOpThreads: envIntOr("SCRAM_INTRA_OP_THREADS", 4),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
