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
	Fetch     FetchConfig
	Session   SessionConfig
	TLSClient TLSClientConfig
	Validator ValidatorConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance behind the page pool.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages is the page pool capacity (max concurrent tabs).
	MaxPages int // default: 10

	// DefaultProxy is the default proxy URL for all requests.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string
}

// FetchConfig controls the tiered orchestrator.
type FetchConfig struct {
	// DefaultBudget bounds one fetch across all tiers.
	DefaultBudget time.Duration // default: 90s

	// DirectTimeout is the Tier-1 plain HTTP deadline.
	DirectTimeout time.Duration // default: 12s

	// EnhancedTimeout is the Tier-2 fingerprinted HTTP deadline.
	EnhancedTimeout time.Duration // default: 20s

	// DisconnectBackoff is the pause before the single Tier-3 retry after
	// a browser disconnect.
	DisconnectBackoff time.Duration // default: 2s

	// MinAcceptBytes is the smallest Tier-1 body ever accepted outright.
	MinAcceptBytes int // default: 1000

	// SubstantialBytes marks content large enough to trust even when weak
	// dynamic-loading signals are present.
	SubstantialBytes int // default: 50000

	// MinUsableLinks is the Tier-2 link floor for non-article requests.
	MinUsableLinks int // default: 10
}

// SessionConfig controls browser session configuration and recovery.
type SessionConfig struct {
	// ArticleTimeout is the navigation deadline for article-intent sessions.
	ArticleTimeout time.Duration // default: 60s

	// SourceTimeout is the navigation deadline for source-intent sessions.
	SourceTimeout time.Duration // default: 45s

	// RecoveryTimeout is the short deadline for the fresh-page retry step
	// of frame-detach recovery.
	RecoveryTimeout time.Duration // default: 10s

	// ViewportWidth and ViewportHeight set the emulated viewport.
	ViewportWidth  int // default: 1920
	ViewportHeight int // default: 1080

	// DisableStealth turns off the pre-navigation stealth patch set.
	DisableStealth bool // default: false

	// UserAgents optionally overrides the built-in fingerprint UA pool.
	UserAgents []string
}

// TLSClientConfig controls the TLS-fingerprint client manager.
type TLSClientConfig struct {
	// HelperDir, when set, points at a directory of platform-specific
	// spoof-helper binaries (helper-<os>-<arch>). Empty means the
	// in-process utls path only.
	HelperDir string

	// MaxReuse caps how many requests one pooled client serves before it
	// is torn down and recreated.
	MaxReuse int // default: 10

	// CompatCacheTTL is how long one compatibility validation outcome is
	// trusted before re-checking.
	CompatCacheTTL time.Duration // default: 5m
}

// ValidatorConfig controls content validation.
type ValidatorConfig struct {
	// DomainRulesFile is an optional JSON file of per-domain overrides.
	DomainRulesFile string

	// MinLinkCount is the default usable-link floor.
	MinLinkCount int // default: 10

	// MinContentLength is the default byte floor for valid content.
	MinContentLength int // default: 500

	// MaxErrorLinkRatio is the highest tolerated fraction of error-like links.
	MaxErrorLinkRatio float64 // default: 0.1

	// MinArticleLinkRatio is the lowest accepted fraction of article-like links.
	MinArticleLinkRatio float64 // default: 0.2
}

// RateLimitConfig controls per-client rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client IP.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per client IP.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("HARVEST_HOST", "0.0.0.0"),
			Port: envIntOr("HARVEST_PORT", 8080),
			Mode: envOr("HARVEST_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("HARVEST_HEADLESS", true),
			MaxPages:     envIntOr("HARVEST_MAX_PAGES", 10),
			DefaultProxy: os.Getenv("HARVEST_PROXY"),
			NoSandbox:    envBoolOr("HARVEST_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("HARVEST_BROWSER_BIN"),
		},
		Fetch: FetchConfig{
			DefaultBudget:     envDurationOr("HARVEST_FETCH_BUDGET", 90*time.Second),
			DirectTimeout:     envDurationOr("HARVEST_DIRECT_TIMEOUT", 12*time.Second),
			EnhancedTimeout:   envDurationOr("HARVEST_ENHANCED_TIMEOUT", 20*time.Second),
			DisconnectBackoff: envDurationOr("HARVEST_DISCONNECT_BACKOFF", 2*time.Second),
			MinAcceptBytes:    envIntOr("HARVEST_MIN_ACCEPT_BYTES", 1000),
			SubstantialBytes:  envIntOr("HARVEST_SUBSTANTIAL_BYTES", 50_000),
			MinUsableLinks:    envIntOr("HARVEST_MIN_USABLE_LINKS", 10),
		},
		Session: SessionConfig{
			ArticleTimeout:  envDurationOr("HARVEST_ARTICLE_TIMEOUT", 60*time.Second),
			SourceTimeout:   envDurationOr("HARVEST_SOURCE_TIMEOUT", 45*time.Second),
			RecoveryTimeout: envDurationOr("HARVEST_RECOVERY_TIMEOUT", 10*time.Second),
			ViewportWidth:   envIntOr("HARVEST_VIEWPORT_WIDTH", 1920),
			ViewportHeight:  envIntOr("HARVEST_VIEWPORT_HEIGHT", 1080),
			DisableStealth:  envBoolOr("HARVEST_DISABLE_STEALTH", false),
			UserAgents:      envSliceOr("HARVEST_USER_AGENTS", nil),
		},
		TLSClient: TLSClientConfig{
			HelperDir:      os.Getenv("HARVEST_TLS_HELPER_DIR"),
			MaxReuse:       envIntOr("HARVEST_TLS_MAX_REUSE", 10),
			CompatCacheTTL: envDurationOr("HARVEST_TLS_COMPAT_TTL", 5*time.Minute),
		},
		Validator: ValidatorConfig{
			DomainRulesFile:     os.Getenv("HARVEST_DOMAIN_RULES"),
			MinLinkCount:        envIntOr("HARVEST_MIN_LINK_COUNT", 10),
			MinContentLength:    envIntOr("HARVEST_MIN_CONTENT_LENGTH", 500),
			MaxErrorLinkRatio:   envFloatOr("HARVEST_MAX_ERROR_LINK_RATIO", 0.1),
			MinArticleLinkRatio: envFloatOr("HARVEST_MIN_ARTICLE_LINK_RATIO", 0.2),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("HARVEST_RATE_RPS", 5.0),
			Burst:             envIntOr("HARVEST_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("HARVEST_LOG_LEVEL", "info"),
			Format: envOr("HARVEST_LOG_FORMAT", "json"),
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
