// Package config loads process-wide configuration from the environment once
// at startup. The resulting Config is treated as immutable afterwards and is
// passed explicitly into every component, so nothing reads ambient globals.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Chrome runtime modes.
const (
	ChromeModeLocal  = "local"
	ChromeModeDocker = "docker"
)

// Credentials identify this service against the target origin. Loaded once,
// read-only for the lifetime of the process.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// StageTimeouts bounds every pipeline stage. No stage ever waits unbounded.
type StageTimeouts struct {
	Open     time.Duration
	Navigate time.Duration
	Solve    time.Duration
	Inject   time.Duration
	Login    time.Duration
	Extract  time.Duration
}

// Config holds every tunable of the token service.
type Config struct {
	Addr string

	// Target origin.
	LoginURL     string
	TokenURL     string // fast-path POST target; defaults to LoginURL
	BypassHeader string // optional x-firewall-rule value
	Credentials  Credentials

	// Challenge solving service.
	SolverAPIKey       string
	SolverBaseURL      string
	SolverPollInterval time.Duration

	// Browser runtime.
	ChromeMode  string
	Headless    bool
	UserAgent   string
	MaxSessions int64

	// Pipeline behavior.
	ExtraAttempts int // whole-pipeline retries for transient failures
	FastPath      bool
	Timeouts      StageTimeouts

	// Login / extraction markers.
	SuccessPath     string
	SessionCookie   string
	FailureMarker   string
	TokenCookie     string
	TokenStorageKey string

	// Front-door rate limiting.
	RatePerHour int
	RateBurst   int
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123 Safari/537.36"

// FromEnv builds a Config from the process environment. A missing required
// value is a startup-time fatal error, never a per-request one.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Addr:         envOr("LISTEN_ADDR", ":8080"),
		LoginURL:     os.Getenv("LOGIN_URL"),
		TokenURL:     os.Getenv("TOKEN_URL"),
		BypassHeader: os.Getenv("CF_BYPASS_HEADER_VALUE"),
		Credentials: Credentials{
			ClientID:     os.Getenv("CLIENT_ID"),
			ClientSecret: os.Getenv("CLIENT_SECRET"),
		},
		SolverAPIKey:       os.Getenv("SOLVER_API_KEY"),
		SolverBaseURL:      envOr("SOLVER_API_URL", "https://api.2captcha.com"),
		SolverPollInterval: envDuration("SOLVER_POLL_INTERVAL", 5*time.Second),
		ChromeMode:         envOr("CHROME_MODE", ChromeModeLocal),
		Headless:           envBool("CHROME_HEADLESS", true),
		UserAgent:          envOr("CHROME_USER_AGENT", defaultUserAgent),
		MaxSessions:        int64(envInt("MAX_SESSIONS", 4)),
		ExtraAttempts:      envInt("PIPELINE_RETRIES", 2),
		FastPath:           envBool("FAST_PATH", true),
		Timeouts: StageTimeouts{
			Open:     envDuration("OPEN_TIMEOUT", 30*time.Second),
			Navigate: envDuration("NAVIGATE_TIMEOUT", 30*time.Second),
			Solve:    envDuration("SOLVE_TIMEOUT", 180*time.Second),
			Inject:   envDuration("INJECT_TIMEOUT", 10*time.Second),
			Login:    envDuration("LOGIN_TIMEOUT", 45*time.Second),
			Extract:  envDuration("EXTRACT_TIMEOUT", 10*time.Second),
		},
		SuccessPath:     envOr("LOGIN_SUCCESS_PATH", "/dashboard"),
		SessionCookie:   envOr("SESSION_COOKIE", "wl_session"),
		FailureMarker:   envOr("LOGIN_FAILURE_MARKER", "invalid_client"),
		TokenCookie:     envOr("TOKEN_COOKIE", "access_token"),
		TokenStorageKey: envOr("TOKEN_STORAGE_KEY", "oauth.token"),
		RatePerHour:     envInt("RATE_PER_HOUR", 100),
		RateBurst:       envInt("RATE_BURST", 10),
	}

	if cfg.TokenURL == "" {
		cfg.TokenURL = cfg.LoginURL
	}

	var missing []string
	for name, val := range map[string]string{
		"SOLVER_API_KEY": cfg.SolverAPIKey,
		"CLIENT_ID":      cfg.Credentials.ClientID,
		"CLIENT_SECRET":  cfg.Credentials.ClientSecret,
		"LOGIN_URL":      cfg.LoginURL,
	} {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("config: missing required environment variables: %s",
			strings.Join(missing, ", "))
	}

	if cfg.ChromeMode != ChromeModeLocal && cfg.ChromeMode != ChromeModeDocker {
		return nil, fmt.Errorf("config: invalid CHROME_MODE %q (want %q or %q)",
			cfg.ChromeMode, ChromeModeLocal, ChromeModeDocker)
	}
	if cfg.MaxSessions < 1 {
		return nil, fmt.Errorf("config: MAX_SESSIONS must be >= 1")
	}
	if cfg.ExtraAttempts < 0 {
		return nil, fmt.Errorf("config: PIPELINE_RETRIES must be >= 0")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
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
