package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SOLVER_API_KEY", "key-123")
	t.Setenv("CLIENT_ID", "client-1")
	t.Setenv("CLIENT_SECRET", "hunter2")
	t.Setenv("LOGIN_URL", "https://origin.test/login")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "https://api.2captcha.com", cfg.SolverBaseURL)
	assert.Equal(t, 5*time.Second, cfg.SolverPollInterval)
	assert.Equal(t, ChromeModeLocal, cfg.ChromeMode)
	assert.True(t, cfg.Headless)
	assert.Equal(t, int64(4), cfg.MaxSessions)
	assert.Equal(t, 2, cfg.ExtraAttempts)
	assert.True(t, cfg.FastPath)
	assert.Equal(t, 180*time.Second, cfg.Timeouts.Solve)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Login)
	assert.Equal(t, "access_token", cfg.TokenCookie)
	assert.Equal(t, "oauth.token", cfg.TokenStorageKey)
	assert.Equal(t, 100, cfg.RatePerHour)
}

func TestFromEnvTokenURLDefaultsToLoginURL(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()

	require.NoError(t, err)
	assert.Equal(t, "https://origin.test/login", cfg.TokenURL)
}

func TestFromEnvMissingRequired(t *testing.T) {
	t.Setenv("SOLVER_API_KEY", "key-123")
	t.Setenv("CLIENT_ID", "")
	t.Setenv("CLIENT_SECRET", "")
	t.Setenv("LOGIN_URL", "https://origin.test/login")

	_, err := FromEnv()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLIENT_ID, CLIENT_SECRET")
}

func TestFromEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CHROME_MODE", "docker")
	t.Setenv("MAX_SESSIONS", "12")
	t.Setenv("SOLVER_POLL_INTERVAL", "2s")
	t.Setenv("FAST_PATH", "false")
	t.Setenv("TOKEN_URL", "https://origin.test/oauth/token")

	cfg, err := FromEnv()

	require.NoError(t, err)
	assert.Equal(t, ChromeModeDocker, cfg.ChromeMode)
	assert.Equal(t, int64(12), cfg.MaxSessions)
	assert.Equal(t, 2*time.Second, cfg.SolverPollInterval)
	assert.False(t, cfg.FastPath)
	assert.Equal(t, "https://origin.test/oauth/token", cfg.TokenURL)
}

func TestFromEnvInvalidChromeMode(t *testing.T) {
	setRequired(t)
	t.Setenv("CHROME_MODE", "firefox")

	_, err := FromEnv()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHROME_MODE")
}

func TestFromEnvInvalidMaxSessions(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_SESSIONS", "0")

	_, err := FromEnv()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_SESSIONS")
}

func TestFromEnvMalformedValuesFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_SESSIONS", "lots")
	t.Setenv("CHROME_HEADLESS", "maybe")
	t.Setenv("LOGIN_TIMEOUT", "soon")

	cfg, err := FromEnv()

	require.NoError(t, err)
	assert.Equal(t, int64(4), cfg.MaxSessions)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Login)
}
