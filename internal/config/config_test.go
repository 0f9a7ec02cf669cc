package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wellbeing-agent/internal/retry"
)

func lookupFrom(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, DefaultModels[ProviderOpenAI], c.ModelCandidates())
	require.Equal(t, slog.LevelInfo, c.Level())
	require.Error(t, c.RequireLambda())
}

func TestApplyEnv_Overrides(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(lookupFrom(map[string]string{
		"STATE_TABLE":         "wellbeing-state",
		"PARAM_PREFIX":        "/wellbeing-agent",
		"LLM_PROVIDER":        "anthropic",
		"LLM_MODELS":          " claude-a , ,claude-b ",
		"RETRY_MAX_ATTEMPTS":  "5",
		"RETRY_BASE_DELAY":    "200ms",
		"RETRY_STRATEGY":      "exponential",
		"CRISIS_MAX_ATTEMPTS": "1",
		"HISTORY_LIMIT":       "4",
		"ENFORCE_VALIDATION":  "true",
		"RATE_LIMIT_RPS":      "2.5",
		"LOG_LEVEL":           "debug",
		"REQUEST_TIMEOUT":     "",
	}))
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	require.NoError(t, c.RequireLambda())

	require.Equal(t, ProviderAnthropic, c.Provider)
	require.Equal(t, []string{"claude-a", "claude-b"}, c.ModelCandidates())
	require.Equal(t, 5, c.RetryMaxAttempts)
	require.Equal(t, 200*time.Millisecond, c.RetryBaseDelay.Duration)
	require.Equal(t, 4, c.HistoryLimit)
	require.True(t, c.EnforceValidation)
	require.Equal(t, 2.5, c.RateLimitRPS)
	require.Equal(t, slog.LevelDebug, c.Level())
	// Empty values leave the default in place.
	require.Equal(t, 30*time.Second, c.RequestTimeout.Duration)

	p := c.RetryPolicy()
	require.Equal(t, 5, p.MaxAttempts)
	require.Equal(t, 200*time.Millisecond, p.NewBackOff().NextBackOff())

	cp := c.CrisisRetryPolicy()
	require.Equal(t, 1, cp.MaxAttempts)
	require.Equal(t, 100*time.Millisecond, cp.BaseDelay)
}

func TestApplyEnv_CollectsMalformedValues(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(lookupFrom(map[string]string{
		"RETRY_MAX_ATTEMPTS": "three",
		"RETRY_BASE_DELAY":   "soon",
		"ENFORCE_VALIDATION": "maybe",
	}))
	require.ErrorContains(t, err, "RETRY_MAX_ATTEMPTS")
	require.ErrorContains(t, err, "RETRY_BASE_DELAY")
	require.ErrorContains(t, err, "ENFORCE_VALIDATION")
	require.Equal(t, retry.DefaultMaxAttempts, c.RetryMaxAttempts)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	c := Default()
	c.Provider = "bard"
	c.RetryMaxAttempts = 0
	c.RetryStrategy = "random"
	c.LogLevel = "loud"
	err := c.Validate()
	require.ErrorContains(t, err, "unknown provider")
	require.ErrorContains(t, err, "retry max attempts")
	require.ErrorContains(t, err, "unknown strategy")
	require.ErrorContains(t, err, "log level")
}

func TestLoadTOML_ThenEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wellbeing.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider = "anthropic"
models = ["claude-x"]
retry_base_delay = "750ms"
history_limit = 6
enforce_validation = true
`), 0o600))

	c := Default()
	require.NoError(t, c.LoadTOML(path))
	require.Equal(t, ProviderAnthropic, c.Provider)
	require.Equal(t, []string{"claude-x"}, c.Models)
	require.Equal(t, 750*time.Millisecond, c.RetryBaseDelay.Duration)
	require.Equal(t, 6, c.HistoryLimit)
	require.True(t, c.EnforceValidation)
	require.Equal(t, 2000, c.MaxMessageLength)

	require.NoError(t, c.ApplyEnv(lookupFrom(map[string]string{"HISTORY_LIMIT": "8"})))
	require.Equal(t, 8, c.HistoryLimit)
}

func TestLoadTOML_Errors(t *testing.T) {
	c := Default()
	require.Error(t, c.LoadTOML(filepath.Join(t.TempDir(), "missing.toml")))

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`retry_base_delay = "later"`), 0o600))
	require.ErrorContains(t, c.LoadTOML(path), "config: decode")
}
