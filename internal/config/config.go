// Package config loads service settings from defaults, an optional TOML file
// and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"wellbeing-agent/internal/retry"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultModels lists the ranked candidates per provider when none are
// configured.
var DefaultModels = map[string][]string{
	ProviderOpenAI:    {"gpt-4o-mini", "gpt-4o", "gpt-3.5-turbo"},
	ProviderAnthropic: {"claude-3-5-haiku-latest", "claude-3-5-sonnet-latest"},
}

// Duration decodes from TOML strings such as "750ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds every setting the Lambda and the CLI read.
type Config struct {
	StateTable   string `toml:"state_table"`
	ParamPrefix  string `toml:"param_prefix"`
	DatabasePath string `toml:"database_path"`

	Provider         string   `toml:"provider"`
	Models           []string `toml:"models"`
	OpenAIBaseURL    string   `toml:"openai_base_url"`
	AnthropicBaseURL string   `toml:"anthropic_base_url"`
	RequestTimeout   Duration `toml:"request_timeout"`
	RateLimitRPS     float64  `toml:"rate_limit_rps"`
	RateLimitBurst   int      `toml:"rate_limit_burst"`

	// API keys are only read from the environment.
	OpenAIAPIKey    string `toml:"-"`
	AnthropicAPIKey string `toml:"-"`

	RetryMaxAttempts  int      `toml:"retry_max_attempts"`
	RetryBaseDelay    Duration `toml:"retry_base_delay"`
	RetryStrategy     string   `toml:"retry_strategy"`
	CrisisMaxAttempts int      `toml:"crisis_max_attempts"`

	HistoryLimit      int  `toml:"history_limit"`
	MaxMessageLength  int  `toml:"max_message_length"`
	EnforceValidation bool `toml:"enforce_validation"`

	CrisisRulesFile     string `toml:"crisis_rules_file"`
	CrisisRulesParam    string `toml:"crisis_rules_param"`
	CrisisResourcesFile string `toml:"crisis_resources_file"`
	ValidationRulesFile string `toml:"validation_rules_file"`

	LogLevel string `toml:"log_level"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		DatabasePath:      "wellbeing.db",
		Provider:          ProviderOpenAI,
		RequestTimeout:    Duration{30 * time.Second},
		RetryMaxAttempts:  retry.DefaultMaxAttempts,
		RetryBaseDelay:    Duration{retry.DefaultBaseDelay},
		RetryStrategy:     string(retry.StrategyLinear),
		CrisisMaxAttempts: 2,
		HistoryLimit:      10,
		MaxMessageLength:  2000,
		LogLevel:          "info",
	}
}

// LoadTOML overlays the file at path onto c.
func (c *Config) LoadTOML(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays every set, non-empty variable onto c. Malformed values
// are collected and returned together.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("STATE_TABLE", &c.StateTable)
	e.str("PARAM_PREFIX", &c.ParamPrefix)
	e.str("STATE_DB", &c.DatabasePath)
	e.str("LLM_PROVIDER", &c.Provider)
	if v, ok := e.get("LLM_MODELS"); ok {
		c.Models = splitList(v)
	}
	e.str("OPENAI_BASE_URL", &c.OpenAIBaseURL)
	e.str("ANTHROPIC_BASE_URL", &c.AnthropicBaseURL)
	e.str("OPENAI_API_KEY", &c.OpenAIAPIKey)
	e.str("ANTHROPIC_API_KEY", &c.AnthropicAPIKey)
	e.duration("REQUEST_TIMEOUT", &c.RequestTimeout.Duration)
	e.float("RATE_LIMIT_RPS", &c.RateLimitRPS)
	e.integer("RATE_LIMIT_BURST", &c.RateLimitBurst)

	e.integer("RETRY_MAX_ATTEMPTS", &c.RetryMaxAttempts)
	e.duration("RETRY_BASE_DELAY", &c.RetryBaseDelay.Duration)
	e.str("RETRY_STRATEGY", &c.RetryStrategy)
	e.integer("CRISIS_MAX_ATTEMPTS", &c.CrisisMaxAttempts)

	e.integer("HISTORY_LIMIT", &c.HistoryLimit)
	e.integer("MAX_MESSAGE_LENGTH", &c.MaxMessageLength)
	e.boolean("ENFORCE_VALIDATION", &c.EnforceValidation)

	e.str("CRISIS_RULES_FILE", &c.CrisisRulesFile)
	e.str("CRISIS_RULES_PARAM", &c.CrisisRulesParam)
	e.str("CRISIS_RESOURCES_FILE", &c.CrisisResourcesFile)
	e.str("VALIDATION_RULES_FILE", &c.ValidationRulesFile)
	e.str("LOG_LEVEL", &c.LogLevel)

	return errors.Join(e.errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("config: unknown provider %q", c.Provider))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("config: retry max attempts must be at least 1"))
	}
	if c.CrisisMaxAttempts < 1 {
		errs = append(errs, errors.New("config: crisis max attempts must be at least 1"))
	}
	if c.RetryBaseDelay.Duration <= 0 {
		errs = append(errs, errors.New("config: retry base delay must be positive"))
	}
	if _, err := retry.ParseStrategy(c.RetryStrategy); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if c.RequestTimeout.Duration <= 0 {
		errs = append(errs, errors.New("config: request timeout must be positive"))
	}
	if c.HistoryLimit < 1 {
		errs = append(errs, errors.New("config: history limit must be at least 1"))
	}
	if c.MaxMessageLength < 1 {
		errs = append(errs, errors.New("config: max message length must be at least 1"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("config: rate limit must not be negative"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RequireLambda checks the settings only the deployed function needs.
func (c Config) RequireLambda() error {
	var errs []error
	if strings.TrimSpace(c.StateTable) == "" {
		errs = append(errs, errors.New("config: STATE_TABLE is required"))
	}
	if strings.TrimSpace(c.ParamPrefix) == "" {
		errs = append(errs, errors.New("config: PARAM_PREFIX is required"))
	}
	return errors.Join(errs...)
}

// ModelCandidates returns the configured models, or the provider defaults.
func (c Config) ModelCandidates() []string {
	if len(c.Models) > 0 {
		return c.Models
	}
	return DefaultModels[c.Provider]
}

// RetryPolicy builds the normal-path policy.
func (c Config) RetryPolicy() retry.Policy {
	return c.policy(c.RetryMaxAttempts, c.RetryBaseDelay.Duration)
}

// CrisisRetryPolicy builds the crisis-path policy: fewer attempts at half
// the base delay.
func (c Config) CrisisRetryPolicy() retry.Policy {
	return c.policy(c.CrisisMaxAttempts, c.RetryBaseDelay.Duration/2)
}

func (c Config) policy(attempts int, base time.Duration) retry.Policy {
	strategy, err := retry.ParseStrategy(c.RetryStrategy)
	if err != nil {
		strategy = retry.StrategyLinear
	}
	return retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   base,
		NewBackOff:  retry.BackOffFactory(strategy, base),
	}
}

// Level returns the slog level named by LogLevel, info when unset.
func (c Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: log level: %w", err)
	}
	return l, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = f
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = d
}
