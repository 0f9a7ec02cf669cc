// Package app assembles the response engine from configuration. Both the
// Lambda entry point and the operator CLI build through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"wellbeing-agent/internal/config"
	"wellbeing-agent/internal/crisis"
	"wellbeing-agent/internal/integrations/anthropic"
	"wellbeing-agent/internal/integrations/openai"
	"wellbeing-agent/internal/integrations/paramstore"
	"wellbeing-agent/internal/llm"
	"wellbeing-agent/internal/models"
	"wellbeing-agent/internal/orchestrator"
	"wellbeing-agent/internal/validate"
)

// Engine is the wired core. Selector is exposed so callers can pin eagerly.
type Engine struct {
	Provider     llm.Provider
	Selector     *models.Selector
	Detector     *crisis.Detector
	Validator    *validate.Validator
	Resources    crisis.Resources
	Orchestrator *orchestrator.Orchestrator
}

// NewEngine builds the provider, selector, detector, validator and
// orchestrator described by cfg. params may be nil when every secret and
// rule source is local.
func NewEngine(ctx context.Context, cfg config.Config, params paramstore.Getter, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	provider, err := NewProvider(ctx, cfg, params)
	if err != nil {
		return nil, err
	}
	return newEngine(ctx, cfg, provider, params, logger)
}

func newEngine(ctx context.Context, cfg config.Config, provider llm.Provider, params paramstore.Getter, logger *slog.Logger) (*Engine, error) {
	selector, err := models.NewSelector(provider, models.Candidates(cfg.ModelCandidates()...), logger)
	if err != nil {
		return nil, fmt.Errorf("app: selector: %w", err)
	}

	rules, err := LoadCrisisRules(ctx, cfg, params)
	if err != nil {
		return nil, err
	}
	detector, err := crisis.NewDetector(rules)
	if err != nil {
		return nil, fmt.Errorf("app: crisis detector: %w", err)
	}

	resources, err := LoadCrisisResources(cfg)
	if err != nil {
		return nil, err
	}

	vrules, err := LoadValidationRules(cfg)
	if err != nil {
		return nil, err
	}
	validator, err := validate.New(vrules)
	if err != nil {
		return nil, fmt.Errorf("app: validator: %w", err)
	}

	ocfg := orchestrator.DefaultConfig()
	ocfg.HistoryLimit = cfg.HistoryLimit
	ocfg.Retry = cfg.RetryPolicy()
	ocfg.CrisisRetry = cfg.CrisisRetryPolicy()
	ocfg.Resources = resources
	ocfg.EnforceValidation = cfg.EnforceValidation
	orch, err := orchestrator.New(provider, selector, detector, validator, ocfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app: orchestrator: %w", err)
	}

	logger.Info("app: engine ready",
		"provider", cfg.Provider,
		"models", strings.Join(cfg.ModelCandidates(), ","),
		"crisis_rules", detector.Version(),
		"validation_rules", validator.Version(),
		"crisis_resources", resources.Version,
		"enforce_validation", cfg.EnforceValidation,
	)
	return &Engine{
		Provider:     provider,
		Selector:     selector,
		Detector:     detector,
		Validator:    validator,
		Resources:    resources,
		Orchestrator: orch,
	}, nil
}

// NewProvider returns the chat-completion client named by cfg.Provider. API
// keys from the environment win over the parameter store.
func NewProvider(ctx context.Context, cfg config.Config, params paramstore.Getter) (llm.Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout.Duration}),
			openai.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
			openai.WithAPIKey(cfg.OpenAIAPIKey),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		c, err := openai.NewClient(params, cfg.ParamPrefix, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", llm.ErrConfiguration, err)
		}
		return c, nil

	case config.ProviderAnthropic:
		key := cfg.AnthropicAPIKey
		if key == "" {
			if params == nil || strings.TrimSpace(cfg.ParamPrefix) == "" {
				return nil, fmt.Errorf("%w: app: ANTHROPIC_API_KEY or a parameter prefix is required", llm.ErrConfiguration)
			}
			name := strings.TrimRight(cfg.ParamPrefix, "/") + "/anthropic-token"
			k, err := paramstore.GetToken(ctx, params, name)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", llm.ErrConfiguration, err)
			}
			key = k
		}
		opts := []anthropic.Option{anthropic.WithTimeout(cfg.RequestTimeout.Duration)}
		if cfg.AnthropicBaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.AnthropicBaseURL))
		}
		c, err := anthropic.New(key, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: app: unknown provider %q", llm.ErrConfiguration, cfg.Provider)
}

// LoadCrisisRules reads the crisis keyword set from, in order: the
// configured file, the configured SSM parameter, the embedded default.
func LoadCrisisRules(ctx context.Context, cfg config.Config, params paramstore.Getter) (crisis.RuleSet, error) {
	if cfg.CrisisRulesFile != "" {
		rs, err := fromFile(cfg.CrisisRulesFile, crisis.LoadRules)
		if err != nil {
			return crisis.RuleSet{}, fmt.Errorf("app: crisis rules: %w", err)
		}
		return rs, nil
	}
	if cfg.CrisisRulesParam != "" {
		if params == nil {
			return crisis.RuleSet{}, errors.New("app: crisis rules parameter set without a parameter store")
		}
		raw, err := params.GetParameter(ctx, cfg.CrisisRulesParam)
		if err != nil {
			return crisis.RuleSet{}, fmt.Errorf("app: crisis rules: %w", err)
		}
		rs, err := crisis.LoadRules(strings.NewReader(raw))
		if err != nil {
			return crisis.RuleSet{}, fmt.Errorf("app: crisis rules: %w", err)
		}
		return rs, nil
	}
	return crisis.DefaultRules(), nil
}

// LoadCrisisResources reads the configured resource list or the default.
func LoadCrisisResources(cfg config.Config) (crisis.Resources, error) {
	if cfg.CrisisResourcesFile == "" {
		return crisis.DefaultResources(), nil
	}
	rs, err := fromFile(cfg.CrisisResourcesFile, crisis.LoadResources)
	if err != nil {
		return crisis.Resources{}, fmt.Errorf("app: crisis resources: %w", err)
	}
	return rs, nil
}

// LoadValidationRules reads the configured validator rules or the default.
func LoadValidationRules(cfg config.Config) (validate.Rules, error) {
	if cfg.ValidationRulesFile == "" {
		return validate.DefaultRules(), nil
	}
	rs, err := fromFile(cfg.ValidationRulesFile, validate.LoadRules)
	if err != nil {
		return validate.Rules{}, fmt.Errorf("app: validation rules: %w", err)
	}
	return rs, nil
}

func fromFile[T any](path string, load func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer func() { _ = f.Close() }()
	v, err := load(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// NewLogger returns a JSON logger for the Lambda runtime or a text logger
// for terminals.
func NewLogger(w io.Writer, level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
