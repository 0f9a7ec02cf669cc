// Package orchestrator turns one user message plus prior history into an
// assistant reply, routing risk messages through the crisis path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"wellbeing-agent/internal/crisis"
	"wellbeing-agent/internal/domain"
	"wellbeing-agent/internal/llm"
	"wellbeing-agent/internal/retry"
	"wellbeing-agent/internal/validate"
)

// State is a step of a single Respond run.
type State string

const (
	StateIdle           State = "idle"
	StateCrisisCheck    State = "crisis_check"
	StateCrisisPath     State = "crisis_path"
	StateGenerationPath State = "generation_path"
	StateValidated      State = "validated"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

const (
	// UnavailableMessage is the only text a caller sees when generation fails.
	UnavailableMessage = "I'm sorry, the assistant is temporarily unavailable. Please try again in a little while."
	// SafeMessage replaces replies that fail validation when enforcement is on.
	SafeMessage = "Thank you for sharing that with me. I want to make sure I respond in a helpful way. Could you tell me a little more about how you're feeling right now? If you'd like to talk to someone, your campus counseling service is a good place to start."

	DefaultHistoryLimit = 10
)

// ErrUnavailable wraps every generation failure returned by Respond.
var ErrUnavailable = errors.New("orchestrator: assistant unavailable")

// ModelSelector hands out the pinned model and replaces it after NotFound.
type ModelSelector interface {
	Resolve(ctx context.Context) (string, error)
	Repin(ctx context.Context, failed string) (string, error)
}

// Detector screens the latest user message.
type Detector interface {
	Assess(text string) crisis.Assessment
}

// Validator checks an outgoing reply.
type Validator interface {
	Validate(text string) validate.Result
}

// Generation holds per-path sampling parameters.
type Generation struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Config tunes an Orchestrator. Zero fields take DefaultConfig values.
type Config struct {
	SystemPrompt      string
	HistoryLimit      int
	Normal            Generation
	Crisis            Generation
	Retry             retry.Policy
	CrisisRetry       retry.Policy
	Resources         crisis.Resources
	EnforceValidation bool
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		SystemPrompt: SystemPrompt,
		HistoryLimit: DefaultHistoryLimit,
		Normal:       Generation{MaxTokens: 500, Temperature: 0.7, TopP: 0.9},
		Crisis:       Generation{MaxTokens: 200, Temperature: 0.3, TopP: 0.9},
		Retry:        retry.Policy{MaxAttempts: retry.DefaultMaxAttempts, BaseDelay: retry.DefaultBaseDelay},
		CrisisRetry:  retry.Policy{MaxAttempts: 2, BaseDelay: retry.DefaultBaseDelay / 2},
		Resources:    crisis.DefaultResources(),
	}
}

// Reply is the outcome of one Respond call.
type Reply struct {
	Text            string
	CrisisTriggered bool
	Crisis          crisis.Assessment
	Validation      validate.Result
	Model           string
	// Fallback is set when the crisis path answered with the static message.
	Fallback bool
	// Substituted is set when enforcement replaced an invalid reply.
	Substituted bool
	State       State
	Trace       []State
}

// Orchestrator is stateless between calls apart from what its selector pins.
type Orchestrator struct {
	provider  llm.Provider
	selector  ModelSelector
	detector  Detector
	validator Validator
	cfg       Config
	fallback  string
	logger    *slog.Logger
}

// New wires an Orchestrator.
func New(p llm.Provider, sel ModelSelector, det Detector, val Validator, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if p == nil {
		return nil, errors.New("orchestrator: provider must not be nil")
	}
	if sel == nil {
		return nil, errors.New("orchestrator: selector must not be nil")
	}
	if det == nil {
		return nil, errors.New("orchestrator: detector must not be nil")
	}
	if val == nil {
		return nil, errors.New("orchestrator: validator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	cfg.Retry.Logger = logger
	cfg.CrisisRetry.Logger = logger
	return &Orchestrator{
		provider:  p,
		selector:  sel,
		detector:  det,
		validator: val,
		cfg:       cfg,
		fallback:  crisis.FallbackMessage(cfg.Resources),
		logger:    logger,
	}, nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.Normal.MaxTokens <= 0 {
		c.Normal = d.Normal
	}
	if c.Crisis.MaxTokens <= 0 {
		c.Crisis = d.Crisis
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if c.CrisisRetry.MaxAttempts <= 0 {
		c.CrisisRetry.MaxAttempts = d.CrisisRetry.MaxAttempts
	}
	if c.CrisisRetry.BaseDelay <= 0 {
		c.CrisisRetry.BaseDelay = d.CrisisRetry.BaseDelay
	}
	if len(c.Resources.Resources) == 0 {
		c.Resources = d.Resources
	}
	return c
}

type run struct {
	trace []State
}

func (r *run) to(s State) { r.trace = append(r.trace, s) }

func (r *run) current() State { return r.trace[len(r.trace)-1] }

// Respond produces the assistant reply for userText. Crisis turns never
// return an error. Any other generation failure yields a Reply carrying
// UnavailableMessage together with an error wrapping ErrUnavailable.
func (o *Orchestrator) Respond(ctx context.Context, userText string, history domain.History) (Reply, error) {
	r := &run{trace: []State{StateIdle}}

	r.to(StateCrisisCheck)
	assessment := o.detector.Assess(userText)
	reply := Reply{CrisisTriggered: assessment.Triggered, Crisis: assessment}
	turns := o.window(history)

	if assessment.Triggered {
		r.to(StateCrisisPath)
		o.logger.Warn("orchestrator: crisis indicators detected", "severity", string(assessment.Severity), "matched", len(assessment.Matched))
		text, model, err := o.generate(ctx, o.cfg.CrisisRetry, o.crisisRequest(turns, userText))
		if err != nil {
			o.logger.Error("orchestrator: crisis generation failed, using fallback", "err", err)
			reply.Text = o.fallback
			reply.Fallback = true
		} else {
			reply.Text = o.withResources(text)
			reply.Model = model
		}
	} else {
		r.to(StateGenerationPath)
		text, model, err := o.generate(ctx, o.cfg.Retry, o.normalRequest(turns, userText))
		if err != nil {
			r.to(StateFailed)
			o.logger.Error("orchestrator: generation failed", "class", llm.Classify(err).String(), "err", err)
			return Reply{
				Text:   UnavailableMessage,
				Crisis: assessment,
				State:  r.current(),
				Trace:  r.trace,
			}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		reply.Text = text
		reply.Model = model
	}

	r.to(StateValidated)
	reply.Validation = o.validator.Validate(reply.Text)
	if !reply.Validation.Valid {
		o.logger.Warn("orchestrator: reply failed validation", "issues", reply.Validation.Strings(), "enforce", o.cfg.EnforceValidation)
		if o.cfg.EnforceValidation {
			if reply.CrisisTriggered {
				reply.Text = o.fallback
			} else {
				reply.Text = SafeMessage
			}
			reply.Substituted = true
		}
	}

	r.to(StateDone)
	reply.State = r.current()
	reply.Trace = r.trace
	return reply, nil
}

// window keeps the most recent non-system turns within the history limit.
func (o *Orchestrator) window(history domain.History) domain.History {
	kept := make(domain.History, 0, len(history))
	for _, t := range history {
		if t.Role == domain.RoleSystem || strings.TrimSpace(t.Content) == "" {
			continue
		}
		kept = append(kept, t)
	}
	return kept.Last(o.cfg.HistoryLimit)
}

func (o *Orchestrator) normalRequest(turns domain.History, user string) llm.Request {
	return llm.Request{
		SystemPrompt: o.cfg.SystemPrompt,
		History:      turns,
		User:         user,
		MaxTokens:    o.cfg.Normal.MaxTokens,
		Temperature:  o.cfg.Normal.Temperature,
		TopP:         o.cfg.Normal.TopP,
	}
}

func (o *Orchestrator) crisisRequest(turns domain.History, user string) llm.Request {
	return llm.Request{
		SystemPrompt: o.cfg.SystemPrompt + "\n\n" + crisis.Prompt(o.cfg.Resources),
		History:      turns,
		User:         user,
		MaxTokens:    o.cfg.Crisis.MaxTokens,
		Temperature:  o.cfg.Crisis.Temperature,
		TopP:         o.cfg.Crisis.TopP,
	}
}

// generate runs req under policy against the pinned model, re-pinning once
// if the model disappears.
func (o *Orchestrator) generate(ctx context.Context, policy retry.Policy, req llm.Request) (string, string, error) {
	var model string
	policy.Repin = func(ctx context.Context) error {
		next, err := o.selector.Repin(ctx, model)
		if err != nil {
			return err
		}
		model = next
		return nil
	}
	text, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
		if model == "" {
			m, err := o.selector.Resolve(ctx)
			if err != nil {
				return "", err
			}
			model = m
		}
		call := req
		call.Model = model
		out, err := o.provider.Complete(ctx, call)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(out) == "" {
			return "", &llm.Error{Provider: "orchestrator", Class: llm.ClassServerError, Err: errors.New("empty completion")}
		}
		return strings.TrimSpace(out), nil
	})
	if err != nil {
		return "", model, err
	}
	return text, model, nil
}

// withResources appends any crisis contact the model left out.
func (o *Orchestrator) withResources(text string) string {
	lines := o.cfg.Resources.Lines()
	lower := strings.ToLower(text)
	var missing []string
	for i, res := range o.cfg.Resources.Resources {
		if !strings.Contains(lower, strings.ToLower(res.Contact)) {
			missing = append(missing, lines[i])
		}
	}
	if len(missing) == 0 {
		return text
	}
	return text + "\n\nYou can reach support right now:\n- " + strings.Join(missing, "\n- ")
}
