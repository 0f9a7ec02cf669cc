// Package models chooses which upstream model identifier requests are sent
// to, pinning the first candidate that answers a probe.
package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"wellbeing-agent/internal/llm"
)

// Candidate is a model identifier with its preference rank (lower first).
type Candidate struct {
	ID   string
	Rank int
}

// Candidates builds a ranked list from identifiers in preference order.
func Candidates(ids ...string) []Candidate {
	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out = append(out, Candidate{ID: id, Rank: len(out)})
	}
	return out
}

const probePrompt = "Reply with the single word: ok"

// Selector owns the pinned model. Reads take the read lock; pins and
// demotions take the write lock. Probing itself runs unlocked, so
// concurrent re-pins may probe redundantly.
type Selector struct {
	provider   llm.Provider
	candidates []Candidate
	logger     *slog.Logger

	mu      sync.RWMutex
	current string
	retired map[string]bool
}

// NewSelector validates the candidate list and returns an unpinned Selector.
func NewSelector(p llm.Provider, candidates []Candidate, logger *slog.Logger) (*Selector, error) {
	if p == nil {
		return nil, errors.New("models: provider must not be nil")
	}
	if len(candidates) == 0 {
		return nil, errors.New("models: at least one candidate is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		provider:   p,
		candidates: ranked(candidates),
		logger:     logger,
		retired:    make(map[string]bool),
	}, nil
}

// Current returns the pinned model, or "" before the first successful pin.
func (s *Selector) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Resolve returns the pinned model, probing the configured candidates first
// when nothing is pinned yet.
func (s *Selector) Resolve(ctx context.Context) (string, error) {
	if m := s.Current(); m != "" {
		return m, nil
	}
	return s.Pin(ctx)
}

// Pin probes the configured candidates and pins the first that answers.
func (s *Selector) Pin(ctx context.Context) (string, error) {
	return s.ProbeAndPin(ctx, s.candidates)
}

// ProbeAndPin walks candidates in rank order. NotFound retires the candidate
// and moves on; Unauthorized aborts with llm.ErrConfiguration; any other
// failure is logged and skipped.
func (s *Selector) ProbeAndPin(ctx context.Context, candidates []Candidate) (string, error) {
	var lastErr error
	for _, c := range ranked(candidates) {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("models: probe: %w", err)
		}
		if s.isRetired(c.ID) {
			continue
		}
		err := s.probe(ctx, c.ID)
		if err == nil {
			s.mu.Lock()
			s.current = c.ID
			s.mu.Unlock()
			s.logger.Info("models: pinned model", "model", c.ID)
			return c.ID, nil
		}
		lastErr = err
		switch llm.Classify(err) {
		case llm.ClassUnauthorized:
			return "", fmt.Errorf("%w: probe %q rejected credentials: %w", llm.ErrConfiguration, c.ID, err)
		case llm.ClassNotFound:
			s.logger.Warn("models: candidate not found, retiring", "model", c.ID)
			s.Demote(c.ID)
		default:
			s.logger.Warn("models: candidate probe failed, skipping", "model", c.ID, "class", llm.Classify(err).String(), "err", err)
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: last probe error: %w", llm.ErrNoModelAvailable, lastErr)
	}
	return "", llm.ErrNoModelAvailable
}

// Demote retires a model and unpins it if it is the current one.
func (s *Selector) Demote(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired[id] = true
	if s.current == id {
		s.current = ""
	}
}

// Repin demotes the failed model and pins a replacement.
func (s *Selector) Repin(ctx context.Context, failed string) (string, error) {
	if failed != "" {
		s.Demote(failed)
	}
	return s.Pin(ctx)
}

func (s *Selector) isRetired(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retired[id]
}

func (s *Selector) probe(ctx context.Context, id string) error {
	out, err := s.provider.Complete(ctx, llm.Request{
		Model:        id,
		SystemPrompt: "You are a connectivity check.",
		User:         probePrompt,
		MaxTokens:    5,
		Temperature:  0,
		TopP:         1,
	})
	if err != nil {
		return err
	}
	if strings.TrimSpace(out) == "" {
		return &llm.Error{Provider: "probe", Class: llm.ClassServerError, Err: errors.New("empty probe completion")}
	}
	return nil
}

func ranked(in []Candidate) []Candidate {
	out := make([]Candidate, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}
