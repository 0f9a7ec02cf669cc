// Package llm defines the provider-neutral chat-completion contract and the
// error classification every upstream integration reports through.
package llm

import (
	"context"
	"strings"

	"wellbeing-agent/internal/domain"
)

// Request is a single chat-completion call.
type Request struct {
	Model        string
	SystemPrompt string
	History      []domain.Turn
	User         string
	MaxTokens    int
	Temperature  float64
	TopP         float64
}

// Provider issues chat-completion requests against one upstream endpoint.
// Failures should be reported as *Error so callers can classify them.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

func (f ProviderFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Messages flattens a request into wire order: exactly one system message,
// the history oldest first, then the user turn. System and empty turns found
// in the history are dropped.
func Messages(req Request) []domain.Message {
	out := make([]domain.Message, 0, len(req.History)+2)
	out = append(out, domain.Message{Role: domain.RoleSystem, Content: req.SystemPrompt})
	for _, t := range req.History {
		if t.Role == domain.RoleSystem || strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, domain.Message{Role: t.Role, Content: t.Content})
	}
	out = append(out, domain.Message{Role: domain.RoleUser, Content: req.User})
	return out
}
