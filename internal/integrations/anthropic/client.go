// Package anthropic adapts the Anthropic Messages API to llm.Provider.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"wellbeing-agent/internal/domain"
	"wellbeing-agent/internal/llm"
)

const (
	providerName = "anthropic"
	// DefaultTimeout bounds a single Messages call.
	DefaultTimeout = 30 * time.Second
)

// messagesAPI is the slice of the SDK Messages service used here.
type messagesAPI interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client sends chat completions through the Anthropic SDK.
type Client struct {
	messages messagesAPI
	timeout  time.Duration
}

type config struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

type Option func(*config)

func WithBaseURL(baseURL string) Option {
	return func(c *config) { c.baseURL = strings.TrimSpace(baseURL) }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *config) { c.httpClient = httpClient }
}

// WithTimeout overrides the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New builds a Client for apiKey. SDK-level retries are disabled; retrying
// is the caller's job.
func New(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: anthropic: api key must not be empty", llm.ErrConfiguration)
	}
	cfg := config{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}
	client := sdk.NewClient(reqOpts...)
	return &Client{messages: &client.Messages, timeout: cfg.timeout}, nil
}

// Complete implements llm.Provider.
func (c *Client) Complete(ctx context.Context, in llm.Request) (string, error) {
	if strings.TrimSpace(in.Model) == "" {
		return "", &llm.Error{Provider: providerName, Class: llm.ClassBadRequest, Err: errors.New("model must not be empty")}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.messages.New(ctx, buildParams(in))
	if err != nil {
		return "", classify(err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", &llm.Error{Provider: providerName, Class: llm.ClassServerError, Err: errors.New("no text content in response")}
	}
	return b.String(), nil
}

func buildParams(in llm.Request) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(in.Model),
		MaxTokens:   int64(in.MaxTokens),
		Messages:    conversation(llm.Messages(in)),
		Temperature: sdk.Float(in.Temperature),
	}
	if strings.TrimSpace(in.SystemPrompt) != "" {
		params.System = []sdk.TextBlockParam{{Text: in.SystemPrompt}}
	}
	if in.TopP > 0 {
		params.TopP = sdk.Float(in.TopP)
	}
	return params
}

// conversation converts flattened messages to Messages API turns. The system
// message is carried separately, turns must alternate starting with the user,
// so leading assistant turns are dropped and consecutive same-role turns are
// merged.
func conversation(msgs []domain.Message) []sdk.MessageParam {
	type turn struct {
		role domain.Role
		text []string
	}
	var turns []turn
	for _, m := range msgs {
		if m.Role == domain.RoleSystem {
			continue
		}
		if len(turns) == 0 && m.Role != domain.RoleUser {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].role == m.Role {
			turns[n-1].text = append(turns[n-1].text, m.Content)
			continue
		}
		turns = append(turns, turn{role: m.Role, text: []string{m.Content}})
	}
	out := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := sdk.NewTextBlock(strings.Join(t.text, "\n\n"))
		if t.role == domain.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
		} else {
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return out
}

func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &llm.Error{Provider: providerName, Class: llm.ClassFromStatus(apiErr.StatusCode), StatusCode: apiErr.StatusCode, Err: err}
	}
	return llm.TransportError(providerName, err)
}
