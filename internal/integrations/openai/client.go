package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wellbeing-agent/internal/domain"
	"wellbeing-agent/internal/llm"
)

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
	// DefaultTimeout bounds a single chat-completion call.
	DefaultTimeout = 30 * time.Second
)

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Choices []struct {
		Index   int            `json:"index"`
		Message domain.Message `json:"message"`
	} `json:"choices"`
}

// errorResponse is the error envelope OpenAI-compatible servers return.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Code       string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible chat-completion provider.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
	limiter     *rate.Limiter

	keyMu  sync.RWMutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey uses key directly instead of reading it from the parameter store.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		c.apiKey = key
	}
}

// WithRateLimit paces outgoing requests to rps with the given burst. A
// non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a Client. The API key is read from
// <paramPrefix>/open-ai-token on first use and reused for the lifetime of the
// process once a fetch succeeds, unless WithAPIKey supplies one. ps may be nil only when
// WithAPIKey is given.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" {
		if ps == nil {
			return nil, errors.New("openai: paramstore getter must not be nil")
		}
		if paramPrefix == "" {
			return nil, errors.New("openai: parameter prefix must not be empty")
		}
	}
	return c, nil
}

// resolveAPIKey returns the cached key or fetches it from SSM. Only a
// successful fetch is cached. A failed GetParameter call is a retryable
// server error; a stored value that is malformed or empty is a
// configuration error.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.RLock()
	key := c.apiKey
	c.keyMu.RUnlock()
	if key != "" {
		return key, nil
	}

	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	key, err := fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	if err != nil {
		var fe *fetchError
		if errors.As(err, &fe) {
			return "", &llm.Error{Provider: providerName, Class: llm.ClassServerError, Err: err}
		}
		return "", fmt.Errorf("%w: %w", llm.ErrConfiguration, err)
	}
	c.apiKey = key
	return key, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Complete implements llm.Provider. Failures are returned as *llm.Error.
func (c *Client) Complete(ctx context.Context, in llm.Request) (string, error) {
	if strings.TrimSpace(in.Model) == "" {
		return "", &llm.Error{Provider: providerName, Class: llm.ClassBadRequest, Err: errors.New("model must not be empty")}
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", llm.TransportError(providerName, fmt.Errorf("rate limiter: %w", err))
		}
	}

	temperature := in.Temperature
	body, err := json.Marshal(chatRequest{
		Model:       in.Model,
		Messages:    llm.Messages(in),
		MaxTokens:   in.MaxTokens,
		Temperature: &temperature,
		TopP:        optionalFloat(in.TopP),
	})
	if err != nil {
		return "", &llm.Error{Provider: providerName, Class: llm.ClassBadRequest, Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := chatURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return "", &llm.Error{Provider: providerName, Class: llm.ClassBadRequest, Err: fmt.Errorf("create request: %w", reqErr)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", err
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", &llm.Error{Provider: providerName, Class: llm.ClassServerError, Err: fmt.Errorf("decode response: %w", decErr)}
	}
	if len(payload.Choices) == 0 {
		return "", &llm.Error{Provider: providerName, Class: llm.ClassServerError, Err: errors.New("no choices in response")}
	}
	return payload.Choices[0].Message.Content, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, llm.TransportError(providerName, fmt.Errorf("request failed: %w", doErr))
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		statusErr := &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Code:       errorCode(buf),
			Body:       string(buf),
		}
		return nil, &llm.Error{
			Provider:   providerName,
			Class:      classify(statusErr),
			StatusCode: res.StatusCode,
			Err:        statusErr,
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, llm.TransportError(providerName, fmt.Errorf("read response body: %w", err))
	}
	return buf, nil
}

// classify refines the status mapping with the payload: some
// OpenAI-compatible servers answer an unknown model with 400.
func classify(e *HTTPStatusError) llm.ErrorClass {
	switch e.Code {
	case "model_not_found":
		return llm.ClassNotFound
	case "invalid_api_key":
		return llm.ClassUnauthorized
	case "rate_limit_exceeded":
		return llm.ClassRateLimited
	}
	return llm.ClassFromStatus(e.StatusCode)
}

func errorCode(body []byte) string {
	var env errorResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Error.Code
}

func optionalFloat(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", &fetchError{err: err}
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}

// fetchError marks a parameter store call that failed before any value was
// read.
type fetchError struct {
	err error
}

func (e *fetchError) Error() string { return "openai: fetch token from paramstore: " + e.err.Error() }

func (e *fetchError) Unwrap() error { return e.err }
