package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"wellbeing-agent/internal/domain"
	"wellbeing-agent/internal/llm"
)

type fakeMessages struct {
	params      sdk.MessageNewParams
	hasDeadline bool
	out         *sdk.Message
	err         error
}

func (f *fakeMessages) New(ctx context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.params = body
	_, f.hasDeadline = ctx.Deadline()
	return f.out, f.err
}

func testRequest() llm.Request {
	return llm.Request{
		Model:        "claude-test",
		SystemPrompt: "be kind",
		History: []domain.Turn{
			{Role: domain.RoleAssistant, Content: "greeting"},
			{Role: domain.RoleUser, Content: "first"},
			{Role: domain.RoleUser, Content: "second"},
			{Role: domain.RoleAssistant, Content: "reply"},
		},
		User:        "now",
		MaxTokens:   200,
		Temperature: 0.3,
		TopP:        0.9,
	}
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New("  ")
	require.ErrorIs(t, err, llm.ErrConfiguration)
}

func TestComplete_BuildsAlternatingTurns(t *testing.T) {
	fake := &fakeMessages{out: &sdk.Message{Content: []sdk.ContentBlockUnion{{Type: "text", Text: "hello"}}}}
	c := &Client{messages: fake, timeout: time.Second}

	out, err := c.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "hello", out)
	require.True(t, fake.hasDeadline)

	p := fake.params
	require.Equal(t, sdk.Model("claude-test"), p.Model)
	require.Equal(t, int64(200), p.MaxTokens)
	require.Len(t, p.System, 1)
	require.Equal(t, "be kind", p.System[0].Text)
	require.Len(t, p.Messages, 3)
	require.Equal(t, sdk.MessageParamRoleUser, p.Messages[0].Role)
	require.Equal(t, sdk.MessageParamRoleAssistant, p.Messages[1].Role)
	require.Equal(t, sdk.MessageParamRoleUser, p.Messages[2].Role)
	require.Equal(t, "first\n\nsecond", p.Messages[0].Content[0].OfText.Text)
	require.Equal(t, "now", p.Messages[2].Content[0].OfText.Text)
}

func TestComplete_NoTextIsServerError(t *testing.T) {
	fake := &fakeMessages{out: &sdk.Message{}}
	c := &Client{messages: fake, timeout: time.Second}
	_, err := c.Complete(context.Background(), testRequest())
	require.Equal(t, llm.ClassServerError, llm.Classify(err))
}

func TestComplete_EmptyModel(t *testing.T) {
	c := &Client{messages: &fakeMessages{}, timeout: time.Second}
	req := testRequest()
	req.Model = ""
	_, err := c.Complete(context.Background(), req)
	require.Equal(t, llm.ClassBadRequest, llm.Classify(err))
}

func TestComplete_TransportErrorIsClassified(t *testing.T) {
	c := &Client{messages: &fakeMessages{err: context.DeadlineExceeded}, timeout: time.Second}
	_, err := c.Complete(context.Background(), testRequest())
	require.Equal(t, llm.ClassServerError, llm.Classify(err))

	c = &Client{messages: &fakeMessages{err: errors.New("boom")}, timeout: time.Second}
	_, err = c.Complete(context.Background(), testRequest())
	require.Equal(t, llm.ClassUnknown, llm.Classify(err))
}

func newServerClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New("sk-ant-test", WithBaseURL(srv.URL), WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
	require.NoError(t, err)
	return c
}

func TestComplete_HTTPRoundTrip(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		require.Equal(t, "claude-test", body["model"])
		require.EqualValues(t, 200, body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "Hi there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 2}
		}`))
	})

	out, err := c.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "Hi there", out)
}

func TestComplete_HTTPStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		class  llm.ErrorClass
	}{
		{401, llm.ClassUnauthorized},
		{404, llm.ClassNotFound},
		{429, llm.ClassRateLimited},
		{400, llm.ClassBadRequest},
		{500, llm.ClassServerError},
		{529, llm.ClassServerError},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"nope"}}`))
			})
			_, err := c.Complete(context.Background(), testRequest())
			require.Error(t, err)
			require.Equal(t, tc.class, llm.Classify(err))

			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			require.Equal(t, tc.status, llmErr.StatusCode)
		})
	}
}
