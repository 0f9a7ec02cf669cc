package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeOpenAI(t *testing.T, reply string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body struct {
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Model == "retired-model" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"model_not_found","message":"gone"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func run(t *testing.T, env map[string]string, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmdWithEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "absent.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func openAIEnv(url string) map[string]string {
	return map[string]string{
		"LLM_PROVIDER":    "openai",
		"LLM_MODELS":      "retired-model,good-model",
		"OPENAI_API_KEY":  "sk-test",
		"OPENAI_BASE_URL": url,
		"LOG_LEVEL":       "error",
	}
}

func TestNormalizeCommand(t *testing.T) {
	out, err := run(t, nil, "", "normalize", "Dr.", "Kim", "has", "2", "tips")
	require.NoError(t, err)
	require.Equal(t, "Doctor Kim has two tips.\n", out)
}

func TestSpeakCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	out, err := run(t, nil, "", "speak", "--out", path, "breathe", "in", "slowly")
	require.NoError(t, err)
	require.Contains(t, out, "wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "RIFF", string(data[:4]))
}

func TestProbeCommand(t *testing.T) {
	srv, _ := fakeOpenAI(t, "ok")
	out, err := run(t, openAIEnv(srv.URL), "", "probe")
	require.NoError(t, err)
	require.Equal(t, "good-model\n", out)
}

func TestRespondCommand_Trace(t *testing.T) {
	srv, calls := fakeOpenAI(t, "I understand exams feel overwhelming right now.")
	out, err := run(t, openAIEnv(srv.URL), "", "respond", "--trace", "exams", "are", "stressing", "me")
	require.NoError(t, err)
	require.Contains(t, out, "I understand exams feel overwhelming right now.")
	require.Contains(t, out, "model:       good-model")
	require.Contains(t, out, "idle -> crisis_check -> generation_path -> validated -> done")
	// Two probes plus one generation.
	require.Equal(t, int32(3), calls.Load())
}

func TestChatCommand_PersistsConversation(t *testing.T) {
	srv, _ := fakeOpenAI(t, "That sounds really hard.")
	env := openAIEnv(srv.URL)
	env["STATE_DB"] = filepath.Join(t.TempDir(), "state.db")

	out, err := run(t, env, "hello\n\nI feel alone\n/quit\n", "chat")
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(out, "assistant> That sounds really hard."))
	require.Contains(t, out, ": 2 turns, 0 crisis turns")
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	_, err := run(t, map[string]string{"LLM_PROVIDER": "bard"}, "", "normalize", "hi")
	require.ErrorContains(t, err, "unknown provider")

	path := filepath.Join(t.TempDir(), "cli.toml")
	require.NoError(t, os.WriteFile(path, []byte(`history_limit = 0`), 0o600))
	_, err = run(t, nil, "", "--config", path, "normalize", "hi")
	require.ErrorContains(t, err, "history limit")
}
