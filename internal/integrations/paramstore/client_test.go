package paramstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
}

func (f *fakeAPI) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"k":"v"}`),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
}

func TestGetParameter_HappyPath_SecureString(t *testing.T) {
	typeStr := "SecureString"
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"k":"v"}`), Type: types.ParameterType(typeStr),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	api := &fakeAPI{}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

type stubGetter struct {
	vals  map[string]string
	err   error
	calls int
}

func (s *stubGetter) GetParameter(_ context.Context, name string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	v, ok := s.vals[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestGetToken(t *testing.T) {
	g := &stubGetter{vals: map[string]string{
		"/app/ok":    `{"token":"sk-1"}`,
		"/app/empty": `{"token":" "}`,
		"/app/bad":   `sk-raw`,
	}}
	tok, err := GetToken(context.Background(), g, "/app/ok")
	require.NoError(t, err)
	require.Equal(t, "sk-1", tok)

	_, err = GetToken(context.Background(), g, "/app/empty")
	require.ErrorContains(t, err, "empty")

	_, err = GetToken(context.Background(), g, "/app/bad")
	require.ErrorContains(t, err, "decode token")

	_, err = GetToken(context.Background(), g, "/app/missing")
	require.Error(t, err)

	_, err = GetToken(context.Background(), nil, "/app/ok")
	require.ErrorContains(t, err, "must not be nil")
}

func TestCache_ReusesValuesUntilTTL(t *testing.T) {
	g := &stubGetter{vals: map[string]string{"p": "v1"}}
	c, err := NewCache(g, time.Minute)
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		v, err := c.GetParameter(context.Background(), "p")
		require.NoError(t, err)
		require.Equal(t, "v1", v)
	}
	require.Equal(t, 1, g.calls)

	g.vals["p"] = "v2"
	now = now.Add(2 * time.Minute)
	v, err := c.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "v2", v)
	require.Equal(t, 2, g.calls)
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	g := &stubGetter{vals: map[string]string{"p": "v1"}}
	c, err := NewCache(g, 0)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	_, _ = c.GetParameter(context.Background(), "p")
	_, _ = c.GetParameter(context.Background(), "p")
	require.Equal(t, 1, g.calls)
}

func TestCache_DoesNotCacheFailures(t *testing.T) {
	g := &stubGetter{err: errors.New("throttled")}
	c, err := NewCache(g, 0)
	require.NoError(t, err)
	_, err = c.GetParameter(context.Background(), "p")
	require.Error(t, err)

	g.err = nil
	g.vals = map[string]string{"p": "v"}
	v, err := c.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "v", v)
	require.Equal(t, 2, g.calls)
}

func TestNewCache_NilGetter(t *testing.T) {
	_, err := NewCache(nil, 0)
	require.Error(t, err)
}
