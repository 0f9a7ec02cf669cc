package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wellbeing-agent/internal/llm"
)

type recordingSleeper struct {
	delays []time.Duration
	err    error
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return r.err
}

func classified(class llm.ErrorClass) error {
	return &llm.Error{Provider: "stub", Class: class, Err: errors.New(class.String())}
}

// scripted returns the errors in order, then succeeds with "ok".
func scripted(errs ...error) (Operation[string], *int) {
	calls := 0
	return func(_ context.Context, _ int) (string, error) {
		calls++
		if calls <= len(errs) {
			return "", errs[calls-1]
		}
		return "ok", nil
	}, &calls
}

func TestDo_RateLimitedThenSuccess_LinearIncreasingDelays(t *testing.T) {
	s := &recordingSleeper{}
	op, calls := scripted(classified(llm.ClassRateLimited), classified(llm.ClassRateLimited))

	v, err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: s.sleep}, op)
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 3, *calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.delays)
	require.Greater(t, s.delays[1], s.delays[0])
}

func TestDo_UnauthorizedIsFatalWithoutSleeping(t *testing.T) {
	s := &recordingSleeper{}
	op, calls := scripted(classified(llm.ClassUnauthorized), classified(llm.ClassUnauthorized), classified(llm.ClassUnauthorized))

	_, err := Do(context.Background(), Policy{Sleep: s.sleep}, op)
	require.Error(t, err)
	require.Equal(t, 1, *calls)
	require.Empty(t, s.delays)
	require.Equal(t, llm.ClassUnauthorized, llm.Classify(err))
}

func TestDo_BadRequestIsFatal(t *testing.T) {
	s := &recordingSleeper{}
	op, calls := scripted(classified(llm.ClassBadRequest))

	_, err := Do(context.Background(), Policy{Sleep: s.sleep}, op)
	require.Equal(t, llm.ClassBadRequest, llm.Classify(err))
	require.Equal(t, 1, *calls)
	require.Empty(t, s.delays)
}

func TestDo_ExhaustsRetryableClasses(t *testing.T) {
	for _, class := range []llm.ErrorClass{llm.ClassRateLimited, llm.ClassServerError, llm.ClassUnknown} {
		t.Run(class.String(), func(t *testing.T) {
			s := &recordingSleeper{}
			last := classified(class)
			op, calls := scripted(classified(class), classified(class), last, nil)

			_, err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Sleep: s.sleep}, op)
			var exhausted *ExhaustedError
			require.ErrorAs(t, err, &exhausted)
			require.Equal(t, 3, exhausted.Attempts)
			require.ErrorIs(t, err, last)
			require.Equal(t, 3, *calls)
			require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, s.delays)
		})
	}
}

func TestDo_NotFoundRepinsOnceThenRetries(t *testing.T) {
	s := &recordingSleeper{}
	repins := 0
	op, calls := scripted(classified(llm.ClassNotFound))

	v, err := Do(context.Background(), Policy{
		Sleep: s.sleep,
		Repin: func(context.Context) error { repins++; return nil },
	}, op)
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 1, repins)
	require.Equal(t, 2, *calls)
	require.Empty(t, s.delays)
}

func TestDo_SecondNotFoundPropagates(t *testing.T) {
	repins := 0
	op, calls := scripted(classified(llm.ClassNotFound), classified(llm.ClassNotFound))

	_, err := Do(context.Background(), Policy{
		Sleep: (&recordingSleeper{}).sleep,
		Repin: func(context.Context) error { repins++; return nil },
	}, op)
	require.Equal(t, llm.ClassNotFound, llm.Classify(err))
	require.Equal(t, 1, repins)
	require.Equal(t, 2, *calls)
}

func TestDo_RepinFailurePropagates(t *testing.T) {
	op, calls := scripted(classified(llm.ClassNotFound))

	_, err := Do(context.Background(), Policy{
		Sleep: (&recordingSleeper{}).sleep,
		Repin: func(context.Context) error { return llm.ErrNoModelAvailable },
	}, op)
	require.ErrorIs(t, err, llm.ErrNoModelAvailable)
	require.Equal(t, 1, *calls)
}

func TestDo_NotFoundWithoutRepinIsFatal(t *testing.T) {
	op, calls := scripted(classified(llm.ClassNotFound))
	_, err := Do(context.Background(), Policy{Sleep: (&recordingSleeper{}).sleep}, op)
	require.Equal(t, llm.ClassNotFound, llm.Classify(err))
	require.Equal(t, 1, *calls)
}

func TestDo_RepinOnLastAttemptStillGetsOneRetry(t *testing.T) {
	op, calls := scripted(classified(llm.ClassServerError), classified(llm.ClassNotFound))

	v, err := Do(context.Background(), Policy{
		MaxAttempts: 2,
		Sleep:       (&recordingSleeper{}).sleep,
		Repin:       func(context.Context) error { return nil },
	}, op)
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 3, *calls)
}

func TestDo_CancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	op := func(context.Context, int) (string, error) {
		calls++
		cancel()
		return "", classified(llm.ClassServerError)
	}

	_, err := Do(ctx, Policy{Sleep: (&recordingSleeper{}).sleep}, op)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDo_SleepAbortStopsRun(t *testing.T) {
	s := &recordingSleeper{err: context.DeadlineExceeded}
	op, calls := scripted(classified(llm.ClassRateLimited))

	_, err := Do(context.Background(), Policy{Sleep: s.sleep}, op)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, *calls)
}

func TestDo_PassesAttemptNumber(t *testing.T) {
	var seen []int
	op := func(_ context.Context, attempt int) (int, error) {
		seen = append(seen, attempt)
		if attempt < 3 {
			return 0, classified(llm.ClassServerError)
		}
		return attempt, nil
	}
	v, err := Do(context.Background(), Policy{Sleep: (&recordingSleeper{}).sleep}, op)
	require.NoError(t, err)
	require.Equal(t, 3, v)
	require.Equal(t, []int{1, 2, 3}, seen)
}

func TestEvaluate(t *testing.T) {
	require.Equal(t, KindSuccess, Evaluate("x", nil, false).Kind)
	require.Equal(t, KindFatal, Evaluate("", classified(llm.ClassUnauthorized), false).Kind)
	require.Equal(t, KindFatal, Evaluate("", classified(llm.ClassBadRequest), false).Kind)
	require.Equal(t, KindRepin, Evaluate("", classified(llm.ClassNotFound), false).Kind)
	require.Equal(t, KindFatal, Evaluate("", classified(llm.ClassNotFound), true).Kind)
	require.Equal(t, KindRetry, Evaluate("", classified(llm.ClassRateLimited), false).Kind)
	require.Equal(t, KindRetry, Evaluate("", errors.New("plain"), false).Kind)

	noModel := fmt.Errorf("%w: last probe error: %w", llm.ErrNoModelAvailable, classified(llm.ClassRateLimited))
	require.Equal(t, KindFatal, Evaluate("", noModel, false).Kind)
}

func TestBackOffFactory(t *testing.T) {
	lin := BackOffFactory(StrategyLinear, 100*time.Millisecond)()
	require.Equal(t, 100*time.Millisecond, lin.NextBackOff())
	require.Equal(t, 200*time.Millisecond, lin.NextBackOff())
	lin.Reset()
	require.Equal(t, 100*time.Millisecond, lin.NextBackOff())

	// A fresh exponential backoff starts from base without an explicit Reset.
	expo := BackOffFactory(StrategyExponential, 100*time.Millisecond)()
	require.Equal(t, 100*time.Millisecond, expo.NextBackOff())
	require.Equal(t, 200*time.Millisecond, expo.NextBackOff())
	expo.Reset()
	require.Equal(t, 100*time.Millisecond, expo.NextBackOff())
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	require.Equal(t, StrategyLinear, s)

	s, err = ParseStrategy(" Exponential ")
	require.NoError(t, err)
	require.Equal(t, StrategyExponential, s)

	_, err = ParseStrategy("fibonacci")
	require.Error(t, err)
}
