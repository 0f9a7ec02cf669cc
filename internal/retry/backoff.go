package retry

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Linear yields base, 2*base, 3*base, ... so the wait after attempt n is
// base*n.
type Linear struct {
	base time.Duration
	n    int64
}

var _ backoff.BackOff = (*Linear)(nil)

func NewLinear(base time.Duration) *Linear {
	return &Linear{base: base}
}

func (l *Linear) NextBackOff() time.Duration {
	l.n++
	return l.base * time.Duration(l.n)
}

func (l *Linear) Reset() { l.n = 0 }

// Strategy names a delay strategy selectable from configuration.
type Strategy string

const (
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// ParseStrategy accepts "linear" (the default when empty) or "exponential".
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyLinear:
		return StrategyLinear, nil
	case StrategyExponential:
		return StrategyExponential, nil
	}
	return "", fmt.Errorf("retry: unknown strategy %q", s)
}

// BackOffFactory returns a Policy.NewBackOff for the strategy.
func BackOffFactory(s Strategy, base time.Duration) func() backoff.BackOff {
	if s == StrategyExponential {
		return func() backoff.BackOff {
			expo := backoff.NewExponentialBackOff()
			expo.InitialInterval = base
			expo.RandomizationFactor = 0
			expo.Multiplier = 2
			expo.MaxInterval = 30 * base
			expo.MaxElapsedTime = 0
			expo.Reset()
			return expo
		}
	}
	return func() backoff.BackOff { return NewLinear(base) }
}
