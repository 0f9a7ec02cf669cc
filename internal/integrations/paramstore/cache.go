package paramstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

type cachedValue struct {
	value   string
	fetched time.Time
}

// Cache memoizes a Getter. Values are reused until ttl elapses; a zero ttl
// keeps them for the lifetime of the process. Failures are not cached.
type Cache struct {
	getter Getter
	ttl    time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	values map[string]cachedValue
}

// NewCache wraps g.
func NewCache(g Getter, ttl time.Duration) (*Cache, error) {
	if g == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	return &Cache{getter: g, ttl: ttl, now: time.Now, values: make(map[string]cachedValue)}, nil
}

func (c *Cache) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	c.mu.RLock()
	v, ok := c.values[name]
	c.mu.RUnlock()
	if ok && (c.ttl <= 0 || c.now().Sub(v.fetched) < c.ttl) {
		return v.value, nil
	}

	value, err := c.getter.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.values[name] = cachedValue{value: value, fetched: c.now()}
	c.mu.Unlock()
	return value, nil
}
