// Package ratelimit implements fixed-window request counting keyed by client
// identity, with pluggable counter storage.
package ratelimit

import (
	"context"
	"time"
)

type Class string

const (
	General       Class = "general"
	API           Class = "api"
	Login         Class = "login"
	LoginUsername Class = "login_username"
)

const DefaultWindow = time.Minute

func DefaultLimits() map[Class]int {
	return map[Class]int{
		General:       100,
		API:           60,
		Login:         5,
		LoginUsername: 5,
	}
}

// Counter is the state of one key inside its current window.
type Counter struct {
	Count       int64
	WindowStart time.Time
}

// CounterStore increments key and returns the resulting counter. A counter
// whose window started at least window ago restarts at one.
type CounterStore interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error)
}

// Purger is implemented by stores that keep expired counters around.
type Purger interface {
	PurgeStale(ctx context.Context, before time.Time) (int64, error)
}

type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

type Limiter struct {
	store  CounterStore
	window time.Duration
	limits map[Class]int
	now    func() time.Time
}

func New(store CounterStore, window time.Duration, limits map[Class]int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}

	merged := DefaultLimits()
	for class, limit := range limits {
		if limit > 0 {
			merged[class] = limit
		}
	}

	return &Limiter{store: store, window: window, limits: merged, now: time.Now}
}

func (l *Limiter) Limit(class Class) int {
	return l.limits[class]
}

// Check counts one request for key under class. The first Limit requests in a
// window are allowed; the next one is not.
func (l *Limiter) Check(ctx context.Context, class Class, key string) (Decision, error) {
	limit, ok := l.limits[class]
	if !ok {
		return Decision{Allowed: true}, nil
	}

	now := l.now().UTC()
	counter, err := l.store.Hit(ctx, string(class)+":"+key, l.window, now)
	if err != nil {
		return Decision{}, err
	}

	if counter.Count <= int64(limit) {
		return Decision{Allowed: true, Count: counter.Count, Limit: limit}, nil
	}

	retryAfter := counter.WindowStart.Add(l.window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return Decision{Count: counter.Count, Limit: limit, RetryAfter: retryAfter}, nil
}

// Purge drops expired counters when the store keeps them.
func (l *Limiter) Purge(ctx context.Context) (int64, error) {
	purger, ok := l.store.(Purger)
	if !ok {
		return 0, nil
	}
	return purger.PurgeStale(ctx, l.now().UTC().Add(-l.window))
}

// Gate binds the limiter to a single class.
func (l *Limiter) Gate(class Class) *Gate {
	return &Gate{limiter: l, class: class}
}

type Gate struct {
	limiter *Limiter
	class   Class
}

func (g *Gate) Allow(ctx context.Context, key string) (bool, error) {
	decision, err := g.limiter.Check(ctx, g.class, key)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}
