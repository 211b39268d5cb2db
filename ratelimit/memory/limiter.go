package memorylimiter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Limit defines window and max count for a bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// DefaultLimit applies to buckets with no entry and no "default" entry.
var DefaultLimit = Limit{Limit: 60, Window: time.Minute}

// Limiter is an in-memory sliding-window rate limiter for a single node.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	buckets map[string][]int64 // request times in Unix ms, oldest first
	now     func() time.Time
}

// New constructs a limiter with the provided per-bucket limits.
func New(limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &Limiter{
		limits:  limits,
		buckets: make(map[string][]int64),
		now:     time.Now,
	}
}

func (l *Limiter) get(bucket string) Limit {
	if v, ok := l.limits[bucket]; ok {
		return v
	}
	if v, ok := l.limits["default"]; ok {
		return v
	}
	return DefaultLimit
}

// AllowNamed records a request by key against bucket and reports whether it
// is within the limit. Denied requests are not recorded. Empty buckets are
// removed so idle clients do not accumulate.
func (l *Limiter) AllowNamed(_ context.Context, bucket, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, errors.New("bucket and key required")
	}

	lim := l.get(bucket)
	nowMs := l.now().UnixMilli()
	windowStart := nowMs - lim.Window.Milliseconds()
	limitKey := bucket + ":" + key

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.buckets[limitKey]
	i := 0
	for i < len(ts) && ts[i] <= windowStart {
		i++
	}
	ts = ts[i:]

	if len(ts) >= lim.Limit {
		l.buckets[limitKey] = ts
		return false, nil
	}
	l.buckets[limitKey] = append(ts, nowMs)
	return true, nil
}

// Sweep drops buckets with no requests inside their window.
func (l *Limiter) Sweep() {
	nowMs := l.now().UnixMilli()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, ts := range l.buckets {
		if len(ts) == 0 || ts[len(ts)-1] <= nowMs-l.windowFor(k).Milliseconds() {
			delete(l.buckets, k)
		}
	}
}

func (l *Limiter) windowFor(limitKey string) time.Duration {
	bucket, _, _ := strings.Cut(limitKey, ":")
	return l.get(bucket).Window
}
