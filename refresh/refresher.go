// Package refresh keeps an environment's JWKS warm by refetching it on a
// schedule, so request-path lookups rarely miss the cache.
package refresh

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// KeyRefresher is implemented by *jwks.Resolver.
type KeyRefresher interface {
	Refresh(ctx context.Context, environmentID string) error
}

// Refresher runs KeyRefresher.Refresh for a set of environments at a fixed
// interval. Overlapping runs are skipped.
type Refresher struct {
	keys         KeyRefresher
	environments []string
	interval     time.Duration
	timeout      time.Duration
	log          logrus.FieldLogger
	cron         *cron.Cron
}

type Option func(*Refresher)

func WithLogger(l logrus.FieldLogger) Option { return func(r *Refresher) { r.log = l } }

// WithTimeout bounds each refresh run (default: the interval).
func WithTimeout(d time.Duration) Option { return func(r *Refresher) { r.timeout = d } }

// New builds a refresher. Intervals below one second are rounded up by the
// scheduler.
func New(keys KeyRefresher, interval time.Duration, environments []string, opts ...Option) *Refresher {
	r := &Refresher{
		keys:         keys,
		environments: environments,
		interval:     interval,
		timeout:      interval,
		log:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	logger := cron.PrintfLogger(r.log)
	r.cron = cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	r.cron.Schedule(cron.Every(interval), cron.FuncJob(r.RunOnce))
	return r
}

// Start warms the cache once synchronously, then starts the schedule.
// The warm-up error is returned but does not stop the schedule.
func (r *Refresher) Start(ctx context.Context) error {
	err := r.refreshAll(ctx)
	r.cron.Start()
	return err
}

// Stop halts the schedule and waits for a running refresh to finish or ctx
// to end.
func (r *Refresher) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce refreshes every environment once.
func (r *Refresher) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_ = r.refreshAll(ctx)
}

func (r *Refresher) refreshAll(ctx context.Context) error {
	var first error
	for _, env := range r.environments {
		if err := r.keys.Refresh(ctx, env); err != nil {
			r.log.WithError(err).WithField("environment_id", env).Warn("refresh: jwks refresh failed")
			if first == nil {
				first = err
			}
			continue
		}
		r.log.WithField("environment_id", env).Debug("refresh: jwks refreshed")
	}
	return first
}
