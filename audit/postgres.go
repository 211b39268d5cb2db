package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/spinauth/core"
)

// ErrQueueFull is returned when the Postgres sink is saturated and drops an event.
var ErrQueueFull = errors.New("audit: queue full, event dropped")

// ErrClosed is returned for events logged after Close.
var ErrClosed = errors.New("audit: sink closed")

// Execer is satisfied by *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertEvent = `INSERT INTO spinauth.auth_events
    (id, occurred_at, environment_id, outcome, detail, subject, key_id, token_fingerprint, client_ip, user_agent, request_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// PostgresSink inserts auth events into spinauth.auth_events from a single
// background worker. LogAuthAttempt never blocks the request path: when the
// buffer is full the event is dropped and counted.
type PostgresSink struct {
	db      Execer
	log     logrus.FieldLogger
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	queue   chan core.AuthEvent
	done    chan struct{}
	dropped atomic.Int64
}

type PostgresOption func(*PostgresSink)

// WithBuffer sets the queue length (default 1024).
func WithBuffer(n int) PostgresOption {
	return func(s *PostgresSink) {
		if n > 0 {
			s.queue = make(chan core.AuthEvent, n)
		}
	}
}

// WithInsertTimeout bounds each INSERT (default 5s).
func WithInsertTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresSink) { s.timeout = d }
}

func WithLogger(l logrus.FieldLogger) PostgresOption {
	return func(s *PostgresSink) { s.log = l }
}

// NewPostgresSink starts the insert worker. Call Close to drain and stop it.
func NewPostgresSink(db Execer, opts ...PostgresOption) *PostgresSink {
	s := &PostgresSink{
		db:      db,
		log:     logrus.StandardLogger(),
		timeout: 5 * time.Second,
		queue:   make(chan core.AuthEvent, 1024),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

func (s *PostgresSink) LogAuthAttempt(_ context.Context, ev core.AuthEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- ev:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (s *PostgresSink) Dropped() int64 { return s.dropped.Load() }

func (s *PostgresSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		s.insert(ev)
	}
}

func (s *PostgresSink) insert(ev core.AuthEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err := s.db.Exec(ctx, insertEvent,
		ev.ID, ev.OccurredAt, ev.EnvironmentID, ev.Outcome, ev.Detail, ev.Subject,
		ev.KeyID, ev.TokenFingerprint, ev.ClientIP, ev.UserAgent, ev.RequestID)
	if err != nil {
		s.log.WithError(err).WithField("event_id", ev.ID.String()).Warn("audit: insert failed")
	}
}

// Close stops accepting events and waits for queued ones to be written or
// for ctx to end.
func (s *PostgresSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
