package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulFidika/spinauth/core"
)

type fakeDB struct {
	mu    sync.Mutex
	args  [][]any
	block chan struct{}
	err   error
}

func (f *fakeDB) Exec(ctx context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return pgconn.CommandTag{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeDB) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.args)
}

func event(outcome string) core.AuthEvent {
	return core.AuthEvent{
		ID:            uuid.New(),
		OccurredAt:    time.Now().UTC(),
		EnvironmentID: "env",
		Outcome:       outcome,
		Subject:       "user-1",
	}
}

func TestPostgresSink_InsertsAndDrainsOnClose(t *testing.T) {
	db := &fakeDB{}
	s := NewPostgresSink(db)
	ev := event(core.OutcomeOK)
	require.NoError(t, s.LogAuthAttempt(context.Background(), ev))
	require.NoError(t, s.LogAuthAttempt(context.Background(), event("key_not_found")))
	require.NoError(t, s.Close(context.Background()))

	require.Equal(t, 2, db.count())
	assert.Equal(t, ev.ID, db.args[0][0])
	assert.Equal(t, core.OutcomeOK, db.args[0][3])
	assert.Len(t, db.args[0], 11)
}

func TestPostgresSink_DropsWhenFull(t *testing.T) {
	db := &fakeDB{block: make(chan struct{})}
	s := NewPostgresSink(db, WithBuffer(1))

	// One event may be held by the worker and one in the buffer; the rest drop.
	var dropped int
	for i := 0; i < 5; i++ {
		if err := s.LogAuthAttempt(context.Background(), event(core.OutcomeOK)); errors.Is(err, ErrQueueFull) {
			dropped++
		}
	}
	assert.GreaterOrEqual(t, dropped, 3)
	assert.EqualValues(t, dropped, s.Dropped())

	close(db.block)
	require.NoError(t, s.Close(context.Background()))
}

func TestPostgresSink_RejectsAfterClose(t *testing.T) {
	s := NewPostgresSink(&fakeDB{})
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
	assert.ErrorIs(t, s.LogAuthAttempt(context.Background(), event(core.OutcomeOK)), ErrClosed)
}

func TestPostgresSink_InsertErrorsAreLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := NewPostgresSink(&fakeDB{err: errors.New("relation does not exist")}, WithLogger(logger))
	require.NoError(t, s.LogAuthAttempt(context.Background(), event(core.OutcomeOK)))
	require.NoError(t, s.Close(context.Background()))

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "audit: insert failed", hook.LastEntry().Message)
}

func TestLogSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := NewLogSink(logger)
	ev := event(core.OutcomeOK)
	require.NoError(t, s.LogAuthAttempt(context.Background(), ev))

	e := hook.LastEntry()
	require.NotNil(t, e)
	assert.Equal(t, ev.ID.String(), e.Data["event_id"])
	assert.Equal(t, "user-1", e.Data["sub"])
}

type failingSink struct{ err error }

func (f failingSink) LogAuthAttempt(context.Context, core.AuthEvent) error { return f.err }

func TestMulti_CallsEverySink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	boom := errors.New("boom")
	m := Multi{failingSink{err: boom}, NewLogSink(logger)}

	err := m.LogAuthAttempt(context.Background(), event(core.OutcomeOK))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, hook.AllEntries(), 1)
}
