package migrations

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecer struct {
	stmts []string
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.stmts = append(f.stmts, sql)
	return pgconn.CommandTag{}, f.err
}

func TestRegistryDiscoversAuthEvents(t *testing.T) {
	sorted := Migrations.Sorted()
	require.Len(t, sorted, 1)
	assert.Equal(t, "20260101000000", sorted[0].Name)
	assert.Equal(t, "auth_events", sorted[0].Comment)
}

func TestApply(t *testing.T) {
	db := &fakeExecer{}
	require.NoError(t, Apply(context.Background(), db))
	require.Len(t, db.stmts, 1)
	assert.Contains(t, db.stmts[0], "CREATE TABLE IF NOT EXISTS spinauth.auth_events")
}

func TestApply_PropagatesErrors(t *testing.T) {
	db := &fakeExecer{err: errors.New("boom")}
	err := Apply(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "20260101000000_auth_events.up.sql")
}
