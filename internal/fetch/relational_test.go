package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/ledger-sampler/internal/config"
)

type fakeRow struct {
	value int64
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.value
	return nil
}

type fakeQuerier struct {
	row  fakeRow
	sql  string
	args []any
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.sql = sql
	q.args = args
	return q.row
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:               "db",
		AccountsTable:      "accounts",
		ActivityColumn:     "last_transaction_at",
		CounterTable:       "counters",
		CounterKeyColumn:   "name",
		CounterValueColumn: "value",
		CounterKey:         "transaction_info_count",
	}
}

func TestCountActiveAccounts(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{value: 17}}
	src := newPostgresSource(q, testPostgresConfig())

	before := time.Now()
	n, err := src.CountActiveAccounts(context.Background(), 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	assert.Equal(t, `SELECT COUNT(*) FROM "accounts" WHERE "last_transaction_at" >= $1`, q.sql)
	require.Len(t, q.args, 1)
	since, ok := q.args[0].(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(-72*time.Hour), since, time.Minute)
}

func TestCountActiveAccounts_Error(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: errors.New("relation does not exist")}}
	_, err := newPostgresSource(q, testPostgresConfig()).CountActiveAccounts(context.Background(), time.Hour)

	var re *RelationalQueryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "CountActiveAccounts", re.Op)
}

func TestCountTransactions(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{value: 123456}}
	n, err := newPostgresSource(q, testPostgresConfig()).CountTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(123456), n)
	assert.Equal(t, `SELECT "value" FROM "counters" WHERE "name" = $1`, q.sql)
	assert.Equal(t, []any{"transaction_info_count"}, q.args)
}

func TestCountTransactions_MissingRow(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
	_, err := newPostgresSource(q, testPostgresConfig()).CountTransactions(context.Background())

	var re *RelationalQueryError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, ErrCounterRowMissing)
	assert.NotErrorIs(t, err, pgx.ErrNoRows)
}

func TestNewPostgresSource_QuotesIdentifiers(t *testing.T) {
	cfg := testPostgresConfig()
	cfg.AccountsTable = `acc"ounts`
	q := &fakeQuerier{row: fakeRow{}}
	_, err := newPostgresSource(q, cfg).CountActiveAccounts(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Contains(t, q.sql, `"acc""ounts"`)
}
