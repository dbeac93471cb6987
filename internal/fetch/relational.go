package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/ledger-sampler/internal/config"
)

// rowQuerier is the subset of *pgxpool.Pool the relational source uses
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSource reads operational counters from the relational store
type PostgresSource struct {
	db    rowQuerier
	close func()
	log   *logrus.Entry

	activeSQL  string
	counterSQL string
	counterKey string
}

// DialPostgres opens a connection pool and verifies it with a ping
func DialPostgres(ctx context.Context, cfg config.PostgresConfig) (*PostgresSource, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, &ConnectionError{Target: "relational store", Err: fmt.Errorf("failed to parse connection settings: %w", err)}
	}
	poolCfg.MinConns = 0
	poolCfg.MaxConns = 2
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &ConnectionError{Target: "relational store", Err: fmt.Errorf("failed to create connection pool: %w", err)}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &ConnectionError{Target: "relational store", Err: fmt.Errorf("failed to ping: %w", err)}
	}

	src := newPostgresSource(pool, cfg)
	src.close = pool.Close
	src.log.WithField("database", cfg.Database).Info("Connected to relational store")
	return src, nil
}

func newPostgresSource(db rowQuerier, cfg config.PostgresConfig) *PostgresSource {
	accounts := pgx.Identifier{cfg.AccountsTable}.Sanitize()
	activity := pgx.Identifier{cfg.ActivityColumn}.Sanitize()
	counters := pgx.Identifier{cfg.CounterTable}.Sanitize()
	keyCol := pgx.Identifier{cfg.CounterKeyColumn}.Sanitize()
	valueCol := pgx.Identifier{cfg.CounterValueColumn}.Sanitize()

	return &PostgresSource{
		db:         db,
		close:      func() {},
		log:        logrus.WithFields(logrus.Fields{"component": "relational", "host": cfg.Host}),
		activeSQL:  fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s >= $1", accounts, activity),
		counterSQL: fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", valueCol, counters, keyCol),
		counterKey: cfg.CounterKey,
	}
}

// CountActiveAccounts counts accounts whose last transaction is inside the trailing window
func (s *PostgresSource) CountActiveAccounts(ctx context.Context, within time.Duration) (int64, error) {
	since := time.Now().Add(-within)

	var n int64
	if err := s.db.QueryRow(ctx, s.activeSQL, since).Scan(&n); err != nil {
		return 0, &RelationalQueryError{Op: "CountActiveAccounts", Err: err}
	}
	s.log.WithFields(logrus.Fields{"since": since.UTC().Format(time.RFC3339), "count": n}).Debug("Counted active accounts")
	return n, nil
}

// CountTransactions reads the precomputed transaction counter row
func (s *PostgresSource) CountTransactions(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, s.counterSQL, s.counterKey).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &RelationalQueryError{Op: "CountTransactions", Err: fmt.Errorf("%w: %q", ErrCounterRowMissing, s.counterKey)}
	}
	if err != nil {
		return 0, &RelationalQueryError{Op: "CountTransactions", Err: err}
	}
	s.log.WithField("count", n).Debug("Read transaction counter")
	return n, nil
}

// Close releases the pool
func (s *PostgresSource) Close() {
	s.close()
}
