package scheduler

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/ledger-sampler/internal/aggregate"
	"github.com/yourorg/ledger-sampler/internal/config"
	"github.com/yourorg/ledger-sampler/internal/export"
	"github.com/yourorg/ledger-sampler/internal/fetch"
	"github.com/yourorg/ledger-sampler/internal/model"
)

// Dispatcher is the write side of the time-series store
type Dispatcher interface {
	Dispatch(ctx context.Context, metrics model.ScalarMetricSet, tags map[string]string) error
}

// SystemContext owns the long-lived connections every tick reads from and writes to
type SystemContext struct {
	Ledger aggregate.LedgerSource

	// Relational is nil when no relational store is configured
	Relational aggregate.RelationalSource

	Sink Dispatcher

	closers []func()
}

// NewSystemContext bundles connections; closers run in reverse order on Close
func NewSystemContext(ledger aggregate.LedgerSource, relational aggregate.RelationalSource, sink Dispatcher, closers ...func()) *SystemContext {
	return &SystemContext{
		Ledger:     ledger,
		Relational: relational,
		Sink:       sink,
		closers:    closers,
	}
}

// Close releases every connection
func (s *SystemContext) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Dialer establishes all connections of one attempt, or none
type Dialer interface {
	Dial(ctx context.Context) (*SystemContext, error)
}

// DialFunc adapts a function to Dialer
type DialFunc func(ctx context.Context) (*SystemContext, error)

// Dial implements Dialer
func (f DialFunc) Dial(ctx context.Context) (*SystemContext, error) {
	return f(ctx)
}

// NewDialer connects to the ledger node, the time-series store and, when
// configured, the relational store. A failure closes whatever was opened.
func NewDialer(cfg *config.Config) Dialer {
	return DialFunc(func(ctx context.Context) (*SystemContext, error) {
		ledger, err := fetch.DialLedger(ctx, cfg.Ledger)
		if err != nil {
			return nil, err
		}

		sink, err := export.DialInflux(ctx, cfg.Influx)
		if err != nil {
			ledger.Close()
			return nil, err
		}

		if !cfg.Postgres.Enabled() {
			logrus.WithField("component", "scheduler").Info("Relational store not configured, relational metrics disabled")
			return NewSystemContext(ledger, nil, sink, ledger.Close, sink.Close), nil
		}

		pg, err := fetch.DialPostgres(ctx, cfg.Postgres)
		if err != nil {
			sink.Close()
			ledger.Close()
			return nil, err
		}
		return NewSystemContext(ledger, pg, sink, ledger.Close, sink.Close, pg.Close), nil
	})
}

// IsConnectionError reports whether err came from establishing a connection
func IsConnectionError(err error) bool {
	var fe *fetch.ConnectionError
	var ee *export.ConnectionError
	return errors.As(err, &fe) || errors.As(err, &ee)
}
