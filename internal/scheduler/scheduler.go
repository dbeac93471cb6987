package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/ledger-sampler/internal/aggregate"
	"github.com/yourorg/ledger-sampler/internal/model"
	"github.com/yourorg/ledger-sampler/internal/otel"
)

// DefaultPeriod is the interval between ticks
const DefaultPeriod = 600 * time.Second

// Collector builds one metric set from the connected sources
type Collector interface {
	Collect(ctx context.Context, ledger aggregate.LedgerSource, relational aggregate.RelationalSource) (model.ScalarMetricSet, error)
}

// Observer receives lifecycle events, e.g. for self metrics
type Observer interface {
	StateChanged(state string)
	ConnectAttempt(attempt int, err error)
	TickFinished(outcome string, d time.Duration, set model.ScalarMetricSet, err error)
}

// Options tune a Scheduler; zero values fall back to defaults
type Options struct {
	Period      time.Duration
	TickTimeout time.Duration
	Backoff     Backoff

	// Tags are added to every dispatched point
	Tags map[string]string

	Observer Observer

	// Sleep waits between connection attempts; it must return early when ctx is done
	Sleep func(ctx context.Context, d time.Duration) error
}

// Scheduler drives the connect, schedule and tick lifecycle
type Scheduler struct {
	dialer    Dialer
	collector Collector
	opts      Options
	state     atomic.Int32
	log       *logrus.Entry
}

// New creates a Scheduler in the Disconnected state
func New(dialer Dialer, collector Collector, opts Options) *Scheduler {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Backoff == nil {
		opts.Backoff = FixedBackoff{Wait: DefaultRetryDelay}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Scheduler{
		dialer:    dialer,
		collector: collector,
		opts:      opts,
		log:       logrus.WithField("component", "scheduler"),
	}
}

// State returns the current lifecycle state
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	if State(s.state.Swap(int32(st))) != st {
		s.opts.Observer.StateChanged(st.String())
	}
}

// Connect retries the dialer until it succeeds or ctx is done. Any failure
// sends the whole attempt back to Disconnected and waits one backoff delay.
func (s *Scheduler) Connect(ctx context.Context) (*SystemContext, error) {
	for attempt := 1; ; attempt++ {
		s.setState(StateConnecting)
		sys, err := s.dialer.Dial(ctx)
		s.opts.Observer.ConnectAttempt(attempt, err)
		if err == nil {
			s.setState(StateConnected)
			s.log.WithField("attempt", attempt).Info("Connected to all sources")
			return sys, nil
		}

		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay := s.opts.Backoff.Delay(attempt)
		s.log.WithError(err).WithFields(logrus.Fields{
			"attempt":     attempt,
			"retry_in":    delay.String(),
			"unreachable": IsConnectionError(err),
		}).Warn("Connection attempt failed, retrying")

		if err := s.opts.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// tickError carries the outcome of a failed tick
type tickError struct {
	outcome string
	err     error
}

func (e *tickError) Error() string { return e.err.Error() }
func (e *tickError) Unwrap() error { return e.err }

// Tick runs one collect and dispatch cycle against sys. A panic anywhere in
// the cycle is returned as a tick error with the panic outcome.
func (s *Scheduler) Tick(ctx context.Context, sys *SystemContext) (set model.ScalarMetricSet, err error) {
	ctx, span := otel.Tracer().Start(ctx, "tick")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			set = model.ScalarMetricSet{}
			err = &tickError{outcome: OutcomePanic, err: fmt.Errorf("tick panicked: %v", r)}
			otel.RecordError(ctx, err)
		}
	}()

	set, err = s.collect(ctx, sys)
	if err != nil {
		otel.RecordError(ctx, err)
		return model.ScalarMetricSet{}, &tickError{outcome: OutcomeCollectError, err: err}
	}

	if err := s.dispatch(ctx, sys, set); err != nil {
		otel.RecordError(ctx, err)
		return model.ScalarMetricSet{}, &tickError{outcome: OutcomeDispatchError, err: fmt.Errorf("dispatch: %w", err)}
	}
	return set, nil
}

func (s *Scheduler) collect(ctx context.Context, sys *SystemContext) (model.ScalarMetricSet, error) {
	ctx, span := otel.Tracer().Start(ctx, "collect")
	defer span.End()
	set, err := s.collector.Collect(ctx, sys.Ledger, sys.Relational)
	if err != nil {
		otel.RecordError(ctx, err)
	}
	return set, err
}

func (s *Scheduler) dispatch(ctx context.Context, sys *SystemContext, set model.ScalarMetricSet) error {
	ctx, span := otel.Tracer().Start(ctx, "dispatch")
	defer span.End()
	err := sys.Sink.Dispatch(ctx, set, s.opts.Tags)
	if err != nil {
		otel.RecordError(ctx, err)
	}
	return err
}

// runTick is the scheduled job body; errors end here and never reach the schedule
func (s *Scheduler) runTick(ctx context.Context, sys *SystemContext) {
	if ctx.Err() != nil {
		return
	}
	if s.opts.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TickTimeout)
		defer cancel()
	}

	start := time.Now()
	set, err := s.Tick(ctx, sys)
	elapsed := time.Since(start)

	outcome := OutcomeSuccess
	if te, ok := err.(*tickError); ok {
		outcome = te.outcome
	}
	s.opts.Observer.TickFinished(outcome, elapsed, set, err)

	entry := s.log.WithFields(logrus.Fields{
		"outcome":  outcome,
		"duration": elapsed.String(),
	})
	if err != nil {
		entry.WithError(err).Error("tick failed")
		return
	}
	entry.WithField("metrics", set.Len()).Info("tick completed")
}

// Run connects, then fires a tick immediately and every period until ctx is
// done. A tick that would start while another is running is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	sys, err := s.Connect(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	logger := cronLogger{
		log: s.log,
		onSkip: func() {
			s.opts.Observer.TickFinished(OutcomeSkipped, 0, model.ScalarMetricSet{}, nil)
			s.log.WithField("outcome", OutcomeSkipped).Warn("tick skipped, previous tick still running")
		},
	}
	job := cron.NewChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	).Then(cron.FuncJob(func() { s.runTick(ctx, sys) }))

	c := cron.New(cron.WithLogger(logger))
	c.Schedule(cron.Every(s.opts.Period), job)

	s.setState(StateScheduled)
	s.log.WithField("period", s.opts.Period.String()).Info("Sampling scheduled")
	c.Start()

	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		job.Run()
	}()

	<-ctx.Done()
	s.log.Info("Stopping scheduler")
	<-c.Stop().Done()
	first.Wait()
	return nil
}

// RunOnce makes a single connection attempt and runs exactly one tick
func (s *Scheduler) RunOnce(ctx context.Context) (model.ScalarMetricSet, error) {
	s.setState(StateConnecting)
	sys, err := s.dialer.Dial(ctx)
	s.opts.Observer.ConnectAttempt(1, err)
	if err != nil {
		s.setState(StateDisconnected)
		return model.ScalarMetricSet{}, err
	}
	defer sys.Close()
	s.setState(StateConnected)

	return s.Tick(ctx, sys)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopObserver struct{}

func (nopObserver) StateChanged(string)       {}
func (nopObserver) ConnectAttempt(int, error) {}

func (nopObserver) TickFinished(string, time.Duration, model.ScalarMetricSet, error) {}
