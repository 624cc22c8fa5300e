package pipeline

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/cognicore/larder/pkg/larder/internalerr"
)

// Stage defaults.
const (
	DefaultQueueSize      = 100
	DefaultPollTimeout    = 100 * time.Millisecond
	DefaultMaxIdleRetries = 2
	DefaultIdleBackoff    = time.Second
)

var (
	// ErrDownstreamClosed is returned by a stage that produced an item after
	// the next stage had already exited.
	ErrDownstreamClosed = errors.New("downstream stage closed")
	// ErrAlreadyRunning is returned when Run is called twice on a stage.
	ErrAlreadyRunning = errors.New("stage already running")
)

// ProcessFunc transforms one item. A nil result with a nil error means there
// is nothing to pass on.
type ProcessFunc func(ctx context.Context, in any) (any, error)

// message travels on stage queues. stop marks the end of input.
type message struct {
	payload any
	stop    bool
}

var stopMessage = message{stop: true}

// StageStats counts what a stage did with its input.
type StageStats struct {
	Name     string
	Received int64
	Emitted  int64
	Skipped  int64
	Failed   int64
}

// StageOption configures a Stage.
type StageOption func(*Stage)

// WithQueueSize sets the capacity of the stage's input queue.
func WithQueueSize(n int) StageOption {
	return func(s *Stage) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithPollTimeout sets how long the stage waits for an item before counting
// an idle cycle.
func WithPollTimeout(d time.Duration) StageOption {
	return func(s *Stage) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

// WithMaxIdleRetries sets how many idle backoffs the stage tolerates before
// it exits.
func WithMaxIdleRetries(n int) StageOption {
	return func(s *Stage) {
		if n >= 0 {
			s.maxIdleRetries = n
		}
	}
}

// WithIdleBackoff sets the base of the idle backoff; the n-th wait is
// base * e^n.
func WithIdleBackoff(d time.Duration) StageOption {
	return func(s *Stage) {
		if d >= 0 {
			s.idleBackoff = d
		}
	}
}

// WithItemRetry retries an item whose error is retryable, up to attempts
// calls in total, with exponential backoff starting at initial.
func WithItemRetry(attempts int, initial time.Duration) StageOption {
	return func(s *Stage) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if initial > 0 {
			s.retryInitial = initial
		}
	}
}

// WithStageLogger sets the stage logger.
func WithStageLogger(l *zap.Logger) StageOption {
	return func(s *Stage) { s.logger = l }
}

// Stage is one concurrent step of a Pipeline: a bounded input queue, an
// optional downstream stage and a transform.
type Stage struct {
	name    string
	process ProcessFunc

	queueSize      int
	pollTimeout    time.Duration
	maxIdleRetries int
	idleBackoff    time.Duration
	attempts       int
	retryInitial   time.Duration
	logger         *zap.Logger
	sleep          func(ctx context.Context, d time.Duration) error

	in      chan message
	prev    *Stage
	next    *Stage
	done    chan struct{}
	started atomic.Bool

	received atomic.Int64
	emitted  atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

// NewStage creates a stage named name around fn.
func NewStage(name string, fn ProcessFunc, opts ...StageOption) *Stage {
	s := &Stage{
		name:           name,
		process:        fn,
		queueSize:      DefaultQueueSize,
		pollTimeout:    DefaultPollTimeout,
		maxIdleRetries: DefaultMaxIdleRetries,
		idleBackoff:    DefaultIdleBackoff,
		attempts:       1,
		retryInitial:   100 * time.Millisecond,
		sleep:          sleepContext,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.in = make(chan message, s.queueSize)
	return s
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.name }

// Done is closed when the run loop has exited.
func (s *Stage) Done() <-chan struct{} { return s.done }

// Stats returns a snapshot of the stage counters.
func (s *Stage) Stats() StageStats {
	return StageStats{
		Name:     s.name,
		Received: s.received.Load(),
		Emitted:  s.emitted.Load(),
		Skipped:  s.skipped.Load(),
		Failed:   s.failed.Load(),
	}
}

// Run consumes the input queue until a stop signal arrives, the stage goes
// idle, a fatal error occurs or ctx ends. Stop and idle exits forward the
// stop signal downstream and return nil.
func (s *Stage) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	timer := time.NewTimer(s.pollTimeout)
	defer timer.Stop()

	idle := 0
	for {
		timer.Reset(s.pollTimeout)

		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg := <-s.in:
			if msg.stop {
				s.logger.Debug("stop signal received")
				return s.forwardStop(ctx)
			}
			idle = 0
			if err := s.handle(ctx, msg.payload); err != nil {
				if !errors.Is(err, ErrDownstreamClosed) {
					_ = s.forwardStop(ctx)
				}
				return err
			}

		case <-timer.C:
			// A downstream stage waits for as long as its producer runs; the
			// producer forwards the stop signal when it exits.
			if s.prev != nil && !s.prev.exited() {
				idle = 0
				continue
			}
			if idle >= s.maxIdleRetries {
				s.logger.Info("stage idle, exiting", zap.Int("idle_retries", idle))
				return s.forwardStop(ctx)
			}
			wait := time.Duration(float64(s.idleBackoff) * math.Exp(float64(idle)))
			s.logger.Debug("stage idle, backing off", zap.Duration("wait", wait))
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
			idle++
		}
	}
}

func (s *Stage) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// handle processes one item. It returns an error only when the stage must
// stop.
func (s *Stage) handle(ctx context.Context, payload any) error {
	s.received.Add(1)

	out, err := s.call(ctx, payload)
	if err != nil {
		s.failed.Add(1)
		if internalerr.IsFatal(err) {
			s.logger.Error("fatal error, stopping stage", zap.Error(err))
			return err
		}
		s.logger.Warn("item failed", zap.Error(err))
		return nil
	}
	if out == nil {
		s.skipped.Add(1)
		return nil
	}
	if s.next == nil {
		s.emitted.Add(1)
		return nil
	}
	if s.next.exited() {
		return s.dropped()
	}

	select {
	case s.next.in <- message{payload: out}:
		s.emitted.Add(1)
		return nil
	case <-s.next.done:
		return s.dropped()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stage) dropped() error {
	s.failed.Add(1)
	s.logger.Warn("downstream stage exited, dropping item", zap.String("downstream", s.next.name))
	return ErrDownstreamClosed
}

// call invokes the transform, retrying retryable errors when configured.
func (s *Stage) call(ctx context.Context, payload any) (any, error) {
	if s.attempts <= 1 {
		return s.process(ctx, payload)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInitial
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.attempts-1)), ctx)

	var out any
	err := backoff.RetryNotify(func() error {
		var err error
		out, err = s.process(ctx, payload)
		if err != nil && !internalerr.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, d time.Duration) {
		s.logger.Debug("retrying item", zap.Error(err), zap.Duration("backoff", d))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Stage) forwardStop(ctx context.Context) error {
	if s.next == nil {
		return nil
	}
	select {
	case s.next.in <- stopMessage:
		return nil
	case <-s.next.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
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
