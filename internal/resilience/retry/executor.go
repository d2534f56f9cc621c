package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/steady/internal/metrics"
)

// DefaultOfflinePause is how long an attempt waits for connectivity before giving up.
const DefaultOfflinePause = 1 * time.Second

// NetworkState is the shared connectivity state the executor reads and updates.
type NetworkState interface {
	IsOnline() bool
	RecordFailure() int
	RecordSuccess()
	WaitOnline(ctx context.Context, d time.Duration) bool
}

// Executor runs operations with retry, backoff and an offline pause.
type Executor struct {
	network      NetworkState
	classifier   Classifier
	backoff      *Backoff
	offlinePause time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	observe      func(attempt int, s State)
	log          *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBackoff sets the backoff scheduler.
func WithBackoff(b *Backoff) ExecutorOption {
	return func(e *Executor) { e.backoff = b }
}

// WithOfflinePause sets how long an attempt waits for connectivity.
func WithOfflinePause(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.offlinePause = d
		}
	}
}

// WithSleep replaces the cancellable backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = fn }
}

// WithObserver receives every state transition.
func WithObserver(fn func(attempt int, s State)) ExecutorOption {
	return func(e *Executor) { e.observe = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

// NewExecutor creates an executor bound to the shared network state.
func NewExecutor(network NetworkState, opts ...ExecutorOption) *Executor {
	e := &Executor{
		network:      network,
		classifier:   NewClassifier(network),
		backoff:      NewBackoff(0),
		offlinePause: DefaultOfflinePause,
		sleep:        sleepContext,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Classifier returns the classifier bound to this executor's network state.
func (e *Executor) Classifier() Classifier {
	return e.classifier
}

// Execute runs op until it succeeds, fails terminally, or ctx is done.
// Terminal failures return the operation's error unchanged. Cancellation returns
// ctx.Err() without touching the network state.
func (e *Executor) Execute(ctx context.Context, op Operation, cfg Config) (any, error) {
	cfg = cfg.withDefaults()
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = e.classifier.ShouldRetry
	}

	var lastErr error
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, e.cancelled(attempt, err)
		}

		// An offline pause is not a failed attempt.
		if attempt > 0 && !e.network.IsOnline() {
			online := e.network.WaitOnline(ctx, e.offlinePause)
			if err := ctx.Err(); err != nil {
				return nil, e.cancelled(attempt, err)
			}
			if !online {
				e.log.Debug("Still offline, giving up", "attempt", attempt, "error", lastErr)
				e.transition(attempt, StateFailed)
				metrics.RetryOutcomes.WithLabelValues("offline").Inc()
				return nil, lastErr
			}
		}

		e.transition(attempt, StateAttempting)
		metrics.RetryAttempts.Inc()
		result, err := op(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, e.cancelled(attempt, ctxErr)
		}

		if err == nil {
			e.network.RecordSuccess()
			e.transition(attempt, StateDone)
			metrics.RetryOutcomes.WithLabelValues("success").Inc()
			return result, nil
		}

		lastErr = err
		failures := e.network.RecordFailure()

		if !shouldRetry(err, attempt) || attempt >= cfg.MaxRetries {
			e.log.Debug("Operation failed",
				"attempt", attempt,
				"failed_requests", failures,
				"kind", e.classifier.Kind(err).String(),
				"error", err,
			)
			e.transition(attempt, StateFailed)
			metrics.RetryOutcomes.WithLabelValues("failed").Inc()
			return nil, err
		}

		// While offline the pause at the top of the loop replaces the backoff.
		if e.network.IsOnline() {
			delay := e.backoff.ComputeDelay(
				attempt,
				cfg.InitialDelay,
				cfg.MaxDelay,
				cfg.BackoffMultiplier,
			)
			e.log.Debug("Retrying after backoff", "attempt", attempt, "delay", delay, "error", err)
			e.transition(attempt, StateWaiting)
			metrics.RetryBackoff.Observe(delay.Seconds())
			if err := e.sleep(ctx, delay); err != nil {
				return nil, e.cancelled(attempt, err)
			}
		}
		attempt++
	}
}

func (e *Executor) cancelled(attempt int, err error) error {
	e.transition(attempt, StateCancelled)
	metrics.RetryOutcomes.WithLabelValues("cancelled").Inc()
	return err
}

func (e *Executor) transition(attempt int, s State) {
	if e.observe != nil {
		e.observe(attempt, s)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
