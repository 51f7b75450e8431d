package es

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy is capped exponential backoff with jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is the worker's retry behaviour when none is given.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Delay returns the backoff before the given attempt, starting at 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// WorkerOption configures a ProjectionWorker.
type WorkerOption func(*ProjectionWorker)

// WithRetryPolicy overrides the worker's retry behaviour.
func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *ProjectionWorker) {
		w.retry = policy
	}
}

// WithWorkerDeadLetters records events whose retries are exhausted.
func WithWorkerDeadLetters(store DeadLetterStore) WorkerOption {
	return func(w *ProjectionWorker) {
		w.deadLetters = store
	}
}

// WithWorkerLogger overrides the worker's logger.
func WithWorkerLogger(logger zerolog.Logger) WorkerOption {
	return func(w *ProjectionWorker) {
		w.logger = logger
	}
}

// NewProjectionWorker pumps a subscription into an event handler,
// retrying transient failures and dead-lettering events that keep
// failing. When the subscription tracks delivery, handled events are
// acknowledged.
func NewProjectionWorker(name string, sub Subscription, handler EventHandler, opts ...WorkerOption) *ProjectionWorker {
	w := &ProjectionWorker{
		name:    name,
		sub:     sub,
		handler: handler,
		retry:   DefaultRetryPolicy(),
		clock:   GetTimestamp,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProjectionWorker is the delivery loop between a bus subscription and a
// projection runner.
type ProjectionWorker struct {
	name        string
	sub         Subscription
	handler     EventHandler
	retry       RetryPolicy
	deadLetters DeadLetterStore
	clock       Clock
	logger      zerolog.Logger
}

// Run receives until the context is done or the subscription closes.
// A closed subscription is a clean shutdown, not an error.
func (w *ProjectionWorker) Run(ctx context.Context) error {
	l := w.logger.With().Str("worker", w.name).Logger()

	for {
		evt, err := w.sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrSubscriptionClosed) {
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return err
		}

		w.process(ctx, l, evt)

		if acker, ok := w.sub.(Acker); ok {
			if err := acker.Ack(ctx, evt); err != nil {
				l.Error().Err(err).Str("event", evt.String()).Msg("ack failed")
			}
		}
	}
}

func (w *ProjectionWorker) process(ctx context.Context, l zerolog.Logger, evt Event) {
	var last error
	for attempt := 1; attempt <= w.retry.MaxAttempts; attempt++ {
		last = w.handler.HandleEvent(ctx, evt)
		if last == nil {
			return
		}
		// Already dead-lettered by the runner; retrying cannot fix a
		// payload that does not decode.
		if errors.Is(last, ErrProjectionDeserialize) || errors.Is(last, ErrUnknownEvent) {
			l.Warn().Err(last).Str("event", evt.String()).Msg("event skipped")
			return
		}

		if attempt < w.retry.MaxAttempts {
			select {
			case <-time.After(w.retry.Delay(attempt)):
			case <-ctx.Done():
				return
			}
		}
	}

	l.Error().
		Err(last).
		Str("event", evt.String()).
		Int("attempts", w.retry.MaxAttempts).
		Msg("event failed after retries")

	if w.deadLetters != nil {
		letter := DeadLetter{
			ProjectionName: w.name,
			Event:          evt,
			Reason:         last.Error(),
			FailedAt:       w.clock(),
		}
		if err := w.deadLetters.Record(ctx, letter); err != nil {
			l.Error().Err(err).Str("event", evt.String()).Msg("record dead letter failed")
		}
	}
}
