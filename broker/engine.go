package broker

import (
	"context"
	"log/slog"
	"time"
)

// Engine exposes the four core operations: AssignLeadToBuyer, CreditBuyer,
// AutoAssign and the matcher. It holds no mutable state of its own; the
// datastore behind Store is the only shared resource.
type Engine struct {
	Store   TxStore
	Ledger  *Ledger
	Matcher *Matcher
	Retry   RetryPolicy
	Events  EventPublisher
	Logger  *slog.Logger

	now func() time.Time
}

// NewEngine wires an engine with default retry policy and no event sink.
func NewEngine(store TxStore) *Engine {
	return &Engine{
		Store:   store,
		Ledger:  NewLedger(),
		Matcher: NewMatcher(store),
		Retry:   DefaultRetryPolicy(),
		Events:  NopPublisher{},
		Logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Engine) events() EventPublisher {
	if e.Events == nil {
		return NopPublisher{}
	}
	return e.Events
}

// =============================================================================
// RETRY POLICY
// =============================================================================

// RetryPolicy bounds retries of retryable failures with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
}

// Do runs fn until it succeeds, returns an error rejected by retryable,
// exhausts MaxAttempts, or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		} else if ctx.Err() != nil {
			return err
		}
	}
	return err
}
