// Package retry drives outbound calls to completion: configurable
// backoff between attempts, provider-specified delays when the upstream
// names one, and a circuit breaker that stops hammering a failing
// endpoint.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/vietddude/qerrors/internal/metrics"
)

// ErrCircuitOpen reports that the breaker short-circuited the call and
// no attempt was made.
var ErrCircuitOpen = errors.New("circuit open")

// Policy defines retry behavior.
type Policy struct {
	Algorithm        Algorithm
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	JitterFactor     float64
	MaxAttempts      int
	FailureThreshold int
	CircuitTimeout   time.Duration
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	Algorithm:        AlgorithmExponential,
	BaseDelay:        1 * time.Second,
	MaxDelay:         30 * time.Second,
	JitterFactor:     0.1,
	MaxAttempts:      3,
	FailureThreshold: 5,
	CircuitTimeout:   30 * time.Second,
}

// Observer receives retry lifecycle events. Implementations must be
// safe for concurrent use.
type Observer interface {
	Attempt(attempt int)
	Success(attempt int, latency time.Duration)
	Failure(attempt int, err error)
	RetryScheduled(attempt int, delay time.Duration, source string)
	CircuitStateChanged(open bool)
	ShortCircuited(remaining time.Duration)
}

// Engine executes operations under one shared retry policy and circuit
// breaker. Breaker state spans calls: consecutive failures accumulate
// across them and any success resets the count.
type Engine struct {
	policy  Policy
	breaker *breaker
	obs     Observer
	log     *slog.Logger

	rand func() float64
	now  func() time.Time
}

// NewEngine creates an engine. A nil observer gets the logging default.
func NewEngine(policy Policy, obs Observer, log *slog.Logger) *Engine {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "retry")
	if obs == nil {
		obs = &logObserver{log: log}
	}

	return &Engine{
		policy:  policy,
		breaker: newBreaker(policy.FailureThreshold, policy.CircuitTimeout),
		obs:     obs,
		log:     log,
		rand:    rand.Float64,
		now:     time.Now,
	}
}

// State returns whether the breaker is open and the current consecutive
// failure count.
func (e *Engine) State() (open bool, failures int) {
	return e.breaker.open(), e.breaker.count()
}

// Execute runs op until it succeeds, a terminal error occurs, attempts
// are exhausted, or the circuit opens. The last error is surfaced.
func (e *Engine) Execute(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	proceed, remaining, closed := e.breaker.allow()
	if closed {
		e.obs.CircuitStateChanged(false)
	}
	if !proceed {
		e.obs.ShortCircuited(remaining)
		return nil, fmt.Errorf("%w, retry after %s", ErrCircuitOpen, remaining.Round(time.Millisecond))
	}

	var lastErr error
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		e.obs.Attempt(attempt)
		start := e.now()

		result, err := op(ctx)
		if err == nil {
			e.breaker.recordSuccess()
			e.obs.Success(attempt, e.now().Sub(start))
			return result, nil
		}

		lastErr = err
		e.obs.Failure(attempt, err)
		if e.breaker.recordFailure() {
			e.obs.CircuitStateChanged(true)
		}

		if !Retryable(err) {
			return nil, err
		}
		if attempt == e.policy.MaxAttempts-1 {
			break
		}
		if e.breaker.open() {
			return nil, fmt.Errorf("circuit opened after %d attempts: %w", attempt+1, lastErr)
		}

		delay, source := e.delay(attempt, err)
		e.obs.RetryScheduled(attempt, delay, source)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", e.policy.MaxAttempts, lastErr)
}

// delay picks the wait before the next attempt. Provider-specified
// delays win and skip jitter; computed backoff gets multiplicative
// jitter. Both are clamped to the policy maximum.
func (e *Engine) delay(attempt int, err error) (time.Duration, string) {
	if d, ok := providerDelay(err, e.now()); ok {
		if d > e.policy.MaxDelay {
			d = e.policy.MaxDelay
		}
		return d, "provider"
	}

	d := e.policy.backoffDelay(attempt, e.breaker.count())
	if e.policy.JitterFactor > 0 {
		d += time.Duration(float64(d) * e.policy.JitterFactor * e.rand())
	}
	if d > e.policy.MaxDelay {
		d = e.policy.MaxDelay
	}
	return d, "backoff"
}

type logObserver struct {
	log *slog.Logger
}

func (o *logObserver) Attempt(attempt int) {
	o.log.Debug("advice call attempt", "attempt", attempt)
}

func (o *logObserver) Success(attempt int, latency time.Duration) {
	o.log.Debug("advice call succeeded", "attempt", attempt, "latency", latency)
}

func (o *logObserver) Failure(attempt int, err error) {
	o.log.Warn("advice call failed", "attempt", attempt, "error", err)
}

func (o *logObserver) RetryScheduled(attempt int, delay time.Duration, source string) {
	metrics.RetriesScheduled.WithLabelValues(source).Inc()
	o.log.Debug("retry scheduled", "attempt", attempt, "delay", delay, "source", source)
}

func (o *logObserver) CircuitStateChanged(open bool) {
	state := "closed"
	v := 0.0
	if open {
		state = "open"
		v = 1.0
	}
	metrics.BreakerOpen.Set(v)
	metrics.BreakerTransitions.WithLabelValues(state).Inc()
	o.log.Warn("circuit breaker state changed", "state", state)
}

func (o *logObserver) ShortCircuited(remaining time.Duration) {
	o.log.Warn("circuit open, call short-circuited", "retry_after", remaining.Round(time.Millisecond))
}
