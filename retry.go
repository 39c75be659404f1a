package energylens

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// RetryConfig configures retry behaviour for outbound sinks.
type RetryConfig struct {
	// MaxAttempts includes the first attempt. Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay before the first retry. Default: 100ms
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the delay between retries. Default: 10s
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// Jitter spreads the backoff by ±Jitter. Default: 0.1
	Jitter float64 `yaml:"jitter"`

	// RetryIf decides whether an error is worth retrying. Nil retries everything.
	RetryIf func(error) bool `yaml:"-"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Jitter:         0.1,
		RetryIf:        IsRetryable,
	}
}

// Retryer runs an operation until it succeeds, gives up, or ctx ends.
type Retryer struct {
	config RetryConfig
}

// NewRetryer creates a retryer. Zero-valued settings take their defaults.
func NewRetryer(config RetryConfig) *Retryer {
	def := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		config.Jitter = def.Jitter
	}
	return &Retryer{config: config}
}

// RetryResult reports how a retried operation ended.
type RetryResult struct {
	Attempts int
	LastErr  error
}

// Do executes op with exponential backoff between attempts.
func (r *Retryer) Do(ctx context.Context, op func() error) RetryResult {
	backoff := r.config.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return RetryResult{Attempts: attempt}
		}
		if r.config.RetryIf != nil && !r.config.RetryIf(lastErr) {
			return RetryResult{Attempts: attempt, LastErr: lastErr}
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return RetryResult{Attempts: attempt, LastErr: ctx.Err()}
		case <-time.After(r.jitter(backoff)):
		}

		backoff *= 2
		if backoff > r.config.MaxBackoff {
			backoff = r.config.MaxBackoff
		}
	}
	return RetryResult{Attempts: r.config.MaxAttempts, LastErr: lastErr}
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, r *Retryer, op func() (T, error)) (T, RetryResult) {
	var out T
	res := r.Do(ctx, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, res
}

func (r *Retryer) jitter(d time.Duration) time.Duration {
	if r.config.Jitter == 0 {
		return d
	}
	spread := float64(d) * r.config.Jitter
	return time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"503",
	"502",
	"504",
	"429",
}

// IsRetryable reports whether err looks transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ErrCircuitOpen is returned while a circuit breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling a failing sink for resetTimeout after
// maxFailures consecutive failures. It is safe for concurrent use.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	openedAt     time.Time
	open         bool
	now          func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{maxFailures: maxFailures, resetTimeout: resetTimeout, now: time.Now}
}

// Execute runs op unless the breaker is open.
func (cb *CircuitBreaker) Execute(op func() error) error {
	cb.mu.Lock()
	if cb.open && cb.now().Sub(cb.openedAt) < cb.resetTimeout {
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	cb.mu.Unlock()

	err := op()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.failures = 0
		cb.open = false
		return nil
	}
	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.open = true
		cb.openedAt = cb.now()
	}
	return err
}

// State returns "closed", "open" or "half-open".
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case !cb.open:
		return "closed"
	case cb.now().Sub(cb.openedAt) < cb.resetTimeout:
		return "open"
	default:
		return "half-open"
	}
}

// Failures returns the current count of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
