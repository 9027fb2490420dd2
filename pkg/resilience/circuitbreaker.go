package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/thin-edge/tedge-core/pkg/errors"
)

// CircuitBreaker is the context-aware circuit breaker used by pkg/client/rest
// and any other caller that wants to gate a context-carrying Executor rather
// than a plain func() (interface{}, error). It shares the State/Config
// vocabulary declared in resilience.go.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu          sync.Mutex
	state       State
	failures    int64
	successes   int64
	lastFailure time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config,
// applying the same defaults as DefaultCircuitBreakerConfig for any zero
// field.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// ErrCircuitOpen is returned by Execute while the breaker is open and the
// timeout has not yet elapsed.
var ErrCircuitOpen = errors.Unavailable("circuit breaker open", nil)

// Execute runs fn under circuit breaker protection, short-circuiting with
// ErrCircuitOpen when the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn Executor) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err == nil)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) > cb.cfg.Timeout {
			cb.setState(StateHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if success {
			cb.failures = 0
			return
		}
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		if success {
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.setState(StateClosed)
			}
			return
		}
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	from := cb.state
	cb.state = s
	cb.failures = 0
	cb.successes = 0
	if s == StateOpen {
		cb.lastFailure = time.Now()
	}
	if cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(cb.cfg.Name, from, s)
	}
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
