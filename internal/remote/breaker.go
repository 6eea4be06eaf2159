package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/answerdesk/internal/config"
)

// BreakerState is the state of the answer service circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every call through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerHalfOpen lets probe calls through after the open timeout.
	BreakerHalfOpen
	// BreakerOpen rejects calls without touching the network.
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned for calls rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// minErrorRateSamples is the number of calls a window needs before its error
// rate can trip the breaker.
const minErrorRateSamples = 10

// Breaker trips on consecutive failures or on the error rate of a tumbling
// window. It is safe for concurrent use.
type Breaker struct {
	mu       sync.Mutex
	state    BreakerState
	failures int
	probes   int
	openedAt time.Time

	failureThreshold   int
	successThreshold   int
	openTimeout        time.Duration
	errorRateThreshold float64
	errorRateWindow    time.Duration

	windowStart    time.Time
	windowTotal    int
	windowFailures int

	onChange func(BreakerState)
	now      func() time.Time
}

// NewBreaker creates a breaker from cfg. Zero thresholds fall back to 5
// failures, 2 probe successes and a 30s open timeout; a zero error-rate
// threshold or window disables rate-based tripping. onChange, if set, is
// called with every new state.
func NewBreaker(cfg config.CircuitBreakerConfig, onChange func(BreakerState)) *Breaker {
	b := &Breaker{
		failureThreshold:   cfg.FailureThreshold,
		successThreshold:   cfg.SuccessThreshold,
		openTimeout:        cfg.Timeout,
		errorRateThreshold: cfg.ErrorRateThreshold,
		errorRateWindow:    cfg.ErrorRateWindow,
		onChange:           onChange,
		now:                time.Now,
	}
	if b.failureThreshold < 1 {
		b.failureThreshold = 5
	}
	if b.successThreshold < 1 {
		b.successThreshold = 2
	}
	if b.openTimeout <= 0 {
		b.openTimeout = 30 * time.Second
	}
	b.windowStart = b.now()
	return b
}

// Allow returns ErrCircuitOpen while the breaker is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireOpen()
	if b.state == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Success records a call that reached the service and did not fail with a
// server error.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
		b.countCall(false)
	case BreakerHalfOpen:
		b.probes++
		if b.probes >= b.successThreshold {
			b.failures = 0
			b.probes = 0
			b.resetWindow()
			b.setState(BreakerClosed)
		}
	}
}

// Failure records a transport failure or server error.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		b.countCall(true)
		if b.failures >= b.failureThreshold || b.rateExceeded() {
			b.trip()
		}
	case BreakerHalfOpen:
		b.trip()
	}
}

// State returns the current state, moving Open to HalfOpen once the open
// timeout has passed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireOpen()
	return b.state
}

// ErrorRate returns the failure ratio and call count of the current window.
func (b *Breaker) ErrorRate() (rate float64, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollWindow()
	if b.windowTotal == 0 {
		return 0, 0
	}
	return float64(b.windowFailures) / float64(b.windowTotal), b.windowTotal
}

// HealthCheck reports ErrCircuitOpen while the breaker is open, so the
// readiness endpoint reflects an unavailable answer service.
func (b *Breaker) HealthCheck(context.Context) error {
	if b.State() == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// The helpers below must be called with mu held.

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.probes = 0
	b.resetWindow()
	b.setState(BreakerOpen)
}

func (b *Breaker) expireOpen() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) > b.openTimeout {
		b.probes = 0
		b.setState(BreakerHalfOpen)
	}
}

func (b *Breaker) setState(s BreakerState) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onChange != nil {
		b.onChange(s)
	}
}

func (b *Breaker) countCall(failed bool) {
	if b.errorRateWindow <= 0 {
		return
	}
	b.rollWindow()
	b.windowTotal++
	if failed {
		b.windowFailures++
	}
}

func (b *Breaker) rollWindow() {
	if b.errorRateWindow > 0 && b.now().Sub(b.windowStart) > b.errorRateWindow {
		b.resetWindow()
	}
}

func (b *Breaker) resetWindow() {
	b.windowStart = b.now()
	b.windowTotal = 0
	b.windowFailures = 0
}

func (b *Breaker) rateExceeded() bool {
	if b.errorRateThreshold <= 0 || b.errorRateWindow <= 0 || b.windowTotal < minErrorRateSamples {
		return false
	}
	return float64(b.windowFailures)/float64(b.windowTotal) >= b.errorRateThreshold
}
