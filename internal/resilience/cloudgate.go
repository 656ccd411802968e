package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Cloud breaker defaults: three consecutive failures take the cloud route
// out of rotation for thirty seconds.
const (
	cloudMaxFailures  = 3
	cloudResetTimeout = 30 * time.Second
)

// ErrCloudUnavailable is returned by [CloudGate.Recognize] when no cloud
// recognizer is configured or the operator has disabled it.
var ErrCloudUnavailable = errors.New("resilience: cloud recognizer unavailable")

// Compile-time interface assertion.
var _ stt.Recognizer = (*CloudGate)(nil)

// CloudGate guards the cloud recognition route. The route is available when a
// recognizer is configured, the operator flag is on, and the breaker admits
// calls.
type CloudGate struct {
	rec     stt.Recognizer
	breaker *CircuitBreaker
	enabled atomic.Bool
}

// NewCloudGate wraps rec, which may be nil when no cloud recognizer is
// configured. Zero-value breaker settings fall back to three failures and a
// thirty second reset. The gate starts enabled.
func NewCloudGate(rec stt.Recognizer, cfg CircuitBreakerConfig) *CloudGate {
	if cfg.Name == "" {
		cfg.Name = "cloud-stt"
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = cloudMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = cloudResetTimeout
	}
	g := &CloudGate{rec: rec, breaker: NewCircuitBreaker(cfg)}
	g.enabled.Store(true)
	return g
}

// SetEnabled flips the operator flag.
func (g *CloudGate) SetEnabled(on bool) { g.enabled.Store(on) }

// Enabled reports the operator flag and whether a recognizer is configured.
// It ignores the breaker.
func (g *CloudGate) Enabled() bool { return g.rec != nil && g.enabled.Load() }

// Available reports whether a segment may be routed to the cloud now.
func (g *CloudGate) Available() bool { return g.Enabled() && g.breaker.Allow() }

// State returns the breaker state.
func (g *CloudGate) State() State { return g.breaker.State() }

// Recognize forwards to the cloud recognizer through the breaker. A panic in
// the recognizer counts as a failure and is returned as an error. Caller
// cancellation is not held against the backend.
func (g *CloudGate) Recognize(ctx context.Context, samples []float32, onPartial func(string)) (text string, err error) {
	if !g.Enabled() {
		return "", ErrCloudUnavailable
	}
	var callErr error
	err = g.breaker.Execute(func() (failure error) {
		defer func() {
			if r := recover(); r != nil {
				callErr = fmt.Errorf("resilience: cloud recognizer panicked: %v", r)
				failure = callErr
			}
		}()
		text, callErr = g.rec.Recognize(ctx, samples, onPartial)
		if errors.Is(callErr, context.Canceled) {
			return nil
		}
		return callErr
	})
	if err != nil {
		return "", err
	}
	if callErr != nil {
		return "", callErr
	}
	return text, nil
}
