package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails, is
// gated off, or has an open circuit breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// errGated is recorded as the last error when an entry's gate rejects it.
var errGated = errors.New("resilience: provider unavailable")

// FallbackConfig configures the per-entry circuit breaker created for each
// provider in a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker and
// an optional availability gate.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
	gate    func() bool
}

// FallbackGroup wraps a primary and zero or more fallback instances of the
// same provider type. Entries are tried in registration order; an entry is
// skipped when its gate reports it unavailable or its breaker is open.
type FallbackGroup[T any] struct {
	cfg FallbackConfig

	mu      sync.RWMutex
	entries []*fallbackEntry[T]
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.mu.Lock()
	fg.entries = append(fg.entries, &fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
	fg.mu.Unlock()
}

// SetGate installs an availability check for the named entry. A nil gate
// removes it. It reports whether the entry exists.
func (fg *FallbackGroup[T]) SetGate(name string, gate func() bool) bool {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	for _, e := range fg.entries {
		if e.name == name {
			e.gate = gate
			return true
		}
	}
	return false
}

// Primary returns the first registered value.
func (fg *FallbackGroup[T]) Primary() T {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	return fg.entries[0].value
}

// Len returns the number of registered entries.
func (fg *FallbackGroup[T]) Len() int {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	return len(fg.entries)
}

func (fg *FallbackGroup[T]) snapshot() []*fallbackEntry[T] {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	return append([]*fallbackEntry[T](nil), fg.entries...)
}

// Execute tries fn against each entry in order until one succeeds. Returns
// [ErrAllFailed] wrapped with the last error if none does.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one
// succeeds, returning both the result value and error. This is a
// package-level function because Go does not support method-level type
// parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for _, entry := range fg.snapshot() {
		if entry.gate != nil && !entry.gate() {
			slog.Debug("resilience: skipping provider (gated off)", "provider", entry.name)
			lastErr = fmt.Errorf("%s: %w", entry.name, errGated)
			continue
		}
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("resilience: provider failed, trying next", "provider", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
