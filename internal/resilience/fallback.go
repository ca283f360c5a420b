package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] either
// failed or sat behind an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup]. The CircuitBreaker template
// is cloned per backend with the backend's name filled in.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// Log receives skip and failover records. Nil means [slog.Default].
	Log *slog.Logger
}

// backend pairs one provider value with its dedicated breaker.
type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and any number of fallback instances of the
// same provider type. Calls walk the backends in registration order and
// stop at the first success; backends with an open breaker are skipped
// without being called.
//
// The backend list is fixed once the group is in use. Calls themselves are
// safe for concurrent use.
type FallbackGroup[T any] struct {
	backends []backend[T]
	cfg      FallbackConfig
	log      *slog.Logger
}

// NewFallbackGroup starts a group with primary as its first backend.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: log}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend. Backends are tried in the order added.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	if cbCfg.Log == nil {
		cbCfg.Log = fg.log
	}
	fg.backends = append(fg.backends, backend[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// primary returns the first backend's value and whether one exists.
func (fg *FallbackGroup[T]) primary() (T, bool) {
	if len(fg.backends) == 0 {
		var zero T
		return zero, false
	}
	return fg.backends[0].value, true
}

// noteFailure logs one backend's failed attempt at the appropriate level.
func (fg *FallbackGroup[T]) noteFailure(name string, err error) {
	if errors.Is(err, ErrCircuitOpen) {
		fg.log.Debug("skipping provider, circuit open", "provider", name)
		return
	}
	fg.log.Warn("provider failed, trying next", "provider", name, "error", err)
}

// Execute tries fn against each backend until one succeeds. When all of
// them fail the last error is wrapped in [ErrAllFailed].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. It is a free function because methods cannot add type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.backends {
		b := &fg.backends[i]
		var result R
		err := b.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(b.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		fg.noteFailure(b.name, err)
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
