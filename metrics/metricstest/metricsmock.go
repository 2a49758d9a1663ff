// Package metricstest provides an in-memory implementation of the
// intercept.Metrics interface, for tests.
package metricstest

import (
	"sync"
	"time"
)

// MockMetrics records the counters as handler.name keys, and the
// finalization durations per handler.
type MockMetrics struct {
	mu sync.Mutex

	outcomes map[string]int64
	errors   map[string]int64
	measures map[string][]time.Duration

	// Now is used instead of the current time when set.
	Now time.Time
}

func key(handler, name string) string {
	return handler + "." + name
}

// WithOutcomes calls f with the outcome counters, while holding the lock.
func (m *MockMetrics) WithOutcomes(f func(outcomes map[string]int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int64)
	}

	f(m.outcomes)
}

// WithErrors calls f with the error counters, while holding the lock.
func (m *MockMetrics) WithErrors(f func(errors map[string]int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = make(map[string]int64)
	}

	f(m.errors)
}

// WithMeasures calls f with the finalization durations, while holding
// the lock.
func (m *MockMetrics) WithMeasures(f func(measures map[string][]time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.measures == nil {
		m.measures = make(map[string][]time.Duration)
	}

	f(m.measures)
}

// Outcome returns the counter of an outcome.
func (m *MockMetrics) Outcome(handler, outcome string) (n int64) {
	m.WithOutcomes(func(outcomes map[string]int64) { n = outcomes[key(handler, outcome)] })
	return
}

// Error returns the counter of an error kind.
func (m *MockMetrics) Error(handler, kind string) (n int64) {
	m.WithErrors(func(errors map[string]int64) { n = errors[key(handler, kind)] })
	return
}

// Finalized returns the number of measured finalizations.
func (m *MockMetrics) Finalized(handler string) (n int) {
	m.WithMeasures(func(measures map[string][]time.Duration) { n = len(measures[handler]) })
	return
}

func (m *MockMetrics) IncOutcome(handler, outcome string) {
	m.WithOutcomes(func(outcomes map[string]int64) { outcomes[key(handler, outcome)]++ })
}

func (m *MockMetrics) IncError(handler, kind string) {
	m.WithErrors(func(errors map[string]int64) { errors[key(handler, kind)]++ })
}

func (m *MockMetrics) MeasureFinalize(handler string, start time.Time) {
	now := m.Now
	if now.IsZero() {
		now = time.Now()
	}

	m.WithMeasures(func(measures map[string][]time.Duration) {
		measures[handler] = append(measures[handler], now.Sub(start))
	})
}
