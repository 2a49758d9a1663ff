// Package condition provides composable predicates.
//
// A Condition may block, e.g. while it waits for an external lookup. Since
// every request is served on its own goroutine, a blocking condition
// suspends only the request that evaluates it. Use Go to start the
// evaluation early and Wait to join it later.
package condition

import (
	"context"
	"fmt"
)

// Condition tests a value. A nil Condition means no restriction.
type Condition[T any] func(T) (bool, error)

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Bool adapts a function that cannot fail.
func Bool[T any](f func(T) bool) Condition[T] {
	if f == nil {
		return nil
	}

	return func(v T) (bool, error) { return f(v), nil }
}

// And combines two conditions. It evaluates a first, and evaluates b only
// when a is true. A nil argument is the identity.
func And[T any](a, b Condition[T]) Condition[T] {
	if a == nil {
		return b
	}

	if b == nil {
		return a
	}

	return func(v T) (bool, error) {
		ok, err := a(v)
		if err != nil || !ok {
			return false, err
		}

		return b(v)
	}
}

// All combines the conditions with And, left to right.
func All[T any](cs ...Condition[T]) Condition[T] {
	var c Condition[T]
	for _, ci := range cs {
		c = And(c, ci)
	}

	return c
}

// Not negates a condition. Errors are kept. Not of nil is nil.
func Not[T any](c Condition[T]) Condition[T] {
	if c == nil {
		return nil
	}

	return func(v T) (bool, error) {
		ok, err := c(v)
		if err != nil {
			return false, err
		}

		return !ok, nil
	}
}

// Eval evaluates c. A nil condition is true. A panic in the condition is
// returned as a *PanicError.
func Eval[T any](c Condition[T], v T) (ok bool, err error) {
	if c == nil {
		return true, nil
	}

	defer func() {
		if p := recover(); p != nil {
			ok, err = false, &PanicError{Value: p}
		}
	}()

	return c(v)
}

// Future is the pending result of a condition started with Go.
type Future struct {
	done chan struct{}
	ok   bool
	err  error
}

// Go starts evaluating c on a new goroutine.
func Go[T any](c Condition[T], v T) *Future {
	f := &Future{done: make(chan struct{})}
	if c == nil {
		f.ok = true
		close(f.done)
		return f
	}

	go func() {
		f.ok, f.err = Eval(c, v)
		close(f.done)
	}()

	return f
}

// Wait returns the result of the condition. When ctx is done first, it
// returns the context error. The evaluating goroutine is not stopped, it
// exits when the condition returns.
func (f *Future) Wait(ctx context.Context) (bool, error) {
	select {
	case <-f.done:
		return f.ok, f.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
