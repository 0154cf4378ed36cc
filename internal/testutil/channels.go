// Package testutil provides shared helpers for asynchronous tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Common test timeouts.
const (
	DefaultTestTimeout = 5 * time.Second
	ShortTestTimeout   = 1 * time.Second
)

// Receive waits for a value on ch or fails the test after timeout.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.FailNow(t, msg)
		var zero T
		return zero
	}
}

// NotReceive fails the test if ch yields a value within wait.
func NotReceive[T any](t testing.TB, ch <-chan T, wait time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
		require.FailNow(t, msg)
	case <-time.After(wait):
	}
}

// Go runs fn in a goroutine and returns a channel carrying its error.
func Go(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	return done
}
