package testutil

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReceive(t *testing.T) {
	t.Parallel()

	ch := make(chan int, 1)
	ch <- 7
	assert.Equal(t, 7, Receive(t, ch, ShortTestTimeout, "no value"))
}

func TestNotReceive(t *testing.T) {
	t.Parallel()

	NotReceive(t, make(chan struct{}), 10*time.Millisecond, "unexpected value")
}

func TestGo(t *testing.T) {
	t.Parallel()

	want := errors.New("boom")
	done := Go(func() error { return want })
	assert.Equal(t, want, Receive(t, done, ShortTestTimeout, "fn did not return"))
}
