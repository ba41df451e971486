package shutdown

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	c := New()
	assert.False(t, c.Stopped())
	assert.True(t, c.Stop())
	assert.False(t, c.Stop())
	assert.True(t, c.Stopped())
}

func TestWatchEscalatesOnSecondSignal(t *testing.T) {
	t.Parallel()

	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan os.Signal, 2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.watch(ctx, cancel, zap.NewNop(), ch)
	}()

	ch <- syscall.SIGINT
	require.Eventually(t, c.Stopped, time.Second, 5*time.Millisecond)
	assert.NoError(t, ctx.Err(), "first signal only drains")

	ch <- syscall.SIGINT
	require.Eventually(t, func() bool { return ctx.Err() != nil }, time.Second, 5*time.Millisecond)
	<-done
}

func TestWatchReturnsWhenContextEnds(t *testing.T) {
	t.Parallel()

	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.watch(ctx, nil, nil, make(chan os.Signal))
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch did not return")
	}
	assert.False(t, c.Stopped())
}
