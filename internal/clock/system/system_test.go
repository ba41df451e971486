package system

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowIsUTC(t *testing.T) {
	t.Parallel()

	got := New().Now()
	assert.Equal(t, time.UTC, got.Location())
	assert.WithinDuration(t, time.Now(), got, time.Second)
}

func TestSleepWaitsForDuration(t *testing.T) {
	t.Parallel()

	start := time.Now()
	require.NoError(t, New().Sleep(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSleepReturnsWhenContextEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := New().Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepNonPositiveIsImmediate(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, Sleep(ctx, 0), "zero sleeps never consult ctx")
	require.NoError(t, Sleep(ctx, -time.Second))
}
