package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeSleepAdvancesTime(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	require.NoError(t, fake.Sleep(context.Background(), time.Second))
	require.NoError(t, fake.Sleep(context.Background(), 2*time.Second))
	fake.Advance(time.Minute)

	assert.Equal(t, start.Add(time.Minute+3*time.Second), fake.Now())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, fake.Sleeps())
}

func TestFakeSleepHonoursCancelledContext(t *testing.T) {
	fake := NewFake(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fake.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.Sleeps())
}

func TestRealSleep(t *testing.T) {
	c := New()

	t.Run("returns after duration", func(t *testing.T) {
		start := c.Now()
		require.NoError(t, c.Sleep(context.Background(), 5*time.Millisecond))
		assert.GreaterOrEqual(t, c.Now().Sub(start), 5*time.Millisecond)
	})

	t.Run("returns early on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		err := c.Sleep(ctx, time.Minute)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("zero duration", func(t *testing.T) {
		assert.NoError(t, c.Sleep(context.Background(), 0))
	})
}
