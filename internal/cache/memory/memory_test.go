package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

func TestPriceCacheKeepsLatest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewPriceCache()
	t0 := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, c.SetPrice(ctx, "BTCUSDT", 100, t0))
	require.NoError(t, c.SetPrice(ctx, "BTCUSDT", 90, t0.Add(-time.Minute)))

	p, ts, err := c.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 100, p, 1e-9)
	assert.Equal(t, t0, ts)

	_, _, err = c.GetPrice(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := c.GetPrices(ctx, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTCUSDT": 100}, got)
}

func TestLockManager(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lm := NewLockManager()
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	lm.now = func() time.Time { return now }

	unlock, err := lm.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "sweep", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	// An expired lock can be taken over, and the stale unlock must not
	// release the new holder.
	now = now.Add(2 * time.Minute)
	_, err = lm.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	unlock2()
	_, err = lm.Acquire(ctx, "sweep", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rl := NewRateLimiter(1, time.Second)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "chart:daily", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "chart:daily", 3, time.Hour)
	assert.False(t, ok)

	now = now.Add(time.Hour + time.Second)
	ok, _ = rl.Allow(ctx, "chart:daily", 3, time.Hour)
	assert.True(t, ok)

	ok, _ = rl.Allow(ctx, "zero", 0, time.Hour)
	assert.False(t, ok)
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(1, time.Hour)
	require.NoError(t, rl.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx, "k"), context.DeadlineExceeded)
}

func TestSignalBusPublishSubscribe(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewSignalBus(0)

	exact, err := bus.Subscribe(ctx, "setups")
	require.NoError(t, err)
	all, err := bus.Subscribe(ctx, "*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "setups", []byte("a")))
	require.NoError(t, bus.Publish(ctx, "lessons", []byte("b")))

	assert.Equal(t, []byte("a"), <-exact)
	assert.Equal(t, []byte("a"), <-all)
	assert.Equal(t, []byte("b"), <-all)

	cancel()
	for range exact {
	}
}

func TestSignalBusStream(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := NewSignalBus(2)

	for _, p := range []string{"one", "two", "three"} {
		require.NoError(t, bus.StreamAppend(ctx, "journal", []byte(p)))
	}

	msgs, err := bus.StreamRead(ctx, "journal", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", string(msgs[0].Payload))
	assert.Equal(t, "3-0", msgs[1].ID)

	msgs, err = bus.StreamRead(ctx, "journal", "2-0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "three", string(msgs[0].Payload))

	msgs, err = bus.StreamRead(ctx, "missing", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
