package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/model"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func newTestController(t *testing.T, limit int) (*Controller, *MemoryStore, *fakeClock) {
	t.Helper()
	st := NewMemoryStore()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := New(st, Config{
		DailyLimit: limit,
		MinDelay:   3 * time.Second,
		MaxDelay:   8 * time.Second,
		StdDev:     1500 * time.Millisecond,
	}, WithClock(clk.Now))
	require.NoError(t, c.Load(context.Background()))
	return c, st, clk
}

func TestController_CanAcquireFalseExactlyAtCeiling(t *testing.T) {
	for _, limit := range []int{1, 2, 5, 17} {
		c, _, _ := newTestController(t, limit)
		ctx := context.Background()

		for i := 0; i < limit; i++ {
			ok, err := c.CanAcquire(ctx)
			require.NoError(t, err)
			assert.True(t, ok, "limit=%d count=%d", limit, i)
			require.NoError(t, c.RecordAcquisition(ctx))
		}

		ok, err := c.CanAcquire(ctx)
		require.NoError(t, err)
		assert.False(t, ok, "limit=%d", limit)

		remaining, err := c.Remaining(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, remaining)
	}
}

func TestController_NeverExceedsCeiling(t *testing.T) {
	c, st, _ := newTestController(t, 3)
	ctx := context.Background()

	var exhausted int
	for i := 0; i < 50; i++ {
		if err := c.RecordAcquisition(ctx); err != nil {
			require.True(t, errors.Is(err, ErrExhausted))
			exhausted++
		}
	}
	assert.Equal(t, 47, exhausted)

	w, err := st.LoadQuota(ctx, "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 3, w.Count)
}

func TestController_ZeroLimit(t *testing.T) {
	c, _, _ := newTestController(t, 0)
	ctx := context.Background()

	ok, err := c.CanAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(c.RecordAcquisition(ctx), ErrExhausted))
}

func TestController_PersistsAcrossRestart(t *testing.T) {
	c, st, clk := newTestController(t, 5)
	ctx := context.Background()

	require.NoError(t, c.RecordAcquisition(ctx))
	require.NoError(t, c.RecordAcquisition(ctx))

	restarted := New(st, Config{DailyLimit: 5}, WithClock(clk.Now))
	require.NoError(t, restarted.Load(ctx))

	remaining, err := restarted.Remaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestController_DayRollover(t *testing.T) {
	c, _, clk := newTestController(t, 2)
	ctx := context.Background()

	require.NoError(t, c.RecordAcquisition(ctx))
	require.NoError(t, c.RecordAcquisition(ctx))
	ok, err := c.CanAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	clk.t = clk.t.Add(24 * time.Hour)

	ok, err = c.CanAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.RecordAcquisition(ctx))
	w, err := c.Window(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", w.Day)
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, 3, w.AllTime)
}

func TestController_DayUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	clk := &fakeClock{t: time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)}
	c := New(NewMemoryStore(), Config{DailyLimit: 1, Location: loc}, WithClock(clk.Now))

	w, err := c.Window(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", w.Day)
}

type failingStore struct{ *MemoryStore }

func (f *failingStore) IncrementQuota(context.Context, string, int) (model.QuotaWindow, error) {
	return model.QuotaWindow{}, errors.New("disk full")
}

func TestController_StoreErrorPropagates(t *testing.T) {
	c := New(&failingStore{MemoryStore: NewMemoryStore()}, Config{DailyLimit: 3})

	err := c.RecordAcquisition(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrExhausted))
	assert.Contains(t, err.Error(), "disk full")
}

func TestController_PauseHonorsContext(t *testing.T) {
	var slept time.Duration
	c := New(NewMemoryStore(), Config{DailyLimit: 1, MinDelay: time.Second, MaxDelay: 2 * time.Second, StdDev: time.Second},
		WithSleep(func(ctx context.Context, d time.Duration) error {
			slept = d
			return ctx.Err()
		}))

	require.NoError(t, c.Pause(context.Background()))
	assert.GreaterOrEqual(t, slept, time.Second)
	assert.LessOrEqual(t, slept, 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Pause(ctx), context.Canceled)
}

func TestSleepCtx_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepCtx(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
