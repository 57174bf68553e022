// Package quota gates acquisition with a persisted daily budget and paces
// requests with randomized delays.
package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
)

// ErrExhausted is returned by RecordAcquisition once the day's ceiling is reached.
var ErrExhausted = model.ErrQuotaExhausted

const dayLayout = "2006-01-02"

// Store persists quota windows. IncrementQuota must be atomic and must
// refuse (returning ErrExhausted) when count has reached ceiling.
type Store interface {
	LoadQuota(ctx context.Context, day string) (model.QuotaWindow, error)
	SaveQuota(ctx context.Context, w model.QuotaWindow) error
	IncrementQuota(ctx context.Context, day string, ceiling int) (model.QuotaWindow, error)
}

// Config configures a Controller.
type Config struct {
	DailyLimit int
	Location   *time.Location // day boundary; nil means UTC
	MinDelay   time.Duration
	MaxDelay   time.Duration
	StdDev     time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithPacer replaces the Pacer built from Config.
func WithPacer(p *Pacer) Option {
	return func(c *Controller) { c.pacer = p }
}

// WithSleep replaces the context-aware sleep used by Pause.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// Controller tracks the daily acquisition budget. The window is loaded
// from the store on first use and reloaded when the calendar day changes;
// every acquisition is persisted before RecordAcquisition returns.
type Controller struct {
	store Store
	cfg   Config
	now   func() time.Time
	pacer *Pacer
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	window model.QuotaWindow
	loaded bool
}

// New creates a Controller backed by store.
func New(store Store, cfg Config, opts ...Option) *Controller {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	c := &Controller{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	if c.pacer == nil {
		c.pacer = NewPacer(cfg.MinDelay, cfg.MaxDelay, cfg.StdDev)
	}
	return c
}

// Load reads today's window from the store.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx, c.today())
}

func (c *Controller) loadLocked(ctx context.Context, day string) error {
	w, err := c.store.LoadQuota(ctx, day)
	if err != nil {
		return eris.Wrap(err, "quota: load")
	}
	w.Ceiling = c.cfg.DailyLimit
	c.window = w
	c.loaded = true
	return nil
}

// Window returns the current window, reloading on day rollover.
func (c *Controller) Window(ctx context.Context) (model.QuotaWindow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	day := c.today()
	if !c.loaded || c.window.Day != day {
		if err := c.loadLocked(ctx, day); err != nil {
			return model.QuotaWindow{}, err
		}
	}
	return c.window, nil
}

// CanAcquire reports whether today's count is below the ceiling.
func (c *Controller) CanAcquire(ctx context.Context) (bool, error) {
	w, err := c.Window(ctx)
	if err != nil {
		return false, err
	}
	return !w.Exhausted(), nil
}

// Remaining returns ceiling minus count, floored at zero.
func (c *Controller) Remaining(ctx context.Context) (int, error) {
	w, err := c.Window(ctx)
	if err != nil {
		return 0, err
	}
	return w.Remaining(), nil
}

// RecordAcquisition atomically increments today's count in the store.
// It returns ErrExhausted instead of exceeding the ceiling.
func (c *Controller) RecordAcquisition(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	day := c.today()
	w, err := c.store.IncrementQuota(ctx, day, c.cfg.DailyLimit)
	if err != nil && !errors.Is(err, ErrExhausted) {
		return eris.Wrap(err, "quota: record acquisition")
	}
	w.Day = day
	w.Ceiling = c.cfg.DailyLimit
	c.window = w
	c.loaded = true

	if err != nil {
		return eris.Wrapf(ErrExhausted, "quota: %d/%d used for %s", w.Count, w.Ceiling, day)
	}
	zap.L().Debug("quota: acquisition recorded",
		zap.String("day", day),
		zap.Int("count", w.Count),
		zap.Int("remaining", w.Remaining()),
	)
	return nil
}

// NextDelay returns the next pacing delay.
func (c *Controller) NextDelay() time.Duration {
	return c.pacer.Next()
}

// Pause sleeps for NextDelay, returning early with ctx's error if cancelled.
func (c *Controller) Pause(ctx context.Context) error {
	return c.sleep(ctx, c.NextDelay())
}

func (c *Controller) today() string {
	return c.now().In(c.cfg.Location).Format(dayLayout)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
