// Package catalog keeps a cached list of the provider's available models and
// refreshes it on a schedule.
package catalog

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Cache holds the last non-empty model list returned by a lister.
type Cache struct {
	lister    llm.ModelLister
	onRefresh func(models []string)
	logger    zerolog.Logger

	mu        sync.RWMutex
	models    []string
	refreshed time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Cache.
type Option func(*Cache)

// WithOnRefresh registers fn to be called with a copy of the list each time a
// refresh replaces it.
func WithOnRefresh(fn func(models []string)) Option {
	return func(c *Cache) {
		c.onRefresh = fn
	}
}

// NewCache creates an empty cache over lister.
func NewCache(lister llm.ModelLister, logger zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		lister: lister,
		logger: logger.With().Str("component", "modelCatalog").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Models returns a copy of the cached model ids.
func (c *Cache) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.models)
}

// Has reports whether id is in the cached list.
func (c *Cache) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lo.Contains(c.models, id)
}

// RefreshedAt returns when the list was last replaced. Zero means never.
func (c *Cache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshed
}

// Refresh asks the lister for the current models and returns the cached list.
// The lister reports failures as an empty list, so an empty result never
// replaces a list that is already cached.
func (c *Cache) Refresh(ctx context.Context) []string {
	models := lo.Uniq(lo.Compact(c.lister.ListModels(ctx)))

	c.mu.Lock()
	if len(models) == 0 {
		if len(c.models) > 0 {
			c.logger.Warn().Int("cached", len(c.models)).Msg("Model list came back empty, keeping cached list")
		}
		cached := slices.Clone(c.models)
		c.mu.Unlock()
		return cached
	}
	c.models = models
	c.refreshed = time.Now()
	c.mu.Unlock()

	c.logger.Debug().Int("models", len(models)).Msg("Model list refreshed")
	if c.onRefresh != nil {
		c.onRefresh(slices.Clone(models))
	}
	return slices.Clone(models)
}

// Start parses spec with ParseSchedule and refreshes on that schedule until
// Stop is called or ctx is done.
func (c *Cache) Start(ctx context.Context, spec string) error {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return c.StartSchedule(ctx, sched)
}

// StartSchedule refreshes once immediately and then at every time sched
// returns, in a background goroutine.
func (c *Cache) StartSchedule(ctx context.Context, sched Schedule) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		return fmt.Errorf("model catalog refresh already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, sched, c.done)
	return nil
}

// Stop ends the refresh loop and waits for it to exit. It is a no-op when the
// loop is not running.
func (c *Cache) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}

func (c *Cache) run(ctx context.Context, sched Schedule, done chan struct{}) {
	defer close(done)

	c.logger.Info().Msg("Starting model catalog refresh")
	c.Refresh(ctx)

	for {
		now := time.Now()
		next := sched.Next(now)
		if next.IsZero() {
			c.logger.Warn().Msg("Refresh schedule has no next run, stopping")
			return
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info().Msg("Model catalog refresh stopped: context cancelled")
			return
		case <-timer.C:
			c.Refresh(ctx)
		}
	}
}
