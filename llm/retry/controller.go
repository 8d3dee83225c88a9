package retry

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	// DefaultInitialDelay is the delay imposed after the first failure.
	DefaultInitialDelay = 2 * time.Second
	// DefaultMaxDelay caps the delay between attempts.
	DefaultMaxDelay = 32 * time.Second
	// DefaultFactor multiplies the delay after each consecutive failure.
	DefaultFactor = 2.0
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 8

	// jitterLow and jitterHigh bound the multiplier applied to each delay when
	// jitter is enabled.
	jitterLow  = 0.5
	jitterHigh = 1.0
)

// Config configures the per-model backoff.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       bool
}

// DefaultConfig returns the default backoff configuration.
func DefaultConfig() Config {
	return Config{
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Factor:       DefaultFactor,
		Jitter:       true,
	}
}

// State is a point-in-time view of one model's backoff.
type State struct {
	Delay               time.Duration
	ConsecutiveFailures int
	LastFailureAt       time.Time // zero when no failure is recorded
}

// modelBackoff holds the backoff state of one model identifier.
type modelBackoff struct {
	mu            sync.Mutex
	schedule      *backoff.ExponentialBackOff
	delay         time.Duration
	failures      int
	lastFailureAt time.Time
}

// Controller tracks failures per model identifier and tells callers how long
// to wait before the next attempt. Models never affect each other.
type Controller struct {
	cfg    Config
	now    func() time.Time
	jitter func() float64
	logger zerolog.Logger

	mu     sync.Mutex
	models map[string]*modelBackoff
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock used to measure elapsed time.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithJitterSource replaces the source of jitter multipliers. The function must
// return values in [0.5, 1.0].
func WithJitterSource(jitter func() float64) Option {
	return func(c *Controller) {
		c.jitter = jitter
	}
}

// NewController creates a Controller. Zero fields in cfg take their defaults.
func NewController(cfg Config, logger zerolog.Logger, opts ...Option) *Controller {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Factor < 1 {
		cfg.Factor = DefaultFactor
	}

	c := &Controller{
		cfg:    cfg,
		now:    time.Now,
		jitter: func() float64 { return jitterLow + rand.Float64()*(jitterHigh-jitterLow) }, //nolint:gosec // jitter does not need a secure source
		logger: logger.With().Str("component", "backoffController").Logger(),
		models: make(map[string]*modelBackoff),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newSchedule builds the un-jittered delay sequence: InitialDelay, then
// multiplied by Factor on each call, capped at MaxDelay, never stopping.
func (c *Controller) newSchedule() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.InitialDelay
	eb.Multiplier = c.cfg.Factor
	eb.RandomizationFactor = 0
	eb.MaxInterval = c.cfg.MaxDelay
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// model gets or creates the backoff state for a model identifier.
func (c *Controller) model(id string) *modelBackoff {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.models[id]; ok {
		return m
	}
	m := &modelBackoff{
		schedule: c.newSchedule(),
		delay:    c.cfg.InitialDelay,
	}
	c.models[id] = m
	return m
}

// WaitTime returns how long a caller must wait before the next attempt against
// model. It is zero when no failure is recorded or the delay has elapsed.
func (c *Controller) WaitTime(model string) time.Duration {
	m := c.model(model)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastFailureAt.IsZero() {
		return 0
	}
	remaining := m.lastFailureAt.Add(m.delay).Sub(c.now())
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// RecordFailure grows the model's delay and starts the wait from now.
func (c *Controller) RecordFailure(model string) {
	m := c.model(model)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures++
	delay := m.schedule.NextBackOff()
	if c.cfg.Jitter {
		delay = time.Duration(float64(delay) * c.jitter())
	}
	m.delay = delay
	m.lastFailureAt = c.now()

	c.logger.Debug().
		Str("model", model).
		Int("consecutive_failures", m.failures).
		Dur("delay", m.delay).
		Msg("Recorded failure")
}

// RecordSuccess resets the model's backoff to its initial state.
func (c *Controller) RecordSuccess(model string) {
	m := c.model(model)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		c.logger.Debug().Str("model", model).Int("consecutive_failures", m.failures).Msg("Backoff reset after success")
	}
	m.schedule.Reset()
	m.delay = c.cfg.InitialDelay
	m.failures = 0
	m.lastFailureAt = time.Time{}
}

// State returns a snapshot of the model's backoff.
func (c *Controller) State(model string) State {
	m := c.model(model)
	m.mu.Lock()
	defer m.mu.Unlock()

	return State{
		Delay:               m.delay,
		ConsecutiveFailures: m.failures,
		LastFailureAt:       m.lastFailureAt,
	}
}
