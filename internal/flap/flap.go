// Package flap implements link flap dampening: it tracks an
// exponentially decaying penalty per link and suppresses rapid
// GoingDown/Up oscillation from reaching the rest of the engine,
// trading a little detection latency for route-churn stability.
package flap

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/skyline-avionics/magic/internal/linkreg"
)

// Config configures the dampening parameters. Semantics mirror classic
// route flap dampening (RFC 2439): each GoingDown/Down event adds 1.0 to
// a link's penalty, the penalty decays by half every HalfLife, and the
// link is suppressed once its penalty crosses SuppressThreshold until it
// decays back below ReuseThreshold (or MaxSuppressTime elapses).
type Config struct {
	Enabled           bool
	SuppressThreshold float64
	ReuseThreshold    float64
	MaxSuppressTime   time.Duration
	HalfLife          time.Duration
}

// DefaultConfig returns dampening disabled, matching the engine's
// "Selector is pure, no hysteresis" default; a deployment opts in via
// configuration when its links are known to oscillate.
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		SuppressThreshold: 3,
		ReuseThreshold:    2,
		MaxSuppressTime:   60 * time.Second,
		HalfLife:          15 * time.Second,
	}
}

type penalty struct {
	value           float64
	lastUpdate      time.Time
	suppressed      bool
	suppressedSince time.Time
}

// Dampener tracks per-link penalties. Safe for concurrent use.
type Dampener struct {
	cfg    Config
	mu     sync.Mutex
	links  map[linkreg.LinkId]*penalty
	logger *slog.Logger
	now    func() time.Time
}

// Option configures optional Dampener parameters.
type Option func(*Dampener)

// WithClock overrides the dampener's time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dampener) { d.now = now }
}

// New constructs a Dampener.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Dampener {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dampener{
		cfg:    cfg,
		links:  make(map[linkreg.LinkId]*penalty),
		logger: logger.With(slog.String("component", "flap.dampener")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ShouldSuppressDown records a GoingDown/Down event for id and reports
// whether it should be suppressed (not forwarded to subscribers) due to
// excessive flapping.
func (d *Dampener) ShouldSuppressDown(id linkreg.LinkId) bool {
	if !d.cfg.Enabled {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	p := d.getOrCreate(id, now)
	d.decay(p, now)

	p.value += 1.0
	p.lastUpdate = now

	if p.suppressed && now.Sub(p.suppressedSince) >= d.cfg.MaxSuppressTime {
		d.clear(p, id)
		return false
	}
	if !p.suppressed && p.value >= d.cfg.SuppressThreshold {
		p.suppressed = true
		p.suppressedSince = now
		d.logger.Warn("link suppressed due to flap dampening",
			slog.String("link", id.String()),
			slog.Float64("penalty", p.value),
		)
	}
	return p.suppressed
}

// ShouldSuppressUp reports whether an Up/Recovered event for id should
// be suppressed while the link is still within its dampening window.
func (d *Dampener) ShouldSuppressUp(id linkreg.LinkId) bool {
	if !d.cfg.Enabled {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	p, exists := d.links[id]
	if !exists {
		return false
	}
	d.decay(p, now)

	if p.suppressed && now.Sub(p.suppressedSince) >= d.cfg.MaxSuppressTime {
		d.clear(p, id)
		return false
	}
	if p.suppressed && p.value < d.cfg.ReuseThreshold {
		d.clear(p, id)
		return false
	}
	return p.suppressed
}

// Reset clears all dampening state for id, e.g. when the link is
// unregistered.
func (d *Dampener) Reset(id linkreg.LinkId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.links, id)
}

func (d *Dampener) getOrCreate(id linkreg.LinkId, now time.Time) *penalty {
	p, exists := d.links[id]
	if !exists {
		p = &penalty{lastUpdate: now}
		d.links[id] = p
	}
	return p
}

func (d *Dampener) decay(p *penalty, now time.Time) {
	if d.cfg.HalfLife <= 0 || p.value == 0 {
		return
	}
	elapsed := now.Sub(p.lastUpdate)
	if elapsed <= 0 {
		return
	}
	halfLives := float64(elapsed) / float64(d.cfg.HalfLife)
	p.value *= math.Pow(0.5, halfLives)
	p.lastUpdate = now
	if p.value < 0.001 {
		p.value = 0
	}
}

func (d *Dampener) clear(p *penalty, id linkreg.LinkId) {
	p.suppressed = false
	p.suppressedSince = time.Time{}
	p.value = 0
	d.logger.Info("link unsuppressed, flap dampening cleared", slog.String("link", id.String()))
}
