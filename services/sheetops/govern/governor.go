// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package govern is admission control in front of the remote API.
//
// Every compiled call passes through the Governor: a token bucket per
// call category enforces the rate ceiling, an adaptive penalty backs
// off after remote throttling signals, and a per-category circuit
// breaker rejects calls outright after repeated failures. Nothing
// else in the service dispatches to the remote directly.
package govern

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/sheetops/services/sheetops/intent"
)

// Outcome classifies the result of a dispatched call for Record.
type Outcome int

const (
	// OutcomeSuccess is a completed remote call.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure is a failed remote call (transient or permanent).
	OutcomeFailure
	// OutcomeRateLimited means the remote signalled throttling.
	OutcomeRateLimited
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Config configures the Governor.
type Config struct {
	// Rate is the steady token refill per second per category.
	// Default: 1.
	Rate float64

	// Burst is the bucket capacity. Default: 2.
	Burst int

	// ThrottleFactor scales the refill rate down when the remote
	// signals throttling (0 < f < 1). Default: 0.5.
	ThrottleFactor float64

	// MinRate is the floor the throttled refill never drops below.
	// Default: Rate / 16.
	MinRate float64

	// ThrottleRecovery is how long a reduced rate persists before the
	// configured rate is restored. Default: 1m.
	ThrottleRecovery time.Duration

	// InitialPenalty is the first post-throttle admission delay.
	// Default: 1s.
	InitialPenalty time.Duration

	// MaxPenalty caps the multiplicative penalty growth. Default: 30s.
	MaxPenalty time.Duration

	// PenaltyFactor multiplies the penalty on each further throttle
	// signal. Default: 2.0.
	PenaltyFactor float64

	// JitterFactor is the random penalty fraction added to avoid
	// thundering-herd re-admission (0-1). Default: 0.2.
	JitterFactor float64

	// Breaker configures the per-category circuit breakers.
	Breaker BreakerConfig

	// Logger for admission and breaker events. Default: slog.Default().
	Logger *slog.Logger

	// Clock is the time source. Tests override it.
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Rate:             1,
		Burst:            2,
		ThrottleFactor:   0.5,
		ThrottleRecovery: time.Minute,
		InitialPenalty:   time.Second,
		MaxPenalty:       30 * time.Second,
		PenaltyFactor:    2.0,
		JitterFactor:     0.2,
		Breaker:          DefaultBreakerConfig(),
	}
}

// category holds the admission state for one call category.
type category struct {
	limiter *rate.Limiter
	breaker *breaker

	// penaltyUntil delays admissions after throttling.
	penaltyUntil time.Time
	// penalty is the current adaptive delay.
	penalty time.Duration
	// throttledUntil is when the reduced refill rate expires.
	throttledUntil time.Time
}

// CategoryStats is a point-in-time view of one category.
type CategoryStats struct {
	Category    string       `json:"category"`
	RateLimit   float64      `json:"rate_limit"`
	Breaker     BreakerStats `json:"breaker"`
	PenaltyWait string       `json:"penalty_wait,omitempty"`
}

// Governor is the sole gate between compiled calls and the remote.
//
// Thread Safety: Safe for concurrent use. Categories are created
// lazily on first admission and never removed.
type Governor struct {
	config Config
	logger *slog.Logger
	clock  func() time.Time

	mu   sync.Mutex
	cats map[string]*category

	jitterMu sync.Mutex
	jitter   *rand.Rand
}

// New creates a Governor. Zero-value config fields get defaults.
func New(config Config) *Governor {
	def := DefaultConfig()
	if config.Rate <= 0 {
		config.Rate = def.Rate
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.ThrottleFactor <= 0 || config.ThrottleFactor >= 1 {
		config.ThrottleFactor = def.ThrottleFactor
	}
	if config.MinRate <= 0 {
		config.MinRate = config.Rate / 16
	}
	if config.ThrottleRecovery <= 0 {
		config.ThrottleRecovery = def.ThrottleRecovery
	}
	if config.InitialPenalty <= 0 {
		config.InitialPenalty = def.InitialPenalty
	}
	if config.MaxPenalty <= 0 {
		config.MaxPenalty = def.MaxPenalty
	}
	if config.PenaltyFactor < 1 {
		config.PenaltyFactor = def.PenaltyFactor
	}
	if config.JitterFactor < 0 || config.JitterFactor > 1 {
		config.JitterFactor = def.JitterFactor
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Governor{
		config: config,
		logger: config.Logger,
		clock:  config.Clock,
		cats:   make(map[string]*category),
		jitter: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *Governor) category(name string) *category {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.cats[name]
	if !ok {
		c = &category{
			limiter: rate.NewLimiter(rate.Limit(g.config.Rate), g.config.Burst),
			breaker: newBreaker(g.config.Breaker, g.clock),
		}
		g.cats[name] = c
	}
	return c
}

// Delay returns how long an admission for the category would have to
// wait right now, without consuming a token. Zero means admissible.
// A RemoteUnavailableError means the circuit is open.
func (g *Governor) Delay(categoryName string) (time.Duration, error) {
	c := g.category(categoryName)

	if state := c.breaker.currentState(); state == CircuitOpen {
		stats := c.breaker.stats()
		return 0, &intent.RemoteUnavailableError{
			Category: categoryName,
			RetryAt:  stats.OpenedAt.Add(g.config.Breaker.Cooldown),
		}
	}

	now := g.clock()
	wait := time.Duration(0)

	g.mu.Lock()
	if c.penaltyUntil.After(now) {
		wait = c.penaltyUntil.Sub(now)
	}
	g.mu.Unlock()

	if tokens := c.limiter.TokensAt(now); tokens < 1 {
		refill := time.Duration((1 - tokens) / float64(c.limiter.Limit()) * float64(time.Second))
		wait = max(wait, refill)
	}
	return wait, nil
}

// Admit blocks until the category may dispatch one call, or returns
// immediately with RemoteUnavailableError while the circuit is open.
//
// Inputs:
//   - ctx: Cancellation for the wait. Timeouts are deadlines here.
//   - categoryName: Call category (operation class or credential).
//
// Outputs:
//   - error: ctx error if cancelled while waiting, or
//     *intent.RemoteUnavailableError on an open circuit.
func (g *Governor) Admit(ctx context.Context, categoryName string) error {
	c := g.category(categoryName)

	allowed, retryAt := c.breaker.allow()
	if !allowed {
		recordRejection(ctx, categoryName)
		return &intent.RemoteUnavailableError{Category: categoryName, RetryAt: retryAt}
	}

	// Post-throttle penalty delay, with cancellation.
	g.mu.Lock()
	penaltyUntil := c.penaltyUntil
	g.mu.Unlock()
	if now := g.clock(); penaltyUntil.After(now) {
		select {
		case <-ctx.Done():
			c.breaker.releaseProbe()
			return ctx.Err()
		case <-time.After(penaltyUntil.Sub(now)):
		}
	}

	// Token bucket wait.
	if err := c.limiter.Wait(ctx); err != nil {
		c.breaker.releaseProbe()
		return err
	}

	g.maybeRestoreRate(c)
	recordAdmission(ctx, categoryName)
	return nil
}

// Record feeds a dispatched call's outcome back into the category.
//
// Success and failure drive the circuit breaker; a rate-limited
// outcome reduces the refill rate and schedules a jittered,
// multiplicatively growing penalty before the next admission.
func (g *Governor) Record(categoryName string, outcome Outcome) {
	c := g.category(categoryName)

	switch outcome {
	case OutcomeSuccess:
		c.breaker.recordSuccess()
		g.mu.Lock()
		c.penalty = 0
		g.mu.Unlock()

	case OutcomeFailure:
		c.breaker.recordFailure()
		if c.breaker.currentState() == CircuitOpen {
			g.logger.Warn("circuit opened",
				"category", categoryName,
				"consecutive_failures", c.breaker.stats().ConsecutiveFailures,
			)
		}

	case OutcomeRateLimited:
		g.mu.Lock()
		if c.penalty == 0 {
			c.penalty = g.config.InitialPenalty
		} else {
			c.penalty = min(time.Duration(float64(c.penalty)*g.config.PenaltyFactor), g.config.MaxPenalty)
		}
		delay := c.penalty + g.jitterFor(c.penalty)
		now := g.clock()
		c.penaltyUntil = now.Add(delay)
		c.throttledUntil = now.Add(g.config.ThrottleRecovery)
		g.mu.Unlock()

		reduced := max(float64(c.limiter.Limit())*g.config.ThrottleFactor, g.config.MinRate)
		c.limiter.SetLimit(rate.Limit(reduced))

		g.logger.Info("remote throttling, backing off",
			"category", categoryName,
			"delay", delay,
			"reduced_rate", reduced,
		)
	}
	recordOutcome(categoryName, outcome)
}

// maybeRestoreRate lifts an expired throttle reduction.
func (g *Governor) maybeRestoreRate(c *category) {
	g.mu.Lock()
	expired := !c.throttledUntil.IsZero() && g.clock().After(c.throttledUntil)
	if expired {
		c.throttledUntil = time.Time{}
	}
	g.mu.Unlock()
	if expired {
		c.limiter.SetLimit(rate.Limit(g.config.Rate))
	}
}

// jitterFor returns a random fraction of the penalty.
func (g *Governor) jitterFor(penalty time.Duration) time.Duration {
	if g.config.JitterFactor == 0 {
		return 0
	}
	g.jitterMu.Lock()
	defer g.jitterMu.Unlock()
	return time.Duration(g.jitter.Float64() * g.config.JitterFactor * float64(penalty))
}

// BreakerState returns the circuit state for a category.
func (g *Governor) BreakerState(categoryName string) CircuitState {
	return g.category(categoryName).breaker.currentState()
}

// Stats returns a snapshot of every known category.
func (g *Governor) Stats() []CategoryStats {
	g.mu.Lock()
	names := make([]string, 0, len(g.cats))
	for name := range g.cats {
		names = append(names, name)
	}
	g.mu.Unlock()

	out := make([]CategoryStats, 0, len(names))
	for _, name := range names {
		c := g.category(name)
		s := CategoryStats{
			Category:  name,
			RateLimit: float64(c.limiter.Limit()),
			Breaker:   c.breaker.stats(),
		}
		g.mu.Lock()
		if now := g.clock(); c.penaltyUntil.After(now) {
			s.PenaltyWait = c.penaltyUntil.Sub(now).String()
		}
		g.mu.Unlock()
		out = append(out, s)
	}
	return out
}
