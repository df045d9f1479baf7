// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package govern

import (
	"sync"
	"time"
)

// CircuitState is the breaker state for one call category.
type CircuitState int

const (
	// CircuitClosed is normal operation - calls pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many consecutive failures - calls are
	// rejected without contacting the remote.
	CircuitOpen
	// CircuitHalfOpen admits a single probe to test recovery.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a per-category circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens
	// the circuit. Default: 5.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before admitting a
	// probe. Default: 30s.
	Cooldown time.Duration

	// CooldownGrowth multiplies the cooldown each time a probe fails
	// and the circuit reopens. 1.0 disables growth. Default: 2.0.
	CooldownGrowth float64

	// MaxCooldown caps grown cooldowns. Default: 5m.
	MaxCooldown time.Duration
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		CooldownGrowth:   2.0,
		MaxCooldown:      5 * time.Minute,
	}
}

// BreakerStats is a point-in-time view of one breaker.
type BreakerStats struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	ProbeInFlight       bool      `json:"probe_in_flight"`
	TotalRejections     int64     `json:"total_rejections"`
	TotalOpens          int64     `json:"total_opens"`
}

// breaker is the three-state failure guard for one call category.
//
// Transitions are the sole mutation path; the Governor never writes
// state fields directly.
//
// Thread Safety: Safe for concurrent use.
type breaker struct {
	config BreakerConfig
	clock  func() time.Time

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	cooldown            time.Duration
	probeInFlight       bool

	totalRejections int64
	totalOpens      int64
}

func newBreaker(config BreakerConfig, clock func() time.Time) *breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.CooldownGrowth < 1.0 {
		config.CooldownGrowth = 1.0
	}
	if config.MaxCooldown <= 0 {
		config.MaxCooldown = 5 * time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	return &breaker{
		config:   config,
		clock:    clock,
		state:    CircuitClosed,
		cooldown: config.Cooldown,
	}
}

// allow decides whether a call may proceed.
//
// Outputs:
//   - bool: True if the call may be dispatched.
//   - time.Time: When the next probe will be admitted, for rejections.
func (b *breaker) allow() (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true, time.Time{}

	case CircuitOpen:
		retryAt := b.openedAt.Add(b.cooldown)
		if b.clock().Before(retryAt) {
			b.totalRejections++
			return false, retryAt
		}
		b.transitionTo(CircuitHalfOpen)
		fallthrough

	case CircuitHalfOpen:
		if b.probeInFlight {
			b.totalRejections++
			return false, b.openedAt.Add(b.cooldown)
		}
		b.probeInFlight = true
		return true, time.Time{}
	}

	return false, time.Time{}
}

// recordSuccess resets the failure streak; a successful half-open
// probe closes the circuit and restores the base cooldown.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == CircuitHalfOpen {
		b.cooldown = b.config.Cooldown
		b.transitionTo(CircuitClosed)
	}
}

// recordFailure advances the failure streak; at the threshold the
// circuit opens, and a failed probe reopens with a grown cooldown.
func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		grown := time.Duration(float64(b.cooldown) * b.config.CooldownGrowth)
		b.cooldown = min(grown, b.config.MaxCooldown)
		b.transitionTo(CircuitOpen)
	}
}

// transitionTo changes state. Caller holds b.mu.
func (b *breaker) transitionTo(newState CircuitState) {
	b.state = newState
	b.probeInFlight = false
	if newState == CircuitOpen {
		b.openedAt = b.clock()
		b.totalOpens++
	}
}

// releaseProbe clears an admitted probe that was never dispatched
// (admission wait cancelled). The next allow may probe again.
func (b *breaker) releaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitHalfOpen {
		b.probeInFlight = false
	}
}

// currentState returns the state without side effects.
func (b *breaker) currentState() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		ProbeInFlight:       b.probeInFlight,
		TotalRejections:     b.totalRejections,
		TotalOpens:          b.totalOpens,
	}
}
