// Package congestion implements a retransmit-pacing multiplier: when a
// peer's recent RTT samples run persistently above its established
// baseline, retransmissions back off further instead of hammering an
// already-congested path.
package congestion

import "time"

// MinMultiplier and MaxMultiplier bound the retransmit-interval
// multiplier this controller ever returns, so a single congested peer
// can't starve retransmission indefinitely.
const (
	MinMultiplier = 1.0
	MaxMultiplier = 8.0
)

// baselineAlpha smooths the long-running RTT baseline separately from
// reliability.Estimator's faster-moving estimate, so a sustained shift
// (not a single jittery sample) is what drives congestion response.
const baselineAlpha = 0.02

// riseStep/decayStep bound how fast the multiplier can move per
// sample, capping it at a slow-start-like ramp rather than a step
// function.
const (
	riseStep  = 0.25
	decayStep = 0.05
)

// Controller tracks a baseline RTT and derives a retransmit-interval
// multiplier from how far recent samples exceed it.
type Controller struct {
	baseline   time.Duration
	hasBaseline bool
	multiplier float64
}

// NewController returns a controller with multiplier 1 (no backoff).
func NewController() *Controller {
	return &Controller{multiplier: MinMultiplier}
}

// Sample folds one RTT sample into the baseline and adjusts the
// multiplier: a sample well above baseline raises it (capped at
// riseStep per sample); a sample at or below baseline decays it back
// toward MinMultiplier.
func (c *Controller) Sample(rtt time.Duration) {
	if !c.hasBaseline {
		c.baseline = rtt
		c.hasBaseline = true
		return
	}
	ratio := float64(rtt) / float64(c.baseline)
	switch {
	case ratio > 1.5:
		c.multiplier += riseStep
		if c.multiplier > MaxMultiplier {
			c.multiplier = MaxMultiplier
		}
	case ratio < 1.1:
		c.multiplier -= decayStep
		if c.multiplier < MinMultiplier {
			c.multiplier = MinMultiplier
		}
	}
	c.baseline = time.Duration(float64(c.baseline)*(1-baselineAlpha) + float64(rtt)*baselineAlpha)
}

// Multiplier returns the current retransmit-interval multiplier.
func (c *Controller) Multiplier() float64 { return c.multiplier }

// Scale applies the current multiplier to a base retransmit timeout.
func (c *Controller) Scale(base time.Duration) time.Duration {
	return time.Duration(float64(base) * c.multiplier)
}
