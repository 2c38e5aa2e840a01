package reliability

import "time"

// rttAlpha is the EWMA smoothing factor applied to each new RTT
// sample, matching the usual TCP-style weighting.
const rttAlpha = 0.125

// DefaultRTT is the estimate used before any sample has arrived.
const DefaultRTT = 100 * time.Millisecond

// Estimator maintains an exponentially-weighted moving average RTT,
// sampled from RttRequest/RttResponse header round trips.
type Estimator struct {
	estimate time.Duration
	hasSample bool
}

// NewEstimator returns an Estimator seeded with DefaultRTT.
func NewEstimator() *Estimator {
	return &Estimator{estimate: DefaultRTT}
}

// Sample folds one measured round trip into the estimate.
func (e *Estimator) Sample(rtt time.Duration) {
	if !e.hasSample {
		e.estimate = rtt
		e.hasSample = true
		return
	}
	e.estimate = time.Duration(float64(e.estimate)*(1-rttAlpha) + float64(rtt)*rttAlpha)
}

// Estimate returns the current RTT estimate.
func (e *Estimator) Estimate() time.Duration { return e.estimate }

// RTO returns the base retransmit timeout implied by the current
// estimate, before any congestion scaling is applied.
func (e *Estimator) RTO() time.Duration { return e.estimate * rtoMultiplier }

// KeepAliveInterval is how often an otherwise-idle connection must
// still emit a frame carrying an RttRequest, so the peer's RTT
// estimate and liveness detection both keep working.
const KeepAliveInterval = 1 * time.Second

// DisconnectTimeout is the quiet period after which a peer that has
// sent nothing at all is considered gone.
const DisconnectTimeout = 15 * time.Second

// LivenessWatcher tracks when a peer was last heard from and when this
// side last sent anything, to drive keep-alive and timeout decisions.
type LivenessWatcher struct {
	lastSent     time.Time
	lastReceived time.Time
}

// NewLivenessWatcher seeds both timestamps at now, as if a frame had
// just been exchanged.
func NewLivenessWatcher(now time.Time) *LivenessWatcher {
	return &LivenessWatcher{lastSent: now, lastReceived: now}
}

func (l *LivenessWatcher) OnSent(now time.Time)     { l.lastSent = now }
func (l *LivenessWatcher) OnReceived(now time.Time) { l.lastReceived = now }

// NeedsKeepAlive reports whether the connection has been quiet on our
// side long enough to warrant an empty keep-alive frame.
func (l *LivenessWatcher) NeedsKeepAlive(now time.Time) bool {
	return now.Sub(l.lastSent) >= KeepAliveInterval
}

// TimedOut reports whether the peer has been silent long enough to be
// disconnected.
func (l *LivenessWatcher) TimedOut(now time.Time) bool {
	return now.Sub(l.lastReceived) >= DisconnectTimeout
}
