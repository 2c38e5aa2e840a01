package netio

import (
	"math/rand"
	"sync"
	"time"
)

// emulator optionally drops and delays datagrams to exercise the
// reliability layer against a lossy/high-latency link in tests,
// mirroring NetworkChannel's config_emulator/reset_emulator.
type emulator struct {
	mu           sync.Mutex
	lossFraction float64
	latency      time.Duration
}

func (e *emulator) configure(lossFraction float64, latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lossFraction = lossFraction
	e.latency = latency
}

func (e *emulator) shouldDrop() bool {
	e.mu.Lock()
	loss := e.lossFraction
	e.mu.Unlock()
	if loss <= 0 {
		return false
	}
	return rand.Float64() < loss
}

func (e *emulator) delay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latency
}
