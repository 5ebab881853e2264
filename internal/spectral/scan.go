// Package spectral implements the spectral scan activity: it paces a scan
// across a band of frequencies, only when all RF chains are idle, and
// collects the histogram results for reporting.
package spectral

import (
	"context"
	"sync"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/loraforge/pktfwd/internal/hal"
)

const stepFreq = 200000 // 200kHz between scan steps
const pollInterval = 100 * time.Millisecond
const pollTimeout = 2 * time.Second

// Config parameterizes one pass of the spectral scan loop.
type Config struct {
	FreqStart uint32
	NbChan    uint32
	Pace      time.Duration
}

// Result is one channel's histogram from a completed scan.
type Result struct {
	Freq      uint32
	Histogram []uint16
}

// Run drives the spectral scan loop until ctx is cancelled. idle must
// report whether every RF chain is currently free of pending or
// in-progress transmissions; the scan skips a step rather than block a
// real TX.
func Run(ctx context.Context, logger log.Interface, radio hal.Radio, cfg Config, idle func() bool, onResult func(Result)) {
	if cfg.Pace <= 0 {
		cfg.Pace = time.Second
	}
	ticker := time.NewTicker(cfg.Pace)
	defer ticker.Stop()

	var k uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !idle() {
				continue
			}
			freq := cfg.FreqStart + k*stepFreq
			k = (k + 1) % maxUint32(cfg.NbChan, 1)

			if err := radio.SpectralScanStart(freq); err != nil {
				logger.WithError(err).Warn("Failed to start spectral scan step")
				continue
			}

			hist, ok := poll(ctx, radio)
			if !ok {
				continue
			}
			onResult(Result{Freq: freq, Histogram: hist})
		}
	}
}

func poll(ctx context.Context, radio hal.Radio) ([]uint16, bool) {
	deadline := time.Now().Add(pollTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
			status, err := radio.SpectralScanGetStatus()
			if err != nil {
				return nil, false
			}
			if status == hal.SpectralScanDone {
				hist, err := radio.SpectralScanGetResults()
				if err != nil {
					return nil, false
				}
				return hist, true
			}
			if status == hal.SpectralScanAborted {
				return nil, false
			}
		}
	}
	return nil, false
}

func maxUint32(v, min uint32) uint32 {
	if v < min {
		return min
	}
	return v
}

// IdleTracker reports whether all RF chains are currently free, used to
// gate a spectral scan step against real transmissions and to allow the
// JIT dispatcher to abort an in-progress scan before a real TX.
type IdleTracker struct {
	mu   sync.Mutex
	busy map[uint8]bool
}

// NewIdleTracker returns a tracker with no chains marked busy.
func NewIdleTracker() *IdleTracker {
	return &IdleTracker{busy: make(map[uint8]bool)}
}

func (t *IdleTracker) SetBusy(chain uint8, busy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.busy[chain] = busy
}

func (t *IdleTracker) AllIdle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.busy {
		if b {
			return false
		}
	}
	return true
}
