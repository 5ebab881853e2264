// Package jitdispatch implements the JIT dispatcher (activity J): it
// polls each RF chain's queue against the concentrator's live counter and
// hands due entries to the radio, applying the current crystal
// correction to beacon frequencies immediately before transmission.
package jitdispatch

import (
	"context"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/loraforge/pktfwd/internal/counter"
	"github.com/loraforge/pktfwd/internal/hal"
	"github.com/loraforge/pktfwd/internal/jit"
	"github.com/loraforge/pktfwd/internal/spectral"
	"github.com/loraforge/pktfwd/internal/stats"
	"github.com/loraforge/pktfwd/internal/timeref"
)

const pollInterval = 1 * time.Millisecond

// Run drives one RF chain's dispatch loop until ctx is cancelled.
func Run(ctx context.Context, logger log.Interface, chain uint8, radio hal.Radio, q *jit.Queue, ref *timeref.Reference, idle *spectral.IdleTracker, st *stats.Counters) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now, err := radio.GetInstCnt()
			if err != nil {
				logger.WithError(err).Warn("Failed to read concentrator counter")
				continue
			}

			entry, err := q.Peek(now)
			if err != nil {
				continue // ErrEmpty or ErrNotDue: nothing to do yet
			}

			if _, err := q.Dequeue(); err != nil {
				continue
			}

			if idle != nil {
				idle.SetBusy(chain, true)
			}

			if counter.Sub(now, entry.Target) > int32(jit.DispatchLead) {
				logger.WithField("Target", entry.Target).Warn("Evicting overdue transmission")
				if st != nil {
					st.FailedTX()
				}
			} else {
				if scan, err := radio.SpectralScanGetStatus(); err == nil && scan == hal.SpectralScanRunning {
					radio.SpectralScanAbort()
				}
				pkt := entry.Packet
				if entry.IsBeacon && ref != nil {
					corr := ref.XtalCorrection()
					pkt.Freq = uint32(float64(pkt.Freq) * corr)
				}

				if err := radio.Send(pkt); err != nil {
					logger.WithError(err).Warn("Transmission failed")
					if st != nil {
						st.FailedTX()
					}
				} else if st != nil {
					st.SentTX()
				}
			}

			if idle != nil {
				idle.SetBusy(chain, false)
			}
		}
	}
}
