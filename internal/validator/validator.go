// Package validator runs the periodic crystal-error validation loop:
// while the time reference is fresh, GPS-derived error samples feed the
// XTAL estimator; once the reference goes stale, the estimator resets
// and waits for GPS to reacquire.
package validator

import (
	"context"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/loraforge/pktfwd/internal/hal"
	"github.com/loraforge/pktfwd/internal/timeref"
)

// tickRate is a var, not a const, so tests can shorten it.
var tickRate = 1 * time.Second

// Run drives the validator loop until ctx is cancelled.
func Run(ctx context.Context, logger log.Interface, gps hal.GPS, ref *timeref.Reference, xtal *timeref.XtalState) {
	ticker := time.NewTicker(tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !ref.Valid(time.Now()) {
				xtal.Reset()
				ref.SetXtalCorrection(1.0)
				continue
			}

			_, errPPM, err := gps.GpsGet()
			if err != nil {
				logger.WithError(err).Debug("GPS error sample unavailable")
				continue
			}
			xtal.AddSample(errPPM)
			ref.SetXtalCorrection(xtal.Correction())
		}
	}
}
