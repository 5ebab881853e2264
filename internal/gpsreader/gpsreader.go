// Package gpsreader implements the GPS discipline loop (activity G):
// bytes off the receiver's TTY are decoded into NMEA/UBX frames, which
// update the shared time reference and coordinates the way the
// concentrator HAL's own GPS sync path does, but expressed against the
// hal.GPS contract instead of a cgo binding.
package gpsreader

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/loraforge/pktfwd/internal/gpsserial"
	"github.com/loraforge/pktfwd/internal/hal"
	"github.com/loraforge/pktfwd/internal/timeref"
	"golang.org/x/sys/unix"
)

// wallClockSanityFloor is 2020-03-05T10:05:11Z: a GPS fix older than
// this is treated as bogus and never used to set the system clock,
// matching the reference firmware's own sanity check.
const wallClockSanityFloor = 1583402711

// wallClockDriftThreshold is how far system time must diverge from a
// GPS fix before it's worth correcting.
const wallClockDriftThreshold = 10 * time.Second

// TimeGPSFrame is a decoded UBX-NAV-TIMEGPS-equivalent frame: a UTC time
// fix. The concentrator counter latched at the PPS edge is not part of the
// frame; runLoop reads it with GetTrigCnt when the frame arrives.
type TimeGPSFrame struct {
	UTC time.Time
}

// RMCFrame is a decoded NMEA RMC-equivalent frame: a position fix.
type RMCFrame struct {
	Coordinates hal.Coordinates
}

// Coordinates returns the most recently decoded GPS fix.
type Coordinates struct {
	mu   sync.RWMutex
	last hal.Coordinates
	set  bool
}

func (c *Coordinates) set_(loc hal.Coordinates) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = loc
	c.set = true
}

// Get returns the last known fix, if any.
func (c *Coordinates) Get() (hal.Coordinates, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.set
}

// Latitude, Longitude and Altitude satisfy stats.Coordinates so the
// status reporting loop can read the last GPS fix without depending on
// this package's own Coordinates/hal.Coordinates types.
func (c *Coordinates) Latitude() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last.Latitude
}

func (c *Coordinates) Longitude() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last.Longitude
}

func (c *Coordinates) Altitude() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last.Altitude
}

// Run drives the GPS discipline loop until ctx is cancelled: it opens the
// configured TTY, decodes frames off it, and applies UTC/position fixes
// to ref and coords.
func Run(ctx context.Context, logger log.Interface, radio hal.Radio, gps hal.GPS, path string, ref *timeref.Reference, coords *Coordinates) error {
	if err := gps.GpsEnable(path); err != nil {
		return err
	}
	defer gps.GpsDisable()

	port, err := gpsserial.Open(gpsserial.Config{Path: path})
	if err != nil {
		return err
	}
	defer port.Close()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()

	return runLoop(port, gps, radio, logger, ref, coords, done)
}

func runLoop(port io.Reader, gps hal.GPS, radio hal.Radio, logger log.Interface, ref *timeref.Reference, coords *Coordinates, done <-chan struct{}) error {
	wallClockSet := false
	return gpsserial.Loop(port, gps, done, func(frame interface{}) {
		switch f := frame.(type) {
		case TimeGPSFrame:
			cnt, err := radio.GetTrigCnt()
			if err != nil {
				logger.WithError(err).Warn("Failed to read concentrator PPS counter")
				return
			}
			if err := gps.GpsSync(cnt, f.UTC); err != nil {
				logger.WithError(err).Warn("GPS out of sync, keeping previous time reference")
				return
			}
			gpsTime, err := gps.Cnt2Gps(cnt)
			if err != nil {
				logger.WithError(err).Warn("Couldn't derive GPS time from counter")
				return
			}
			ref.Update(time.Now(), gpsTime, cnt)
			logger.WithField("UTC", f.UTC).Debug("GPS time reference updated")
			setWallClockOnce(f.UTC, &wallClockSet, logger)

		case RMCFrame:
			coords.set_(f.Coordinates)
			logger.WithField("Coordinates", f.Coordinates).Debug("GPS coordinates updated")
		}
	})
}

// setWallClockOnce opportunistically corrects the system clock from a
// GPS UTC fix, at most once per run: skipped once already set, skipped
// on a fix older than wallClockSanityFloor (a receiver's cold-start fix
// can read back to the UNIX epoch), and skipped when system time is
// already within wallClockDriftThreshold of the fix.
func setWallClockOnce(gpsUTC time.Time, alreadySet *bool, logger log.Interface) {
	if *alreadySet {
		return
	}
	if gpsUTC.Unix() < wallClockSanityFloor {
		return
	}
	drift := gpsUTC.Sub(time.Now())
	if drift < 0 {
		drift = -drift
	}
	if drift < wallClockDriftThreshold {
		*alreadySet = true
		return
	}
	tv := unix.NsecToTimeval(gpsUTC.UnixNano())
	if err := unix.Settimeofday(&tv); err != nil {
		logger.WithError(err).Warn("Failed to set system wall clock from GPS time")
		return
	}
	*alreadySet = true
	logger.WithField("GPSTime", gpsUTC).Info("System wall clock corrected from GPS time reference")
}
