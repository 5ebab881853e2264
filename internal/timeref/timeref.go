// Package timeref tracks the mapping between the concentrator's free
// running counter and GPS/wall-clock time, and the crystal error estimate
// used to keep beacon transmissions on frequency.
package timeref

import (
	"sync"
	"time"

	"github.com/brocaar/lorawan/gps"
)

// MaxAge is how long a time reference remains trustworthy once no new PPS
// tick has refreshed it.
const MaxAge = 30 * time.Second

// Reference pins a concentrator counter value to a GPS time and the
// system clock at the instant of the most recent PPS pulse.
type Reference struct {
	mu        sync.RWMutex
	systime   time.Time
	gpsTime   time.Time
	countAtPPS uint32
	xtalCorr  float64
	set       bool
}

// New returns an empty, invalid reference.
func New() *Reference {
	return &Reference{xtalCorr: 1.0}
}

// Update records a new PPS-aligned time reference.
func (r *Reference) Update(systime, gpsTime time.Time, countAtPPS uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.systime = systime
	r.gpsTime = gpsTime
	r.countAtPPS = countAtPPS
	r.set = true
}

// SetXtalCorrection installs the crystal correction factor computed by the
// validator loop.
func (r *Reference) SetXtalCorrection(corr float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.xtalCorr = corr
}

// XtalCorrection returns the currently applied crystal correction factor.
func (r *Reference) XtalCorrection() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.xtalCorr
}

// Valid reports whether the reference is still within MaxAge of now.
func (r *Reference) Valid(now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.set {
		return false
	}
	return now.Sub(r.systime) < MaxAge
}

// Invalidate discards the current reference, e.g. after GPS lock is lost.
func (r *Reference) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set = false
}

// UTC converts a concentrator counter value to a wall-clock time, given
// the last PPS-aligned reference. Returns ok=false if no valid reference
// exists.
func (r *Reference) UTC(count uint32) (t time.Time, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.set {
		return time.Time{}, false
	}
	delta := int32(count - r.countAtPPS)
	return r.systime.Add(time.Duration(delta) * time.Microsecond), true
}

// GPSMillis converts a concentrator counter value to milliseconds since
// the GPS epoch (06 Jan 1980), as used by the "tmms" field.
func (r *Reference) GPSMillis(count uint32) (ms int64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.set {
		return 0, false
	}
	delta := int32(count - r.countAtPPS)
	t := r.gpsTime.Add(time.Duration(delta) * time.Microsecond)
	return int64(gps.Time(t).TimeSinceGPSEpoch() / time.Millisecond), true
}

// GPSSeconds returns whole seconds since the GPS epoch for the current
// reference instant, used to schedule beacons.
func (r *Reference) GPSSeconds() (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.set {
		return 0, false
	}
	return uint32(gps.Time(r.gpsTime).TimeSinceGPSEpoch() / time.Second), true
}

// gpsEpoch is the start of GPS time, 6 January 1980 00:00:00 UTC.
var gpsEpoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// CounterAtGPS is the inverse of GPSMillis: it returns the concentrator
// counter value that will occur at the given whole GPS second, so a
// beacon due at a known GPS boundary can be given a concrete target.
func (r *Reference) CounterAtGPS(gpsSeconds uint32) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.set {
		return 0, false
	}
	delta := time.Duration(gpsSeconds)*time.Second - gps.Time(r.gpsTime).TimeSinceGPSEpoch()
	return uint32(int64(r.countAtPPS) + int64(delta/time.Microsecond)), true
}
