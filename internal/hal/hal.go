// Package hal defines the boundary between this forwarder and the radio
// concentrator/GPS hardware it drives. Both the concentrator and the GPS
// receiver are external collaborators: this package only states their
// contract. internal/hal/simulated ships a software-only implementation
// used for development and tests; a cgo-backed implementation against
// real concentrator hardware would satisfy the same interfaces as a
// separate build target.
package hal

import (
	"time"

	"github.com/loraforge/pktfwd/internal/lorapkt"
)

// SpectralScanStatus reports the progress of an in-flight spectral scan.
type SpectralScanStatus uint8

const (
	SpectralScanIdle SpectralScanStatus = iota
	SpectralScanRunning
	SpectralScanDone
	SpectralScanAborted
)

// Radio is the concentrator's contract: starting and stopping the radio
// front-end, RX/TX, and the counters and diagnostics the rest of the
// forwarder needs.
type Radio interface {
	Start() error
	Stop() error

	Receive(max int) ([]lorapkt.RXPacket, error)
	Send(pkt lorapkt.TXPacket) error

	GetInstCnt() (uint32, error)
	GetTrigCnt() (uint32, error)
	GetEUI() ([8]byte, error)
	GetTemperature() (float32, error)

	SpectralScanStart(freq uint32) error
	SpectralScanGetStatus() (SpectralScanStatus, error)
	SpectralScanGetResults() ([]uint16, error)
	SpectralScanAbort() error
}

// GPS is the GPS receiver's contract: counter/time conversions and raw
// NMEA/UBX frame decoding off the receiver's serial byte stream.
type GPS interface {
	Cnt2Utc(count uint32) (time.Time, error)
	Cnt2Gps(count uint32) (time.Time, error)
	Gps2Cnt(t time.Time) (uint32, error)

	GpsEnable(path string) error
	GpsDisable() error
	GpsSync(count uint32, t time.Time) error
	GpsGet() (loc Coordinates, xtalErrPPM float64, err error)

	// ParseNMEA/ParseUBX attempt to decode one frame off buf, returning
	// the number of bytes consumed. A decode of 0 consumed bytes with a
	// nil frame means "need more data"; consuming exactly 1 byte with a
	// nil frame means "not a valid frame here, resync".
	ParseNMEA(buf []byte) (consumed int, frame interface{}, err error)
	ParseUBX(buf []byte) (consumed int, frame interface{}, err error)
}

// Coordinates is a GPS fix.
type Coordinates struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}
