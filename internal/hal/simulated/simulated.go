// Package simulated implements internal/hal's Radio and GPS interfaces
// entirely in software, following the shape of the concentrator's own
// dummy build (a fixed low-probability synthetic RX packet, TX calls that
// only log, no real GPS device): the same tradeoff, generalized so the
// rest of the forwarder can be exercised and tested without a
// concentrator attached.
package simulated

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loraforge/pktfwd/internal/hal"
	"github.com/loraforge/pktfwd/internal/lorapkt"
)

// Radio is a software concentrator: it advances a free-running counter in
// real time and occasionally synthesizes an RX packet.
type Radio struct {
	eui       [8]byte
	startTime time.Time
	started   bool

	mu       sync.Mutex
	scan     hal.SpectralScanStatus
	scanFreq uint32
}

// NewRadio returns a Radio identified by eui.
func NewRadio(eui [8]byte) *Radio {
	return &Radio{eui: eui}
}

func (r *Radio) Start() error {
	r.startTime = time.Now()
	r.started = true
	return nil
}

func (r *Radio) Stop() error {
	r.started = false
	return nil
}

// GetInstCnt returns the elapsed microseconds since Start, mimicking the
// concentrator's free-running counter.
func (r *Radio) GetInstCnt() (uint32, error) {
	if !r.started {
		return 0, nil
	}
	return uint32(time.Since(r.startTime) / time.Microsecond), nil
}

// GetTrigCnt returns the counter value latched at the last PPS edge. The
// simulator has no external PPS source, so it reports the same
// free-running value.
func (r *Radio) GetTrigCnt() (uint32, error) {
	return r.GetInstCnt()
}

func (r *Radio) GetEUI() ([8]byte, error) {
	return r.eui, nil
}

func (r *Radio) GetTemperature() (float32, error) {
	return 25.0, nil
}

// Receive returns, on average, one synthetic uplink every ~5000 calls,
// following the dummy HAL's own sparse-random-packet behavior.
func (r *Radio) Receive(max int) ([]lorapkt.RXPacket, error) {
	if rand.Float64() > 0.0002 {
		return nil, nil
	}

	cnt, _ := r.GetInstCnt()
	pkt := lorapkt.RXPacket{
		Freq:       868100000,
		IFChain:    0,
		RFChain:    0,
		Status:     lorapkt.CRCOK,
		CountUS:    cnt,
		Modulation: lorapkt.ModulationLoRa,
		Bandwidth:  0,
		SF:         7,
		Coderate:   4,
		RSSI:       -80,
		SNR:        7.5,
		Payload:    []byte{0xAA, 0xBB},
	}
	return []lorapkt.RXPacket{pkt}, nil
}

func (r *Radio) Send(pkt lorapkt.TXPacket) error {
	return nil
}

func (r *Radio) SpectralScanStart(freq uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scan = hal.SpectralScanRunning
	r.scanFreq = freq
	go func() {
		time.Sleep(50 * time.Millisecond)
		r.mu.Lock()
		if r.scan == hal.SpectralScanRunning {
			r.scan = hal.SpectralScanDone
		}
		r.mu.Unlock()
	}()
	return nil
}

func (r *Radio) SpectralScanGetStatus() (hal.SpectralScanStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scan, nil
}

func (r *Radio) SpectralScanGetResults() ([]uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	results := make([]uint16, 8)
	for i := range results {
		results[i] = uint16(rand.Intn(4096))
	}
	return results, nil
}

func (r *Radio) SpectralScanAbort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scan = hal.SpectralScanAborted
	return nil
}

// GPS is a software GPS receiver with no real device attached: it reports
// a fixed position and a crystal error read from drift, and its parsers
// always report "need more data" since no real byte stream backs it.
type GPS struct {
	bootTime time.Time
	drift    int64 // crystal error in hundredths of a ppm; nothing advances it, so GpsGet reports 0
}

// NewGPS returns a GPS simulator anchored at the current time.
func NewGPS() *GPS {
	return &GPS{bootTime: time.Now()}
}

func (g *GPS) Cnt2Utc(count uint32) (time.Time, error) {
	return g.bootTime.Add(time.Duration(count) * time.Microsecond), nil
}

func (g *GPS) Cnt2Gps(count uint32) (time.Time, error) {
	return g.Cnt2Utc(count)
}

func (g *GPS) Gps2Cnt(t time.Time) (uint32, error) {
	return uint32(t.Sub(g.bootTime) / time.Microsecond), nil
}

func (g *GPS) GpsEnable(path string) error {
	return nil
}

func (g *GPS) GpsDisable() error {
	return nil
}

func (g *GPS) GpsSync(count uint32, t time.Time) error {
	return nil
}

func (g *GPS) GpsGet() (hal.Coordinates, float64, error) {
	ppm := float64(atomic.AddInt64(&g.drift, 0)) / 100.0
	return hal.Coordinates{Latitude: 48.858, Longitude: 2.294, Altitude: 35}, ppm, nil
}

func (g *GPS) ParseNMEA(buf []byte) (int, interface{}, error) {
	return 0, nil, nil
}

func (g *GPS) ParseUBX(buf []byte) (int, interface{}, error) {
	return 0, nil, nil
}
