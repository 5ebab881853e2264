package gpsreader

import (
	"strings"
	"testing"
	"time"

	ttnlog "github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/go-utils/log/apex"
	"github.com/apex/log"
	"github.com/loraforge/pktfwd/internal/hal"
	"github.com/loraforge/pktfwd/internal/hal/simulated"
	"github.com/loraforge/pktfwd/internal/timeref"
)

func testLogger() ttnlog.Interface {
	return apex.Wrap(&log.Logger{Handler: log.HandlerFunc(func(*log.Entry) error { return nil })})
}

func TestCoordinatesUnsetUntilFix(t *testing.T) {
	var c Coordinates
	if _, ok := c.Get(); ok {
		t.Fatal("expected no fix before the first RMC frame")
	}
	if got := c.Latitude(); got != 0 {
		t.Fatalf("expected zero latitude before a fix, got %v", got)
	}
}

func TestCoordinatesReflectLatestFix(t *testing.T) {
	var c Coordinates
	c.set_(hal.Coordinates{Latitude: 48.858, Longitude: 2.294, Altitude: 35})

	got, ok := c.Get()
	if !ok {
		t.Fatal("expected a fix after set_")
	}
	if got.Latitude != 48.858 || c.Latitude() != 48.858 {
		t.Fatalf("unexpected latitude: %v", got.Latitude)
	}
	if c.Longitude() != 2.294 || c.Altitude() != 35 {
		t.Fatalf("unexpected coordinates: %+v", got)
	}
}

// singleFrameGPS wraps the simulator's GPS but decodes exactly one
// TimeGPSFrame off the first non-empty ParseUBX call, then a single
// RMCFrame off the next, mimicking a receiver that emits a time fix
// followed by a position fix.
type singleFrameGPS struct {
	*simulated.GPS
	fixTime time.Time
	emitted int
}

func (g *singleFrameGPS) ParseUBX(buf []byte) (int, interface{}, error) {
	const frameLen = 8
	if len(buf) < frameLen {
		return 0, nil, nil
	}
	switch g.emitted {
	case 0:
		g.emitted++
		return frameLen, TimeGPSFrame{UTC: g.fixTime}, nil
	case 1:
		g.emitted++
		return frameLen, RMCFrame{Coordinates: hal.Coordinates{Latitude: 1, Longitude: 2, Altitude: 3}}, nil
	default:
		return frameLen, nil, nil
	}
}

func TestRunLoopUpdatesReferenceAndCoordinates(t *testing.T) {
	radio := simulated.NewRadio([8]byte{1, 2, 3, 4, 5, 6, 7, 8})
	radio.Start()
	defer radio.Stop()

	gps := &singleFrameGPS{GPS: simulated.NewGPS(), fixTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	ref := timeref.New()
	coords := &Coordinates{}

	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(done)
	}()

	port := strings.NewReader("garbage-bytes-to-decode")
	if err := runLoop(port, gps, radio, testLogger(), ref, coords, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !ref.Valid(time.Now()) {
		t.Fatal("expected the TimeGPSFrame to have installed a valid time reference")
	}
	fix, ok := coords.Get()
	if !ok {
		t.Fatal("expected the RMCFrame to have installed a coordinate fix")
	}
	if fix.Latitude != 1 || fix.Longitude != 2 || fix.Altitude != 3 {
		t.Fatalf("unexpected coordinates: %+v", fix)
	}
}
