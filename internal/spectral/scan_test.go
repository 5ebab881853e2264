package spectral

import (
	"context"
	"testing"
	"time"

	ttnlog "github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/go-utils/log/apex"
	"github.com/apex/log"
	"github.com/loraforge/pktfwd/internal/hal/simulated"
)

func testLogger() ttnlog.Interface {
	return apex.Wrap(&log.Logger{Handler: log.HandlerFunc(func(*log.Entry) error { return nil })})
}

func TestIdleTrackerReflectsBusyChains(t *testing.T) {
	tr := NewIdleTracker()
	if !tr.AllIdle() {
		t.Fatal("expected a fresh tracker to report all idle")
	}
	tr.SetBusy(0, true)
	if tr.AllIdle() {
		t.Fatal("expected AllIdle to report false while a chain is busy")
	}
	tr.SetBusy(0, false)
	if !tr.AllIdle() {
		t.Fatal("expected AllIdle to report true again once the chain clears")
	}
}

func TestRunSkipsStepsWhileBusy(t *testing.T) {
	radio := simulated.NewRadio([8]byte{1, 2, 3, 4, 5, 6, 7, 8})
	radio.Start()
	defer radio.Stop()

	results := make(chan Result, 4)
	cfg := Config{FreqStart: 863000000, NbChan: 4, Pace: 2 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	Run(ctx, testLogger(), radio, cfg, func() bool { return false }, func(r Result) { results <- r })

	select {
	case r := <-results:
		t.Fatalf("expected no scan results while busy, got %+v", r)
	default:
	}
}

func TestRunProducesResultsWhenIdle(t *testing.T) {
	radio := simulated.NewRadio([8]byte{1, 2, 3, 4, 5, 6, 7, 8})
	radio.Start()
	defer radio.Stop()

	results := make(chan Result, 4)
	cfg := Config{FreqStart: 863000000, NbChan: 2, Pace: 2 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	Run(ctx, testLogger(), radio, cfg, func() bool { return true }, func(r Result) { results <- r })

	select {
	case r := <-results:
		if len(r.Histogram) == 0 {
			t.Fatal("expected a non-empty histogram")
		}
	default:
		t.Fatal("expected at least one scan result while idle")
	}
}
