package timeref

import (
	"testing"
	"time"
)

func TestReferenceValidity(t *testing.T) {
	r := New()
	if r.Valid(time.Now()) {
		t.Fatal("expected fresh reference to be invalid")
	}

	now := time.Now()
	r.Update(now, now, 1000)
	if !r.Valid(now) {
		t.Fatal("expected reference to be valid right after update")
	}
	if r.Valid(now.Add(MaxAge + time.Second)) {
		t.Fatal("expected reference to expire after MaxAge")
	}

	r.Invalidate()
	if r.Valid(now) {
		t.Fatal("expected reference to be invalid after Invalidate")
	}
}

func TestUTCConversion(t *testing.T) {
	r := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Update(base, base, 1000000)

	got, ok := r.UTC(1000000 + 500000)
	if !ok {
		t.Fatal("expected valid reference")
	}
	want := base.Add(500 * time.Millisecond)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCounterAtGPSRoundTrips(t *testing.T) {
	r := New()
	gpsNow := gpsEpoch.Add(1000 * time.Second)
	systime := time.Now()
	r.Update(systime, gpsNow, 5000000)

	target, ok := r.CounterAtGPS(1000)
	if !ok {
		t.Fatal("expected valid reference")
	}
	if target != 5000000 {
		t.Fatalf("expected counter to match reference exactly at the same GPS second, got %d", target)
	}

	future, ok := r.CounterAtGPS(1010)
	if !ok {
		t.Fatal("expected valid reference")
	}
	if future != 5000000+10000000 {
		t.Fatalf("expected counter 10s ahead, got %d", future)
	}
}

func TestXtalCorrectionDefaultsToUnity(t *testing.T) {
	r := New()
	if got := r.XtalCorrection(); got != 1.0 {
		t.Fatalf("expected default correction of 1.0, got %v", got)
	}
	r.SetXtalCorrection(1.00001)
	if got := r.XtalCorrection(); got != 1.00001 {
		t.Fatalf("expected updated correction, got %v", got)
	}
}
