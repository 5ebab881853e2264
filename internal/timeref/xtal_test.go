package timeref

import "testing"

func TestXtalBootstrapAverage(t *testing.T) {
	x := NewXtalState()
	for i := 0; i < initAvgSamples; i++ {
		x.AddSample(10.0)
	}
	if !x.Stable() {
		t.Fatalf("expected estimator to be stable after %d samples", initAvgSamples)
	}
	if got := x.Correction(); got < 1.0+9.9e-6 || got > 1.0+10.1e-6 {
		t.Fatalf("expected correction near 1+10ppm, got %v", got)
	}
}

func TestXtalFilterConverges(t *testing.T) {
	x := NewXtalState()
	for i := 0; i < initAvgSamples; i++ {
		x.AddSample(0.0)
	}
	for i := 0; i < 5000; i++ {
		x.AddSample(20.0)
	}
	corr := x.Correction()
	if corr < 1.0+19e-6 {
		t.Fatalf("expected filter to converge toward 20ppm error, got %v", corr)
	}
}

func TestXtalResetClearsEstimate(t *testing.T) {
	x := NewXtalState()
	for i := 0; i < initAvgSamples; i++ {
		x.AddSample(50.0)
	}
	x.Reset()
	if x.Stable() {
		t.Fatalf("expected estimator to be unstable after reset")
	}
	if got := x.Correction(); got != 1.0 {
		t.Fatalf("expected correction reset to 1.0, got %v", got)
	}
}
