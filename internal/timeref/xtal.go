package timeref

import "sync"

// initAvgSamples is how many raw samples are averaged before the
// exponential filter takes over.
const initAvgSamples = 16

// filterCoeff is the IIR filter's smoothing coefficient: the new estimate
// keeps 1/filterCoeff of the incoming sample and (filterCoeff-1)/filterCoeff
// of the previous estimate.
const filterCoeff = 256

// XtalState tracks the crystal error estimate fed by successive GPS-derived
// error samples: a bootstrap average over the first initAvgSamples samples,
// then a first-order exponential filter.
type XtalState struct {
	mu       sync.Mutex
	count    int
	sum      float64
	estimate float64
	stable   bool
}

// NewXtalState returns a fresh, unstable estimator centered on zero error.
func NewXtalState() *XtalState {
	return &XtalState{}
}

// Reset discards accumulated samples, used when the time reference goes
// stale and the estimate can no longer be trusted.
func (x *XtalState) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.count = 0
	x.sum = 0
	x.estimate = 0
	x.stable = false
}

// AddSample folds a new crystal error sample (in parts-per-million) into
// the estimate.
func (x *XtalState) AddSample(errPPM float64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.count < initAvgSamples {
		x.sum += errPPM
		x.count++
		x.estimate = x.sum / float64(x.count)
		if x.count == initAvgSamples {
			x.stable = true
		}
		return
	}

	x.estimate = ((filterCoeff-1)*x.estimate + errPPM) / filterCoeff
}

// Correction returns the multiplicative frequency correction factor
// derived from the current error estimate (1 + err_ppm/1e6).
func (x *XtalState) Correction() float64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return 1.0 + x.estimate/1e6
}

// Stable reports whether the bootstrap average has completed and the IIR
// filter is now driving the estimate.
func (x *XtalState) Stable() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stable
}
