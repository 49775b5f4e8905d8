// Package acquire contains the acquisition core: frame averaging, exposure
// optimization, the measurement pipeline, and the controller that ties them
// together for consumption by a display or HTTP layer.
package acquire

import (
	"fmt"
	"time"

	"github.com/photonbench/gospect/spectrometer"
	"github.com/photonbench/gospect/spectrum"
)

// Accumulator averages N consecutive frames from a device into one raw
// spectrum.  Semantics are all-or-nothing; if any capture fails the partial
// accumulation is discarded and the device error propagates, so callers
// never receive silently under-averaged data.
type Accumulator struct {
	dev spectrometer.Spectrometer
}

// NewAccumulator returns an Accumulator reading from dev
func NewAccumulator(dev spectrometer.Spectrometer) *Accumulator {
	return &Accumulator{dev: dev}
}

// Accumulate captures n frames sequentially and returns their per-bin
// arithmetic mean as a raw spectrum stamped with the device's current
// exposure, gain and the acquisition time.
func (a *Accumulator) Accumulate(n int) (*spectrum.Spectrum, error) {
	if n < 1 {
		return nil, fmt.Errorf("acquire: averaging count must be >= 1, got %d", n)
	}
	wl, err := a.dev.Wavelengths()
	if err != nil {
		return nil, err
	}
	sum := make([]float64, len(wl))
	stamp := time.Now()
	for i := 0; i < n; i++ {
		frame, err := a.dev.CaptureFrame()
		if err != nil {
			return nil, err
		}
		if len(frame) != len(sum) {
			return nil, fmt.Errorf("acquire: frame %d length %d does not match axis length %d", i, len(frame), len(sum))
		}
		for j, v := range frame {
			sum[j] += v
		}
	}
	inv := 1 / float64(n)
	for j := range sum {
		sum[j] *= inv
	}
	s, err := spectrum.New(wl, sum)
	if err != nil {
		return nil, err
	}
	s.Time = stamp
	s.Averages = n
	s.Mode = spectrum.Direct
	if exp, err := a.dev.GetExposure(); err == nil {
		s.Exposure = exp
	}
	if gain, err := a.dev.GetGain(); err == nil {
		s.Gain = gain
	}
	return s, nil
}
