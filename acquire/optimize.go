package acquire

import (
	"errors"
	"fmt"
	"time"

	"github.com/photonbench/gospect/spectrometer"
)

const (
	// DefaultBandLow is the bottom of the target band, as a fraction of
	// the saturation level
	DefaultBandLow = 0.80

	// DefaultBandHigh is the top of the target band, as a fraction of the
	// saturation level.  Staying below 1.0 keeps the peak off the clip
	// point while maximizing signal to noise.
	DefaultBandHigh = 0.95

	// DefaultMaxIterations bounds the search.  Doubling from any starting
	// point inside hardware limits brackets the band well inside this
	// budget; the cap guarantees termination on badly behaved hardware.
	DefaultMaxIterations = 20
)

// ErrInsufficientSignal is generated when exposure and gain are pinned at
// their maxima and the peak is still below the target band
var ErrInsufficientSignal = errors.New("acquire: peak below target band at maximum exposure and gain")

// Result reports where an optimization run ended up
type Result struct {
	// Exposure is the final exposure time
	Exposure time.Duration `json:"exposure"`

	// Gain is the final gain
	Gain float64 `json:"gain"`

	// Peak is the last observed peak intensity
	Peak float64 `json:"peak"`

	// Iterations is the number of frames captured
	Iterations int `json:"iterations"`

	// Converged is true if the peak ended inside the target band
	Converged bool `json:"converged"`
}

// TimeoutError is generated when the iteration budget is exhausted or the
// search is pinned against a bound without converging.  It is a warning;
// the device keeps the last values applied, which are reported in Result.
type TimeoutError struct {
	Result Result
}

// Error satisfies the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("acquire: optimization did not converge after %d iterations; keeping exposure %v, gain %g (peak %g)",
		e.Result.Iterations, e.Result.Exposure, e.Result.Gain, e.Result.Peak)
}

// Optimizer adjusts exposure, then gain, until the peak intensity sits
// inside a target band below saturation.  The search doubles or halves
// until the band is bracketed, then bisects the bracket; a monotone device
// response guarantees convergence.  Exposure is preferred over gain because
// gain amplifies noise along with signal.
//
// The optimizer owns the device for the duration of Run; no other consumer
// may capture frames while it is in flight.
type Optimizer struct {
	dev spectrometer.Spectrometer

	// BandLow and BandHigh are the target band as fractions of the
	// saturation level.  Zero values take the defaults.
	BandLow, BandHigh float64

	// MaxIterations caps the number of frames captured; zero takes the default
	MaxIterations int
}

// NewOptimizer returns an Optimizer with default band and iteration budget
func NewOptimizer(dev spectrometer.Spectrometer) *Optimizer {
	return &Optimizer{dev: dev}
}

func (o *Optimizer) band(sat float64) (float64, float64) {
	lo, hi := o.BandLow, o.BandHigh
	if lo == 0 {
		lo = DefaultBandLow
	}
	if hi == 0 {
		hi = DefaultBandHigh
	}
	return lo * sat, hi * sat
}

func (o *Optimizer) budget() int {
	if o.MaxIterations == 0 {
		return DefaultMaxIterations
	}
	return o.MaxIterations
}

// Run performs the search.  On convergence the returned error is nil.  A
// *TimeoutError or ErrInsufficientSignal leaves the best values found
// applied to the device and is non-fatal; a *spectrometer.DeviceError
// aborts the run.
func (o *Optimizer) Run() (Result, error) {
	bounds, err := o.dev.Bounds()
	if err != nil {
		return Result{}, err
	}
	bandLo, bandHi := o.band(bounds.Saturation)
	exp, err := o.dev.GetExposure()
	if err != nil {
		return Result{}, err
	}
	gain, err := o.dev.GetGain()
	if err != nil {
		return Result{}, err
	}

	var (
		res Result

		// exposure bracket; Tight flags record whether the search has
		// touched that side, enabling bisection
		lo, hi           = bounds.ExposureMin, bounds.ExposureMax
		loTight, hiTight bool

		// gain bracket, used only after exposure is pinned at max
		glo, ghi           = bounds.GainMin, bounds.GainMax
		gloTight, ghiTight bool
		gainPhase          bool
	)

	budget := o.budget()
	for iter := 1; iter <= budget; iter++ {
		frame, err := o.dev.CaptureFrame()
		if err != nil {
			return res, err
		}
		peak := peakOf(frame)
		res = Result{Exposure: exp, Gain: gain, Peak: peak, Iterations: iter}
		if peak >= bandLo && peak <= bandHi {
			res.Converged = true
			return res, nil
		}

		if !gainPhase {
			var next time.Duration
			if peak > bandHi {
				hiTight = true
				hi = exp
				if loTight {
					next = lo + (hi-lo)/2
				} else {
					next = exp / 2
				}
				if next < bounds.ExposureMin {
					next = bounds.ExposureMin
				}
			} else {
				loTight = true
				lo = exp
				if hiTight {
					next = lo + (hi-lo)/2
				} else {
					next = exp * 2
				}
				if next > bounds.ExposureMax {
					next = bounds.ExposureMax
				}
			}
			if next == exp {
				// pinned against a hardware bound
				if peak < bandLo && bounds.HasGain() && gain < bounds.GainMax {
					gainPhase = true
					continue
				}
				if peak < bandLo {
					return res, ErrInsufficientSignal
				}
				return res, &TimeoutError{Result: res}
			}
			exp, err = o.dev.SetExposure(next)
			if err != nil {
				return res, err
			}
		} else {
			var next float64
			if peak > bandHi {
				ghiTight = true
				ghi = gain
				if gloTight {
					next = (glo + ghi) / 2
				} else {
					next = gain / 2
				}
				if next < bounds.GainMin {
					next = bounds.GainMin
				}
			} else {
				gloTight = true
				glo = gain
				if ghiTight {
					next = (glo + ghi) / 2
				} else if gain > 0 {
					next = gain * 2
				} else {
					next = (gain + ghi) / 2
				}
				if next > bounds.GainMax {
					next = bounds.GainMax
				}
			}
			if next == gain {
				if peak < bandLo {
					return res, ErrInsufficientSignal
				}
				return res, &TimeoutError{Result: res}
			}
			gain, err = o.dev.SetGain(next)
			if err != nil {
				return res, err
			}
		}
	}
	return res, &TimeoutError{Result: res}
}

func peakOf(frame []float64) float64 {
	if len(frame) == 0 {
		return 0
	}
	max := frame[0]
	for _, v := range frame {
		if v > max {
			max = v
		}
	}
	return max
}
