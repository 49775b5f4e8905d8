// Package spectrometer defines the capability contract required of any
// spectral acquisition device, camera based or dedicated, and the shared
// state types.  Concrete hardware families implement Spectrometer as an
// adapter; the acquisition core never sees vendor SDK types.
package spectrometer

import (
	"fmt"
	"time"
)

// Bounds holds the hardware reported limits of a device.
type Bounds struct {
	// ExposureMin is the shortest supported exposure time
	ExposureMin time.Duration `json:"exposureMin"`

	// ExposureMax is the longest supported exposure time
	ExposureMax time.Duration `json:"exposureMax"`

	// GainMin is the lowest supported gain, device units
	GainMin float64 `json:"gainMin"`

	// GainMax is the highest supported gain, device units
	GainMax float64 `json:"gainMax"`

	// Saturation is the maximum representable intensity for the device's
	// digitization depth, e.g. 4095 for a 12-bit ADC
	Saturation float64 `json:"saturation"`
}

// HasGain returns true if the device has an adjustable gain range
func (b Bounds) HasGain() bool {
	return b.GainMax > b.GainMin
}

// DeviceState is a read-only snapshot of a device for display
type DeviceState struct {
	ID       string        `json:"id"`
	Exposure time.Duration `json:"exposure"`
	Gain     float64       `json:"gain"`
	Bounds   Bounds        `json:"bounds"`
}

// Spectrometer is the capability interface wrapping a physical sensor.
//
// CaptureFrame blocks for the duration of one exposure and returns the raw
// intensity of each wavelength bin.  Timeout policy belongs to the
// implementation; any fault or timeout surfaces as a *DeviceError and is
// never silently retried by callers.
//
// SetExposure and SetGain clamp the request to Bounds and return the
// effective applied value; out of range input is not an error.
//
// Wavelengths is fixed for the session once the device is open.
type Spectrometer interface {
	// Open acquires the device handle.
	Open() error

	// Close releases the device handle.
	Close() error

	// ID returns a device identifier, e.g. a model and serial number
	ID() string

	// CaptureFrame returns one frame at the current exposure and gain
	CaptureFrame() ([]float64, error)

	// Bounds returns the hardware limits
	Bounds() (Bounds, error)

	// SetExposure requests an exposure time and returns the applied value
	SetExposure(time.Duration) (time.Duration, error)

	// GetExposure returns the current exposure time
	GetExposure() (time.Duration, error)

	// SetGain requests a gain and returns the applied value
	SetGain(float64) (float64, error)

	// GetGain returns the current gain
	GetGain() (float64, error)

	// Wavelengths returns the wavelength axis
	Wavelengths() ([]float64, error)
}

// DeviceError wraps an I/O, timeout, or hardware fault from a device.  It
// is fatal to the operation in flight; the device remains open for retry.
type DeviceError struct {
	// Op is the operation that failed, e.g. "capture-frame"
	Op string

	// Err is the underlying fault
	Err error
}

// Error satisfies the error interface
func (e *DeviceError) Error() string {
	return fmt.Sprintf("spectrometer: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying fault
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Snapshot assembles a DeviceState from a device, for display consumers
func Snapshot(s Spectrometer) (DeviceState, error) {
	exp, err := s.GetExposure()
	if err != nil {
		return DeviceState{}, err
	}
	gain, err := s.GetGain()
	if err != nil {
		return DeviceState{}, err
	}
	bounds, err := s.Bounds()
	if err != nil {
		return DeviceState{}, err
	}
	return DeviceState{ID: s.ID(), Exposure: exp, Gain: gain, Bounds: bounds}, nil
}
