// Package spectrum provides the data container for acquired spectra and
// codecs to persist them to disk.
package spectrum

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrLengthMismatch is generated when the wavelength and intensity
	// slices are not the same length
	ErrLengthMismatch = errors.New("spectrum: wavelength and intensity slices are not the same length")

	// ErrAxisNotIncreasing is generated when the wavelength axis is not
	// strictly increasing
	ErrAxisNotIncreasing = errors.New("spectrum: wavelength axis is not strictly increasing")
)

// Mode tags what a spectrum is, which determines how the measurement
// pipeline treats it.
type Mode int

const (
	// Direct is a plain intensity readout
	Direct Mode = iota

	// Reference is the baseline light source spectrum, the denominator in
	// optical density conversion
	Reference

	// Dark is a no-light readout used for fixed-pattern subtraction
	Dark

	// Sample is a dark-subtracted, possibly OD-converted measurement
	Sample
)

// String satisfies fmt.Stringer
func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Reference:
		return "reference"
	case Dark:
		return "dark"
	case Sample:
		return "sample"
	}
	return fmt.Sprintf("unknown(%d)", int(m))
}

// ParseMode converts a string to a Mode.  It is case insensitive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "direct":
		return Direct, nil
	case "reference":
		return Reference, nil
	case "dark":
		return Dark, nil
	case "sample":
		return Sample, nil
	}
	return Direct, fmt.Errorf("spectrum: mode %q is not one of direct, reference, dark, sample", s)
}

// Spectrum is an ordered set of (wavelength, intensity) pairs with
// acquisition metadata.  Wavelengths are strictly increasing and the length
// is fixed once acquired.  Pipeline stages return new Spectra rather than
// mutating old ones.
type Spectrum struct {
	// Wavelengths is the wavelength axis, nm by convention
	Wavelengths []float64

	// Intensities are the values at each wavelength; counts, or OD after
	// UV/VIS conversion
	Intensities []float64

	// Time is the acquisition timestamp
	Time time.Time

	// Exposure is the exposure (integration) time used
	Exposure time.Duration

	// Gain is the device gain used, in device units
	Gain float64

	// Averages is the number of frames averaged into this spectrum
	Averages int

	// Mode tags what this spectrum is
	Mode Mode
}

// New creates a Spectrum after validating the axis, without copying the
// slices.  The metadata fields are left for the caller to populate.
func New(wavelengths, intensities []float64) (*Spectrum, error) {
	if len(wavelengths) != len(intensities) {
		return nil, ErrLengthMismatch
	}
	for i := 1; i < len(wavelengths); i++ {
		if wavelengths[i] <= wavelengths[i-1] {
			return nil, ErrAxisNotIncreasing
		}
	}
	return &Spectrum{Wavelengths: wavelengths, Intensities: intensities}, nil
}

// Len returns the number of (wavelength, intensity) pairs
func (s *Spectrum) Len() int {
	return len(s.Wavelengths)
}

// Peak returns the maximum intensity and the wavelength it occurs at.
// It returns (0, 0) for an empty spectrum.
func (s *Spectrum) Peak() (wavelength, intensity float64) {
	if len(s.Intensities) == 0 {
		return 0, 0
	}
	idx := 0
	max := s.Intensities[0]
	for i, v := range s.Intensities {
		if v > max {
			max = v
			idx = i
		}
	}
	return s.Wavelengths[idx], max
}

// AxesMatch compares two wavelength axes for exact equality.  Resampling is
// out of scope; spectra with different axes are not comparable.
func AxesMatch(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
