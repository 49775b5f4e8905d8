package acquire

import (
	"errors"
	"fmt"
	"math"

	"github.com/photonbench/gospect/spectrum"
)

// Mode selects what quantity the pipeline produces
type Mode int

const (
	// ModeDirect is plain intensity readout ("simple spectrometer")
	ModeDirect Mode = iota

	// ModeUVVIS converts to optical density against a reference spectrum
	ModeUVVIS
)

// String satisfies fmt.Stringer
func (m Mode) String() string {
	if m == ModeUVVIS {
		return "uvvis"
	}
	return "direct"
}

// ParseAcqMode converts a string to a Mode.  It is case insensitive to the
// extent that the two modes are lowercase words.
func ParseAcqMode(s string) (Mode, error) {
	switch s {
	case "direct":
		return ModeDirect, nil
	case "uvvis", "uv-vis", "uv/vis":
		return ModeUVVIS, nil
	}
	return ModeDirect, fmt.Errorf("acquire: mode %q is not one of direct, uvvis", s)
}

// ErrMissingReference is generated when a UV/VIS conversion is requested
// without a reference spectrum recorded
var ErrMissingReference = errors.New("acquire: UV/VIS mode requires a reference spectrum; record one first")

// AxisMismatchError is generated when a calibration spectrum's wavelength
// axis is incompatible with the live spectrum.  Resampling is out of scope;
// the calibration must be re-recorded.
type AxisMismatchError struct {
	// Which names the offending calibration member, "dark" or "reference"
	Which string
}

// Error satisfies the error interface
func (e *AxisMismatchError) Error() string {
	return fmt.Sprintf("acquire: %s spectrum wavelength axis does not match the live spectrum", e.Which)
}

// Calibration holds the optional dark and reference spectra for a session.
// The zero value is valid (no calibration).  Exposure or gain changes break
// dark comparability; an axis change breaks both.
type Calibration struct {
	// Dark is the sensor response with no light input
	Dark *spectrum.Spectrum

	// Reference is the baseline light source spectrum for OD conversion
	Reference *spectrum.Spectrum
}

// InvalidateDark drops the dark spectrum.  Called when exposure or gain change.
func (c *Calibration) InvalidateDark() {
	c.Dark = nil
}

// Invalidate drops both calibration members.  Called when the wavelength
// axis changes.
func (c *Calibration) Invalidate() {
	c.Dark = nil
	c.Reference = nil
}

// Pipeline turns raw averaged spectra into the quantity the user asked for:
// dark subtraction, then either direct intensities or optical density.
type Pipeline struct {
	// Mode selects direct or UV/VIS output
	Mode Mode

	// Cal is the session calibration set
	Cal *Calibration
}

// darkSubtract returns raw minus the dark spectrum per bin.  When no dark
// is set, or its axis does not match, the input passes through unchanged.
func (p *Pipeline) darkSubtract(raw *spectrum.Spectrum) []float64 {
	out := make([]float64, len(raw.Intensities))
	copy(out, raw.Intensities)
	dark := p.Cal.Dark
	if dark == nil || !spectrum.AxesMatch(raw.Wavelengths, dark.Wavelengths) {
		return out
	}
	for i := range out {
		out[i] -= dark.Intensities[i]
	}
	return out
}

// Process converts a raw averaged spectrum.  The input is not mutated.
//
// In UV/VIS mode, bins where the corrected sample or corrected reference is
// <= 0 have no defined optical density and come back as NaN; the rest of
// the spectrum remains usable.
func (p *Pipeline) Process(raw *spectrum.Spectrum) (*spectrum.Spectrum, error) {
	corrected := p.darkSubtract(raw)

	out := &spectrum.Spectrum{
		Wavelengths: raw.Wavelengths,
		Intensities: corrected,
		Time:        raw.Time,
		Exposure:    raw.Exposure,
		Gain:        raw.Gain,
		Averages:    raw.Averages,
		Mode:        spectrum.Direct,
	}
	if p.Mode == ModeDirect {
		return out, nil
	}

	ref := p.Cal.Reference
	if ref == nil {
		return nil, ErrMissingReference
	}
	if !spectrum.AxesMatch(raw.Wavelengths, ref.Wavelengths) {
		return nil, &AxisMismatchError{Which: "reference"}
	}
	refCorrected := p.darkSubtract(ref)
	for i := range corrected {
		s, r := corrected[i], refCorrected[i]
		if s <= 0 || r <= 0 {
			corrected[i] = math.NaN()
			continue
		}
		corrected[i] = -math.Log10(s / r)
	}
	out.Mode = spectrum.Sample
	return out, nil
}
