package acquire

import (
	"errors"
	"math"
	"testing"

	"github.com/photonbench/gospect/spectrum"
)

func mustSpectrum(t *testing.T, wl, in []float64) *spectrum.Spectrum {
	t.Helper()
	s, err := spectrum.New(wl, in)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestProcessDirectPassThrough(t *testing.T) {
	p := Pipeline{Mode: ModeDirect, Cal: &Calibration{}}
	raw := mustSpectrum(t, []float64{1, 2, 3}, []float64{10, 20, 30})
	out, err := p.Process(raw)
	if err != nil {
		t.Fatal(err)
	}
	for i := range out.Intensities {
		if out.Intensities[i] != raw.Intensities[i] {
			t.Errorf("bin %d changed without a dark set, %v vs %v", i, out.Intensities[i], raw.Intensities[i])
		}
	}
	// the input must not be aliased; Process returns new storage
	out.Intensities[0] = -1
	if raw.Intensities[0] == -1 {
		t.Error("Process mutated its input")
	}
}

func TestProcessDarkSubtraction(t *testing.T) {
	wl := []float64{1, 2, 3}
	p := Pipeline{Mode: ModeDirect, Cal: &Calibration{
		Dark: mustSpectrum(t, wl, []float64{5, 5, 5}),
	}}
	raw := mustSpectrum(t, wl, []float64{10, 20, 30})
	out, err := p.Process(raw)
	if err != nil {
		t.Fatal(err)
	}
	expected := []float64{5, 15, 25}
	for i := range expected {
		if out.Intensities[i] != expected[i] {
			t.Errorf("bin %d expected %v, got %v", i, expected[i], out.Intensities[i])
		}
	}
}

func TestProcessDarkAxisMismatchPassesThrough(t *testing.T) {
	p := Pipeline{Mode: ModeDirect, Cal: &Calibration{
		Dark: mustSpectrum(t, []float64{7, 8, 9}, []float64{5, 5, 5}),
	}}
	raw := mustSpectrum(t, []float64{1, 2, 3}, []float64{10, 20, 30})
	out, err := p.Process(raw)
	if err != nil {
		t.Fatal(err)
	}
	for i := range out.Intensities {
		if out.Intensities[i] != raw.Intensities[i] {
			t.Errorf("bin %d subtracted a mismatched dark, %v", i, out.Intensities[i])
		}
	}
}

func TestProcessUVVISRequiresReference(t *testing.T) {
	p := Pipeline{Mode: ModeUVVIS, Cal: &Calibration{}}
	raw := mustSpectrum(t, []float64{1, 2, 3}, []float64{10, 20, 30})
	_, err := p.Process(raw)
	if !errors.Is(err, ErrMissingReference) {
		t.Fatalf("expected ErrMissingReference, got %v", err)
	}
}

func TestProcessUVVISReferenceAxisMismatch(t *testing.T) {
	p := Pipeline{Mode: ModeUVVIS, Cal: &Calibration{
		Reference: mustSpectrum(t, []float64{7, 8, 9}, []float64{10, 10, 10}),
	}}
	raw := mustSpectrum(t, []float64{1, 2, 3}, []float64{10, 20, 30})
	_, err := p.Process(raw)
	var mismatch *AxisMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected an *AxisMismatchError, got %v", err)
	}
	if mismatch.Which != "reference" {
		t.Errorf("expected the reference flagged, got %q", mismatch.Which)
	}
}

func TestProcessUVVISOpticalDensity(t *testing.T) {
	wl := []float64{1, 2, 3}
	p := Pipeline{Mode: ModeUVVIS, Cal: &Calibration{
		Reference: mustSpectrum(t, wl, []float64{100, 100, 100}),
	}}
	raw := mustSpectrum(t, wl, []float64{100, 10, 1})
	out, err := p.Process(raw)
	if err != nil {
		t.Fatal(err)
	}
	// OD = -log10(S/R); equal signal is zero, each decade of attenuation
	// adds one
	expected := []float64{0, 1, 2}
	for i := range expected {
		if math.Abs(out.Intensities[i]-expected[i]) > 1e-12 {
			t.Errorf("bin %d expected OD %v, got %v", i, expected[i], out.Intensities[i])
		}
	}
	if out.Mode != spectrum.Sample {
		t.Errorf("expected a sample spectrum, got %v", out.Mode)
	}
}

func TestProcessUVVISDarkAppliesToBothSides(t *testing.T) {
	wl := []float64{1, 2}
	p := Pipeline{Mode: ModeUVVIS, Cal: &Calibration{
		Dark:      mustSpectrum(t, wl, []float64{10, 10}),
		Reference: mustSpectrum(t, wl, []float64{110, 110}),
	}}
	raw := mustSpectrum(t, wl, []float64{110, 20})
	out, err := p.Process(raw)
	if err != nil {
		t.Fatal(err)
	}
	// corrected sample {100, 10} over corrected reference {100, 100}
	expected := []float64{0, 1}
	for i := range expected {
		if math.Abs(out.Intensities[i]-expected[i]) > 1e-12 {
			t.Errorf("bin %d expected OD %v, got %v", i, expected[i], out.Intensities[i])
		}
	}
}

func TestProcessUVVISNaNSentinel(t *testing.T) {
	wl := []float64{1, 2, 3}
	p := Pipeline{Mode: ModeUVVIS, Cal: &Calibration{
		Dark:      mustSpectrum(t, wl, []float64{10, 0, 0}),
		Reference: mustSpectrum(t, wl, []float64{5, 100, 0}),
	}}
	raw := mustSpectrum(t, wl, []float64{5, 50, 10})
	out, err := p.Process(raw)
	if err != nil {
		t.Fatal(err)
	}
	// bin 0: corrected sample is -5, bin 2: corrected reference is 0;
	// neither has a defined OD
	if !math.IsNaN(out.Intensities[0]) {
		t.Errorf("expected NaN for non-positive sample, got %v", out.Intensities[0])
	}
	if !math.IsNaN(out.Intensities[2]) {
		t.Errorf("expected NaN for non-positive reference, got %v", out.Intensities[2])
	}
	// the healthy bin still converts
	if math.IsNaN(out.Intensities[1]) {
		t.Error("healthy bin poisoned by its neighbors")
	}
}
