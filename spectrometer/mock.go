package spectrometer

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrNotOpen is generated when a frame is requested from a closed device
var ErrNotOpen = errors.New("spectrometer: device is not open")

// Mock is a synthetic spectrometer.  Its frames are a Gaussian peak riding
// on a dark floor; the peak amplitude grows linearly with exposure time and
// gain and clips at the saturation level, which is what the exposure
// optimizer assumes of real hardware.  It is concurrent safe.
type Mock struct {
	sync.Mutex

	// CountsPerMs is the unsaturated peak amplitude per millisecond of
	// exposure at gain 1
	CountsPerMs float64

	// DarkFloor is a constant pedestal added to every bin
	DarkFloor float64

	// NoiseAmp is the amplitude of uniform additive noise; zero for
	// deterministic frames in tests
	NoiseAmp float64

	bounds      Bounds
	wavelengths []float64
	exposure    time.Duration
	gain        float64
	open        bool
	captures    int
	rng         *rand.Rand

	// failNext is consumed by the next CaptureFrame to simulate a fault
	failNext error
}

// NewMock returns a Mock with the response of a small 12-bit sensor:
// 64 bins spanning 400..715nm, exposure bounds of [1ms, 1s], no gain range,
// saturation of 4095 and 50 counts per ms of exposure.
func NewMock() *Mock {
	wl := make([]float64, 64)
	for i := range wl {
		wl[i] = 400 + 5*float64(i)
	}
	return &Mock{
		CountsPerMs: 50,
		bounds: Bounds{
			ExposureMin: 1 * time.Millisecond,
			ExposureMax: 1000 * time.Millisecond,
			GainMin:     1,
			GainMax:     1,
			Saturation:  4095,
		},
		wavelengths: wl,
		exposure:    1 * time.Millisecond,
		gain:        1,
		rng:         rand.New(rand.NewSource(1)),
	}
}

// Open marks the device open.  It never fails.
func (m *Mock) Open() error {
	m.Lock()
	defer m.Unlock()
	m.open = true
	return nil
}

// Close marks the device closed
func (m *Mock) Close() error {
	m.Lock()
	defer m.Unlock()
	m.open = false
	return nil
}

// ID returns a fixed identifier
func (m *Mock) ID() string {
	return "mock-spectrometer"
}

// SetBounds replaces the hardware limits, for tests that need a particular
// exposure or gain range
func (m *Mock) SetBounds(b Bounds) {
	m.Lock()
	defer m.Unlock()
	m.bounds = b
}

// Bounds returns the hardware limits
func (m *Mock) Bounds() (Bounds, error) {
	m.Lock()
	defer m.Unlock()
	return m.bounds, nil
}

// SetExposure clamps and applies an exposure time, returning the applied value
func (m *Mock) SetExposure(d time.Duration) (time.Duration, error) {
	m.Lock()
	defer m.Unlock()
	if d < m.bounds.ExposureMin {
		d = m.bounds.ExposureMin
	}
	if d > m.bounds.ExposureMax {
		d = m.bounds.ExposureMax
	}
	m.exposure = d
	return d, nil
}

// GetExposure returns the current exposure time
func (m *Mock) GetExposure() (time.Duration, error) {
	m.Lock()
	defer m.Unlock()
	return m.exposure, nil
}

// SetGain clamps and applies a gain, returning the applied value
func (m *Mock) SetGain(g float64) (float64, error) {
	m.Lock()
	defer m.Unlock()
	if g < m.bounds.GainMin {
		g = m.bounds.GainMin
	}
	if g > m.bounds.GainMax {
		g = m.bounds.GainMax
	}
	m.gain = g
	return g, nil
}

// GetGain returns the current gain
func (m *Mock) GetGain() (float64, error) {
	m.Lock()
	defer m.Unlock()
	return m.gain, nil
}

// Wavelengths returns a copy of the wavelength axis
func (m *Mock) Wavelengths() ([]float64, error) {
	m.Lock()
	defer m.Unlock()
	out := make([]float64, len(m.wavelengths))
	copy(out, m.wavelengths)
	return out, nil
}

// FailNext arranges for the next CaptureFrame call to fail with err
func (m *Mock) FailNext(err error) {
	m.Lock()
	defer m.Unlock()
	m.failNext = err
}

// CaptureCount returns how many frames have been captured
func (m *Mock) CaptureCount() int {
	m.Lock()
	defer m.Unlock()
	return m.captures
}

// CaptureFrame synthesizes one frame at the current exposure and gain
func (m *Mock) CaptureFrame() ([]float64, error) {
	m.Lock()
	defer m.Unlock()
	if !m.open {
		return nil, &DeviceError{Op: "capture-frame", Err: ErrNotOpen}
	}
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return nil, &DeviceError{Op: "capture-frame", Err: err}
	}
	m.captures++

	expMs := float64(m.exposure) / float64(time.Millisecond)
	peak := m.CountsPerMs * expMs * m.gain
	n := len(m.wavelengths)
	center := m.wavelengths[n/2]
	span := m.wavelengths[n-1] - m.wavelengths[0]
	sigma := span / 8
	out := make([]float64, n)
	for i, wl := range m.wavelengths {
		d := (wl - center) / sigma
		v := m.DarkFloor + peak*math.Exp(-d*d)
		if m.NoiseAmp > 0 {
			v += m.NoiseAmp * (2*m.rng.Float64() - 1)
		}
		if v > m.bounds.Saturation {
			v = m.bounds.Saturation
		}
		if v < 0 {
			v = 0
		}
		out[i] = v
	}
	return out, nil
}
