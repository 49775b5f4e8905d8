package acquire

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/brandondube/ringo"
	"golang.org/x/time/rate"

	"github.com/photonbench/gospect/spectrometer"
	"github.com/photonbench/gospect/spectrum"
)

// ErrDeviceBusy is generated when an operation needs exclusive device
// access and the controller is not idle.  Busy operations fail fast rather
// than queue, for predictability.
var ErrDeviceBusy = errors.New("acquire: device busy; stop the running acquisition first")

// State is the controller's acquisition state
type State int

const (
	// StateIdle means no acquisition is in flight
	StateIdle State = iota

	// StateLive means the continuous preview loop is running
	StateLive

	// StateRecording means a single accumulate-and-store action is in flight
	StateRecording

	// StateOptimizing means the exposure optimizer owns the device
	StateOptimizing
)

// String satisfies fmt.Stringer
func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateRecording:
		return "recording"
	case StateOptimizing:
		return "optimizing"
	}
	return "idle"
}

// peakHistoryLen is how many recent peak intensities the controller retains
// for the saturation monitor
const peakHistoryLen = 120

// Controller orchestrates continuous and single-shot acquisition for one
// device.  It is the session object: it owns the device handle, the
// calibration set and the acquisition mode, and is safe for concurrent use
// by an HTTP or display layer.  Create one with NewController and release
// it with Close.
type Controller struct {
	mu  sync.Mutex
	dev spectrometer.Spectrometer
	acc *Accumulator

	state   State
	mode    Mode
	cal     *Calibration
	liveAvg int
	sat     float64

	cancel chan struct{}
	done   chan struct{}

	notify  chan *spectrum.Spectrum
	limiter *rate.Limiter
	peaks   ringo.CircleF64
	last    *spectrum.Spectrum
	lastErr error

	closeOnce sync.Once
	closeErr  error
}

// NewController opens the device and returns a controller in the idle
// state.  The handle is released exactly once, by Close.
func NewController(dev spectrometer.Spectrometer) (*Controller, error) {
	err := dev.Open()
	if err != nil {
		return nil, err
	}
	bounds, err := dev.Bounds()
	if err != nil {
		dev.Close()
		return nil, err
	}
	c := &Controller{
		dev:     dev,
		acc:     NewAccumulator(dev),
		cal:     &Calibration{},
		liveAvg: 1,
		sat:     bounds.Saturation,
		notify:  make(chan *spectrum.Spectrum, 1),
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
	c.peaks.Init(peakHistoryLen)
	return c, nil
}

// Close stops any live acquisition and releases the device handle.  It is
// idempotent; only the first call closes the device.
func (c *Controller) Close() error {
	c.Stop()
	c.closeOnce.Do(func() {
		c.closeErr = c.dev.Close()
	})
	return c.closeErr
}

// State returns the current acquisition state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode returns the current acquisition mode
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches between direct and UV/VIS output.  Allowed only from
// idle.  Leaving UV/VIS drops the reference spectrum; it has no meaning in
// direct mode and a stale one must not survive a round trip.
func (c *Controller) SetMode(m Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrDeviceBusy
	}
	if c.mode == ModeUVVIS && m != ModeUVVIS {
		c.cal.Reference = nil
	}
	c.mode = m
	return nil
}

// SetLiveAverages sets how many frames are averaged per live update
func (c *Controller) SetLiveAverages(n int) error {
	if n < 1 {
		return errors.New("acquire: live averaging count must be >= 1")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveAvg = n
	return nil
}

// SetLiveInterval sets the pacing of the live loop; one accumulation per
// interval
func (c *Controller) SetLiveInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiter = rate.NewLimiter(rate.Every(d), 1)
}

// Notify returns the channel live and recorded spectra are published on.
// Sends are non-blocking; a slow consumer misses frames rather than
// stalling acquisition.
func (c *Controller) Notify() <-chan *spectrum.Spectrum {
	return c.notify
}

// LastSpectrum returns the most recently acquired spectrum, or nil
func (c *Controller) LastSpectrum() *spectrum.Spectrum {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// LastError returns the error that stopped the last live loop, if any
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// PeakHistory returns the recent raw peak intensities, least recent first
func (c *Controller) PeakHistory() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peaks.Contiguous()
}

// SaturationOK returns false if the most recent frame clipped
func (c *Controller) SaturationOK() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peaks.Tail() < c.sat
}

// DeviceState returns a read-only snapshot of the device for display
func (c *Controller) DeviceState() (spectrometer.DeviceState, error) {
	return spectrometer.Snapshot(c.dev)
}

// Calibration returns a copy of the current calibration set
func (c *Controller) Calibration() Calibration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.cal
}

// SetExposure applies an exposure time (clamped by the device) and returns
// the effective value.  Changing exposure breaks dark comparability, so the
// dark spectrum is dropped.
func (c *Controller) SetExposure(d time.Duration) (time.Duration, error) {
	applied, err := c.dev.SetExposure(d)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.cal.InvalidateDark()
	c.mu.Unlock()
	return applied, nil
}

// SetGain applies a gain (clamped by the device) and returns the effective
// value.  Like exposure changes, this drops the dark spectrum.
func (c *Controller) SetGain(g float64) (float64, error) {
	applied, err := c.dev.SetGain(g)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.cal.InvalidateDark()
	c.mu.Unlock()
	return applied, nil
}

// enter transitions Idle -> s, failing fast if not idle
func (c *Controller) enter(s State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrDeviceBusy
	}
	c.state = s
	return nil
}

// exit returns to Idle unconditionally; record paths defer it so no error
// leaves the controller stuck
func (c *Controller) exit() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

// StartLive begins continuous preview acquisition.  Results are published
// on the Notify channel and retained as LastSpectrum.  Fails fast when not
// idle.
func (c *Controller) StartLive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrDeviceBusy
	}
	c.state = StateLive
	c.lastErr = nil
	c.cancel = make(chan struct{})
	c.done = make(chan struct{})
	go c.liveLoop(c.cancel, c.done)
	return nil
}

// Stop cancels live acquisition and blocks until the loop has exited.  The
// check point is between frames; a capture in flight completes first.  Stop
// is a no-op when not live.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StateLive || c.cancel == nil {
		c.mu.Unlock()
		return
	}
	close(c.cancel)
	c.cancel = nil
	done := c.done
	c.mu.Unlock()
	<-done
}

func (c *Controller) liveLoop(cancel, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		close(done)
	}()
	ctx := context.Background()
	for {
		select {
		case <-cancel:
			return
		default:
		}
		c.mu.Lock()
		n := c.liveAvg
		limiter := c.limiter
		c.mu.Unlock()
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		raw, err := c.acc.Accumulate(n)
		if err != nil {
			c.mu.Lock()
			c.lastErr = err
			c.mu.Unlock()
			log.Printf("live acquisition stopped, %v", err)
			return
		}
		c.ingest(raw)
	}
}

// ingest runs a raw spectrum through the pipeline and publishes it.  The
// preview survives a missing reference by falling back to the direct
// signal; a reference axis mismatch degrades the same way.
func (c *Controller) ingest(raw *spectrum.Spectrum) {
	_, peak := raw.Peak()
	c.mu.Lock()
	c.peaks.Append(peak)
	// copy the calibration set; Process reads it after the lock is
	// released and SetExposure/SetGain mutate it concurrently
	cal := *c.cal
	pipe := Pipeline{Mode: c.mode, Cal: &cal}
	c.mu.Unlock()

	proc, err := pipe.Process(raw)
	if err != nil {
		pipe.Mode = ModeDirect
		proc, err = pipe.Process(raw)
		if err != nil {
			// direct processing cannot fail on a well formed spectrum
			log.Printf("dropping live frame, %v", err)
			return
		}
	}
	c.mu.Lock()
	c.last = proc
	c.mu.Unlock()
	select {
	case c.notify <- proc:
	default:
	}
}

// Record accumulates n frames, runs the measurement pipeline, and returns
// the final spectrum.  The controller returns to idle whether or not the
// acquisition succeeds.
func (c *Controller) Record(n int) (*spectrum.Spectrum, error) {
	if err := c.enter(StateRecording); err != nil {
		return nil, err
	}
	defer c.exit()
	raw, err := c.acc.Accumulate(n)
	if err != nil {
		return nil, err
	}
	_, peak := raw.Peak()
	c.mu.Lock()
	c.peaks.Append(peak)
	cal := *c.cal
	pipe := Pipeline{Mode: c.mode, Cal: &cal}
	c.mu.Unlock()
	proc, err := pipe.Process(raw)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.last = proc
	c.mu.Unlock()
	select {
	case c.notify <- proc:
	default:
	}
	return proc, nil
}

// RecordDark accumulates n frames and stores the result as the session's
// dark spectrum instead of returning it for display
func (c *Controller) RecordDark(n int) error {
	if err := c.enter(StateRecording); err != nil {
		return err
	}
	defer c.exit()
	raw, err := c.acc.Accumulate(n)
	if err != nil {
		return err
	}
	raw.Mode = spectrum.Dark
	c.mu.Lock()
	c.cal.Dark = raw
	c.mu.Unlock()
	return nil
}

// RecordReference accumulates n frames and stores the result as the
// session's reference spectrum.  The reference is stored raw; dark
// subtraction is applied at conversion time so a later dark recording
// benefits it too.
func (c *Controller) RecordReference(n int) error {
	if err := c.enter(StateRecording); err != nil {
		return err
	}
	defer c.exit()
	raw, err := c.acc.Accumulate(n)
	if err != nil {
		return err
	}
	raw.Mode = spectrum.Reference
	c.mu.Lock()
	c.cal.Reference = raw
	c.mu.Unlock()
	return nil
}

// ClearDark discards the stored dark spectrum.  Subsequent frames are
// processed without dark subtraction until a new dark is recorded.
func (c *Controller) ClearDark() {
	c.mu.Lock()
	c.cal.InvalidateDark()
	c.mu.Unlock()
}

// ClearReference discards the stored reference spectrum.  In UV/VIS mode
// conversion will fail with ErrMissingReference until a new reference is
// recorded.
func (c *Controller) ClearReference() {
	c.mu.Lock()
	c.cal.Reference = nil
	c.mu.Unlock()
}

// Optimize runs the exposure optimizer with exclusive device ownership.
// Denied when not idle.  The optimizer moves exposure and possibly gain, so
// the dark spectrum is dropped afterward.  Warnings (*TimeoutError,
// ErrInsufficientSignal) come back alongside the best result found.
func (c *Controller) Optimize() (Result, error) {
	if err := c.enter(StateOptimizing); err != nil {
		return Result{}, err
	}
	defer c.exit()
	opt := NewOptimizer(c.dev)
	res, err := opt.Run()
	c.mu.Lock()
	c.cal.InvalidateDark()
	c.mu.Unlock()
	return res, err
}
