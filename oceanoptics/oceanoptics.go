// Package oceanoptics provides an adapter to Ocean Optics style USB
// spectrometers exposed through a line-oriented ASCII bridge, over TCP
// (e.g. a terminal server) or RS232.  It satisfies
// spectrometer.Spectrometer.
package oceanoptics

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/photonbench/gospect/comm"
	"github.com/photonbench/gospect/spectrometer"
	"github.com/photonbench/gospect/util"
)

// Spectrometer speaks the ASCII bridge protocol.  One command in flight at
// a time; the embedded mutex serializes callers.
type Spectrometer struct {
	sync.Mutex
	comm.RemoteDevice

	// cached after the first query; fixed for the session
	wavelengths []float64
	bounds      *spectrometer.Bounds
	id          string
}

// New returns a new Spectrometer for the given address.  serial is true
// for RS232 bridges, false for TCP.
func New(addr string, serial bool) *Spectrometer {
	return &Spectrometer{RemoteDevice: comm.NewRemoteDevice(addr, serial)}
}

// SerialConf returns the serial configuration of the bridge
func (s *Spectrometer) SerialConf() *serial.Config {
	return &serial.Config{
		Name:        s.Addr,
		Baud:        115200,
		ReadTimeout: 10 * time.Second}
}

// Open acquires the connection.  The serial path is opened here rather than
// by the embedded RemoteDevice, which cannot see this type's SerialConf.
func (s *Spectrometer) Open() error {
	s.Lock()
	defer s.Unlock()
	var err error
	if s.IsSerial {
		var conn *serial.Port
		conn, err = serial.OpenPort(s.SerialConf())
		if err == nil {
			s.Conn = conn
		}
	} else {
		err = s.RemoteDevice.Open()
	}
	if err != nil {
		return &spectrometer.DeviceError{Op: "open", Err: err}
	}
	return nil
}

// Close releases the connection
func (s *Spectrometer) Close() error {
	s.Lock()
	defer s.Unlock()
	err := s.RemoteDevice.Close()
	if err != nil {
		return &spectrometer.DeviceError{Op: "close", Err: err}
	}
	return nil
}

func (s *Spectrometer) query(cmd string) (string, error) {
	resp, err := s.SendRecv([]byte(cmd))
	if err != nil {
		return "", err
	}
	txt := strings.TrimSpace(string(resp))
	if strings.HasPrefix(txt, "ERR") {
		return "", fmt.Errorf("device replied %q to %q", txt, cmd)
	}
	return txt, nil
}

// ID returns the device identification string
func (s *Spectrometer) ID() string {
	s.Lock()
	defer s.Unlock()
	if s.id != "" {
		return s.id
	}
	resp, err := s.query("IDN?")
	if err != nil {
		return "oceanoptics-unknown"
	}
	s.id = resp
	return s.id
}

// Bounds queries the hardware limits.  The reply is five comma separated
// fields: exposure min and max in microseconds, gain min and max, and the
// saturation level.
func (s *Spectrometer) Bounds() (spectrometer.Bounds, error) {
	s.Lock()
	defer s.Unlock()
	if s.bounds != nil {
		return *s.bounds, nil
	}
	resp, err := s.query("BOUNDS?")
	if err != nil {
		return spectrometer.Bounds{}, &spectrometer.DeviceError{Op: "get-bounds", Err: err}
	}
	fields, err := splitFloats(resp)
	if err != nil || len(fields) != 5 {
		return spectrometer.Bounds{}, &spectrometer.DeviceError{Op: "get-bounds",
			Err: fmt.Errorf("malformed bounds reply %q: %v", resp, err)}
	}
	b := spectrometer.Bounds{
		ExposureMin: time.Duration(fields[0]) * time.Microsecond,
		ExposureMax: time.Duration(fields[1]) * time.Microsecond,
		GainMin:     fields[2],
		GainMax:     fields[3],
		Saturation:  fields[4],
	}
	s.bounds = &b
	return b, nil
}

// SetExposure commands an exposure time and returns the applied value.
// The request is clamped to the hardware bounds before transmission.
func (s *Spectrometer) SetExposure(d time.Duration) (time.Duration, error) {
	bounds, err := s.Bounds()
	if err != nil {
		return 0, err
	}
	us := util.Clamp(float64(d)/float64(time.Microsecond),
		float64(bounds.ExposureMin)/float64(time.Microsecond),
		float64(bounds.ExposureMax)/float64(time.Microsecond))
	s.Lock()
	defer s.Unlock()
	resp, err := s.query(fmt.Sprintf("EXP %.3f", us))
	if err != nil {
		return 0, &spectrometer.DeviceError{Op: "set-exposure", Err: err}
	}
	applied, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, &spectrometer.DeviceError{Op: "set-exposure",
			Err: fmt.Errorf("malformed exposure reply %q: %v", resp, err)}
	}
	return time.Duration(applied * float64(time.Microsecond)), nil
}

// GetExposure returns the current exposure time
func (s *Spectrometer) GetExposure() (time.Duration, error) {
	s.Lock()
	defer s.Unlock()
	resp, err := s.query("EXP?")
	if err != nil {
		return 0, &spectrometer.DeviceError{Op: "get-exposure", Err: err}
	}
	us, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, &spectrometer.DeviceError{Op: "get-exposure",
			Err: fmt.Errorf("malformed exposure reply %q: %v", resp, err)}
	}
	return time.Duration(us * float64(time.Microsecond)), nil
}

// SetGain commands a gain and returns the applied value
func (s *Spectrometer) SetGain(g float64) (float64, error) {
	bounds, err := s.Bounds()
	if err != nil {
		return 0, err
	}
	g = util.Clamp(g, bounds.GainMin, bounds.GainMax)
	s.Lock()
	defer s.Unlock()
	resp, err := s.query(fmt.Sprintf("GAIN %.3f", g))
	if err != nil {
		return 0, &spectrometer.DeviceError{Op: "set-gain", Err: err}
	}
	applied, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, &spectrometer.DeviceError{Op: "set-gain",
			Err: fmt.Errorf("malformed gain reply %q: %v", resp, err)}
	}
	return applied, nil
}

// GetGain returns the current gain
func (s *Spectrometer) GetGain() (float64, error) {
	s.Lock()
	defer s.Unlock()
	resp, err := s.query("GAIN?")
	if err != nil {
		return 0, &spectrometer.DeviceError{Op: "get-gain", Err: err}
	}
	g, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, &spectrometer.DeviceError{Op: "get-gain",
			Err: fmt.Errorf("malformed gain reply %q: %v", resp, err)}
	}
	return g, nil
}

// Wavelengths returns the wavelength axis, comma separated nm values from
// the device, cached after the first query
func (s *Spectrometer) Wavelengths() ([]float64, error) {
	s.Lock()
	defer s.Unlock()
	if s.wavelengths != nil {
		out := make([]float64, len(s.wavelengths))
		copy(out, s.wavelengths)
		return out, nil
	}
	resp, err := s.query("WAVES?")
	if err != nil {
		return nil, &spectrometer.DeviceError{Op: "get-wavelengths", Err: err}
	}
	wl, err := splitFloats(resp)
	if err != nil {
		return nil, &spectrometer.DeviceError{Op: "get-wavelengths",
			Err: fmt.Errorf("malformed wavelength reply: %v", err)}
	}
	s.wavelengths = wl
	out := make([]float64, len(wl))
	copy(out, wl)
	return out, nil
}

// CaptureFrame triggers one acquisition at the current exposure and gain
// and returns the counts.  The device blocks for the exposure duration; the
// read deadline belongs to the bridge configuration.
func (s *Spectrometer) CaptureFrame() ([]float64, error) {
	s.Lock()
	defer s.Unlock()
	resp, err := s.query("SPEC?")
	if err != nil {
		return nil, &spectrometer.DeviceError{Op: "capture-frame", Err: err}
	}
	frame, err := splitFloats(resp)
	if err != nil {
		return nil, &spectrometer.DeviceError{Op: "capture-frame",
			Err: fmt.Errorf("malformed frame: %v", err)}
	}
	if s.wavelengths != nil && len(frame) != len(s.wavelengths) {
		return nil, &spectrometer.DeviceError{Op: "capture-frame",
			Err: fmt.Errorf("frame length %d does not match wavelength axis length %d", len(frame), len(s.wavelengths))}
	}
	return frame, nil
}

func splitFloats(s string) ([]float64, error) {
	chunks := strings.Split(s, ",")
	out := make([]float64, len(chunks))
	for i, c := range chunks {
		f, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
