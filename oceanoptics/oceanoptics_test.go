package oceanoptics_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/photonbench/gospect/oceanoptics"
)

// scriptConn plays the device side of the ASCII bridge protocol.  Writing a
// command queues the scripted reply for the next read.
type scriptConn struct {
	replies map[string]string
	sent    []string
	buf     bytes.Buffer
}

func (c *scriptConn) Write(p []byte) (int, error) {
	cmd := strings.TrimSuffix(string(p), "\n")
	c.sent = append(c.sent, cmd)
	reply, ok := c.replies[cmd]
	if !ok {
		// fall back to the verb so tests need not script exact arguments
		verb := strings.Fields(cmd)[0]
		reply, ok = c.replies[verb]
	}
	if !ok {
		reply = "ERR unknown command"
	}
	c.buf.WriteString(reply + "\n")
	return len(p), nil
}

func (c *scriptConn) Read(p []byte) (int, error) { return c.buf.Read(p) }
func (c *scriptConn) Close() error               { return nil }

func newScripted(replies map[string]string) (*oceanoptics.Spectrometer, *scriptConn) {
	conn := &scriptConn{replies: replies}
	dev := oceanoptics.New("scripted", false)
	dev.Conn = conn
	return dev, conn
}

func TestBoundsParsing(t *testing.T) {
	dev, _ := newScripted(map[string]string{
		"BOUNDS?": "1000,1000000,1,16,4095",
	})
	b, err := dev.Bounds()
	if err != nil {
		t.Fatal(err)
	}
	if b.ExposureMin != time.Millisecond {
		t.Errorf("expected a 1ms exposure floor, got %v", b.ExposureMin)
	}
	if b.ExposureMax != time.Second {
		t.Errorf("expected a 1s exposure ceiling, got %v", b.ExposureMax)
	}
	if b.GainMin != 1 || b.GainMax != 16 {
		t.Errorf("expected a gain range of [1, 16], got [%v, %v]", b.GainMin, b.GainMax)
	}
	if b.Saturation != 4095 {
		t.Errorf("expected saturation 4095, got %v", b.Saturation)
	}
}

func TestBoundsMalformed(t *testing.T) {
	dev, _ := newScripted(map[string]string{
		"BOUNDS?": "1000,1000000,1",
	})
	if _, err := dev.Bounds(); err == nil {
		t.Fatal("expected an error for a short bounds reply")
	}
}

func TestSetExposureClampsBeforeSending(t *testing.T) {
	dev, conn := newScripted(map[string]string{
		"BOUNDS?": "1000,1000000,1,1,4095",
		"EXP":     "1000000.0",
	})
	applied, err := dev.SetExposure(10 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if applied != time.Second {
		t.Errorf("expected the applied exposure echoed as 1s, got %v", applied)
	}
	last := conn.sent[len(conn.sent)-1]
	if last != "EXP 1000000.000" {
		t.Errorf("expected the command clamped to the ceiling before transmission, sent %q", last)
	}
}

func TestCaptureFrameLengthCheck(t *testing.T) {
	dev, _ := newScripted(map[string]string{
		"WAVES?": "400,405,410,415",
		"SPEC?":  "10,20,30",
	})
	wl, err := dev.Wavelengths()
	if err != nil {
		t.Fatal(err)
	}
	if len(wl) != 4 {
		t.Fatalf("expected 4 wavelengths, got %d", len(wl))
	}
	if _, err := dev.CaptureFrame(); err == nil {
		t.Fatal("expected an error for a frame shorter than the axis")
	}
}

func TestCaptureFrame(t *testing.T) {
	dev, _ := newScripted(map[string]string{
		"SPEC?": "10.5, 20, 30.25",
	})
	frame, err := dev.CaptureFrame()
	if err != nil {
		t.Fatal(err)
	}
	expected := []float64{10.5, 20, 30.25}
	if len(frame) != len(expected) {
		t.Fatalf("expected %d samples, got %d", len(expected), len(frame))
	}
	for i := range expected {
		if frame[i] != expected[i] {
			t.Errorf("sample %d expected %v, got %v", i, expected[i], frame[i])
		}
	}
}

func TestErrReplySurfaces(t *testing.T) {
	dev, _ := newScripted(map[string]string{
		"GAIN?": "ERR gain unsupported",
	})
	if _, err := dev.GetGain(); err == nil {
		t.Fatal("expected an error for an ERR reply")
	}
}
