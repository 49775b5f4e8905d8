package spectrum

import (
	"bytes"
	"math"
	"testing"
	"time"
)

func testSpectrum() *Spectrum {
	wl := make([]float64, 64)
	in := make([]float64, 64)
	for i := 0; i < 64; i++ {
		wl[i] = 400 + 5*float64(i)
		in[i] = 100 * math.Exp(-float64(i-32)*float64(i-32)/128)
	}
	s, _ := New(wl, in)
	s.Time = time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC)
	s.Exposure = 25 * time.Millisecond
	s.Gain = 2
	s.Averages = 16
	s.Mode = Sample
	return s
}

func TestFITSRoundTrip(t *testing.T) {
	s := testSpectrum()
	buf := bytes.Buffer{}
	err := WriteFITS(&buf, s)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := ReadFITS(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if s2.Len() != s.Len() {
		t.Fatalf("expected %d samples after round trip, got %d", s.Len(), s2.Len())
	}
	// float64 end to end; exact equality is expected
	for i := 0; i < s.Len(); i++ {
		if s2.Wavelengths[i] != s.Wavelengths[i] {
			t.Errorf("wavelength %d mismatch, expected %v got %v", i, s.Wavelengths[i], s2.Wavelengths[i])
		}
		if s2.Intensities[i] != s.Intensities[i] {
			t.Errorf("intensity %d mismatch, expected %v got %v", i, s.Intensities[i], s2.Intensities[i])
		}
	}
	if s2.Exposure != s.Exposure {
		t.Errorf("exposure mismatch, expected %v got %v", s.Exposure, s2.Exposure)
	}
	if s2.Gain != s.Gain {
		t.Errorf("gain mismatch, expected %v got %v", s.Gain, s2.Gain)
	}
	if s2.Averages != s.Averages {
		t.Errorf("averages mismatch, expected %v got %v", s.Averages, s2.Averages)
	}
	if s2.Mode != s.Mode {
		t.Errorf("mode mismatch, expected %v got %v", s.Mode, s2.Mode)
	}
	if !s2.Time.Equal(s.Time) {
		t.Errorf("timestamp mismatch, expected %v got %v", s.Time, s2.Time)
	}
}

func TestTXTRoundTrip(t *testing.T) {
	s := testSpectrum()
	buf := bytes.Buffer{}
	err := WriteTXT(&buf, s)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := ReadTXT(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if s2.Len() != s.Len() {
		t.Fatalf("expected %d samples after round trip, got %d", s.Len(), s2.Len())
	}
	// %.18e prints more digits than a float64 holds, so parsing recovers
	// the exact value
	for i := 0; i < s.Len(); i++ {
		if s2.Wavelengths[i] != s.Wavelengths[i] {
			t.Errorf("wavelength %d mismatch, expected %v got %v", i, s.Wavelengths[i], s2.Wavelengths[i])
		}
		if s2.Intensities[i] != s.Intensities[i] {
			t.Errorf("intensity %d mismatch, expected %v got %v", i, s.Intensities[i], s2.Intensities[i])
		}
	}
}

func TestTXTRejectsGarbage(t *testing.T) {
	r := bytes.NewBufferString("400.0 1.0\nnot a number here\n")
	_, err := ReadTXT(r)
	if err == nil {
		t.Fatal("expected an error for a malformed line")
	}
}
