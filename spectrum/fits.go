package spectrum

import (
	"fmt"
	"io"
	"time"

	"github.com/astrogo/fitsio"
)

// FileVersion is the spectrum file layout version.  Increment when the card
// set or data layout changes.
const FileVersion = 1

// WriteFITS streams a spectrum to w as a FITS file.  The primary HDU is a
// 2xN float64 image; the first row is the wavelength axis, the second the
// intensities.  Acquisition metadata rides in the header cards.
func WriteFITS(w io.Writer, s *Spectrum) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	n := s.Len()
	dims := []int{n, 2}
	im := fitsio.NewImage(-64, dims)
	defer im.Close()
	cards := []fitsio.Card{
		{Name: "SPECVER", Value: FileVersion, Comment: "spectrum file layout version"},
		{Name: "EXPTIME", Value: s.Exposure.Seconds(), Comment: "exposure time, seconds"},
		{Name: "GAIN", Value: s.Gain, Comment: "device gain, device units"},
		{Name: "NAVG", Value: s.Averages, Comment: "frames averaged"},
		{Name: "MODE", Value: s.Mode.String(), Comment: "direct/reference/dark/sample"},
		{Name: "DATE-OBS", Value: s.Time.UTC().Format(time.RFC3339Nano), Comment: "acquisition timestamp"},
	}
	err = im.Header().Append(cards...)
	if err != nil {
		return err
	}

	buf := make([]float64, 2*n)
	copy(buf, s.Wavelengths)
	copy(buf[n:], s.Intensities)
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// ReadFITS loads a spectrum previously written by WriteFITS.  The data is
// carried as float64 end to end, so a load-save cycle is numerically
// identical.
func ReadFITS(r io.Reader) (*Spectrum, error) {
	fits, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer fits.Close()

	hdu := fits.HDU(0)
	img, ok := hdu.(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("spectrum: primary HDU is not an image")
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 || axes[1] != 2 {
		return nil, fmt.Errorf("spectrum: expected a 2xN image, got axes %v", axes)
	}
	n := axes[0]
	buf := make([]float64, 2*n)
	err = img.Read(&buf)
	if err != nil {
		return nil, err
	}
	s, err := New(buf[:n], buf[n:])
	if err != nil {
		return nil, err
	}

	if card := hdr.Get("EXPTIME"); card != nil {
		if v, ok := card.Value.(float64); ok {
			s.Exposure = time.Duration(v * 1e9)
		}
	}
	if card := hdr.Get("GAIN"); card != nil {
		if v, ok := card.Value.(float64); ok {
			s.Gain = v
		}
	}
	if card := hdr.Get("NAVG"); card != nil {
		if v, ok := card.Value.(int); ok {
			s.Averages = v
		}
	}
	if card := hdr.Get("MODE"); card != nil {
		if v, ok := card.Value.(string); ok {
			mode, err := ParseMode(v)
			if err != nil {
				return nil, err
			}
			s.Mode = mode
		}
	}
	if card := hdr.Get("DATE-OBS"); card != nil {
		if v, ok := card.Value.(string); ok {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("spectrum: bad DATE-OBS card: %w", err)
			}
			s.Time = t
		}
	}
	return s, nil
}
