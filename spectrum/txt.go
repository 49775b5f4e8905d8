package spectrum

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteTXT writes a spectrum as two whitespace separated columns of
// wavelength and intensity, one pair per line.  This is the interchange
// format produced by numpy.savetxt and consumed by most plotting tools;
// acquisition metadata is not carried, use the FITS codec to keep it.
func WriteTXT(w io.Writer, s *Spectrum) error {
	bw := bufio.NewWriter(w)
	for i := range s.Wavelengths {
		_, err := fmt.Fprintf(bw, "%.18e %.18e\n", s.Wavelengths[i], s.Intensities[i])
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadTXT loads a two-column text spectrum.  Blank lines and lines starting
// with # are skipped.
func ReadTXT(r io.Reader) (*Spectrum, error) {
	var wl, in []float64
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		txt := strings.TrimSpace(scanner.Text())
		if txt == "" || strings.HasPrefix(txt, "#") {
			continue
		}
		fields := strings.Fields(txt)
		if len(fields) != 2 {
			return nil, fmt.Errorf("spectrum: line %d: expected 2 columns, got %d", line, len(fields))
		}
		w, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("spectrum: line %d: %w", line, err)
		}
		i, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("spectrum: line %d: %w", line, err)
		}
		wl = append(wl, w)
		in = append(in, i)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return New(wl, in)
}
