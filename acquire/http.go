package acquire

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/photonbench/gospect/generichttp"
	"github.com/photonbench/gospect/specrec"
	"github.com/photonbench/gospect/spectrum"
	"github.com/photonbench/gospect/util"
)

// HTTPController provides an HTTP interface to a Controller.  It satisfies
// generichttp.HTTPer; bind its route table onto a chi router to serve it.
type HTTPController struct {
	// Controller is the controller being wrapped
	*Controller

	// Rec saves recorded spectra to disk when enabled
	Rec *specrec.Recorder

	// Lock, when non-nil, is held for the duration of an optimization run
	// so that lock-aware middleware bounces other requests with 423
	Lock sync.Locker

	table generichttp.RouteTable
}

// NewHTTPController returns an HTTP wrapper with the route table populated.
// rec may be nil, in which case nothing is auto-saved.
func NewHTTPController(c *Controller, rec *specrec.Recorder) *HTTPController {
	h := &HTTPController{Controller: c, Rec: rec}
	h.table = generichttp.RouteTable{
		// spectra
		{Method: http.MethodGet, Path: "/spectrum"}:          h.GetSpectrum,
		{Method: http.MethodPost, Path: "/record"}:           h.Record,
		{Method: http.MethodPost, Path: "/record-dark"}:      h.RecordDark,
		{Method: http.MethodPost, Path: "/record-reference"}: h.RecordReference,
		{Method: http.MethodDelete, Path: "/dark"}:           h.ClearDark,
		{Method: http.MethodDelete, Path: "/reference"}:      h.ClearReference,
		{Method: http.MethodGet, Path: "/wavelengths"}:       h.GetWavelengths,

		// live loop
		{Method: http.MethodPost, Path: "/live/start"}:   h.StartLive,
		{Method: http.MethodPost, Path: "/live/stop"}:    h.StopLive,
		{Method: http.MethodGet, Path: "/live"}:          h.GetLive,
		{Method: http.MethodGet, Path: "/state"}:         h.GetState,
		{Method: http.MethodGet, Path: "/peak-history"}:  h.GetPeakHistory,
		{Method: http.MethodGet, Path: "/saturation-ok"}: h.GetSaturationOK,

		// device manipulation
		{Method: http.MethodGet, Path: "/exposure-time"}:  h.GetExposureTime,
		{Method: http.MethodPost, Path: "/exposure-time"}: h.SetExposureTime,
		{Method: http.MethodGet, Path: "/gain"}:           h.GetGain,
		{Method: http.MethodPost, Path: "/gain"}:          h.SetGain,
		{Method: http.MethodGet, Path: "/device-state"}:   h.GetDeviceState,
		{Method: http.MethodPost, Path: "/optimize"}:      h.Optimize,

		// session
		{Method: http.MethodGet, Path: "/mode"}:  h.GetMode,
		{Method: http.MethodPost, Path: "/mode"}: h.SetMode,
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPController) RT() generichttp.RouteTable {
	return h.table
}

// httpStatus maps controller errors onto response codes.  Busy maps to 423
// in the manner of the locker middleware; calibration preconditions map to
// 412.
func httpStatus(err error) int {
	if errors.Is(err, ErrDeviceBusy) {
		return http.StatusLocked
	}
	if errors.Is(err, ErrMissingReference) {
		return http.StatusPreconditionFailed
	}
	var axis *AxisMismatchError
	if errors.As(err, &axis) {
		return http.StatusPreconditionFailed
	}
	return http.StatusInternalServerError
}

// spectrumJSON is the display payload for one spectrum
type spectrumJSON struct {
	Wavelengths []float64 `json:"wavelengths"`
	Intensities []float64 `json:"intensities"`
	Time        time.Time `json:"time"`
	ExposureSec float64   `json:"exposureSec"`
	Gain        float64   `json:"gain"`
	Averages    int       `json:"averages"`
	Mode        string    `json:"mode"`
}

func respondSpectrum(w http.ResponseWriter, r *http.Request, s *spectrum.Spectrum) {
	format := r.URL.Query().Get("fmt")
	if format == "" {
		format = "json"
	}
	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(spectrumJSON{
			Wavelengths: s.Wavelengths,
			Intensities: s.Intensities,
			Time:        s.Time,
			ExposureSec: s.Exposure.Seconds(),
			Gain:        s.Gain,
			Averages:    s.Averages,
			Mode:        s.Mode.String(),
		})
		if err != nil {
			log.Printf("error encoding spectrum to json, %q", err)
		}
	case "fits":
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=spectrum.fits")
		w.WriteHeader(http.StatusOK)
		if err := spectrum.WriteFITS(w, s); err != nil {
			log.Printf("error streaming fits spectrum, %q", err)
		}
	case "txt":
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if err := spectrum.WriteTXT(w, s); err != nil {
			log.Printf("error streaming text spectrum, %q", err)
		}
	default:
		http.Error(w, "fmt must be one of json, fits, txt", http.StatusBadRequest)
	}
}

// GetSpectrum returns the last acquired spectrum on a GET request.
//
// the format may be specified in the fmt query parameter; json (default),
// fits, or txt.
func (h *HTTPController) GetSpectrum(w http.ResponseWriter, r *http.Request) {
	s := h.Controller.LastSpectrum()
	if s == nil {
		http.Error(w, "no spectrum acquired yet", http.StatusNotFound)
		return
	}
	respondSpectrum(w, r, s)
}

// Record accumulates N frames on a POST request with json {'int': N} and
// returns the processed spectrum.  When the recorder is enabled the
// spectrum is also saved to disk as FITS.
func (h *HTTPController) Record(w http.ResponseWriter, r *http.Request) {
	i := generichttp.IntT{Int: 1}
	err := json.NewDecoder(r.Body).Decode(&i)
	defer r.Body.Close()
	if err != nil && err != io.EOF {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s, err := h.Controller.Record(i.Int)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	if h.Rec != nil && h.Rec.Enabled && h.Rec.Root != "" {
		if err := spectrum.WriteFITS(h.Rec, s); err != nil {
			log.Printf("error auto-saving spectrum, %q", err)
		} else {
			h.Rec.Incr()
		}
	}
	respondSpectrum(w, r, s)
}

// RecordDark accumulates N frames and stores the dark spectrum
func (h *HTTPController) RecordDark(w http.ResponseWriter, r *http.Request) {
	h.recordCalibration(w, r, h.Controller.RecordDark)
}

// RecordReference accumulates N frames and stores the reference spectrum
func (h *HTTPController) RecordReference(w http.ResponseWriter, r *http.Request) {
	h.recordCalibration(w, r, h.Controller.RecordReference)
}

func (h *HTTPController) recordCalibration(w http.ResponseWriter, r *http.Request, fcn func(int) error) {
	i := generichttp.IntT{Int: 1}
	err := json.NewDecoder(r.Body).Decode(&i)
	defer r.Body.Close()
	if err != nil && err != io.EOF {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = fcn(i.Int)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ClearDark discards the stored dark spectrum on a DELETE request
func (h *HTTPController) ClearDark(w http.ResponseWriter, r *http.Request) {
	h.Controller.ClearDark()
	w.WriteHeader(http.StatusOK)
}

// ClearReference discards the stored reference spectrum on a DELETE request
func (h *HTTPController) ClearReference(w http.ResponseWriter, r *http.Request) {
	h.Controller.ClearReference()
	w.WriteHeader(http.StatusOK)
}

// GetWavelengths returns the wavelength axis as a JSON array
func (h *HTTPController) GetWavelengths(w http.ResponseWriter, r *http.Request) {
	wl, err := h.Controller.dev.Wavelengths()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(wl); err != nil {
		log.Printf("error encoding wavelengths to json, %q", err)
	}
}

// StartLive begins live acquisition on a POST request
func (h *HTTPController) StartLive(w http.ResponseWriter, r *http.Request) {
	err := h.Controller.StartLive()
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// StopLive cancels live acquisition on a POST request, blocking until the
// loop has stopped
func (h *HTTPController) StopLive(w http.ResponseWriter, r *http.Request) {
	h.Controller.Stop()
	w.WriteHeader(http.StatusOK)
}

// GetLive returns whether the live loop is running as json {'bool': b}
func (h *HTTPController) GetLive(w http.ResponseWriter, r *http.Request) {
	generichttp.GetBool(func() (bool, error) {
		return h.Controller.State() == StateLive, nil
	})(w, r)
}

// GetState returns the controller state as json {'str': s}
func (h *HTTPController) GetState(w http.ResponseWriter, r *http.Request) {
	generichttp.GetString(func() (string, error) {
		return h.Controller.State().String(), nil
	})(w, r)
}

// GetPeakHistory returns the recent raw peak intensities as a JSON array,
// least recent first
func (h *HTTPController) GetPeakHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.Controller.PeakHistory()); err != nil {
		log.Printf("error encoding peak history to json, %q", err)
	}
}

// GetSaturationOK returns false as json {'bool': b} if the most recent
// frame clipped
func (h *HTTPController) GetSaturationOK(w http.ResponseWriter, r *http.Request) {
	generichttp.GetBool(func() (bool, error) {
		return h.Controller.SaturationOK(), nil
	})(w, r)
}

// SetExposureTime sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in
// a way that is parseable by golang/time.ParseDuration, or a json payload
// with key f64, holding the exposure time in seconds.  The effective
// applied value is returned as json {'f64': seconds}.
func (h *HTTPController) SetExposureTime(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	texp := q.Get("exposureTime")
	var d time.Duration
	var err error
	if texp == "" {
		f := generichttp.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		d = util.SecsToDuration(f.F64)
	} else {
		if util.AllElementsNumbers(texp) {
			texp = texp + "s"
		}
		d, err = time.ParseDuration(texp)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	applied, err := h.Controller.SetExposure(d)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.GetFloat(func() (float64, error) {
		return applied.Seconds(), nil
	})(w, r)
}

// GetExposureTime gets the exposure time on a GET request as json
// {'f64': seconds}
func (h *HTTPController) GetExposureTime(w http.ResponseWriter, r *http.Request) {
	generichttp.GetFloat(func() (float64, error) {
		d, err := h.Controller.dev.GetExposure()
		return d.Seconds(), err
	})(w, r)
}

// SetGain sets the gain from json {'f64': value} and returns the effective
// applied value the same way
func (h *HTTPController) SetGain(w http.ResponseWriter, r *http.Request) {
	f := generichttp.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	applied, err := h.Controller.SetGain(f.F64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.GetFloat(func() (float64, error) {
		return applied, nil
	})(w, r)
}

// GetGain gets the gain on a GET request as json {'f64': value}
func (h *HTTPController) GetGain(w http.ResponseWriter, r *http.Request) {
	generichttp.GetFloat(h.Controller.dev.GetGain)(w, r)
}

// GetDeviceState returns a snapshot of the device as JSON
func (h *HTTPController) GetDeviceState(w http.ResponseWriter, r *http.Request) {
	ds, err := h.Controller.DeviceState()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(ds); err != nil {
		log.Printf("error encoding device state to json, %q", err)
	}
}

// optimizeResponse is the reply payload for an optimization run
type optimizeResponse struct {
	Result
	Warning string `json:"warning,omitempty"`
}

// Optimize runs the exposure optimizer on a POST request.  Warnings
// (timeout, insufficient signal) come back with 200 and a warning field;
// the best values found remain applied.  When Lock is set it is held for
// the duration of the run.
func (h *HTTPController) Optimize(w http.ResponseWriter, r *http.Request) {
	if h.Lock != nil {
		h.Lock.Lock()
		defer h.Lock.Unlock()
	}
	res, err := h.Controller.Optimize()
	resp := optimizeResponse{Result: res}
	if err != nil {
		var timeout *TimeoutError
		switch {
		case errors.As(err, &timeout), errors.Is(err, ErrInsufficientSignal):
			resp.Warning = err.Error()
		default:
			http.Error(w, err.Error(), httpStatus(err))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("error encoding optimization result to json, %q", err)
	}
}

// GetMode returns the acquisition mode as json {'str': mode}
func (h *HTTPController) GetMode(w http.ResponseWriter, r *http.Request) {
	generichttp.GetString(func() (string, error) {
		return h.Controller.Mode().String(), nil
	})(w, r)
}

// SetMode sets the acquisition mode from json {'str': mode}; direct or uvvis
func (h *HTTPController) SetMode(w http.ResponseWriter, r *http.Request) {
	s := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := ParseAcqMode(s.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.Controller.SetMode(mode)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}
