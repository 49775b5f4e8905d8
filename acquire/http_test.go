package acquire_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi"

	"github.com/photonbench/gospect/acquire"
	"github.com/photonbench/gospect/server/middleware/locker"
	"github.com/photonbench/gospect/spectrometer"
	"github.com/photonbench/gospect/spectrum"
)

func newTestServer(t *testing.T) (*httptest.Server, *acquire.Controller) {
	t.Helper()
	m := spectrometer.NewMock()
	c, err := acquire.NewController(m)
	if err != nil {
		t.Fatal(err)
	}
	w := acquire.NewHTTPController(c, nil)
	r := chi.NewRouter()
	w.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		c.Close()
	})
	return srv, c
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	buf := &bytes.Buffer{}
	if body != nil {
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(url, "application/json", buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func doDelete(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHTTPSpectrumNotFoundBeforeFirstRecord(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/spectrum")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 with no spectrum acquired, got %d", resp.StatusCode)
	}
}

func TestHTTPRecordReturnsSpectrum(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/record", map[string]int{"int": 2})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Wavelengths []float64 `json:"wavelengths"`
		Intensities []float64 `json:"intensities"`
		Averages    int       `json:"averages"`
		Mode        string    `json:"mode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Wavelengths) != 64 || len(payload.Intensities) != 64 {
		t.Errorf("expected 64 bins, got %d/%d", len(payload.Wavelengths), len(payload.Intensities))
	}
	if payload.Averages != 2 {
		t.Errorf("expected 2 averages, got %d", payload.Averages)
	}
	if payload.Mode != "direct" {
		t.Errorf("expected a direct spectrum, got %q", payload.Mode)
	}
}

func TestHTTPSpectrumFITSDownload(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/record", nil) // empty body defaults to 1 frame
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from record, got %d", resp.StatusCode)
	}
	resp, err := http.Get(srv.URL + "/spectrum?fmt=fits")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/fits" {
		t.Errorf("expected an image/fits content type, got %q", ct)
	}
	s, err := spectrum.ReadFITS(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 64 {
		t.Errorf("expected 64 bins in the downloaded file, got %d", s.Len())
	}
}

func TestHTTPExposureQueryParameter(t *testing.T) {
	srv, ctl := newTestServer(t)
	// bare numbers are treated as seconds
	resp := postJSON(t, srv.URL+"/exposure-time?exposureTime=0.05", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	ds, err := ctl.DeviceState()
	if err != nil {
		t.Fatal(err)
	}
	if ds.Exposure != 50*time.Millisecond {
		t.Errorf("expected 50ms applied, got %v", ds.Exposure)
	}
}

func TestHTTPModeRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/mode", map[string]string{"str": "uvvis"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp, err := http.Get(srv.URL + "/mode")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var payload struct {
		Str string `json:"str"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Str != "uvvis" {
		t.Errorf("expected uvvis, got %q", payload.Str)
	}
}

func TestHTTPMissingReferenceIs412(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/mode", map[string]string{"str": "uvvis"})
	resp.Body.Close()
	resp = postJSON(t, srv.URL+"/record", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("expected 412 recording without a reference, got %d", resp.StatusCode)
	}
}

func TestHTTPBusyIs423(t *testing.T) {
	srv, ctl := newTestServer(t)
	ctl.SetLiveInterval(time.Millisecond)
	resp := postJSON(t, srv.URL+"/live/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 starting live, got %d", resp.StatusCode)
	}
	defer ctl.Stop()
	resp = postJSON(t, srv.URL+"/record", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusLocked {
		t.Errorf("expected 423 recording while live, got %d", resp.StatusCode)
	}
}

func TestHTTPOptimize(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/optimize", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Converged bool    `json:"converged"`
		Peak      float64 `json:"peak"`
		Warning   string  `json:"warning"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if !payload.Converged {
		t.Errorf("expected convergence on the mock, warning %q", payload.Warning)
	}
	if payload.Peak < 3276 || payload.Peak > 3890.25 {
		t.Errorf("expected the peak inside the target band, got %v", payload.Peak)
	}
}

func TestHTTPClearCalibration(t *testing.T) {
	srv, ctl := newTestServer(t)
	resp := postJSON(t, srv.URL+"/record-dark", nil)
	resp.Body.Close()
	resp = postJSON(t, srv.URL+"/record-reference", nil)
	resp.Body.Close()
	resp = doDelete(t, srv.URL+"/dark")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 clearing the dark, got %d", resp.StatusCode)
	}
	cal := ctl.Calibration()
	if cal.Dark != nil {
		t.Error("dark not cleared")
	}
	if cal.Reference == nil {
		t.Error("reference should survive a dark clear")
	}
	resp = doDelete(t, srv.URL+"/reference")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 clearing the reference, got %d", resp.StatusCode)
	}
	if ctl.Calibration().Reference != nil {
		t.Error("reference not cleared")
	}
}

// observingLock wraps a lock and runs a callback while it is held
type observingLock struct {
	inner    sync.Locker
	onLocked func()
}

func (l *observingLock) Lock() {
	l.inner.Lock()
	l.onLocked()
}

func (l *observingLock) Unlock() {
	l.inner.Unlock()
}

func TestHTTPOptimizeHoldsLock(t *testing.T) {
	m := spectrometer.NewMock()
	c, err := acquire.NewController(m)
	if err != nil {
		t.Fatal(err)
	}
	w := acquire.NewHTTPController(c, nil)
	lck := locker.New()
	r := chi.NewRouter()
	r.Use(lck.Check)
	w.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		c.Close()
	})
	// while the optimizer owns the device, other routes bounce with 423
	during := 0
	w.Lock = &observingLock{inner: lck, onLocked: func() {
		resp, err := http.Get(srv.URL + "/state")
		if err != nil {
			t.Errorf("request during optimization failed, %v", err)
			return
		}
		during = resp.StatusCode
		resp.Body.Close()
	}}
	resp := postJSON(t, srv.URL+"/optimize", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from optimize, got %d", resp.StatusCode)
	}
	if during != http.StatusLocked {
		t.Errorf("expected 423 while the optimizer held the lock, got %d", during)
	}
	if lck.Locked() {
		t.Error("lock not released after optimization")
	}
	resp, err = http.Get(srv.URL + "/state")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 after optimization, got %d", resp.StatusCode)
	}
}

func TestHTTPEndpointsList(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/endpoints")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var endpoints []string
	if err := json.NewDecoder(resp.Body).Decode(&endpoints); err != nil {
		t.Fatal(err)
	}
	if len(endpoints) == 0 {
		t.Fatal("expected a non-empty endpoint list")
	}
	found := false
	for _, e := range endpoints {
		if e == "/spectrum" {
			found = true
		}
	}
	if !found {
		t.Error("expected /spectrum in the endpoint list")
	}
}
