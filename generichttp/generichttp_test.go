package generichttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubMuxSanitize(t *testing.T) {
	cases := map[string]string{
		"spectrometer":   "/spectrometer",
		"/spectrometer":  "/spectrometer",
		"/spectrometer/": "/spectrometer",
		"/":              "/",
	}
	for in, expected := range cases {
		if out := SubMuxSanitize(in); out != expected {
			t.Errorf("SubMuxSanitize(%q) = %q, expected %q", in, out, expected)
		}
	}
}

func TestGetSetFloatRoundTrip(t *testing.T) {
	value := 0.
	set := SetFloat(func(f float64) error { value = f; return nil })
	get := GetFloat(func() (float64, error) { return value, nil })

	body := bytes.NewBufferString(`{"f64": 3.25}`)
	req := httptest.NewRequest(http.MethodPost, "/x", body)
	w := httptest.NewRecorder()
	set(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if value != 3.25 {
		t.Fatalf("expected the setter called with 3.25, got %v", value)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	w = httptest.NewRecorder()
	get(w, req)
	f := FloatT{}
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 != 3.25 {
		t.Errorf("expected 3.25 back, got %v", f.F64)
	}
}

func TestSetFloatRejectsMalformedJSON(t *testing.T) {
	set := SetFloat(func(f float64) error { return nil })
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	set(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed json, got %d", w.Code)
	}
}

func TestRouteTableEndpointsDeduplicates(t *testing.T) {
	noop := func(w http.ResponseWriter, r *http.Request) {}
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/a"}:  noop,
		{Method: http.MethodPost, Path: "/a"}: noop,
		{Method: http.MethodGet, Path: "/b"}:  noop,
	}
	eps := rt.Endpoints()
	if len(eps) != 2 {
		t.Errorf("expected 2 unique endpoints, got %v", eps)
	}
}
