package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetJSON(t *testing.T) {
	t.Parallel()

	m := NewMockHTTPClient().AddResponse(http.StatusOK, `{"samples": 3}`)
	var v struct {
		Samples int `json:"samples"`
	}
	if err := GetJSON(m, "http://node/api/sessions/x/stats", &v); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if v.Samples != 3 {
		t.Errorf("samples = %d, want 3", v.Samples)
	}
	if m.RequestCount() != 1 {
		t.Fatalf("requests = %d, want 1", m.RequestCount())
	}
	req := m.Requests[0]
	if req.Method != http.MethodGet || req.URL.Path != "/api/sessions/x/stats" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL)
	}
	if req.Header.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", req.Header.Get("Accept"))
	}
}

func TestGetJSON_Errors(t *testing.T) {
	t.Parallel()

	var v map[string]interface{}

	m := NewMockHTTPClient().AddResponse(http.StatusNotFound, `{"error":"no positions recorded for session"}`)
	err := GetJSON(m, "http://node/api/sessions/x/stats", &v)
	if err == nil || !strings.Contains(err.Error(), "no positions recorded") {
		t.Errorf("expected API error message, got %v", err)
	}

	m = NewMockHTTPClient().AddResponse(http.StatusBadGateway, `upstream`)
	err = GetJSON(m, "http://node/x", &v)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("expected status in error, got %v", err)
	}

	transport := errors.New("connection refused")
	m = NewMockHTTPClient().AddErrorResponse(transport)
	if err := GetJSON(m, "http://node/x", &v); !errors.Is(err, transport) {
		t.Errorf("expected wrapped transport error, got %v", err)
	}

	m = NewMockHTTPClient().AddResponse(http.StatusOK, `not json`)
	if err := GetJSON(m, "http://node/x", &v); err == nil {
		t.Error("expected decode error")
	}
}

func TestGetJSON_RealServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONOK(w, map[string]string{"path": r.URL.Path})
	}))
	defer srv.Close()

	var v map[string]string
	if err := GetJSON(srv.Client(), JoinURL(srv.URL+"/", "/api/status"), &v); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if v["path"] != "/api/status" {
		t.Errorf("path = %q", v["path"])
	}
}

func TestJoinURL(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ base, path, want string }{
		{"http://h:8080", "api/status", "http://h:8080/api/status"},
		{"http://h:8080/", "/api/status", "http://h:8080/api/status"},
	} {
		if got := JoinURL(tc.base, tc.path); got != tc.want {
			t.Errorf("JoinURL(%q, %q) = %q, want %q", tc.base, tc.path, got, tc.want)
		}
	}
}
