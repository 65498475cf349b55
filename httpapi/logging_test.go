package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	cases := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{name: "remote", remote: "10.0.0.2:5123", want: "10.0.0.2"},
		{name: "forwarded", remote: "10.0.0.2:5123", forwarded: "203.0.113.7, 10.0.0.1", want: "203.0.113.7"},
		{name: "no-port", remote: "pipe", want: "pipe"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/api/cells", nil)
		r.RemoteAddr = tc.remote
		if tc.forwarded != "" {
			r.Header.Set("X-Forwarded-For", tc.forwarded)
		}
		if got := clientIP(r); got != tc.want {
			t.Fatalf("%s: clientIP = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRequestLoggingKeepsStatusAndFlush(t *testing.T) {
	var flushed bool
	handler := withRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
		_, flushed = w.(http.Flusher)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cells/x/input", nil))
	if rec.Code != http.StatusAccepted || rec.Body.String() != "ok" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if !flushed {
		t.Fatalf("expected the wrapped writer to support flushing")
	}
	if !isEventStream(httptest.NewRequest(http.MethodGet, "/api/cells/x/stream", nil)) {
		t.Fatalf("expected stream path to be detected")
	}
}
