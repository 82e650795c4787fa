package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func lastLogLine(t *testing.T, out string) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("bad log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestRedact_Patterns(t *testing.T) {
	cases := map[string]string{
		"user=student@uni.lk":                          "user=[REDACTED:email]",
		"user=student%40uni.lk":                        "user=[REDACTED:email]",
		"id=141add05-4415-4938-b5a1-17e0d3171aff":      "id=[REDACTED:id]",
		"call 077 123 4567":                            "call [REDACTED:phone]",
		"domains=stress,music&n=2":                     "domains=stress,music&n=2",
	}
	for in, want := range cases {
		if got := Redact(in); got != want {
			t.Fatalf("Redact(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactingLogger_InfoAndRedactions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/api/v1/predictions/:domain/latest", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/predictions/stress/latest?email=a@b.co", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set(HeaderUserID, "a@b.co")
	req.Header.Set("X-Api-Key", "k")
	req.Header.Set("X-Note", "mail me at x@y.org")
	req.Header.Set(requestIDHeader, "rid-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Contains(out, "a@b.co") || strings.Contains(out, "x@y.org") || strings.Contains(out, "Bearer secret") {
		t.Fatalf("PII leaked into logs:\n%s", out)
	}
	m := lastLogLine(t, out)
	if m["level"] != "info" || m["message"] != "http_request" || m["request_id"] != "rid-1" {
		t.Fatalf("unexpected access line: %v", m)
	}
	if m["path"] != "/api/v1/predictions/:domain/latest" {
		t.Fatalf("expected route template as path, got %v", m["path"])
	}
	headers, _ := m["headers"].(map[string]any)
	for _, h := range []string{"Authorization", HeaderUserID, "X-Api-Key"} {
		if headers[http.CanonicalHeaderKey(h)] != "[REDACTED]" {
			t.Fatalf("header %s not masked: %v", h, headers[h])
		}
	}
}

func TestRedactingLogger_LevelsByStatus_AndUnmatchedPath(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, tc := range []struct {
		status int
		level  string
	}{
		{http.StatusConflict, "warn"},
		{http.StatusBadGateway, "error"},
	} {
		buf := captureLogger(t)
		r := gin.New()
		r.Use(RedactingLogger(RedactOptions{}))
		r.GET("/x", func(c *gin.Context) { c.Status(tc.status) })
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
		if m := lastLogLine(t, buf.String()); m["level"] != tc.level {
			t.Fatalf("status %d: level = %v, want %s", tc.status, m["level"], tc.level)
		}
	}

	buf := captureLogger(t)
	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/someone@example.com", nil))
	m := lastLogLine(t, buf.String())
	if m["level"] != "warn" || strings.Contains(m["path"].(string), "example.com") {
		t.Fatalf("unmatched path must be redacted: %v", m)
	}
}
