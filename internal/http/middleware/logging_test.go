package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// logLines decodes every JSON line written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/rid", func(c *gin.Context) {
		seen = c.GetString(requestIDKey)
		c.Status(http.StatusNoContent)
	})

	w := serve(r, http.MethodGet, "/rid")
	if gen := w.Header().Get(requestIDHeader); gen == "" || gen != seen {
		t.Fatalf("generated id header=%q ctx=%q", gen, seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/rid", nil)
	req.Header.Set("x-request-id", " order-sync-1 ")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "order-sync-1" || seen != "order-sync-1" {
		t.Fatalf("propagated id header=%q ctx=%q", got, seen)
	}
}

func TestRedactingLogger_ScrubsHeadersAndQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}, MaskQuery: []string{"secret"}}))
	r.GET("/notifications/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	q := "fcmToken=dGVzdC10b2tlbg&secret=s3&email=a.b+tag@example.com&ref=123e4567-e89b-12d3-a456-426614174000"
	req := httptest.NewRequest(http.MethodGet, "/notifications/42?"+q, nil)
	req.Header.Set("Authorization", "Bearer abc")
	req.Header.Set("Cookie", "accessToken=abc")
	req.Header.Set("X-Api-Key", "k")
	req.Header.Set("X-Note", "call 555-123-4567 or mail a@b.com")
	req.Header.Set(requestIDHeader, "rid-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("want 1 access line, got %d: %s", len(lines), buf.String())
	}
	line := lines[0]
	if line["level"] != "info" || line["path"] != "/notifications/:id" || line["request_id"] != "rid-1" {
		t.Fatalf("unexpected access line: %v", line)
	}

	query, _ := line["query"].(string)
	for _, leak := range []string{"dGVzdC10b2tlbg", "s3", "example.com", "123e4567"} {
		if strings.Contains(query, leak) {
			t.Fatalf("query leaked %q: %s", leak, query)
		}
	}
	if !strings.Contains(query, "fcmToken="+redacted) || !strings.Contains(query, "[REDACTED:email]") {
		t.Fatalf("query not scrubbed as expected: %s", query)
	}

	headers, _ := line["headers"].(map[string]any)
	for _, h := range []string{"Authorization", "Cookie", "X-Api-Key"} {
		if headers[h] != redacted {
			t.Fatalf("%s = %v, want masked", h, headers[h])
		}
	}
	if headers["X-Note"] != "call [REDACTED:phone] or mail [REDACTED:email]" {
		t.Fatalf("X-Note = %v", headers["X-Note"])
	}
}

func TestRedactingLogger_LevelsByOutcome(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/gone", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/push", func(c *gin.Context) {
		_ = c.Error(errors.New("provider unavailable"))
		c.Status(http.StatusBadGateway)
	})

	serve(r, http.MethodGet, "/gone")
	serve(r, http.MethodGet, "/push")
	serve(r, http.MethodGet, "/unrouted")

	lines := logLines(t, buf)
	if len(lines) != 3 {
		t.Fatalf("lines = %d", len(lines))
	}
	if lines[0]["level"] != "warn" {
		t.Fatalf("404 level = %v", lines[0]["level"])
	}
	if lines[1]["level"] != "error" || !strings.Contains(lines[1]["errors"].(string), "provider unavailable") {
		t.Fatalf("502 line = %v", lines[1])
	}
	if lines[2]["path"] != "/unrouted" {
		t.Fatalf("unmatched path = %v", lines[2]["path"])
	}
}

func TestLoggerFrom(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	bare := gin.New()
	bare.GET("/x", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("bare")
		c.Status(http.StatusOK)
	})
	serve(bare, http.MethodGet, "/x")
	if l := logLines(t, buf); len(l) != 1 || l[0]["request_id"] != nil {
		t.Fatalf("fallback logger carried request fields: %v", l)
	}

	buf.Reset()
	scoped := gin.New()
	scoped.Use(RequestID(), RedactingLogger(RedactOptions{}))
	scoped.GET("/x", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("scoped")
		c.Status(http.StatusOK)
	})
	serve(scoped, http.MethodGet, "/x")
	l := logLines(t, buf)
	if len(l) != 2 || l[0]["message"] != "scoped" || l[0]["request_id"] == "" {
		t.Fatalf("scoped logger lines = %v", l)
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late")
	})

	w := serve(r, http.MethodGet, "/boom")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != w.Header().Get(requestIDHeader) {
		t.Fatalf("body = %v", body)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("panic not logged: %s", buf.String())
	}

	w = serve(r, http.MethodGet, "/late")
	if strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("JSON written after partial body: %q", w.Body.String())
	}
}

func TestScrubQuery(t *testing.T) {
	masked := lowerSet([]string{"token"}, nil)
	if got := scrubQuery("", masked); got != "" {
		t.Fatalf("empty = %q", got)
	}
	if got := scrubQuery("TOKEN=abc&page=2", masked); got != "TOKEN="+redacted+"&page=2" {
		t.Fatalf("masked = %q", got)
	}
	if got := scrubQuery("%zz=a@b.com", masked); got != "%zz=[REDACTED:email]" {
		t.Fatalf("unparseable = %q", got)
	}
	long := strings.Repeat("a", maxLoggedQuery+10)
	if got := scrubQuery("q="+long, masked); len(got) > maxLoggedQuery+len("…") {
		t.Fatalf("not truncated: %d", len(got))
	}
}

func TestTruncateAndAsString(t *testing.T) {
	if truncate("relay", 10) != "relay" || truncate("relay", 0) != "relay" {
		t.Fatal("truncate changed short input")
	}
	if got := truncate("notification", 5); got != "notif…" {
		t.Fatalf("truncate = %q", got)
	}
	if asString("x") != "x" || asString(7) != "" || asString(nil) != "" {
		t.Fatal("asString")
	}
}
