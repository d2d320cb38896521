package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("198.51.100.4", "40000")
	// The header alone is not an authenticated identity.
	req.Header.Set("X-User-ID", "spoofed")
	c.Request = req

	if got := KeyByUserOrIP()(c); got != "ip:198.51.100.4" {
		t.Fatalf("anonymous key = %q", got)
	}

	c.Set(CtxKeyUserID, "buyer-7")
	if got := KeyByUserOrIP()(c); got != "user:buyer-7" {
		t.Fatalf("authenticated key = %q", got)
	}
}

func TestRateLimiter_BucketReuseAndSweep(t *testing.T) {
	rl := NewRateLimiter(5, 0, KeyByUserOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst = %d, want 1", rl.burst)
	}

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }
	rl.sweepEvery = 3

	first := rl.limiterFor("user:a")
	if rl.limiterFor("user:a") != first {
		t.Fatal("bucket for the same key was not reused")
	}

	// Third lookup triggers a sweep; user:a was just seen so it survives.
	rl.limiterFor("ip:b")
	if len(rl.buckets) != 2 {
		t.Fatalf("buckets = %d, want 2", len(rl.buckets))
	}

	clock = clock.Add(rl.idleTTL)
	rl.limiterFor("ip:c")
	rl.limiterFor("ip:c")
	rl.limiterFor("user:a") // sweep runs before user:a is refreshed

	if _, ok := rl.buckets["ip:b"]; ok || len(rl.buckets) != 2 {
		t.Fatalf("buckets after sweep = %v, want ip:c and user:a", rl.buckets)
	}
	if rl.buckets["user:a"].lim == first {
		t.Fatal("stale bucket was refreshed instead of replaced")
	}
}

func TestRateLimiter_RetryAfter(t *testing.T) {
	cases := []struct {
		rps  float64
		want string
	}{
		{rps: 10, want: "1"},
		{rps: 0.25, want: "4"},
		{rps: 0, want: "1"},
	}
	for _, tc := range cases {
		if got := NewRateLimiter(tc.rps, 1, KeyByUserOrIP()).retryAfter(); got != tc.want {
			t.Errorf("rps=%v: retryAfter = %q, want %q", tc.rps, got, tc.want)
		}
	}
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if IsRateBypass(c) {
		t.Fatal("bypass set by default")
	}
	c.Set(ctxKeyRateBypass, "true")
	if IsRateBypass(c) {
		t.Fatal("non-bool value read as bypass")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatal("bypass not detected")
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.5, 1, KeyByUserOrIP())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Header(requestIDHeader, "rid-42")
		if c.GetHeader("X-Replay") != "" {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	})
	r.Use(rl.Handler())
	r.POST("/notify", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(rateLimited.WithLabelValues("ip"))

	if w := serve(r, http.MethodPost, "/notify"); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}

	w := serve(r, http.MethodPost, "/notify")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q, want 2", got)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "rate_limited" || body["request_id"] != "rid-42" {
		t.Fatalf("body = %v", body)
	}
	if got := testutil.ToFloat64(rateLimited.WithLabelValues("ip")); got != before+1 {
		t.Fatalf("rate_limited_total = %v, want %v", got, before+1)
	}

	// Replays skip the bucket entirely.
	req := httptest.NewRequest(http.MethodPost, "/notify", nil)
	req.Header.Set("X-Replay", "1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay = %d, want 200", rec.Code)
	}
}
