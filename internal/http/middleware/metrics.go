// Package middleware contains shared Gin middleware used by the HTTP layer.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Request metrics are labelled by the matched Gin route, never the raw URL,
// so ids in paths such as /notifications/:id/read do not explode the series
// count. Unmatched requests collapse into a single "unmatched" route.
var (
	relayReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by method, route and status code.",
		},
		[]string{"method", "route", "code"},
	)

	relayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time spent serving HTTP requests.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	relayInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "requests_inflight",
			Help:      "HTTP requests currently being served.",
		},
	)

	relayRespBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Bytes written in HTTP response bodies.",
			Buckets:   prometheus.ExponentialBuckets(128, 4, 8), // 128B..2MiB
		},
		[]string{"method", "route"},
	)

	relayUpgrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "upgrades_total",
			Help:      "Requests on long-lived routes (websocket upgrades), by route.",
		},
		[]string{"route"},
	)
)

const unmatchedRoute = "unmatched"

func init() {
	prometheus.MustRegister(relayReqs, relayLatency, relayInflight, relayRespBytes, relayUpgrades)
}

// Metrics instruments every request with Prometheus collectors.
//
// Requests whose URL path is listed in longLived (the websocket endpoint)
// only bump relay_http_upgrades_total: a connection that stays open for
// hours would otherwise dominate the latency histogram and the in-flight
// gauge.
func Metrics(longLived ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(longLived))
	for _, p := range longLived {
		if p != "" {
			skip[p] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			relayUpgrades.WithLabelValues(c.Request.URL.Path).Inc()
			c.Next()
			return
		}

		relayInflight.Inc()
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		relayInflight.Dec()

		route := routeLabel(c)
		method := c.Request.Method
		relayReqs.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		relayLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())

		// Size is -1 when nothing was written (204, aborted before body).
		if n := c.Writer.Size(); n >= 0 {
			relayRespBytes.WithLabelValues(method, route).Observe(float64(n))
		}
	}
}

func routeLabel(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return unmatchedRoute
}
