// Package config loads the relay's settings from the environment. Unset
// variables take their defaults; set but malformed ones are reported, as are
// values that parse but make no sense.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the browser origins allowed on the REST surface; empty
// allows all.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig controls Strict-Transport-Security.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig configures trace export over OTLP/gRPC.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-shop-relay")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RealtimeConfig tunes the websocket gateway.
type RealtimeConfig struct {
	Path            string        // WS_PATH
	WriteTimeout    time.Duration // WS_WRITE_TIMEOUT
	PongTimeout     time.Duration // WS_PONG_TIMEOUT; pings are sent at 9/10 of it
	MaxMessageBytes int64         // WS_MAX_MESSAGE_BYTES
	SendBuffer      int           // WS_SEND_BUFFER (outbound frames queued per connection)
	EventRPS        float64       // WS_EVENT_RPS (inbound frames per second per connection)
	EventBurst      int           // WS_EVENT_BURST
	AllowedOrigins  []string      // WS_ALLOWED_ORIGINS; empty allows any origin
}

// PushConfig holds Firebase Cloud Messaging settings. Push delivery is
// disabled when CredentialsFile is empty.
type PushConfig struct {
	CredentialsFile string // FIREBASE_CREDENTIALS_FILE
	ProjectID       string // FIREBASE_PROJECT_ID
}

// Config is the complete runtime configuration of the relay.
type Config struct {
	Port              string // PORT, without the colon
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // console writer instead of JSON lines
	SwaggerEnabled bool
	APIBasePath    string

	DBDriver string // sqlite|postgres
	DBPath   string // sqlite file
	DBDSN    string // postgres DSN

	// AdminIdentity is the one identity every operator connection shares.
	AdminIdentity string
	// HistoryLimit caps the messages returned for one conversation.
	HistoryLimit int
	Realtime     RealtimeConfig
	Push         PushConfig

	// JWTSecret enables bearer verification on the REST surface when set.
	JWTSecret string

	RateRPS   float64
	RateBurst int

	CORS     CORSConfig
	Security SecurityConfig

	IdempotencyTTL  time.Duration
	MaintenanceCron string // robfig/cron spec for purging expired keys

	OTEL OTELConfig
}

// MustLoad is Load for main: it panics on any problem.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, normalizes aliases and validates the result.
// All problems are reported together.
func Load() (Config, error) {
	var e env
	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.int("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.bool("LOG_PRETTY", false),
		SwaggerEnabled: e.bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		DBDriver: strings.ToLower(e.str("DB_DRIVER", "sqlite")),
		DBPath:   e.str("DB_PATH", "relay.db"),
		DBDSN:    e.str("DB_DSN", ""),

		AdminIdentity: strings.TrimSpace(e.str("ADMIN_IDENTITY", "admin")),
		HistoryLimit:  e.int("HISTORY_LIMIT", 50),
		Realtime: RealtimeConfig{
			Path:            normalizeBasePath(e.str("WS_PATH", "/ws")),
			WriteTimeout:    e.dur("WS_WRITE_TIMEOUT", 10*time.Second),
			PongTimeout:     e.dur("WS_PONG_TIMEOUT", 60*time.Second),
			MaxMessageBytes: int64(e.int("WS_MAX_MESSAGE_BYTES", 64<<10)),
			SendBuffer:      e.int("WS_SEND_BUFFER", 64),
			EventRPS:        e.float("WS_EVENT_RPS", 20),
			EventBurst:      e.int("WS_EVENT_BURST", 40),
			AllowedOrigins:  splitCSV(e.str("WS_ALLOWED_ORIGINS", "")),
		},
		Push: PushConfig{
			CredentialsFile: e.str("FIREBASE_CREDENTIALS_FILE", ""),
			ProjectID:       e.str("FIREBASE_PROJECT_ID", ""),
		},
		JWTSecret: e.str("JWT_SECRET", ""),

		RateRPS:   e.float("RATE_RPS", 5),
		RateBurst: e.int("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: e.bool("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL:  e.dur("IDEMPOTENCY_TTL", 24*time.Hour),
		MaintenanceCron: strings.TrimSpace(e.str("MAINTENANCE_CRON", "@hourly")),

		OTEL: OTELConfig{
			Enabled:     e.bool("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-shop-relay"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}
	cfg.normalize()
	return cfg, errors.Join(append(e.errs, cfg.Validate()...)...)
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	switch c.DBDriver {
	case "postgresql", "pg":
		c.DBDriver = "postgres"
	case "sqlite3":
		c.DBDriver = "sqlite"
	}
}

// Validate returns one error per setting that is out of range.
func (c Config) Validate() []error {
	var errs []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(!oneOf(c.LogLevel, "debug", "info", "warn", "error", "fatal", "panic"),
		"LOG_LEVEL %q is not one of debug, info, warn, error, fatal, panic", c.LogLevel)
	check(strings.TrimSpace(c.Port) == "", "PORT must not be empty")
	check(c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0,
		"server timeouts must be positive durations")
	check(c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DBDriver {
	case "sqlite":
		check(strings.TrimSpace(c.DBPath) == "", "DB_PATH must not be empty")
	case "postgres":
		check(strings.TrimSpace(c.DBDSN) == "", "DB_DSN must be set when DB_DRIVER=postgres")
	default:
		check(true, "DB_DRIVER %q is not one of sqlite, postgres", c.DBDriver)
	}

	check(c.AdminIdentity == "", "ADMIN_IDENTITY must not be empty")
	check(c.HistoryLimit < 1, "HISTORY_LIMIT must be >= 1")

	rt := c.Realtime
	check(rt.WriteTimeout <= 0 || rt.PongTimeout <= 0, "WS_WRITE_TIMEOUT and WS_PONG_TIMEOUT must be positive durations")
	check(rt.MaxMessageBytes <= 0, "WS_MAX_MESSAGE_BYTES must be > 0")
	check(rt.SendBuffer < 1, "WS_SEND_BUFFER must be >= 1")
	check(rt.EventRPS < 0, "WS_EVENT_RPS must be >= 0")
	check(rt.EventBurst < 1, "WS_EVENT_BURST must be >= 1")
	check(rt.Path == c.APIBasePath, "WS_PATH must differ from API_BASE_PATH")

	check(c.RateRPS < 0, "RATE_RPS must be >= 0")
	check(c.RateBurst < 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.MaintenanceCron == "", "MAINTENANCE_CRON must not be empty")
	check(c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

// PushEnabled reports whether Firebase credentials were supplied.
func (c Config) PushEnabled() bool {
	return strings.TrimSpace(c.Push.CredentialsFile) != ""
}

// env reads typed variables and remembers the ones that failed to parse.
type env struct {
	errs []error
}

func (e *env) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && v != ""
}

func (e *env) bad(key, raw string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, raw, err))
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.bad(key, v, err)
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		e.bad(key, v, err)
		return def
	}
	return f
}

func (e *env) dur(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.bad(key, v, err)
		return def
	}
	return d
}

func (e *env) bool(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.bad(key, v, errors.New("not a boolean"))
	return def
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns p with exactly one leading slash and no
// trailing slash; blank input means the root.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
