// Package realtime – Websocket server
//
// This file upgrades HTTP requests on the realtime path, runs one reader and
// one writer goroutine per connection and rate-limits inbound frames. Each
// connection is a Client to the Gateway; closing it unregisters every
// identity bound to it.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-shop-relay/internal/config"
)

var (
	// ErrConnClosed is returned by Emit/Ack after the connection went away.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned when the outbound queue is saturated.
	ErrSendQueueFull = errors.New("send queue full")
)

// Server upgrades HTTP requests to websocket connections and feeds their
// frames to a Gateway.
type Server struct {
	gw       *Gateway
	cfg      config.RealtimeConfig
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer builds a websocket endpoint for gw. An empty AllowedOrigins
// accepts every origin.
func NewServer(gw *Gateway, cfg config.RealtimeConfig, log zerolog.Logger) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	s := &Server{
		gw:  gw,
		cfg: cfg,
		log: log.With().Str("component", "realtime").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 << 10,
		WriteBufferSize: 4 << 10,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients do not send an Origin.
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// Handler adapts the server to a Gin route.
func (s *Server) Handler() gin.HandlerFunc {
	return func(c *gin.Context) { s.ServeHTTP(c.Writer, c.Request) }
}

// ServeHTTP upgrades the request and blocks until the connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, s.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	log := s.log.With().Str("conn_id", c.id).Logger()
	log.Debug().Str("remote", r.RemoteAddr).Msg("connection opened")

	connectionsActive.Inc()
	defer connectionsActive.Dec()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.writePump(c, log)
	s.readPump(ctx, c, log)

	c.close()
	s.gw.Disconnect(ctx, c)
	log.Debug().Msg("connection closed")
}

func (s *Server) readPump(ctx context.Context, c *conn, log zerolog.Logger) {
	if s.cfg.MaxMessageBytes > 0 {
		c.ws.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	limit := rate.Inf
	if s.cfg.EventRPS > 0 {
		limit = rate.Limit(s.cfg.EventRPS)
	}
	burst := s.cfg.EventBurst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	for {
		kind, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		// Any inbound traffic proves liveness.
		_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		f, err := DecodeFrame(raw)
		if err != nil {
			log.Warn().Err(err).Msg("malformed frame dropped")
			countEvent("", outcomeError)
			continue
		}
		if !limiter.Allow() {
			log.Warn().Str("event", f.Event).Msg("event rate exceeded; frame dropped")
			countEvent(f.Event, outcomeThrottled)
			continue
		}
		s.gw.Handle(ctx, c, f)
	}
}

func (s *Server) writePump(c *conn, log zerolog.Logger) {
	ping := time.NewTicker(s.cfg.PongTimeout * 9 / 10)
	defer func() {
		ping.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Msg("write failed")
				c.close()
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// conn is one websocket client. Emit and Ack never block; frames that do
// not fit in the queue are dropped.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	once sync.Once
	done chan struct{}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Emit(event string, payload any) error {
	b, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

func (c *conn) Ack(id int64, payload any) error {
	b, err := encodeAck(id, payload)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

func (c *conn) enqueue(b []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}
