package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/sparkpath/internal/dialogue"
	"github.com/ashureev/sparkpath/internal/identity"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	writeTimeout = 10 * time.Second
	// maxMessageBytes bounds one inbound frame.
	maxMessageBytes = 64 << 10
	eventPing       = "ping"
	eventPong       = "pong"
)

// Dispatcher applies inbound events for a connection.
type Dispatcher interface {
	Dispatch(ctx context.Context, c dialogue.Conn, env dialogue.Envelope)
	Disconnect(connID string)
}

// Options configures a Handler.
type Options struct {
	QueueSize      int
	AllowedOrigins []string
	IsDev          bool
	Logger         *slog.Logger
}

// Handler upgrades requests to WebSocket connections and feeds their events
// to the dispatcher one at a time, in arrival order.
type Handler struct {
	dispatcher Dispatcher
	conns      *ConnManager
	limiter    *RateLimiter
	opts       Options
	logger     *slog.Logger
}

// NewHandler creates a WebSocket handler. A nil limiter disables rate limiting.
func NewHandler(d Dispatcher, conns *ConnManager, limiter *RateLimiter, opts Options) *Handler {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{dispatcher: d, conns: conns, limiter: limiter, opts: opts, logger: opts.Logger}
}

// wsEmitter writes outbound events as text frames. coder/websocket allows
// concurrent writers, so the worker and the read loop may both emit.
type wsEmitter struct {
	ws *websocket.Conn
}

func (e wsEmitter) Emit(ctx context.Context, ev dialogue.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return e.ws.Write(ctx, websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	connID := uuid.NewString()
	h.logger.Info("WebSocket connection request", "user_id", userID, "conn_id", connID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(maxMessageBytes)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "conn_id", connID)
		}
	}()

	h.conns.Register(userID, connID, ws)
	defer h.conns.Unregister(userID, connID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := dialogue.Conn{ID: connID, UserID: userID, Out: wsEmitter{ws: ws}}
	queue := make(chan dialogue.Envelope, h.opts.QueueSize)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.worker(ctx, conn, queue)
	}()

	h.readLoop(ctx, ws, conn, queue)
	cancel()
	close(queue)
	wg.Wait()

	h.dispatcher.Disconnect(connID)
	h.logger.Info("WebSocket connection ended", "user_id", userID, "conn_id", connID)
}

// worker is the single consumer of a connection's queue.
func (h *Handler) worker(ctx context.Context, conn dialogue.Conn, queue <-chan dialogue.Envelope) {
	for env := range queue {
		if ctx.Err() != nil {
			continue
		}
		h.dispatcher.Dispatch(ctx, conn, env)
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, conn dialogue.Conn, queue chan<- dialogue.Envelope) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "conn_id", conn.ID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "conn_id", conn.ID)
			}
			return
		}

		var env dialogue.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			h.emitError(ctx, conn, "invalid message")
			continue
		}

		if env.Event == eventPing {
			if err := conn.Out.Emit(ctx, dialogue.Event{Name: eventPong, Data: struct{}{}}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
			continue
		}

		if h.limiter != nil && !h.limiter.Allow(rateKey(conn)) {
			h.logger.Warn("WebSocket rate limit exceeded", "conn_id", conn.ID, "user_id", conn.UserID, "event", env.Event)
			h.emitError(ctx, conn, "Too many messages, please slow down")
			continue
		}

		select {
		case queue <- env:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) emitError(ctx context.Context, conn dialogue.Conn, msg string) {
	if err := conn.Out.Emit(ctx, dialogue.Event{Name: dialogue.EventError, Data: dialogue.ErrorMessage{Message: msg}}); err != nil {
		h.logger.Debug("Failed to send error", "error", err, "conn_id", conn.ID)
	}
}

func rateKey(conn dialogue.Conn) string {
	if conn.UserID != "" {
		return "user:" + conn.UserID
	}
	return "conn:" + conn.ID
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.opts.AllowedOrigins, "*") || slices.Contains(h.opts.AllowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigins)
	return false
}
