package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const (
	httpShutdownTimeout = 5 * time.Second
	maxHTTPBodyBytes    = 4 << 20
)

// HTTPTransport exposes a Dispatcher over HTTP:
//
//	POST /mcp    JSON-RPC request, JSON-RPC response
//	GET  /mcp    server-sent events mirroring every response
//	GET  /ws     WebSocket, one JSON-RPC message per text frame
//	GET  /health liveness check
//
// Browser requests are refused unless their Origin is in the allowlist.
// Requests without an Origin header (CLI and SDK clients) pass.
type HTTPTransport struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	started    time.Time
	guards     []func(http.Handler) http.Handler
	origins    map[string]struct{}

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewHTTPTransport(dispatcher *Dispatcher) *HTTPTransport {
	h := &HTTPTransport{
		dispatcher: dispatcher,
		started:    time.Now(),
		origins:    make(map[string]struct{}),
		subs:       make(map[chan []byte]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

// AllowOrigins adds browser origins such as "https://app.example.com" that
// may call /mcp and /ws.
func (h *HTTPTransport) AllowOrigins(origins ...string) {
	for _, origin := range origins {
		if o := normalizeOrigin(origin); o != "" {
			h.origins[o] = struct{}{}
		}
	}
}

func (h *HTTPTransport) SetLogger(logger *slog.Logger) {
	h.logger = logger
}

// Use adds middleware in front of the MCP endpoints. /health stays open.
func (h *HTTPTransport) Use(guard func(http.Handler) http.Handler) {
	h.guards = append(h.guards, guard)
}

func (h *HTTPTransport) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(h.checkOrigin)
		r.Options("/mcp", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.guards...)
			r.Get("/mcp", h.handleSSE)
			r.With(middleware.AllowContentType("application/json")).Post("/mcp", h.handleJSONRPC)
			r.Get("/ws", h.handleWebSocket)
		})
	})
	return r
}

// ListenAndServe serves until ctx is done.
func (h *HTTPTransport) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	h.logInfo("http_listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *HTTPTransport) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxHTTPBodyBytes))
	if err != nil {
		h.writeResponse(w, newError(nil, &RPCError{Code: CodeParseError, Message: "Parse error", Data: ErrorDetails{Details: err.Error()}}))
		return
	}

	// Commands are bounded by their own timeout, not by the client staying
	// connected.
	resp, ok := h.dispatcher.HandleMessage(context.WithoutCancel(r.Context()), body)
	if !ok {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	h.writeResponse(w, resp)
}

func (h *HTTPTransport) writeResponse(w http.ResponseWriter, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		h.logError("http_encode_failed", "error", err)
		data, _ = json.Marshal(newError(resp.ID, internalError(err)))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logWarn("http_write_failed", "error", err)
		return
	}
	h.publish(data)
}

func (h *HTTPTransport) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := make(chan []byte, 16)
	h.subscribe(client)
	defer h.unsubscribe(client)

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(": connected\n\n")); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-client:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *HTTPTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logWarn("ws_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxHTTPBodyBytes)

	h.logInfo("ws_session_start", "remote", r.RemoteAddr, "request_id", middleware.GetReqID(r.Context()))
	defer h.logInfo("ws_session_end", "remote", r.RemoteAddr)

	ctx := context.WithoutCancel(r.Context())
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logDebug("ws_read_failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		resp, ok := h.dispatcher.HandleMessage(ctx, payload)
		if !ok {
			continue
		}
		if err := conn.WriteJSON(resp); err != nil {
			h.logWarn("ws_write_failed", "error", err)
			return
		}
	}
}

func (h *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// checkOrigin refuses cross-origin browser requests and sets CORS headers
// for allowed origins only.
func (h *HTTPTransport) checkOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Origin")
		if !h.originAllowed(r) {
			h.logWarn("http_origin_refused", "origin", r.Header.Get("Origin"), "path", r.URL.Path)
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPTransport) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	_, ok := h.origins[normalizeOrigin(origin)]
	return ok
}

// normalizeOrigin reduces origin to lower-case "scheme://host[:port]", or ""
// when it is not an absolute URL.
func normalizeOrigin(origin string) string {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func (h *HTTPTransport) subscribe(ch chan []byte) {
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
}

func (h *HTTPTransport) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// publish fans data out to SSE subscribers, dropping it for slow ones.
func (h *HTTPTransport) publish(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

func (h *HTTPTransport) logDebug(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, args...)
	}
}

func (h *HTTPTransport) logInfo(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Info(msg, args...)
	}
}

func (h *HTTPTransport) logWarn(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, args...)
	}
}

func (h *HTTPTransport) logError(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Error(msg, args...)
	}
}
