package wsserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"perfhud/internal/bridge"
	"perfhud/internal/hotkeys"
	"perfhud/internal/settings"
)

// writeDeadline bounds a single websocket write. A host that stalls longer
// is treated as gone.
const writeDeadline = 5 * time.Second

// readDeadline is extended on every pong; three missed pings drop the host.
const readDeadline = 90 * time.Second

const pingInterval = 30 * time.Second

// maxReadMessageSize limits one inbound frame. Telemetry samples and toasts
// are well under 4 KiB.
const maxReadMessageSize = 64 * 1024

var wsUpgrader = websocket.Upgrader{
	// The hub binds to 127.0.0.1 only.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// Publisher receives inbound host frames. *bridge.Bus implements it.
type Publisher interface {
	Publish(topic bridge.Topic, payload any) error
}

// HubOptions configures the host transport.
type HubOptions struct {
	// Addr is the listen address. Use "127.0.0.1:0" for an OS-assigned port.
	Addr string
	// Bus receives every valid inbound envelope (payload as
	// cbor.RawMessage) and host:status changes.
	Bus Publisher
}

// Hub accepts a single host connection. A new connection replaces the
// existing one so a restarted host takes over without waiting for the old
// socket to time out.
//
// Lock ordering (never acquire in reverse):
//
//	writeMu -> mu
type Hub struct {
	opts HubOptions

	mu   sync.RWMutex
	conn *websocket.Conn

	// writeMu serializes WriteMessage calls and guards seq.
	writeMu sync.Mutex
	seq     uint64

	listener net.Listener
	server   *http.Server
	url      string

	closeOnce sync.Once
}

// NewHub creates a Hub. It does not listen until Start.
func NewHub(opts HubOptions) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	return &Hub{opts: opts}
}

// Start listens on the configured address and serves the /host endpoint.
// ctx becomes the base context of request handlers; the server itself is
// stopped by Stop. Start must be called once.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return fmt.Errorf("wsserver: already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("wsserver: listen: %w", err)
	}
	h.listener = ln
	h.url = fmt.Sprintf("ws://%s/host", ln.Addr().String())

	mux := http.NewServeMux()
	mux.HandleFunc("/host", h.handleWS)

	h.server = &http.Server{
		Handler: mux,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("[DEBUG-WS] server error", "error", serveErr)
		}
	}()

	slog.Info("[DEBUG-WS] host endpoint started", "url", h.url)
	return nil
}

// Stop shuts down the server and closes the host connection. Idempotent.
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		conn := h.conn
		h.conn = nil
		h.mu.Unlock()

		if conn != nil {
			h.closeConn(conn, "hub stop")
		}

		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("wsserver: shutdown: %w", err)
			}
		}

		slog.Info("[DEBUG-WS] host endpoint stopped")
	})
	return stopErr
}

// URL returns the host endpoint, e.g. "ws://127.0.0.1:54321/host". Empty
// before Start.
func (h *Hub) URL() string {
	return h.url
}

// HasActiveConnection reports whether a host is connected.
func (h *Hub) HasActiveConnection() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn != nil
}

// Send writes one envelope to the host. Without a host it returns an error
// wrapping bridge.ErrChannelUnavailable. A failed write drops the host.
func (h *Hub) Send(topic bridge.Topic, payload any) error {
	h.mu.RLock()
	conn := h.conn
	h.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("wsserver: send %s: %w", topic, bridge.ErrChannelUnavailable)
	}
	return h.writeEnvelope(conn, topic, payload)
}

// PublishSettings pushes the settings view to the host.
func (h *Hub) PublishSettings(view settings.HostView, version uint64) error {
	return h.Send(bridge.TopicSettings, SettingsPayload{Version: version, Settings: view})
}

// PublishShortcuts pushes the shortcut bindings to the host.
func (h *Hub) PublishShortcuts(shortcuts map[settings.Action]hotkeys.Binding, version uint64) error {
	return h.Send(bridge.TopicShortcuts, ShortcutsPayload{Version: version, Shortcuts: shortcuts})
}

// SelectProcess asks the host to track pid.
func (h *Hub) SelectProcess(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("wsserver: select process: invalid pid %d", pid)
	}
	return h.Send(bridge.TopicProcessSelect, ProcessSelectPayload{PID: pid})
}

func (h *Hub) writeEnvelope(conn *websocket.Conn, topic bridge.Topic, payload any) error {
	h.writeMu.Lock()
	h.seq++
	frame, err := EncodeEnvelope(topic, h.seq, payload)
	if err != nil {
		h.seq--
		h.writeMu.Unlock()
		return err
	}
	if !h.setWriteDeadlineOrClose(conn, writeDeadline) {
		h.writeMu.Unlock()
		return fmt.Errorf("wsserver: send %s: %w", topic, bridge.ErrChannelUnavailable)
	}
	writeErr := conn.WriteMessage(websocket.BinaryMessage, frame)
	h.clearWriteDeadline(conn)
	h.writeMu.Unlock()

	if writeErr != nil {
		slog.Warn("[DEBUG-WS] write failed, closing connection", "topic", topic, "error", writeErr)
		h.dropConn(conn, "write error")
		return fmt.Errorf("wsserver: send %s: %w", topic, errors.Join(bridge.ErrChannelUnavailable, writeErr))
	}
	return nil
}

// clearIfCurrent forgets conn if it is still the active connection and
// reports whether it was. Caller must not hold h.mu.
func (h *Hub) clearIfCurrent(conn *websocket.Conn) bool {
	h.mu.Lock()
	isCurrent := h.conn == conn
	if isCurrent {
		h.conn = nil
	}
	h.mu.Unlock()
	return isCurrent
}

// closeConn closes conn. Double close is harmless and only logged.
func (h *Hub) closeConn(conn *websocket.Conn, reason string) {
	if closeErr := conn.Close(); closeErr != nil {
		slog.Debug("[DEBUG-WS] connection close", "reason", reason, "error", closeErr)
	}
}

// dropConn clears and closes conn, announcing the disconnect when it was
// the active host.
func (h *Hub) dropConn(conn *websocket.Conn, reason string) {
	wasCurrent := h.clearIfCurrent(conn)
	h.closeConn(conn, reason)
	if wasCurrent {
		h.publishStatus(HostStatusPayload{Connected: false})
	}
}

func (h *Hub) setWriteDeadlineOrClose(conn *websocket.Conn, d time.Duration) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
		slog.Warn("[DEBUG-WS] SetWriteDeadline failed, closing connection", "error", err)
		h.dropConn(conn, "SetWriteDeadline failure")
		return false
	}
	return true
}

// clearWriteDeadline failure is non-fatal: the next write sets a fresh one.
func (h *Hub) clearWriteDeadline(conn *websocket.Conn) {
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("[DEBUG-WS] clearWriteDeadline failed (non-fatal)", "error", err)
	}
}

func (h *Hub) publishStatus(status HostStatusPayload) {
	if h.opts.Bus == nil {
		return
	}
	if err := h.opts.Bus.Publish(bridge.TopicHostStatus, status); err != nil {
		slog.Debug("[DEBUG-WS] host status not published", "connected", status.Connected, "error", err)
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[DEBUG-WS] upgrade failed", "error", err)
		return
	}

	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		slog.Warn("[DEBUG-WS] SetReadDeadline failed on new connection", "error", err)
		h.closeConn(conn, "initial SetReadDeadline failure")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	h.mu.Lock()
	oldConn := h.conn
	h.conn = conn
	h.mu.Unlock()

	if oldConn != nil {
		h.closeConn(oldConn, "replaced by new host connection")
	}

	remoteAddr := conn.RemoteAddr().String()
	slog.Info("[DEBUG-WS] host connected", "remoteAddr", remoteAddr)
	h.publishStatus(HostStatusPayload{Connected: true, RemoteAddr: remoteAddr})

	pingDone := make(chan struct{})
	go h.pingLoop(conn, pingDone)

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] wsserver handleWS recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
		close(pingDone)
		h.dropConn(conn, "read pump exit")
		slog.Info("[DEBUG-WS] host disconnected", "remoteAddr", remoteAddr)
	}()

	for {
		msgType, msg, readErr := conn.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[DEBUG-WS] read error", "error", readErr)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			h.sendError(conn, "expected a binary CBOR frame")
			continue
		}
		h.handleFrame(conn, msg)
	}
}

func (h *Hub) handleFrame(conn *websocket.Conn, frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		slog.Debug("[DEBUG-WS] invalid frame from host", "error", err)
		h.sendError(conn, err.Error())
		return
	}
	if _, ok := inboundTopics[env.Topic]; !ok {
		slog.Debug("[DEBUG-WS] unexpected topic from host", "topic", env.Topic, "seq", env.Seq)
		h.sendError(conn, fmt.Sprintf("topic %q is not accepted from the host", env.Topic))
		return
	}

	h.mu.RLock()
	isCurrent := h.conn == conn
	h.mu.RUnlock()
	if !isCurrent {
		slog.Debug("[DEBUG-WS] frame from stale connection, skipping", "topic", env.Topic)
		return
	}

	if h.opts.Bus == nil {
		return
	}
	if err := h.opts.Bus.Publish(env.Topic, env.Payload); err != nil {
		slog.Warn("[DEBUG-WS] failed to publish host frame", "topic", env.Topic, "error", err)
	}
}

func (h *Hub) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] wsserver pingLoop recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			h.dropConn(conn, "pingLoop panic recovery")
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.writeMu.Lock()
			if !h.setWriteDeadlineOrClose(conn, writeDeadline) {
				h.writeMu.Unlock()
				return
			}
			pingErr := conn.WriteMessage(websocket.PingMessage, nil)
			h.clearWriteDeadline(conn)
			h.writeMu.Unlock()

			if pingErr != nil {
				slog.Debug("[DEBUG-WS] ping failed, connection likely dead", "error", pingErr)
				h.dropConn(conn, "ping failure")
				return
			}
		}
	}
}

// sendError reports a bad frame to the host. Write failures drop the host.
func (h *Hub) sendError(conn *websocket.Conn, message string) {
	if err := h.writeEnvelope(conn, TopicError, ErrorPayload{Message: message}); err != nil {
		slog.Debug("[DEBUG-WS] failed to send error to host", "error", err)
	}
}
