package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/volcanion-company/volcanion-load-engine/internal/logger"
	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
	"github.com/volcanion-company/volcanion-load-engine/internal/registry"
	"go.uber.org/zap"
)

const (
	maxWSConnections   = 1000
	wsHandshakeTimeout = 10 * time.Second
)

// wsContext is the per-URL client state. Lookup is exclusive: one active
// context per URL.
type wsContext struct {
	conn             *websocket.Conn
	subprotocol      string
	messagesSent     uint64
	messagesReceived uint64
	bytesSent        uint64
	bytesReceived    uint64
}

// WebSocketHandler is a real client over gorilla/websocket. The
// observable contract matches the historical simulator: connect answers
// 101 with an Upgrade header line, send answers 200 with counters, close
// answers 200 and releases the registry slot.
type WebSocketHandler struct {
	conns *registry.Registry[*wsContext]
}

func NewWebSocketHandler() *WebSocketHandler {
	return &WebSocketHandler{conns: registry.New[*wsContext](maxWSConnections)}
}

func (h *WebSocketHandler) Protocol() protocol.Protocol { return protocol.WebSocket }

// Execute dispatches a queued WebSocket request: connect, send the body
// if present, close.
func (h *WebSocketHandler) Execute(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
	subprotocol, origin := "", ""
	if req.WebSocket != nil {
		subprotocol = req.WebSocket.Subprotocol
		origin = req.WebSocket.Origin
	}

	h.Connect(req.URL, subprotocol, origin, resp)
	if !resp.Success {
		return
	}
	if req.Body != "" {
		h.Send(req.URL, req.Body, resp)
		if !resp.Success {
			return
		}
	}
	h.CloseConnection(req.URL, resp)
}

// Connect performs the upgrade handshake. Connecting an already-open URL
// answers 101 again without a second handshake.
func (h *WebSocketHandler) Connect(url, subprotocol, origin string, resp *protocol.Response) {
	resp.Protocol = protocol.WebSocket

	entry, err := h.conns.LookupOrCreate(registry.Key{ID: url})
	if err != nil {
		resp.Fail(protocol.StatusInternalError, "Too many WebSocket connections")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if entry.Live {
		resp.OK(protocol.StatusSwitching, "WebSocket connection already established")
		resp.SetHeaders("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade")
		resp.WebSocket = h.counters(entry.Conn)
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	header := http.Header{}
	if subprotocol != "" {
		dialer.Subprotocols = []string{subprotocol}
	}
	if origin != "" {
		header.Set("Origin", origin)
	}

	conn, httpResp, err := dialer.Dial(url, header)
	if err != nil {
		status := protocol.StatusInternalError
		if httpResp != nil {
			status = httpResp.StatusCode
		}
		resp.Fail(status, fmt.Sprintf("WebSocket handshake failed: %v", err))
		return
	}

	entry.Conn = &wsContext{conn: conn, subprotocol: conn.Subprotocol()}
	entry.Live = true

	var headerText strings.Builder
	headerText.WriteString("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade")
	for name, values := range httpResp.Header {
		if name == "Upgrade" || name == "Connection" {
			continue
		}
		for _, value := range values {
			headerText.WriteString("\r\n" + name + ": " + value)
		}
	}

	logger.Log.Debug("WebSocket connection established", zap.String("url", url))

	resp.OK(protocol.StatusSwitching, "WebSocket connection established")
	resp.SetHeaders(headerText.String())
	resp.WebSocket = h.counters(entry.Conn)
}

// Send writes one text message on the open connection.
func (h *WebSocketHandler) Send(url, message string, resp *protocol.Response) {
	resp.Protocol = protocol.WebSocket

	entry, ok := h.conns.Lookup(registry.Key{ID: url})
	if !ok {
		resp.Fail(protocol.StatusInvalidState, "WebSocket not connected")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if !entry.Live {
		resp.Fail(protocol.StatusInvalidState, "WebSocket not connected")
		return
	}

	if err := entry.Conn.conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		resp.Fail(protocol.StatusInternalError, fmt.Sprintf("WebSocket send failed: %v", err))
		return
	}

	entry.Conn.messagesSent++
	entry.Conn.bytesSent += uint64(len(message))

	resp.OK(protocol.StatusOK, fmt.Sprintf("Message sent: %d bytes", len(message)))
	resp.WebSocket = h.counters(entry.Conn)
}

// Receive reads one message, waiting up to one second. A quiet socket is
// a success with status 204.
func (h *WebSocketHandler) Receive(url string, resp *protocol.Response) {
	resp.Protocol = protocol.WebSocket

	entry, ok := h.conns.Lookup(registry.Key{ID: url})
	if !ok {
		resp.Fail(protocol.StatusInvalidState, "WebSocket not connected")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if !entry.Live {
		resp.Fail(protocol.StatusInvalidState, "WebSocket not connected")
		return
	}

	_ = entry.Conn.conn.SetReadDeadline(time.Now().Add(time.Second))
	_, message, err := entry.Conn.conn.ReadMessage()
	_ = entry.Conn.conn.SetReadDeadline(time.Time{})

	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			_ = entry.Conn.conn.Close()
			entry.Live = false
			resp.Fail(protocol.StatusPeerClosed, "Connection closed by peer")
			return
		}
		resp.OK(protocol.StatusNoData, "No data available")
		resp.WebSocket = h.counters(entry.Conn)
		return
	}

	entry.Conn.messagesReceived++
	entry.Conn.bytesReceived += uint64(len(message))

	resp.OK(protocol.StatusOK, protocol.Truncate(string(message), protocol.MaxBodyLength))
	resp.WebSocket = h.counters(entry.Conn)
}

// CloseConnection closes the socket and releases the registry slot.
// Closing an unknown or already-closed URL succeeds.
func (h *WebSocketHandler) CloseConnection(url string, resp *protocol.Response) {
	resp.Protocol = protocol.WebSocket

	entry, ok := h.conns.Lookup(registry.Key{ID: url})
	if !ok {
		resp.OK(protocol.StatusOK, "WebSocket connection already closed")
		return
	}

	entry.Mu.Lock()
	if entry.Live && entry.Conn != nil {
		_ = entry.Conn.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = entry.Conn.conn.Close()
	}
	entry.Live = false
	entry.Mu.Unlock()

	h.conns.Remove(registry.Key{ID: url})

	resp.OK(protocol.StatusOK, "WebSocket connection closed")
}

// Close shuts every open connection. Called on engine teardown.
func (h *WebSocketHandler) Close() {
	for _, key := range h.conns.Keys() {
		var resp protocol.Response
		h.CloseConnection(key.ID, &resp)
	}
}

func (h *WebSocketHandler) counters(ctx *wsContext) *protocol.WebSocketResponseData {
	return &protocol.WebSocketResponseData{
		Subprotocol:      ctx.subprotocol,
		MessagesSent:     ctx.messagesSent,
		MessagesReceived: ctx.messagesReceived,
		BytesSent:        ctx.bytesSent,
		BytesReceived:    ctx.bytesReceived,
	}
}
