package handler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/volcanion-company/volcanion-load-engine/internal/logger"
	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
	"github.com/volcanion-company/volcanion-load-engine/internal/registry"
	"go.uber.org/zap"
)

const (
	maxTCPConnections = 100
	tcpConnectTimeout = 5 * time.Second
	tcpReceiveWait    = 1 * time.Second
)

// TCPHandler keeps one stream connection per (host, port) in a
// fixed-capacity registry. A disconnect keeps the slot so a later connect
// on the same key reuses it.
type TCPHandler struct {
	conns *registry.Registry[net.Conn]
}

func NewTCPHandler() *TCPHandler {
	return &TCPHandler{conns: registry.New[net.Conn](maxTCPConnections)}
}

func (h *TCPHandler) Protocol() protocol.Protocol { return protocol.TCP }

// Execute dispatches a queued TCP request: connect, send the body if one
// is present, then attempt one receive.
func (h *TCPHandler) Execute(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
	host, port, err := hostPort(req.URL, protocol.TCP)
	if err != nil {
		resp.Protocol = protocol.TCP
		resp.Fail(protocol.StatusInvalidState, err.Error())
		return
	}

	h.Connect(host, port, resp)
	if !resp.Success {
		return
	}
	if req.Body != "" {
		h.Send(host, port, req.Body, resp)
		if !resp.Success {
			return
		}
		h.Receive(host, port, resp)
	}
}

// Connect resolves host, establishes the stream within the 5-second
// budget and marks the registry entry live. Reconnecting an already-live
// key succeeds without touching the socket.
func (h *TCPHandler) Connect(host string, port int, resp *protocol.Response) {
	resp.Protocol = protocol.TCP

	entry, err := h.conns.LookupOrCreate(registry.Key{Host: host, Port: port})
	if err != nil {
		resp.Fail(protocol.StatusInternalError, "Too many TCP connections")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if entry.Live {
		resp.OK(protocol.StatusOK, fmt.Sprintf("TCP connection already established to %s:%d", host, port))
		resp.TCP = &protocol.TCPResponseData{SocketFD: entry.Slot}
		return
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), tcpConnectTimeout)
	if err != nil {
		var dnsErr *net.DNSError
		var netErr net.Error
		switch {
		case errors.As(err, &dnsErr):
			resp.Fail(protocol.StatusNotFound, fmt.Sprintf("Host not found: %s", host))
		case errors.As(err, &netErr) && netErr.Timeout():
			resp.Fail(protocol.StatusTimeout, "Connection timeout")
		default:
			resp.Fail(protocol.StatusInternalError, fmt.Sprintf("Connection failed: %v", err))
		}
		return
	}

	entry.Conn = conn
	entry.Live = true

	logger.Log.Debug("TCP connection established",
		zap.String("host", host),
		zap.Int("port", port))

	resp.OK(protocol.StatusOK, fmt.Sprintf("TCP connection established to %s:%d", host, port))
	resp.TCP = &protocol.TCPResponseData{SocketFD: entry.Slot}
}

// Send writes data once on the live connection for (host, port).
func (h *TCPHandler) Send(host string, port int, data string, resp *protocol.Response) {
	resp.Protocol = protocol.TCP

	entry, ok := h.conns.Lookup(registry.Key{Host: host, Port: port})
	if !ok {
		resp.Fail(protocol.StatusInvalidState, "No active TCP connection")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if !entry.Live {
		resp.Fail(protocol.StatusInvalidState, "No active TCP connection")
		return
	}

	n, err := entry.Conn.Write([]byte(data))
	if err != nil {
		resp.Fail(protocol.StatusInternalError, fmt.Sprintf("Send failed: %v", err))
		return
	}

	resp.OK(protocol.StatusOK, fmt.Sprintf("Sent %d bytes to %s:%d", n, host, port))
	resp.TCP = &protocol.TCPResponseData{SocketFD: entry.Slot, BytesSent: n}
}

// Receive waits up to one second for data. A quiet wire is a success with
// status 204; a clean close by the peer fails with 410 and drops the
// entry to not-live.
func (h *TCPHandler) Receive(host string, port int, resp *protocol.Response) {
	resp.Protocol = protocol.TCP

	entry, ok := h.conns.Lookup(registry.Key{Host: host, Port: port})
	if !ok {
		resp.Fail(protocol.StatusInvalidState, "No active TCP connection")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if !entry.Live {
		resp.Fail(protocol.StatusInvalidState, "No active TCP connection")
		return
	}

	_ = entry.Conn.SetReadDeadline(time.Now().Add(tcpReceiveWait))
	buf := make([]byte, protocol.MaxBodyLength)
	n, err := entry.Conn.Read(buf)
	_ = entry.Conn.SetReadDeadline(time.Time{})

	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			resp.OK(protocol.StatusNoData, "No data available")
			resp.TCP = &protocol.TCPResponseData{SocketFD: entry.Slot}
			return
		}
		if n == 0 {
			// Peer closed the connection
			_ = entry.Conn.Close()
			entry.Live = false
			entry.Conn = nil
			resp.Fail(protocol.StatusPeerClosed, "Connection closed by peer")
			resp.TCP = &protocol.TCPResponseData{SocketFD: -1}
			return
		}
		resp.Fail(protocol.StatusInternalError, fmt.Sprintf("Receive failed: %v", err))
		return
	}

	resp.OK(protocol.StatusOK, fmt.Sprintf("Received %d bytes from %s:%d", n, host, port))
	resp.TCP = &protocol.TCPResponseData{
		SocketFD:      entry.Slot,
		BytesReceived: n,
		ReceivedData:  protocol.Truncate(string(buf[:n]), protocol.MaxBodyLength),
	}
}

// Disconnect closes the socket and clears the live flag. The slot stays
// allocated for the next connect on this key.
func (h *TCPHandler) Disconnect(host string, port int, resp *protocol.Response) {
	resp.Protocol = protocol.TCP

	entry, ok := h.conns.Lookup(registry.Key{Host: host, Port: port})
	if !ok {
		resp.Fail(protocol.StatusInvalidState, "No active TCP connection to disconnect")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if !entry.Live {
		resp.Fail(protocol.StatusInvalidState, "No active TCP connection to disconnect")
		return
	}

	if entry.Conn != nil {
		_ = entry.Conn.Close()
		entry.Conn = nil
	}
	entry.Live = false

	resp.OK(protocol.StatusOK, fmt.Sprintf("TCP connection to %s:%d closed successfully", host, port))
	resp.TCP = &protocol.TCPResponseData{SocketFD: -1}
}

// Close shuts every live connection. Called on engine teardown.
func (h *TCPHandler) Close() {
	for _, key := range h.conns.Keys() {
		var resp protocol.Response
		h.Disconnect(key.Host, key.Port, &resp)
	}
}
