package handler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
	"github.com/volcanion-company/volcanion-load-engine/internal/registry"
)

const (
	maxUDPEndpoints = 100
	udpReceiveWait  = 1 * time.Second
)

// udpEndpoint is the state behind one (host, port) registry slot. The
// socket is created lazily: sends bind an ephemeral local port, receives
// prefer a socket bound to the endpoint port.
type udpEndpoint struct {
	conn *net.UDPConn
}

// UDPHandler keeps one datagram endpoint per (host, port).
type UDPHandler struct {
	endpoints *registry.Registry[*udpEndpoint]
}

func NewUDPHandler() *UDPHandler {
	return &UDPHandler{endpoints: registry.New[*udpEndpoint](maxUDPEndpoints)}
}

func (h *UDPHandler) Protocol() protocol.Protocol { return protocol.UDP }

// Execute dispatches a queued UDP request: one send of the body.
func (h *UDPHandler) Execute(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
	host, port, err := hostPort(req.URL, protocol.UDP)
	if err != nil {
		resp.Protocol = protocol.UDP
		resp.Fail(protocol.StatusInvalidState, err.Error())
		return
	}
	h.Send(host, port, req.Body, resp)
}

// reuseAddrListen opens a UDP socket with SO_REUSEADDR so repeated
// create/close cycles on the same port do not trip TIME_WAIT-style reuse
// failures.
func reuseAddrListen(laddr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", laddr)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// CreateEndpoint allocates the registry slot and marks it live. It opens
// no socket; the first Send or Receive opens it. Creating an endpoint
// that already exists succeeds.
func (h *UDPHandler) CreateEndpoint(host string, port int, resp *protocol.Response) {
	resp.Protocol = protocol.UDP

	entry, err := h.endpoints.LookupOrCreate(registry.Key{Host: host, Port: port})
	if err != nil {
		resp.Fail(protocol.StatusInternalError, "Too many UDP endpoints")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if entry.Live {
		resp.OK(protocol.StatusOK, fmt.Sprintf("UDP endpoint already created for %s:%d", host, port))
		resp.UDP = &protocol.UDPResponseData{SocketFD: entry.Slot}
		return
	}

	// The socket itself is opened lazily: the first send binds an
	// ephemeral local port, a receive before any send binds the endpoint
	// port.
	entry.Conn = &udpEndpoint{}
	entry.Live = true

	resp.OK(protocol.StatusOK, fmt.Sprintf("UDP endpoint created for %s:%d", host, port))
	resp.UDP = &protocol.UDPResponseData{SocketFD: entry.Slot}
}

// Send resolves the destination name on each call and performs one
// sendto. A missing endpoint is created on the fly.
func (h *UDPHandler) Send(host string, port int, data string, resp *protocol.Response) {
	resp.Protocol = protocol.UDP

	entry, ok := h.endpoints.Lookup(registry.Key{Host: host, Port: port})
	if !ok || !h.entryLive(entry) {
		var created protocol.Response
		h.CreateEndpoint(host, port, &created)
		if !created.Success {
			resp.Fail(protocol.StatusInvalidState, "Failed to create UDP endpoint")
			return
		}
		entry, _ = h.endpoints.Lookup(registry.Key{Host: host, Port: port})
	}

	dest, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		resp.Fail(protocol.StatusNotFound, fmt.Sprintf("Host not found: %s", host))
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if entry.Conn.conn == nil {
		conn, err := reuseAddrListen(":0")
		if err != nil {
			resp.Fail(protocol.StatusInternalError, fmt.Sprintf("Failed to create UDP socket: %v", err))
			return
		}
		entry.Conn.conn = conn
	}

	n, err := entry.Conn.conn.WriteToUDP([]byte(data), dest)
	if err != nil {
		resp.Fail(protocol.StatusInternalError, fmt.Sprintf("UDP send failed: %v", err))
		return
	}

	resp.OK(protocol.StatusOK, fmt.Sprintf("Sent %d bytes to %s:%d via UDP", n, host, port))
	resp.UDP = &protocol.UDPResponseData{
		SocketFD:      entry.Slot,
		BytesSent:     n,
		SenderAddress: host,
		SenderPort:    port,
	}
}

// Receive waits up to one second for a datagram on the endpoint socket
// and reports the sender address. A socket already opened for sending
// keeps receiving on its ephemeral port; a fresh endpoint binds the
// endpoint port, falling back to an ephemeral one when the port is
// already in use.
func (h *UDPHandler) Receive(host string, port int, resp *protocol.Response) {
	resp.Protocol = protocol.UDP

	entry, ok := h.endpoints.Lookup(registry.Key{Host: host, Port: port})
	if !ok {
		resp.Fail(protocol.StatusInvalidState, "No UDP endpoint available")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if !entry.Live {
		resp.Fail(protocol.StatusInvalidState, "No UDP endpoint available")
		return
	}

	if entry.Conn.conn == nil {
		conn, err := reuseAddrListen(fmt.Sprintf(":%d", port))
		if err != nil {
			// Port already in use locally; receive on an ephemeral one
			conn, err = reuseAddrListen(":0")
			if err != nil {
				resp.Fail(protocol.StatusInternalError, fmt.Sprintf("Failed to create UDP socket: %v", err))
				return
			}
		}
		entry.Conn.conn = conn
	}
	conn := entry.Conn.conn

	_ = conn.SetReadDeadline(time.Now().Add(udpReceiveWait))
	buf := make([]byte, protocol.MaxBodyLength)
	n, sender, err := conn.ReadFromUDP(buf)
	_ = conn.SetReadDeadline(time.Time{})

	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			resp.OK(protocol.StatusNoData, "No UDP data available")
			resp.UDP = &protocol.UDPResponseData{SocketFD: entry.Slot}
			return
		}
		resp.Fail(protocol.StatusInternalError, fmt.Sprintf("UDP receive failed: %v", err))
		return
	}

	resp.OK(protocol.StatusOK, fmt.Sprintf("Received %d bytes from %s:%d via UDP", n, sender.IP, sender.Port))
	resp.UDP = &protocol.UDPResponseData{
		SocketFD:      entry.Slot,
		BytesReceived: n,
		ReceivedData:  protocol.Truncate(string(buf[:n]), protocol.MaxBodyLength),
		SenderAddress: sender.IP.String(),
		SenderPort:    sender.Port,
	}
}

// CloseEndpoint closes the socket and clears the live flag; the slot is
// kept for later reuse.
func (h *UDPHandler) CloseEndpoint(host string, port int, resp *protocol.Response) {
	resp.Protocol = protocol.UDP

	entry, ok := h.endpoints.Lookup(registry.Key{Host: host, Port: port})
	if !ok {
		resp.Fail(protocol.StatusInvalidState, "No UDP endpoint to close")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if !entry.Live {
		resp.Fail(protocol.StatusInvalidState, "No UDP endpoint to close")
		return
	}

	if entry.Conn != nil && entry.Conn.conn != nil {
		_ = entry.Conn.conn.Close()
	}
	entry.Conn = nil
	entry.Live = false

	resp.OK(protocol.StatusOK, fmt.Sprintf("UDP endpoint for %s:%d closed successfully", host, port))
	resp.UDP = &protocol.UDPResponseData{SocketFD: -1}
}

// Close shuts every endpoint. Called on engine teardown.
func (h *UDPHandler) Close() {
	for _, key := range h.endpoints.Keys() {
		var resp protocol.Response
		h.CloseEndpoint(key.Host, key.Port, &resp)
	}
}

func (h *UDPHandler) entryLive(entry *registry.Entry[*udpEndpoint]) bool {
	entry.Mu.Lock()
	defer entry.Mu.Unlock()
	return entry.Live
}
