package handler

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
)

// startEchoServer returns the port of a TCP server that echoes whatever
// it reads on each accepted connection.
func startEchoServer(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					if _, err := c.Write(buf[:n]); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestTCPConnectSendReceive(t *testing.T) {
	port := startEchoServer(t)
	h := NewTCPHandler()
	defer h.Close()

	var resp protocol.Response
	h.Connect("127.0.0.1", port, &resp)
	if !resp.Success || resp.StatusCode != 200 {
		t.Fatalf("connect failed: %d %s", resp.StatusCode, resp.ErrorMessage)
	}
	if resp.TCP == nil || resp.TCP.SocketFD < 0 {
		t.Fatal("connect must report a non-negative descriptor")
	}

	resp = protocol.Response{}
	h.Send("127.0.0.1", port, "ping", &resp)
	if !resp.Success {
		t.Fatalf("send failed: %s", resp.ErrorMessage)
	}
	if resp.TCP.BytesSent != 4 {
		t.Errorf("bytes sent = %d, want 4", resp.TCP.BytesSent)
	}

	resp = protocol.Response{}
	h.Receive("127.0.0.1", port, &resp)
	if !resp.Success || resp.StatusCode != 200 {
		t.Fatalf("receive failed: %d %s", resp.StatusCode, resp.ErrorMessage)
	}
	if resp.TCP.ReceivedData != "ping" {
		t.Errorf("received %q, want %q", resp.TCP.ReceivedData, "ping")
	}
	if resp.TCP.BytesReceived != 4 {
		t.Errorf("bytes received = %d, want 4", resp.TCP.BytesReceived)
	}
}

func TestTCPConnectIdempotent(t *testing.T) {
	port := startEchoServer(t)
	h := NewTCPHandler()
	defer h.Close()

	var first, second protocol.Response
	h.Connect("127.0.0.1", port, &first)
	h.Connect("127.0.0.1", port, &second)

	if !second.Success || second.StatusCode != 200 {
		t.Errorf("reconnect on live entry must succeed: %d", second.StatusCode)
	}
	if first.TCP.SocketFD != second.TCP.SocketFD {
		t.Errorf("reconnect must reuse slot %d, got %d", first.TCP.SocketFD, second.TCP.SocketFD)
	}
}

func TestTCPReceiveTimeout(t *testing.T) {
	// Server that accepts but never writes
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			select {} // hold the connection open silently
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	h := NewTCPHandler()
	defer h.Close()

	var resp protocol.Response
	h.Connect("127.0.0.1", port, &resp)
	if !resp.Success {
		t.Fatalf("connect failed: %s", resp.ErrorMessage)
	}

	start := time.Now()
	resp = protocol.Response{}
	h.Receive("127.0.0.1", port, &resp)
	elapsed := time.Since(start)

	if !resp.Success || resp.StatusCode != protocol.StatusNoData {
		t.Errorf("quiet wire: got %d success=%t, want 204 success", resp.StatusCode, resp.Success)
	}
	if elapsed < 900*time.Millisecond || elapsed > 3*time.Second {
		t.Errorf("readiness wait took %v, want about 1s", elapsed)
	}
}

func TestTCPPeerClose(t *testing.T) {
	// Server closes each accepted connection without writing
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	h := NewTCPHandler()

	var resp protocol.Response
	h.Connect("127.0.0.1", port, &resp)
	if !resp.Success {
		t.Fatalf("connect failed: %s", resp.ErrorMessage)
	}

	// Give the server a moment to close its side
	time.Sleep(100 * time.Millisecond)

	resp = protocol.Response{}
	h.Receive("127.0.0.1", port, &resp)
	if resp.Success || resp.StatusCode != protocol.StatusPeerClosed {
		t.Errorf("peer close: got %d success=%t, want 410 failure", resp.StatusCode, resp.Success)
	}

	// The registry entry is no longer live
	resp = protocol.Response{}
	h.Send("127.0.0.1", port, "x", &resp)
	if resp.Success || resp.StatusCode != protocol.StatusInvalidState {
		t.Errorf("send on dead entry: got %d, want 400", resp.StatusCode)
	}
}

func TestTCPDisconnectAndReuse(t *testing.T) {
	port := startEchoServer(t)
	h := NewTCPHandler()

	var resp protocol.Response
	h.Connect("127.0.0.1", port, &resp)
	if !resp.Success {
		t.Fatal("connect failed")
	}

	resp = protocol.Response{}
	h.Disconnect("127.0.0.1", port, &resp)
	if !resp.Success {
		t.Fatalf("disconnect failed: %s", resp.ErrorMessage)
	}
	if resp.TCP.SocketFD != -1 {
		t.Errorf("descriptor after disconnect = %d, want -1", resp.TCP.SocketFD)
	}

	// Disconnecting again reports no active connection
	resp = protocol.Response{}
	h.Disconnect("127.0.0.1", port, &resp)
	if resp.Success || resp.StatusCode != protocol.StatusInvalidState {
		t.Errorf("double disconnect: got %d, want 400", resp.StatusCode)
	}

	// The same key reconnects into its old slot
	resp = protocol.Response{}
	h.Connect("127.0.0.1", port, &resp)
	if !resp.Success {
		t.Errorf("reconnect failed: %s", resp.ErrorMessage)
	}
}

func TestTCPSendWithoutConnect(t *testing.T) {
	h := NewTCPHandler()

	var resp protocol.Response
	h.Send("127.0.0.1", 1, "x", &resp)
	if resp.Success || resp.StatusCode != protocol.StatusInvalidState {
		t.Errorf("send without connect: got %d, want 400", resp.StatusCode)
	}
}

func TestTCPConnectDNSFailure(t *testing.T) {
	h := NewTCPHandler()

	var resp protocol.Response
	h.Connect("nonexistent.invalid", 80, &resp)
	if resp.Success {
		t.Fatal("connect to invalid host must fail")
	}
	if resp.StatusCode != protocol.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTCPExecuteRoundTrip(t *testing.T) {
	port := startEchoServer(t)
	h := NewTCPHandler()
	defer h.Close()

	req := protocol.Request{
		Protocol: protocol.TCP,
		URL:      "tcp://127.0.0.1:" + strconv.Itoa(port),
		Body:     "hello",
	}
	var resp protocol.Response
	h.Execute(context.Background(), &req, &resp)

	if !resp.Success {
		t.Fatalf("execute failed: %d %s", resp.StatusCode, resp.ErrorMessage)
	}
	if resp.TCP == nil || resp.TCP.ReceivedData != "hello" {
		t.Errorf("echo round trip produced %+v", resp.TCP)
	}
}
