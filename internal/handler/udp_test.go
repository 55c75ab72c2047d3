package handler

import (
	"net"
	"testing"
	"time"

	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
)

// startUDPEchoServer returns the port of a UDP server that echoes each
// datagram back to its sender.
func startUDPEchoServer(t *testing.T) int {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 4096)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			_, _ = conn.WriteToUDP(buf[:n], addr)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestUDPRoundTrip(t *testing.T) {
	port := startUDPEchoServer(t)
	h := NewUDPHandler()
	defer h.Close()

	var resp protocol.Response
	h.CreateEndpoint("127.0.0.1", port, &resp)
	if !resp.Success || resp.StatusCode != 200 {
		t.Fatalf("create endpoint failed: %d %s", resp.StatusCode, resp.ErrorMessage)
	}

	resp = protocol.Response{}
	h.Send("127.0.0.1", port, "x", &resp)
	if !resp.Success {
		t.Fatalf("send failed: %s", resp.ErrorMessage)
	}
	if resp.UDP.BytesSent != 1 {
		t.Errorf("bytes sent = %d, want 1", resp.UDP.BytesSent)
	}

	resp = protocol.Response{}
	h.Receive("127.0.0.1", port, &resp)
	if !resp.Success || resp.StatusCode != 200 {
		t.Fatalf("receive failed: %d %s", resp.StatusCode, resp.ErrorMessage)
	}
	if resp.UDP.ReceivedData != "x" {
		t.Errorf("received %q, want %q", resp.UDP.ReceivedData, "x")
	}
	if resp.UDP.SenderPort != port {
		t.Errorf("sender port = %d, want %d", resp.UDP.SenderPort, port)
	}
}

func TestUDPSendAutoCreatesEndpoint(t *testing.T) {
	port := startUDPEchoServer(t)
	h := NewUDPHandler()
	defer h.Close()

	var resp protocol.Response
	h.Send("127.0.0.1", port, "auto", &resp)
	if !resp.Success {
		t.Fatalf("send without create failed: %s", resp.ErrorMessage)
	}
	if resp.UDP.BytesSent != 4 {
		t.Errorf("bytes sent = %d, want 4", resp.UDP.BytesSent)
	}
}

func TestUDPReceiveTimeout(t *testing.T) {
	h := NewUDPHandler()
	defer h.Close()

	var resp protocol.Response
	h.CreateEndpoint("127.0.0.1", 39997, &resp)
	if !resp.Success {
		t.Fatal("create endpoint failed")
	}

	start := time.Now()
	resp = protocol.Response{}
	h.Receive("127.0.0.1", 39997, &resp)
	elapsed := time.Since(start)

	if !resp.Success || resp.StatusCode != protocol.StatusNoData {
		t.Errorf("quiet endpoint: got %d success=%t, want 204 success", resp.StatusCode, resp.Success)
	}
	if elapsed < 900*time.Millisecond || elapsed > 3*time.Second {
		t.Errorf("readiness wait took %v, want about 1s", elapsed)
	}
}

func TestUDPReceiveWithoutEndpoint(t *testing.T) {
	h := NewUDPHandler()

	var resp protocol.Response
	h.Receive("127.0.0.1", 39996, &resp)
	if resp.Success || resp.StatusCode != protocol.StatusInvalidState {
		t.Errorf("receive without endpoint: got %d, want 400", resp.StatusCode)
	}
}

func TestUDPCloseEndpoint(t *testing.T) {
	port := startUDPEchoServer(t)
	h := NewUDPHandler()

	var resp protocol.Response
	h.CreateEndpoint("127.0.0.1", port, &resp)
	if !resp.Success {
		t.Fatal("create endpoint failed")
	}

	resp = protocol.Response{}
	h.CloseEndpoint("127.0.0.1", port, &resp)
	if !resp.Success {
		t.Fatalf("close failed: %s", resp.ErrorMessage)
	}
	if resp.UDP.SocketFD != -1 {
		t.Errorf("descriptor after close = %d, want -1", resp.UDP.SocketFD)
	}

	resp = protocol.Response{}
	h.CloseEndpoint("127.0.0.1", port, &resp)
	if resp.Success || resp.StatusCode != protocol.StatusInvalidState {
		t.Errorf("double close: got %d, want 400", resp.StatusCode)
	}

	// The key can be recreated after close
	resp = protocol.Response{}
	h.CreateEndpoint("127.0.0.1", port, &resp)
	if !resp.Success {
		t.Errorf("recreate after close failed: %s", resp.ErrorMessage)
	}
}

func TestUDPCreateEndpointIdempotent(t *testing.T) {
	port := startUDPEchoServer(t)
	h := NewUDPHandler()
	defer h.Close()

	var first, second protocol.Response
	h.CreateEndpoint("127.0.0.1", port, &first)
	h.CreateEndpoint("127.0.0.1", port, &second)

	if !second.Success || second.StatusCode != 200 {
		t.Errorf("recreate on live endpoint must succeed: %d", second.StatusCode)
	}
	if first.UDP.SocketFD != second.UDP.SocketFD {
		t.Errorf("recreate must reuse slot %d, got %d", first.UDP.SocketFD, second.UDP.SocketFD)
	}
}
