package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
)

// startWSEchoServer returns a ws:// URL for a server that echoes every
// text message.
func startWSEchoServer(t *testing.T) string {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketConnect(t *testing.T) {
	url := startWSEchoServer(t)
	h := NewWebSocketHandler()
	defer h.Close()

	var resp protocol.Response
	h.Connect(url, "", "", &resp)

	if !resp.Success {
		t.Fatalf("connect failed: %s", resp.ErrorMessage)
	}
	if resp.StatusCode != protocol.StatusSwitching {
		t.Errorf("status = %d, want 101", resp.StatusCode)
	}
	if !strings.Contains(resp.Headers, "Upgrade: websocket") {
		t.Errorf("headers missing upgrade line: %q", resp.Headers)
	}
}

func TestWebSocketSendAndReceive(t *testing.T) {
	url := startWSEchoServer(t)
	h := NewWebSocketHandler()
	defer h.Close()

	var resp protocol.Response
	h.Connect(url, "", "", &resp)
	if !resp.Success {
		t.Fatal("connect failed")
	}

	resp = protocol.Response{}
	h.Send(url, "hello", &resp)
	if !resp.Success || resp.StatusCode != 200 {
		t.Fatalf("send failed: %d %s", resp.StatusCode, resp.ErrorMessage)
	}
	if resp.WebSocket.MessagesSent != 1 || resp.WebSocket.BytesSent != 5 {
		t.Errorf("counters after send = %+v", resp.WebSocket)
	}

	resp = protocol.Response{}
	h.Receive(url, &resp)
	if !resp.Success || resp.StatusCode != 200 {
		t.Fatalf("receive failed: %d %s", resp.StatusCode, resp.ErrorMessage)
	}
	if resp.Body != "hello" {
		t.Errorf("echo body = %q", resp.Body)
	}
	if resp.WebSocket.MessagesReceived != 1 || resp.WebSocket.BytesReceived != 5 {
		t.Errorf("counters after receive = %+v", resp.WebSocket)
	}
}

func TestWebSocketSendWithoutConnect(t *testing.T) {
	h := NewWebSocketHandler()

	var resp protocol.Response
	h.Send("ws://127.0.0.1:1/none", "x", &resp)
	if resp.Success || resp.StatusCode != protocol.StatusInvalidState {
		t.Errorf("send without connect: got %d, want 400", resp.StatusCode)
	}
}

func TestWebSocketCloseReleasesSlot(t *testing.T) {
	url := startWSEchoServer(t)
	h := NewWebSocketHandler()

	var resp protocol.Response
	h.Connect(url, "", "", &resp)
	if !resp.Success {
		t.Fatal("connect failed")
	}

	resp = protocol.Response{}
	h.CloseConnection(url, &resp)
	if !resp.Success || resp.StatusCode != 200 {
		t.Errorf("close: got %d, want 200", resp.StatusCode)
	}

	// The slot is released: sends fail, a fresh connect starts clean
	resp = protocol.Response{}
	h.Send(url, "x", &resp)
	if resp.Success {
		t.Error("send after close must fail")
	}

	resp = protocol.Response{}
	h.Connect(url, "", "", &resp)
	if !resp.Success {
		t.Errorf("reconnect failed: %s", resp.ErrorMessage)
	}
	if resp.WebSocket.MessagesSent != 0 {
		t.Errorf("fresh context must start with zero counters: %+v", resp.WebSocket)
	}
}

func TestWebSocketCloseIdempotent(t *testing.T) {
	h := NewWebSocketHandler()

	var resp protocol.Response
	h.CloseConnection("ws://127.0.0.1:1/never-opened", &resp)
	if !resp.Success || resp.StatusCode != 200 {
		t.Errorf("close of unknown URL: got %d success=%t, want 200 success", resp.StatusCode, resp.Success)
	}
}

func TestWebSocketConnectIdempotent(t *testing.T) {
	url := startWSEchoServer(t)
	h := NewWebSocketHandler()
	defer h.Close()

	var first, second protocol.Response
	h.Connect(url, "", "", &first)
	h.Connect(url, "", "", &second)

	if !second.Success || second.StatusCode != protocol.StatusSwitching {
		t.Errorf("reconnect on open URL: got %d, want 101", second.StatusCode)
	}
	if !strings.Contains(second.Headers, "Upgrade: websocket") {
		t.Errorf("reconnect headers missing upgrade line: %q", second.Headers)
	}
}
