package protocol

import "testing"

func TestDetect(t *testing.T) {
	cases := []struct {
		url  string
		want Protocol
	}{
		{"http://example.com", HTTP},
		{"https://example.com/path", HTTP},
		{"ws://example.com/socket", WebSocket},
		{"wss://example.com/socket", WebSocket},
		{"mysql://user:pass@db:3306/app", Database},
		{"postgresql://db/app", Database},
		{"mongodb://db:27017/app", Database},
		{"grpc://svc:50051", GRPC},
		{"grpcs://svc:50051", GRPC},
		{"tcp://host:9000", TCP},
		{"udp://host:5353", UDP},
		// Anything unrecognized routes to HTTP
		{"mqtt://broker:1883", HTTP},
		{"ftp://host", HTTP},
		{"not a url at all", HTTP},
		{"", HTTP},
	}

	for _, tc := range cases {
		if got := Detect(tc.url); got != tc.want {
			t.Errorf("Detect(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestProtocolString(t *testing.T) {
	names := map[Protocol]string{
		HTTP:      "http",
		WebSocket: "websocket",
		Database:  "database",
		GRPC:      "grpc",
		TCP:       "tcp",
		UDP:       "udp",
		MQTT:      "mqtt",
		AMQP:      "amqp",
		Kafka:     "kafka",
	}
	for p, want := range names {
		if got := p.String(); got != want {
			t.Errorf("Protocol(%d).String() = %q, want %q", p, got, want)
		}
	}
	if got := Protocol(99).String(); got != "unknown" {
		t.Errorf("unknown protocol String() = %q", got)
	}
}

func TestDefaultPort(t *testing.T) {
	if got := DefaultPort(MQTT); got != 1883 {
		t.Errorf("MQTT default port = %d, want 1883", got)
	}
	if got := DefaultPort(UDP); got != 53 {
		t.Errorf("UDP default port = %d, want 53", got)
	}
	if got := DefaultPort(TCP); got != 80 {
		t.Errorf("TCP default port = %d, want 80", got)
	}
}
