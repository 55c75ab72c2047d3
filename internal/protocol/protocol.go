package protocol

import "strings"

// Protocol identifies which wire implementation owns a request and which
// protocol-specific payload is present in the envelope.
type Protocol int

const (
	HTTP Protocol = iota
	WebSocket
	Database
	GRPC
	TCP
	UDP
	MQTT
	AMQP
	Kafka
)

// String returns the lowercase name used in logs and metric labels.
func (p Protocol) String() string {
	switch p {
	case HTTP:
		return "http"
	case WebSocket:
		return "websocket"
	case Database:
		return "database"
	case GRPC:
		return "grpc"
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	case MQTT:
		return "mqtt"
	case AMQP:
		return "amqp"
	case Kafka:
		return "kafka"
	default:
		return "unknown"
	}
}

// Detect maps a URL scheme to the protocol that handles it. Any URL that
// does not match a known scheme routes to HTTP.
func Detect(url string) Protocol {
	switch {
	case strings.HasPrefix(url, "ws://"), strings.HasPrefix(url, "wss://"):
		return WebSocket
	case strings.HasPrefix(url, "mysql://"),
		strings.HasPrefix(url, "postgresql://"),
		strings.HasPrefix(url, "mongodb://"):
		return Database
	case strings.HasPrefix(url, "grpc://"), strings.HasPrefix(url, "grpcs://"):
		return GRPC
	case strings.HasPrefix(url, "tcp://"):
		return TCP
	case strings.HasPrefix(url, "udp://"):
		return UDP
	}
	return HTTP
}

// DefaultPort returns the well-known port assumed when a URL omits one.
func DefaultPort(p Protocol) int {
	switch p {
	case HTTP, WebSocket, TCP:
		return 80
	case UDP:
		return 53
	case MQTT:
		return 1883
	default:
		return 0
	}
}
