package handler

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/volcanion-company/volcanion-load-engine/internal/logger"
	"github.com/volcanion-company/volcanion-load-engine/internal/mqttwire"
	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
	"github.com/volcanion-company/volcanion-load-engine/internal/registry"
	"go.uber.org/zap"
)

const (
	maxMQTTConnections = 50
	mqttDialTimeout    = 5 * time.Second
	defaultKeepAlive   = 60
)

// mqttConn is the broker session behind one (host, port, client id)
// registry slot.
type mqttConn struct {
	conn      net.Conn
	packetID  uint16
	keepAlive int
	username  string
	password  string
}

// nextPacketID returns the next 16-bit packet id, wrapping from 65535
// back to 1, never 0.
func (c *mqttConn) nextPacketID() uint16 {
	id := c.packetID
	if c.packetID == 0xFFFF {
		c.packetID = 1
	} else {
		c.packetID++
	}
	return id
}

// MQTTHandler speaks MQTT 3.1.1 directly on TCP: CONNECT, PUBLISH and
// DISCONNECT on the wire, SUBSCRIBE/UNSUBSCRIBE as liveness-validated
// no-ops matching the behaviour callers already depend on.
type MQTTHandler struct {
	conns *registry.Registry[*mqttConn]
}

func NewMQTTHandler() *MQTTHandler {
	return &MQTTHandler{conns: registry.New[*mqttConn](maxMQTTConnections)}
}

func (h *MQTTHandler) Protocol() protocol.Protocol { return protocol.MQTT }

// ParseMQTTURL splits an mqtt://host:port/client-id URL. Missing parts fall
// back to port 1883 and a generated client id.
func ParseMQTTURL(url string) (host string, port int, clientID string) {
	rest := url
	if i := strings.Index(url, "://"); i >= 0 {
		rest = url[i+3:]
	}

	if i := strings.IndexByte(rest, '/'); i >= 0 {
		clientID = rest[i+1:]
		rest = rest[:i]
	}
	if clientID == "" {
		clientID = "loadengine_" + uuid.NewString()[:8]
	}
	clientID = protocol.Truncate(clientID, protocol.MaxClientIDLength)

	host = rest
	port = protocol.DefaultPort(protocol.MQTT)
	if h, p, err := net.SplitHostPort(rest); err == nil {
		if parsed, err := strconv.Atoi(p); err == nil {
			host, port = h, parsed
		}
	}
	return host, port, clientID
}

// Execute dispatches a queued MQTT request: connect then publish the
// body to the topic named by the method field, when one is present.
func (h *MQTTHandler) Execute(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
	host, port, clientID := ParseMQTTURL(req.URL)

	h.Connect(host, port, clientID, "", "", defaultKeepAlive, resp)
	if !resp.Success {
		return
	}
	if topic := req.Method; topic != "" && req.Body != "" {
		h.Publish(host, port, clientID, topic, req.Body, 0, false, resp)
	}
}

// Connect establishes the TCP stream, sends CONNECT and waits for the
// first response byte. Any byte from the broker counts as a successful
// CONNACK; callers that need rejection handling must not rely on this
// path to surface return codes.
func (h *MQTTHandler) Connect(host string, port int, clientID, username, password string, keepAliveSeconds int, resp *protocol.Response) {
	resp.Protocol = protocol.MQTT

	entry, err := h.conns.LookupOrCreate(registry.Key{Host: host, Port: port, ID: clientID})
	if err != nil {
		resp.Fail(protocol.StatusInternalError, "Too many MQTT connections")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if entry.Live {
		resp.OK(protocol.StatusOK, fmt.Sprintf(
			"MQTT connection already established to %s:%d with client ID %s", host, port, clientID))
		resp.MQTT = &protocol.MQTTResponseData{}
		return
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), mqttDialTimeout)
	if err != nil {
		resp.Fail(protocol.StatusInternalError, fmt.Sprintf("Failed to connect to MQTT broker: %v", err))
		return
	}

	pkt, err := mqttwire.Connect(clientID, username, password, uint16(keepAliveSeconds))
	if err != nil {
		_ = conn.Close()
		resp.Fail(protocol.StatusInternalError, err.Error())
		return
	}
	if _, err := conn.Write(pkt); err != nil {
		_ = conn.Close()
		resp.Fail(protocol.StatusInternalError, fmt.Sprintf("Failed to send CONNECT packet: %v", err))
		return
	}

	connack := make([]byte, 4)
	if _, err := conn.Read(connack); err != nil {
		_ = conn.Close()
		resp.Fail(protocol.StatusInternalError, fmt.Sprintf("Failed to receive CONNACK: %v", err))
		return
	}

	entry.Conn = &mqttConn{
		conn:      conn,
		packetID:  1,
		keepAlive: keepAliveSeconds,
		username:  username,
		password:  password,
	}
	entry.Live = true

	logger.Log.Debug("MQTT connection established",
		zap.String("host", host),
		zap.Int("port", port),
		zap.String("client_id", clientID))

	resp.OK(protocol.StatusOK, fmt.Sprintf(
		"MQTT connection established to %s:%d with client ID %s", host, port, clientID))
	resp.MQTT = &protocol.MQTTResponseData{}
}

// Publish frames and sends one PUBLISH packet. QoS 1 and 2 draw a packet
// id from the connection counter but acknowledgements are not awaited.
func (h *MQTTHandler) Publish(host string, port int, clientID, topic, message string, qos int, retain bool, resp *protocol.Response) {
	resp.Protocol = protocol.MQTT

	entry, ok := h.conns.Lookup(registry.Key{Host: host, Port: port, ID: clientID})
	if !ok {
		resp.Fail(protocol.StatusInvalidState, "No active MQTT connection")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if !entry.Live {
		resp.Fail(protocol.StatusInvalidState, "No active MQTT connection")
		return
	}

	var packetID uint16
	if qos > 0 {
		packetID = entry.Conn.nextPacketID()
	}

	topic = protocol.Truncate(topic, protocol.MaxTopicLength)
	message = protocol.Truncate(message, protocol.MaxMessageLength)

	pkt, err := mqttwire.Publish(topic, []byte(message), byte(qos), retain, packetID)
	if err != nil {
		resp.Fail(protocol.StatusInternalError, err.Error())
		return
	}

	if _, err := entry.Conn.conn.Write(pkt); err != nil {
		_ = entry.Conn.conn.Close()
		entry.Conn.conn = nil
		entry.Live = false
		resp.Fail(protocol.StatusInternalError, fmt.Sprintf("Failed to send PUBLISH packet: %v", err))
		return
	}

	resp.OK(protocol.StatusOK, fmt.Sprintf(
		"Published message to topic '%s' (QoS %d, retain=%t)", topic, qos, retain))
	resp.MQTT = &protocol.MQTTResponseData{
		MessagePublished:       true,
		MessagesPublishedCount: 1,
		Topic:                  topic,
		LastMessage:            message,
		QoSLevel:               qos,
		Retained:               retain,
	}
}

// Subscribe validates the live connection and reports success. No wire
// packet is emitted.
func (h *MQTTHandler) Subscribe(host string, port int, clientID, topic string, qos int, resp *protocol.Response) {
	resp.Protocol = protocol.MQTT

	if !h.isLive(host, port, clientID) {
		resp.Fail(protocol.StatusInvalidState, "No active MQTT connection")
		return
	}

	topic = protocol.Truncate(topic, protocol.MaxTopicLength)
	resp.OK(protocol.StatusOK, fmt.Sprintf("Subscribed to topic '%s' with QoS %d", topic, qos))
	resp.MQTT = &protocol.MQTTResponseData{Topic: topic, QoSLevel: qos}
}

// Unsubscribe validates the live connection and reports success. No wire
// packet is emitted.
func (h *MQTTHandler) Unsubscribe(host string, port int, clientID, topic string, resp *protocol.Response) {
	resp.Protocol = protocol.MQTT

	if !h.isLive(host, port, clientID) {
		resp.Fail(protocol.StatusInvalidState, "No active MQTT connection")
		return
	}

	resp.OK(protocol.StatusOK, fmt.Sprintf("Unsubscribed from topic '%s'",
		protocol.Truncate(topic, protocol.MaxTopicLength)))
	resp.MQTT = &protocol.MQTTResponseData{}
}

// Disconnect emits the DISCONNECT packet, closes the socket and clears
// the live flag. The slot stays allocated for the next connect.
func (h *MQTTHandler) Disconnect(host string, port int, clientID string, resp *protocol.Response) {
	resp.Protocol = protocol.MQTT

	entry, ok := h.conns.Lookup(registry.Key{Host: host, Port: port, ID: clientID})
	if !ok {
		resp.Fail(protocol.StatusInvalidState, "No active MQTT connection to disconnect")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if !entry.Live {
		resp.Fail(protocol.StatusInvalidState, "No active MQTT connection to disconnect")
		return
	}

	_, _ = entry.Conn.conn.Write(mqttwire.Disconnect())
	_ = entry.Conn.conn.Close()
	entry.Conn.conn = nil
	entry.Live = false

	resp.OK(protocol.StatusOK, fmt.Sprintf("MQTT connection to %s:%d closed successfully", host, port))
	resp.MQTT = &protocol.MQTTResponseData{}
}

// Close disconnects every live session. Called on engine teardown.
func (h *MQTTHandler) Close() {
	for _, key := range h.conns.Keys() {
		var resp protocol.Response
		h.Disconnect(key.Host, key.Port, key.ID, &resp)
	}
}

func (h *MQTTHandler) isLive(host string, port int, clientID string) bool {
	entry, ok := h.conns.Lookup(registry.Key{Host: host, Port: port, ID: clientID})
	if !ok {
		return false
	}
	entry.Mu.Lock()
	defer entry.Mu.Unlock()
	return entry.Live
}
