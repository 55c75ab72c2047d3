package protocol

// Envelope size caps. Inputs larger than these are truncated; textual
// buffers reserve one byte for the terminator expected by callers that
// assume the fixed-width layout.
const (
	MaxURLLength      = 2048
	MaxHeaderLength   = 8192
	MaxBodyLength     = 65536
	MaxProtocolData   = 32768
	MaxErrorLength    = 256
	MaxTopicLength    = 256
	MaxMessageLength  = 8192
	MaxClientIDLength = 128
)

// Status codes reused for non-HTTP outcomes.
const (
	StatusOK             = 200
	StatusSwitching      = 101
	StatusNoData         = 204
	StatusInvalidState   = 400
	StatusNotFound       = 404
	StatusTimeout        = 408
	StatusPeerClosed     = 410
	StatusInternalError  = 500
	StatusNotImplemented = 501
)

// WebSocketRequestData carries the WebSocket-specific request payload.
type WebSocketRequestData struct {
	Subprotocol    string `json:"subprotocol,omitempty" yaml:"subprotocol,omitempty"`
	Origin         string `json:"origin,omitempty" yaml:"origin,omitempty"`
	PingIntervalMs int    `json:"ping_interval_ms,omitempty" yaml:"ping_interval_ms,omitempty"`
	AutoPing       bool   `json:"auto_ping,omitempty" yaml:"auto_ping,omitempty"`
}

// DatabaseRequestData carries the database-specific request payload.
type DatabaseRequestData struct {
	ConnectionString string `json:"connection_string" yaml:"connection_string"`
	Query            string `json:"query" yaml:"query"`
	DatabaseType     string `json:"database_type" yaml:"database_type"`
}

// Request is the uniform envelope submitted to the dispatcher. General
// fields live in the header; at most one protocol-specific payload is
// set, selected by Protocol.
type Request struct {
	Protocol  Protocol `json:"protocol" yaml:"protocol"`
	Method    string   `json:"method" yaml:"method"`
	URL       string   `json:"url" yaml:"url"`
	Headers   string   `json:"headers,omitempty" yaml:"headers,omitempty"` // one header per line
	Body      string   `json:"body,omitempty" yaml:"body,omitempty"`
	TimeoutMs int      `json:"timeout_ms" yaml:"timeout_ms"`

	WebSocket *WebSocketRequestData `json:"websocket,omitempty" yaml:"websocket,omitempty"`
	Database  *DatabaseRequestData  `json:"database,omitempty" yaml:"database,omitempty"`
	Payload   []byte                `json:"payload,omitempty" yaml:"payload,omitempty"` // opaque, other protocols
}

// Clamp truncates every textual field to its envelope cap. Called once
// when a request enters the engine so handlers can assume bounded sizes.
func (r *Request) Clamp() {
	r.URL = Truncate(r.URL, MaxURLLength)
	r.Headers = Truncate(r.Headers, MaxHeaderLength)
	r.Body = Truncate(r.Body, MaxBodyLength)
	if len(r.Payload) > MaxProtocolData {
		r.Payload = r.Payload[:MaxProtocolData]
	}
}

// WebSocketResponseData carries WebSocket counters.
type WebSocketResponseData struct {
	Subprotocol      string `json:"subprotocol,omitempty"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	BytesSent        uint64 `json:"bytes_sent"`
	BytesReceived    uint64 `json:"bytes_received"`
}

// DatabaseResponseData carries query results.
type DatabaseResponseData struct {
	RowsAffected int    `json:"rows_affected"`
	RowsReturned int    `json:"rows_returned"`
	ResultSet    string `json:"result_set,omitempty"`
}

// TCPResponseData carries stream socket results. SocketFD reports the
// registry slot index for callers that expect a descriptor-shaped value.
type TCPResponseData struct {
	SocketFD      int    `json:"socket_fd"`
	BytesSent     int    `json:"bytes_sent"`
	BytesReceived int    `json:"bytes_received"`
	ReceivedData  string `json:"received_data,omitempty"`
}

// UDPResponseData carries datagram socket results.
type UDPResponseData struct {
	SocketFD      int    `json:"socket_fd"`
	BytesSent     int    `json:"bytes_sent"`
	BytesReceived int    `json:"bytes_received"`
	ReceivedData  string `json:"received_data,omitempty"`
	SenderAddress string `json:"sender_address,omitempty"`
	SenderPort    int    `json:"sender_port,omitempty"`
}

// MQTTResponseData carries broker interaction results.
type MQTTResponseData struct {
	MessagePublished       bool   `json:"message_published"`
	MessageReceived        bool   `json:"message_received"`
	MessagesPublishedCount int    `json:"messages_published_count"`
	MessagesReceivedCount  int    `json:"messages_received_count"`
	Topic                  string `json:"topic,omitempty"`
	LastMessage            string `json:"last_message,omitempty"`
	QoSLevel               int    `json:"qos_level"`
	Retained               bool   `json:"retained"`
}

// Response is the uniform envelope filled by a handler. At most one
// protocol-specific payload is set, matching Protocol; HTTP responses
// and most failures carry none.
type Response struct {
	Protocol       Protocol `json:"protocol"`
	StatusCode     int      `json:"status_code"`
	Headers        string   `json:"headers,omitempty"`
	Body           string   `json:"body,omitempty"`
	ResponseTimeUs uint64   `json:"response_time_us"`
	Success        bool     `json:"success"`
	ErrorMessage   string   `json:"error_message,omitempty"`

	WebSocket *WebSocketResponseData `json:"websocket,omitempty"`
	Database  *DatabaseResponseData  `json:"database,omitempty"`
	TCP       *TCPResponseData       `json:"tcp,omitempty"`
	UDP       *UDPResponseData       `json:"udp,omitempty"`
	MQTT      *MQTTResponseData      `json:"mqtt,omitempty"`
}

// SetBody stores body text, truncated to the envelope cap.
func (r *Response) SetBody(body string) {
	r.Body = Truncate(body, MaxBodyLength)
}

// SetHeaders stores header text, truncated to the envelope cap.
func (r *Response) SetHeaders(headers string) {
	r.Headers = Truncate(headers, MaxHeaderLength)
}

// OK marks the response successful with the given status and body text.
func (r *Response) OK(status int, body string) {
	r.StatusCode = status
	r.Success = true
	r.SetBody(body)
}

// Fail marks the response failed with the given status and error message.
func (r *Response) Fail(status int, message string) {
	r.StatusCode = status
	r.Success = false
	r.ErrorMessage = Truncate(message, MaxErrorLength)
}

// Truncate caps s at max-1 bytes, reserving the terminator byte of the
// fixed-width layout the original callers assume.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) < max {
		return s
	}
	return s[:max-1]
}
