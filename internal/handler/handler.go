// Package handler implements the per-protocol wire handlers and their
// connection registries. Handlers fill the Response envelope and never
// return Go errors for protocol-level failures; the dispatcher owns all
// timing and metrics.
package handler

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
)

// Handler executes one request against its protocol. Implementations
// populate resp, including the Success flag the dispatcher classifies on,
// and leave ResponseTimeUs to the dispatcher's timing wrapper.
type Handler interface {
	Protocol() protocol.Protocol
	Execute(ctx context.Context, req *protocol.Request, resp *protocol.Response)
}

// hostPort splits "host:port" from a scheme URL, applying the protocol
// default when the port is missing.
func hostPort(url string, p protocol.Protocol) (string, int, error) {
	rest := url
	if i := strings.Index(url, "://"); i >= 0 {
		rest = url[i+3:]
	} else if p == protocol.TCP || p == protocol.UDP {
		return "", 0, fmt.Errorf("invalid %s URL: %s", p, url)
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return rest, protocol.DefaultPort(p), nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, fmt.Errorf("invalid port in URL: %s", url)
	}
	return host, port, nil
}
