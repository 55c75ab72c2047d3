package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/volcanion-company/volcanion-load-engine/internal/logger"
	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
	"go.uber.org/zap"
)

const maxRedirects = 5

// HTTPHandler executes HTTP/HTTPS requests on a shared transport so
// keep-alive connections are reused across workers.
type HTTPHandler struct {
	transport *http.Transport
}

// NewHTTPHandler creates the HTTP handler. maxConns bounds idle
// keep-alive connections per host.
func NewHTTPHandler(maxConns int) *HTTPHandler {
	return &HTTPHandler{
		transport: &http.Transport{
			MaxIdleConns:        maxConns,
			MaxIdleConnsPerHost: maxConns,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func (h *HTTPHandler) Protocol() protocol.Protocol { return protocol.HTTP }

// Execute performs one HTTP transaction. Success means the transport
// completed and the status is in [200, 400).
func (h *HTTPHandler) Execute(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
	resp.Protocol = protocol.HTTP

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		resp.Fail(protocol.StatusInvalidState, err.Error())
		return
	}

	// One header per line
	for _, line := range strings.Split(req.Headers, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		httpReq.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	client := &http.Client{
		Transport: h.transport,
		Timeout:   time.Duration(req.TimeoutMs) * time.Millisecond,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("stopped after 5 redirects")
			}
			return nil
		},
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		resp.Fail(protocol.StatusInternalError, err.Error())
		logger.Log.Debug("HTTP transport failure",
			zap.String("url", req.URL),
			zap.Error(err))
		return
	}
	defer httpResp.Body.Close()

	// Read at most the envelope cap (SetBody trims it to cap-1), then
	// drain the rest for connection reuse.
	bodyBytes, err := io.ReadAll(io.LimitReader(httpResp.Body, protocol.MaxBodyLength))
	if err != nil {
		resp.Fail(protocol.StatusInternalError, err.Error())
		return
	}
	_, _ = io.Copy(io.Discard, httpResp.Body)

	var headerText strings.Builder
	headerText.WriteString(httpResp.Proto + " " + httpResp.Status + "\r\n")
	for name, values := range httpResp.Header {
		for _, value := range values {
			headerText.WriteString(name + ": " + value + "\r\n")
		}
	}

	resp.StatusCode = httpResp.StatusCode
	resp.Success = httpResp.StatusCode >= 200 && httpResp.StatusCode < 400
	resp.SetBody(string(bodyBytes))
	resp.SetHeaders(headerText.String())
}
