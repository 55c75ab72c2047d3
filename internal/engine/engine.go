// Package engine implements the multi-protocol request dispatcher: a
// bounded work queue drained by a fixed worker pool, URL-scheme routing
// to the protocol handlers, and the timing wrapper that feeds the metrics
// aggregator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/volcanion-company/volcanion-load-engine/internal/clock"
	"github.com/volcanion-company/volcanion-load-engine/internal/handler"
	"github.com/volcanion-company/volcanion-load-engine/internal/logger"
	"github.com/volcanion-company/volcanion-load-engine/internal/metrics"
	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

var (
	ErrQueueFull     = errors.New("dispatch queue full")
	ErrEngineClosed  = errors.New("engine closed")
	ErrInvalidConfig = errors.New("max connections and worker count must be positive")
)

// Engine owns the dispatch queue, the worker pool and the protocol
// handlers. All metrics flow through the timing wrapper around handler
// invocations; handlers never touch the aggregator.
type Engine struct {
	maxConns    int
	workerCount int

	queue     *ringQueue
	agg       *metrics.Aggregator
	collector *metrics.Collector
	tracer    trace.Tracer

	httpHandler *handler.HTTPHandler
	wsHandler   *handler.WebSocketHandler
	dbHandler   *handler.DBHandler
	tcpHandler  *handler.TCPHandler
	udpHandler  *handler.UDPHandler
	mqttHandler *handler.MQTTHandler

	handlers map[protocol.Protocol]handler.Handler

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithCollector attaches a Prometheus collector.
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithTracer attaches an OpenTelemetry tracer; one span is opened per
// dispatched request.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates the engine: a ring queue of capacity 2×maxConns, the
// protocol handler set, and workerCount workers draining the queue.
func New(maxConns, workerCount int, opts ...Option) (*Engine, error) {
	if maxConns <= 0 || workerCount <= 0 {
		return nil, ErrInvalidConfig
	}

	e := &Engine{
		maxConns:    maxConns,
		workerCount: workerCount,
		queue:       newRingQueue(2 * maxConns),
		agg:         metrics.NewAggregator(workerCount),
		tracer:      noop.NewTracerProvider().Tracer("engine"),
		httpHandler: handler.NewHTTPHandler(maxConns),
		wsHandler:   handler.NewWebSocketHandler(),
		dbHandler:   handler.NewDBHandler(),
		tcpHandler:  handler.NewTCPHandler(),
		udpHandler:  handler.NewUDPHandler(),
		mqttHandler: handler.NewMQTTHandler(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.handlers = map[protocol.Protocol]handler.Handler{
		protocol.HTTP:      e.httpHandler,
		protocol.WebSocket: e.wsHandler,
		protocol.Database:  e.dbHandler,
		protocol.TCP:       e.tcpHandler,
		protocol.UDP:       e.udpHandler,
		protocol.MQTT:      e.mqttHandler,
	}

	for i := 0; i < workerCount; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	if e.collector != nil {
		e.collector.SetActiveWorkers(workerCount)
	}

	logger.Log.Info("Engine started",
		zap.Int("max_connections", maxConns),
		zap.Int("workers", workerCount),
		zap.Int("queue_capacity", 2*maxConns))

	return e, nil
}

// SubmitAsync copies the request into the ring and returns without
// waiting for execution. A full queue returns ErrQueueFull immediately.
// The response of an async request is dropped; only metrics observe it.
func (e *Engine) SubmitAsync(req *protocol.Request) error {
	if req == nil {
		return errors.New("nil request")
	}
	if e.closed.Load() {
		return ErrEngineClosed
	}

	clamped := *req
	clamped.Clamp()
	if !e.queue.enqueue(clamped) {
		if e.collector != nil {
			e.collector.QueueRejected.Inc()
		}
		return ErrQueueFull
	}
	if e.collector != nil {
		e.collector.SetQueueDepth(e.queue.depth())
	}
	return nil
}

// ExecuteSync runs the request inline on the caller and returns the
// populated response. The timing wrapper and metrics update are identical
// to the worker path.
func (e *Engine) ExecuteSync(req *protocol.Request) (*protocol.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	clamped := *req
	clamped.Clamp()
	resp := e.execute(&clamped)
	return resp, nil
}

// Close sets shutdown, wakes all workers and joins them, then tears down
// the protocol handler registries. Calls after the first are no-ops.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}

	e.queue.close()
	e.wg.Wait()

	e.tcpHandler.Close()
	e.udpHandler.Close()
	e.mqttHandler.Close()
	e.wsHandler.Close()

	if e.collector != nil {
		e.collector.SetActiveWorkers(0)
		e.collector.SetQueueDepth(0)
	}

	logger.Log.Info("Engine stopped")
}

// GetMetrics returns a consistent snapshot of the aggregate counters.
func (e *Engine) GetMetrics() metrics.Snapshot {
	return e.agg.Snapshot()
}

// ResetMetrics zeroes all counters.
func (e *Engine) ResetMetrics() {
	e.agg.Reset()
}

// WorkerCount returns the fixed pool size.
func (e *Engine) WorkerCount() int {
	return e.workerCount
}

// QueueDepth returns the number of requests waiting for a worker.
func (e *Engine) QueueDepth() int {
	return e.queue.depth()
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()

	logger.Log.Debug("Worker started", zap.Int("worker_id", id))

	for {
		req, ok := e.queue.dequeue()
		if !ok {
			logger.Log.Debug("Worker stopped", zap.Int("worker_id", id))
			return
		}
		if e.collector != nil {
			e.collector.SetQueueDepth(e.queue.depth())
		}
		e.execute(&req)
	}
}

// route picks the handler owning a request. A non-HTTP protocol tag
// wins; with the HTTP tag (the zero value) the URL scheme decides,
// defaulting to HTTP.
func (e *Engine) route(req *protocol.Request) handler.Handler {
	p := req.Protocol
	if p == protocol.HTTP {
		p = protocol.Detect(req.URL)
	}
	if h, ok := e.handlers[p]; ok {
		return h
	}
	return nil
}

// execute brackets one handler invocation with the monotonic clock and
// records the span into the metrics aggregator. This is the only place
// metrics are updated. Handler failures are never retried.
func (e *Engine) execute(req *protocol.Request) *protocol.Response {
	resp := &protocol.Response{}

	ctx := context.Background()
	var span trace.Span
	ctx, span = e.tracer.Start(ctx, "engine.execute",
		trace.WithAttributes(attribute.String("protocol", req.Protocol.String())))
	defer span.End()

	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	h := e.route(req)

	start := clock.NowMicros()
	if h == nil {
		resp.Protocol = req.Protocol
		resp.Fail(protocol.StatusNotImplemented, fmt.Sprintf("no handler for protocol %s", req.Protocol))
	} else {
		h.Execute(ctx, req, resp)
	}
	elapsed := clock.SinceMicros(start)

	e.record(resp, elapsed)

	span.SetAttributes(
		attribute.Int("status_code", resp.StatusCode),
		attribute.Bool("success", resp.Success),
	)

	return resp
}

// record stores one timed outcome. Shared by the dispatch path and the
// protocol helper calls.
func (e *Engine) record(resp *protocol.Response, elapsedUs uint64) {
	resp.ResponseTimeUs = elapsedUs
	e.agg.Record(elapsedUs, resp.Success)
	if e.collector != nil {
		e.collector.RecordRequest(
			resp.Protocol.String(),
			fmt.Sprintf("%d", resp.StatusCode),
			float64(elapsedUs)/1e6,
			!resp.Success,
		)
	}
}

// timed brackets a protocol helper invocation exactly like the dispatch
// path does for queued requests.
func (e *Engine) timed(fill func(resp *protocol.Response)) *protocol.Response {
	resp := &protocol.Response{}
	start := clock.NowMicros()
	fill(resp)
	e.record(resp, clock.SinceMicros(start))
	return resp
}

// TCPConnect establishes (or reuses) the stream connection for
// (host, port).
func (e *Engine) TCPConnect(host string, port int) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.tcpHandler.Connect(host, port, resp) })
}

// TCPSend writes data on the live connection for (host, port).
func (e *Engine) TCPSend(host string, port int, data string) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.tcpHandler.Send(host, port, data, resp) })
}

// TCPReceive waits up to one second for data on the live connection.
func (e *Engine) TCPReceive(host string, port int) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.tcpHandler.Receive(host, port, resp) })
}

// TCPDisconnect closes the connection for (host, port).
func (e *Engine) TCPDisconnect(host string, port int) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.tcpHandler.Disconnect(host, port, resp) })
}

// UDPCreateEndpoint allocates the datagram endpoint for (host, port).
func (e *Engine) UDPCreateEndpoint(host string, port int) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.udpHandler.CreateEndpoint(host, port, resp) })
}

// UDPSend sends one datagram, creating the endpoint if missing.
func (e *Engine) UDPSend(host string, port int, data string) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.udpHandler.Send(host, port, data, resp) })
}

// UDPReceive waits up to one second for a datagram on the endpoint.
func (e *Engine) UDPReceive(host string, port int) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.udpHandler.Receive(host, port, resp) })
}

// UDPCloseEndpoint closes the endpoint for (host, port).
func (e *Engine) UDPCloseEndpoint(host string, port int) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.udpHandler.CloseEndpoint(host, port, resp) })
}

// MQTTConnect opens (or reuses) the broker session for
// (host, port, clientID).
func (e *Engine) MQTTConnect(host string, port int, clientID, username, password string, keepAliveSeconds int) *protocol.Response {
	return e.timed(func(resp *protocol.Response) {
		e.mqttHandler.Connect(host, port, clientID, username, password, keepAliveSeconds, resp)
	})
}

// MQTTPublish publishes one message on the live session.
func (e *Engine) MQTTPublish(host string, port int, clientID, topic, message string, qos int, retain bool) *protocol.Response {
	return e.timed(func(resp *protocol.Response) {
		e.mqttHandler.Publish(host, port, clientID, topic, message, qos, retain, resp)
	})
}

// MQTTSubscribe validates the live session for a subscription.
func (e *Engine) MQTTSubscribe(host string, port int, clientID, topic string, qos int) *protocol.Response {
	return e.timed(func(resp *protocol.Response) {
		e.mqttHandler.Subscribe(host, port, clientID, topic, qos, resp)
	})
}

// MQTTUnsubscribe validates the live session for an unsubscription.
func (e *Engine) MQTTUnsubscribe(host string, port int, clientID, topic string) *protocol.Response {
	return e.timed(func(resp *protocol.Response) {
		e.mqttHandler.Unsubscribe(host, port, clientID, topic, resp)
	})
}

// MQTTDisconnect closes the broker session.
func (e *Engine) MQTTDisconnect(host string, port int, clientID string) *protocol.Response {
	return e.timed(func(resp *protocol.Response) {
		e.mqttHandler.Disconnect(host, port, clientID, resp)
	})
}

// WebSocketConnect performs the upgrade handshake for url.
func (e *Engine) WebSocketConnect(url, subprotocol, origin string) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.wsHandler.Connect(url, subprotocol, origin, resp) })
}

// WebSocketSend writes one text message on the open connection.
func (e *Engine) WebSocketSend(url, message string) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.wsHandler.Send(url, message, resp) })
}

// WebSocketReceive reads one message, waiting up to one second.
func (e *Engine) WebSocketReceive(url string) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.wsHandler.Receive(url, resp) })
}

// WebSocketClose closes the connection and releases its slot.
func (e *Engine) WebSocketClose(url string) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.wsHandler.CloseConnection(url, resp) })
}

// DatabaseConnect validates and registers the connection string.
func (e *Engine) DatabaseConnect(connectionString, dbType string) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.dbHandler.Connect(connectionString, dbType, resp) })
}

// DatabaseQuery runs one query on the registered connection.
func (e *Engine) DatabaseQuery(connectionString, query string) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.dbHandler.Query(connectionString, query, resp) })
}

// DatabaseDisconnect closes the registered connection.
func (e *Engine) DatabaseDisconnect(connectionString string) *protocol.Response {
	return e.timed(func(resp *protocol.Response) { e.dbHandler.Disconnect(connectionString, resp) })
}
