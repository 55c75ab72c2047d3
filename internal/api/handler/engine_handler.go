package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/volcanion-company/volcanion-load-engine/internal/engine"
	"github.com/volcanion-company/volcanion-load-engine/internal/logger"
	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
	"go.uber.org/zap"
)

// EngineHandler exposes the dispatcher over HTTP for callers that embed
// the engine behind a service boundary instead of linking it.
type EngineHandler struct {
	engine *engine.Engine
}

// NewEngineHandler creates the handler around a running engine.
func NewEngineHandler(e *engine.Engine) *EngineHandler {
	return &EngineHandler{engine: e}
}

// Execute runs one request synchronously and returns the response
// envelope.
func (h *EngineHandler) Execute(c *gin.Context) {
	var req protocol.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	resp, err := h.engine.ExecuteSync(&req)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Submit enqueues one request on the async path. The response is
// fire-and-forget; a full queue answers 429.
func (h *EngineHandler) Submit(c *gin.Context) {
	var req protocol.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	switch err := h.engine.SubmitAsync(&req); {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	case errors.Is(err, engine.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "queue full"})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	}
}

type loadTestRequest struct {
	Requests    []protocol.Request `json:"requests" binding:"required"`
	Users       int                `json:"users" binding:"required"`
	DurationSec int                `json:"duration_sec" binding:"required"`
}

// StartLoadTest runs a load test to completion and returns the final
// metrics snapshot.
func (h *EngineHandler) StartLoadTest(c *gin.Context) {
	var req loadTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logger.Log.Info("Load test requested",
		zap.Int("requests", len(req.Requests)),
		zap.Int("users", req.Users),
		zap.Int("duration_sec", req.DurationSec))

	if err := h.engine.StartLoadTest(req.Requests, req.Users, req.DurationSec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.engine.GetMetrics())
}

// GetMetrics returns the current aggregate snapshot.
func (h *EngineHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.GetMetrics())
}

// ResetMetrics zeroes the aggregate counters.
func (h *EngineHandler) ResetMetrics(c *gin.Context) {
	h.engine.ResetMetrics()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
