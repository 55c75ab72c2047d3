package engine

import (
	"context"
	"errors"
	"time"

	"github.com/volcanion-company/volcanion-load-engine/internal/logger"
	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// drainWait is how long the load driver lingers after the submission
// loop so in-flight workers finish before the caller reads metrics.
const drainWait = 2 * time.Second

// StartLoadTest offers load against the dispatcher: it cycles the request
// list, submitting each through the async path, paced to roughly
// userCount submissions per second by a token bucket keyed to wall time.
// It does not wait for every queued item; queue-full rejections are
// expected under overload and only reduce the offered rate. Blocks until
// the duration budget and the drain wait have elapsed.
func (e *Engine) StartLoadTest(requests []protocol.Request, userCount, durationSec int) error {
	if len(requests) == 0 {
		return errors.New("empty request list")
	}
	if userCount <= 0 || durationSec <= 0 {
		return errors.New("user count and duration must be positive")
	}
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.agg.Reset()

	limiter := rate.NewLimiter(rate.Limit(userCount), 1)
	tmpl := NewTemplateEngine()

	deadline := time.Now().Add(time.Duration(durationSec) * time.Second)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	logger.Log.Info("Load test started",
		zap.Int("requests", len(requests)),
		zap.Int("users", userCount),
		zap.Int("duration_sec", durationSec))

	var submitted, rejected int
	for time.Now().Before(deadline) {
		for i := range requests {
			if !time.Now().Before(deadline) {
				break
			}
			if err := limiter.Wait(ctx); err != nil {
				break // deadline reached mid-wait
			}

			req := requests[i]
			req.URL = tmpl.Process(req.URL)
			req.Headers = tmpl.Process(req.Headers)
			req.Body = tmpl.Process(req.Body)

			switch err := e.SubmitAsync(&req); {
			case err == nil:
				submitted++
			case errors.Is(err, ErrQueueFull):
				rejected++
			default:
				logger.Log.Warn("Load test submission stopped", zap.Error(err))
				return err
			}
		}
	}

	// Let in-flight workers drain before the caller snapshots metrics.
	time.Sleep(drainWait)

	snapshot := e.agg.Snapshot()
	logger.Log.Info("Load test finished",
		zap.Int("submitted", submitted),
		zap.Int("rejected", rejected),
		zap.Uint64("completed", snapshot.TotalRequests),
		zap.Uint64("successful", snapshot.SuccessfulRequests),
		zap.Float64("avg_response_us", snapshot.AvgResponseTimeUs))

	return nil
}
