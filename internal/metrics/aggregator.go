package metrics

import "sync"

// Snapshot is a consistent copy of the aggregate counters.
type Snapshot struct {
	TotalRequests       uint64  `json:"total_requests"`
	SuccessfulRequests  uint64  `json:"successful_requests"`
	FailedRequests      uint64  `json:"failed_requests"`
	TotalResponseTimeUs uint64  `json:"total_response_time_us"`
	MinResponseTimeUs   uint64  `json:"min_response_time_us"`
	MaxResponseTimeUs   uint64  `json:"max_response_time_us"`
	AvgResponseTimeUs   float64 `json:"avg_response_time_us"`
	RequestsPerSec      float64 `json:"requests_per_sec"`
}

// Aggregator accumulates per-request latency and outcome counters. All
// methods are safe for concurrent use; the dispatcher's timing wrapper is
// the only writer.
type Aggregator struct {
	mu      sync.Mutex
	workers int

	totalRequests       uint64
	successfulRequests  uint64
	failedRequests      uint64
	totalResponseTimeUs uint64
	minResponseTimeUs   uint64 // zero until the first sample lands
	maxResponseTimeUs   uint64
}

// NewAggregator creates an aggregator. workerCount feeds the derived
// throughput rate.
func NewAggregator(workerCount int) *Aggregator {
	return &Aggregator{workers: workerCount}
}

// Record adds one request outcome.
func (a *Aggregator) Record(elapsedUs uint64, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalRequests++
	if success {
		a.successfulRequests++
	} else {
		a.failedRequests++
	}

	a.totalResponseTimeUs += elapsedUs

	if a.minResponseTimeUs == 0 || elapsedUs < a.minResponseTimeUs {
		a.minResponseTimeUs = elapsedUs
	}
	if elapsedUs > a.maxResponseTimeUs {
		a.maxResponseTimeUs = elapsedUs
	}
}

// Snapshot returns a consistent copy with the derived average and rate.
// Rate is successful requests divided by the total recorded latency in
// seconds multiplied by the worker count.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		TotalRequests:       a.totalRequests,
		SuccessfulRequests:  a.successfulRequests,
		FailedRequests:      a.failedRequests,
		TotalResponseTimeUs: a.totalResponseTimeUs,
		MinResponseTimeUs:   a.minResponseTimeUs,
		MaxResponseTimeUs:   a.maxResponseTimeUs,
	}

	if a.totalRequests > 0 {
		s.AvgResponseTimeUs = float64(a.totalResponseTimeUs) / float64(a.totalRequests)
	}
	if a.totalRequests > 0 && a.totalResponseTimeUs > 0 && a.workers > 0 {
		busySeconds := float64(a.totalResponseTimeUs) / 1e6 * float64(a.workers)
		s.RequestsPerSec = float64(a.successfulRequests) / busySeconds
	}

	return s
}

// Reset zeroes all counters.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalRequests = 0
	a.successfulRequests = 0
	a.failedRequests = 0
	a.totalResponseTimeUs = 0
	a.minResponseTimeUs = 0
	a.maxResponseTimeUs = 0
}
