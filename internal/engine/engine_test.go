package engine

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(0, 4); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("max_conns=0: expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New(10, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("workers=0: expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New(-1, -1); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("negative: expected ErrInvalidConfig, got %v", err)
	}
}

func TestExecuteSyncHTTPHappyPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hi"))
	}))
	defer server.Close()

	eng, err := New(10, 2, WithCollector(getSharedTestCollector()))
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	resp, err := eng.ExecuteSync(&protocol.Request{
		Method:    "GET",
		URL:       server.URL,
		TimeoutMs: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Body != "hi" {
		t.Errorf("body = %q, want %q", resp.Body, "hi")
	}
	if !resp.Success {
		t.Error("expected success")
	}
	if resp.ResponseTimeUs == 0 {
		t.Error("elapsed must be positive")
	}

	s := eng.GetMetrics()
	if s.TotalRequests != 1 || s.SuccessfulRequests != 1 {
		t.Errorf("metrics after sync call: %+v", s)
	}
}

func TestSubmitAsyncQueueFull(t *testing.T) {
	eng, err := New(2, 1, WithCollector(getSharedTestCollector()))
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	// Park the single worker on a slow server so the ring fills
	release := make(chan struct{})
	started := make(chan struct{}, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	req := protocol.Request{Method: "GET", URL: server.URL, TimeoutMs: 10000}

	// First submission occupies the worker, the next 2*max_conns fill
	// the ring
	if err := eng.SubmitAsync(&req); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started: // the worker dequeued the first item
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked up the first request")
	}

	for i := 0; i < 4; i++ {
		if err := eng.SubmitAsync(&req); err != nil {
			t.Fatalf("enqueue %d rejected early: %v", i, err)
		}
	}
	if err := eng.SubmitAsync(&req); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestSingleWorkerPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	eng, err := New(50, 1, WithCollector(getSharedTestCollector()))
	if err != nil {
		t.Fatal(err)
	}

	const n = 20
	for i := 0; i < n; i++ {
		req := protocol.Request{
			Method:    "GET",
			URL:       fmt.Sprintf("%s/%d", server.URL, i),
			TimeoutMs: 5000,
		}
		if err := eng.SubmitAsync(&req); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		count := len(seen)
		mu.Unlock()
		if count == n {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	eng.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != n {
		t.Fatalf("handled %d requests, want %d", len(seen), n)
	}
	for i, path := range seen {
		if want := fmt.Sprintf("/%d", i); path != want {
			t.Errorf("position %d: got %q, want %q", i, path, want)
		}
	}
}

func TestCloseStopsWorkers(t *testing.T) {
	var count int64
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	eng, err := New(10, 4, WithCollector(getSharedTestCollector()))
	if err != nil {
		t.Fatal(err)
	}

	eng.Close()

	// Close joins the workers, so no further handler invocations occur
	mu.Lock()
	after := count
	mu.Unlock()

	if err := eng.SubmitAsync(&protocol.Request{URL: server.URL}); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("submit after close: expected ErrEngineClosed, got %v", err)
	}
	if _, err := eng.ExecuteSync(&protocol.Request{URL: server.URL}); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("execute after close: expected ErrEngineClosed, got %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	if count != after {
		t.Errorf("handler invoked after close: %d -> %d", after, count)
	}
	mu.Unlock()

	// Close is idempotent
	eng.Close()
}

func TestRouteUnsupportedProtocol(t *testing.T) {
	eng, err := New(10, 1, WithCollector(getSharedTestCollector()))
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	resp, err := eng.ExecuteSync(&protocol.Request{
		Protocol: protocol.Kafka,
		URL:      "kafka://broker:9092/topic",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != protocol.StatusNotImplemented {
		t.Errorf("status = %d, want %d", resp.StatusCode, protocol.StatusNotImplemented)
	}
	if resp.Success {
		t.Error("unsupported protocol must not succeed")
	}

	// The failed dispatch still counts one call
	if s := eng.GetMetrics(); s.TotalRequests != 1 || s.FailedRequests != 1 {
		t.Errorf("metrics = %+v", s)
	}
}

func TestNilRequest(t *testing.T) {
	eng, err := New(10, 1, WithCollector(getSharedTestCollector()))
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	if err := eng.SubmitAsync(nil); err == nil {
		t.Error("nil submit must fail")
	}
	if _, err := eng.ExecuteSync(nil); err == nil {
		t.Error("nil execute must fail")
	}
}
