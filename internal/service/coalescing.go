package service

import (
	"context"
	"sync"
	"time"
)

// inFlightCompute tracks a single view recomputation that multiple callers may
// wait for.
type inFlightCompute struct {
	mu      sync.Mutex
	result  []byte
	err     error
	done    bool
	waiters []chan struct{} // Channels to notify waiters when result is ready
}

// requestCoalescer serializes recomputation per query signature: concurrent
// misses for the same signature collapse into a single recompute, and every
// waiter receives the resulting payload.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightCompute
	timeout  time.Duration
}

// newRequestCoalescer creates a requestCoalescer with the specified timeout.
func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightCompute),
		timeout:  timeout,
	}
}

// GetOrDo checks if a recompute for the signature is already in-flight. If yes,
// waits for its result. If no, executes fn and registers the computation.
// Respects context cancellation and timeout to prevent indefinite blocking.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func() ([]byte, error)) ([]byte, error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if exists {
		// Computation in-flight - wait for it
		notify := make(chan struct{})
		req.mu.Lock()
		if req.done {
			result := req.result
			err := req.err
			req.mu.Unlock()
			rc.mu.Unlock()
			return result, err
		}
		req.waiters = append(req.waiters, notify)
		req.mu.Unlock()
		rc.mu.Unlock()

		waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
		defer cancel()
		select {
		case <-notify:
			req.mu.Lock()
			result := req.result
			err := req.err
			req.mu.Unlock()
			return result, err
		case <-waitCtx.Done():
			return nil, waitCtx.Err()
		}
	}

	// No existing computation - create one
	req = &inFlightCompute{
		waiters: make([]chan struct{}, 0),
	}
	rc.inFlight[key] = req
	rc.mu.Unlock()

	// Execute in a goroutine so a cancelled initiator does not abandon waiters
	go func() {
		result, err := fn()

		req.mu.Lock()
		req.result = result
		req.err = err
		req.done = true
		waiters := req.waiters
		req.waiters = nil
		req.mu.Unlock()

		for _, notify := range waiters {
			close(notify)
		}

		rc.cleanup(key)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	notify := make(chan struct{})
	req.mu.Lock()
	if req.done {
		result := req.result
		err := req.err
		req.mu.Unlock()
		return result, err
	}
	req.waiters = append(req.waiters, notify)
	req.mu.Unlock()

	select {
	case <-notify:
		req.mu.Lock()
		result := req.result
		err := req.err
		req.mu.Unlock()
		return result, err
	case <-waitCtx.Done():
		return nil, waitCtx.Err()
	}
}

// cleanup removes the in-flight entry for key after the computation completes.
func (rc *requestCoalescer) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}
