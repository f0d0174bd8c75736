package ragclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/greenbharat/air-quality-service/internal/circuitbreaker"
	"github.com/greenbharat/air-quality-service/internal/observability"
)

// Client asks the external Q&A collaborator a free-text question.
type Client interface {
	Ask(ctx context.Context, query string) (Answer, error)
}

// Answer is the collaborator's response: answer text plus source documents.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

var (
	ErrEmptyQuery      = errors.New("empty query")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrCircuitOpen     = errors.New("circuit breaker open")
)

// HTTPClient calls the collaborator over HTTP with bounded retries and
// exponential backoff. An optional circuit breaker short-circuits calls while
// the collaborator is known to be down.
type HTTPClient struct {
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

// NewHTTPClient creates a collaborator client with default retry settings.
func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	return NewHTTPClientWithRetry(baseURL, timeout, 2, 100*time.Millisecond, 1*time.Second)
}

// NewHTTPClientWithRetry creates a collaborator client with explicit retry settings.
func NewHTTPClientWithRetry(baseURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*HTTPClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("rag base URL is required")
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}
	return &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker attaches a circuit breaker around collaborator calls.
func (c *HTTPClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type askRequest struct {
	Query string `json:"query"`
}

// Ask sends the query to the collaborator, retrying retryable failures with
// exponential backoff and jitter. Every call is bounded by the client timeout;
// callers degrade to a fixed fallback answer on error.
func (c *HTTPClient) Ask(ctx context.Context, query string) (Answer, error) {
	if strings.TrimSpace(query) == "" {
		return Answer{}, ErrEmptyQuery
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.RAGRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return Answer{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.callCollaborator(ctx, query)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			return Answer{}, err
		}
	}

	return Answer{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *HTTPClient) callCollaborator(ctx context.Context, query string) (Answer, error) {
	if c.breaker == nil {
		return c.doCall(ctx, query)
	}
	var result Answer
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		result, callErr = c.doCall(ctx, query)
		return callErr
	})
	if err != nil && strings.Contains(err.Error(), "circuit breaker open") {
		return Answer{}, fmt.Errorf("%w: %s", ErrCircuitOpen, c.baseURL)
	}
	return result, err
}

func (c *HTTPClient) doCall(ctx context.Context, query string) (Answer, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(askRequest{Query: query})
	if err != nil {
		return Answer{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/v1/answer", bytes.NewReader(body))
	if err != nil {
		observability.RAGCallsTotal.WithLabelValues("error").Inc()
		return Answer{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.RAGCallsTotal.WithLabelValues("error").Inc()
		observability.RAGDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Answer{}, fmt.Errorf("request timeout: %w", err)
		}
		return Answer{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.RAGCallsTotal.WithLabelValues(status).Inc()
	observability.RAGDuration.WithLabelValues(status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return Answer{}, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Answer{}, fmt.Errorf("read response body: %w", err)
	}

	var answer Answer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return Answer{}, fmt.Errorf("parse response: %w", err)
	}
	if answer.Sources == nil {
		answer.Sources = []string{}
	}
	return answer, nil
}

func (c *HTTPClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") || strings.Contains(errStr, "connection refused") {
		return true
	}
	return false
}

func (c *HTTPClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	// Remaining 4xx are terminal: retrying the same request cannot help.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("request rejected: HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

func extractCorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if corrID, ok := v.(string); ok {
			return corrID
		}
	}
	return ""
}
