package resiliency

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	baseBackoff       = 100 * time.Millisecond
	maxJitter         = 50 * time.Millisecond
)

// Client wraps http.Client with retries, exponential backoff with jitter,
// and a circuit breaker. Retries honor the request context.
type Client struct {
	client     *http.Client
	maxRetries int
	breaker    *CircuitBreaker
	sleep      func(time.Duration)
}

// NewClient builds a resilient client around a breaker. A nil breaker gets
// a default (5 failures in 30s, open 10s).
func NewClient(breaker *CircuitBreaker) *Client {
	if breaker == nil {
		breaker = NewCircuitBreaker("http", 5, 30*time.Second, 10*time.Second)
	}
	return &Client{
		client:     &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		breaker:    breaker,
		sleep:      time.Sleep,
	}
}

// Post sends a JSON body, retrying on transport errors and 5xx responses.
func (c *Client) Post(ctx context.Context, url string, body []byte, headers map[string]string) error {
	if !c.breaker.Allow() {
		return contracts.Errorf(contracts.KindTransientIO,
			"circuit breaker %s open", c.breaker.Name())
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return contracts.WrapError(contracts.KindTransientIO, "build request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				c.breaker.Success()
				if resp.StatusCode >= 400 {
					return contracts.Errorf(contracts.KindTransientIO,
						"webhook returned %d", resp.StatusCode)
				}
				return nil
			}
			lastErr = contracts.Errorf(contracts.KindTransientIO,
				"webhook returned %d", resp.StatusCode)
		} else {
			lastErr = contracts.WrapError(contracts.KindTransientIO, "post webhook", err)
		}

		if attempt == c.maxRetries {
			break
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * baseBackoff
		backoff += time.Duration(rand.Int63n(int64(maxJitter)))
		select {
		case <-ctx.Done():
			return contracts.WrapError(contracts.KindCancelled, "post webhook", ctx.Err())
		default:
			c.sleep(backoff)
		}
	}

	c.breaker.Failure()
	return lastErr
}
