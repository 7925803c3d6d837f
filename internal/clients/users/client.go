// Package users resolves user existence against the external user directory.
package users

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dosetrack/go-mat/pkg/circuitbreaker"
)

// Client checks the directory over HTTP behind a circuit breaker. It
// implements schedule.UserDirectory.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// New creates a directory client. onStateChange, if non-nil, observes breaker
// state transitions.
func New(baseURL string, logger *zap.Logger, onStateChange func(name string, from, to circuitbreaker.State)) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := circuitbreaker.DefaultConfig("user-directory")
	cfg.OnStateChange = onStateChange
	breaker, err := circuitbreaker.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Exists reports whether the directory knows the user. A 404 is a definitive
// no and does not count against the breaker; transport and 5xx failures do.
func (c *Client) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead,
			fmt.Sprintf("%s/users/%s", c.baseURL, id), nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return true, nil
		case resp.StatusCode == http.StatusNotFound:
			return false, nil
		default:
			return nil, fmt.Errorf("user directory returned %d", resp.StatusCode)
		}
	})
	if err != nil {
		c.logger.Warn("user directory lookup failed",
			zap.String("user_id", id.String()),
			zap.Error(err))
		return false, fmt.Errorf("user directory: %w", err)
	}
	return result.(bool), nil
}

// Breaker exposes the underlying circuit breaker for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}
