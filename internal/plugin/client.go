// Package plugin calls plugin interfaces on running plugin instances and
// normalizes their response envelopes.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds a single plugin call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// StatusError is returned when the plugin answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("plugin responded with status %d: %s", e.StatusCode, e.Body)
}

type callRequest struct {
	RequestID string           `json:"requestId"`
	Inputs    []map[string]any `json:"inputs"`
}

// Client posts interface calls to plugin instances over HTTP.
type Client struct {
	http    *resty.Client
	timeout time.Duration
}

// NewClient returns a client that bounds every call by timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: resty.New().
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		timeout: timeout,
	}
}

// Call posts the inputs to http://address/path and returns the raw response
// body. Headers: X-Request-Id carries the correlation id.
func (c *Client) Call(ctx context.Context, address, path string, inputs []map[string]any, requestID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-Id", requestID).
		SetBody(callRequest{RequestID: requestID, Inputs: inputs}).
		Post("http://" + address + path)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 512)}
	}
	return resp.Body(), nil
}

// IsTimeout reports whether err is a call that exceeded its deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// StatusCode extracts the HTTP status carried by err, or 200 when err is nil.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
