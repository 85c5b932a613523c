// Package scan requests device scans from the local inspection server.
package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
	"github.com/goSprinto/stethoscope-app/internal/device"
)

// Query is the document sent with every scan. The server answers with the
// full validation and device shape regardless of selection.
const Query = `query ValidateDevice($policy: DevicePolicy!) {
  policy { validate(policy: $policy) }
  device
}`

// ErrTooManyAttempts is returned when the server keeps answering 204 past
// the configured attempt limit.
var ErrTooManyAttempts = errors.New("scan: server never finished the scan")

// GraphQLError is one entry of a response's errors list.
type GraphQLError struct {
	Message string `json:"message"`
}

// ProtocolError is a 200 response that carried errors.
type ProtocolError struct {
	Errors []GraphQLError
}

func (e *ProtocolError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ge := range e.Errors {
		msgs[i] = ge.Message
	}
	return "scan: " + strings.Join(msgs, "; ")
}

// TransportError is a failed request or an unexpected status.
type TransportError struct {
	Status int
	Errors []GraphQLError
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scan transport: %v", e.Err)
	}
	return fmt.Sprintf("scan transport: unexpected status %d", e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timing is measured in milliseconds.
type Timing struct {
	Total  int64 `json:"total"`
	Server int64 `json:"server"`
}

// Outcome is a completed scan.
type Outcome struct {
	Result   compliance.ScanResult
	Device   *device.Snapshot
	Timing   Timing
	Attempts int
}

// Options vary a single scan.
type Options struct {
	SessionID string
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
	SessionID string         `json:"sessionId,omitempty"`
}

type response struct {
	Data *struct {
		Policy struct {
			Validate compliance.ScanResult `json:"validate"`
		} `json:"policy"`
		Device *device.Snapshot `json:"device"`
	} `json:"data"`
	Errors     []GraphQLError `json:"errors"`
	Extensions struct {
		Timing struct {
			Total int64 `json:"total"`
		} `json:"timing"`
	} `json:"extensions"`
}

// Client talks to the inspection server.
type Client struct {
	url         string
	origin      string
	http        *http.Client
	clock       clock.Clock
	maxAttempts int
	log         *zap.Logger
}

// NewClient targets the scan endpoint at baseURL. maxAttempts of 0 polls
// until the server answers.
func NewClient(baseURL string, httpClient *http.Client, clk clock.Clock, maxAttempts int, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Client{
		url:         strings.TrimRight(baseURL, "/") + "/scan",
		origin:      "drsprinto://main",
		http:        httpClient,
		clock:       clk,
		maxAttempts: maxAttempts,
		log:         log.Named("scan"),
	}
}

// Scan validates the device against policy. A 204 answer means the server
// is still scanning and is retried at once.
func (c *Client) Scan(ctx context.Context, policy compliance.Policy, opts Options) (*Outcome, error) {
	body, err := json.Marshal(request{
		Query:     Query,
		Variables: map[string]any{"policy": policy},
		SessionID: opts.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode scan request: %w", err)
	}

	start := c.clock.Now()
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.maxAttempts > 0 && attempts >= c.maxAttempts {
			return nil, fmt.Errorf("%w after %d attempts", ErrTooManyAttempts, attempts)
		}
		attempts++

		status, raw, err := c.do(ctx, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &TransportError{Err: err}
		}

		switch status {
		case http.StatusNoContent:
			c.log.Debug("scan not ready", zap.Int("attempt", attempts))
			continue
		case http.StatusOK:
			return c.decode(raw, start, attempts)
		default:
			te := &TransportError{Status: status}
			var resp response
			if json.Unmarshal(raw, &resp) == nil {
				te.Errors = resp.Errors
			}
			return nil, te
		}
	}
}

func (c *Client) do(ctx context.Context, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", c.origin)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read scan response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func (c *Client) decode(raw []byte, start time.Time, attempts int) (*Outcome, error) {
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransportError{Status: http.StatusOK, Err: fmt.Errorf("decode scan response: %w", err)}
	}
	if len(resp.Errors) > 0 {
		return nil, &ProtocolError{Errors: resp.Errors}
	}
	if resp.Data == nil {
		return nil, &ProtocolError{Errors: []GraphQLError{{Message: "response carried no data"}}}
	}
	switch result := resp.Data.Policy.Validate; {
	case result.IsZero():
		return nil, &ProtocolError{Errors: []GraphQLError{{Message: "response carried no result"}}}
	case !result.Status.Valid():
		return nil, &ProtocolError{Errors: []GraphQLError{{Message: fmt.Sprintf("unknown overall status %q", result.Status)}}}
	}
	out := &Outcome{
		Result:   resp.Data.Policy.Validate,
		Device:   resp.Data.Device,
		Attempts: attempts,
		Timing: Timing{
			Total:  c.clock.Since(start).Milliseconds(),
			Server: resp.Extensions.Timing.Total,
		},
	}
	c.log.Info("scan finished",
		zap.String("status", string(out.Result.Status)),
		zap.Int("attempts", attempts),
		zap.Int64("totalMs", out.Timing.Total))
	return out, nil
}
