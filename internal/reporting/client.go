// Package reporting delivers scan results to Sprinto and fetches the
// organization policy.
package reporting

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

	"github.com/avast/retry-go/v4"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
	"github.com/goSprinto/stethoscope-app/internal/device"
)

const (
	reportPath = "/drsprinto/api/v1/reportDevice"
	policyPath = "/drsprinto/api/v1/policyConfigurationWithDynamicOS"

	// AttemptTimeout bounds a single request.
	AttemptTimeout = 10 * time.Second
	// MaxRetries follow the first attempt for transient failures.
	MaxRetries = 3
	retryStep  = time.Second

	maxErrorBody = 4 << 10
)

// TokenSource supplies the bearer token.
type TokenSource interface {
	Token() (string, error)
}

// Client talks to the Sprinto API.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	tokens    TokenSource
	timer     retry.Timer
	log       *zap.Logger
}

// NewClient builds a client for baseURL. Retry delays are timed by clk.
func NewClient(baseURL, userAgent string, httpClient *http.Client, tokens TokenSource, clk clock.Clock, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		http:      httpClient,
		tokens:    tokens,
		timer:     clk,
		log:       log.Named("reporting"),
	}
}

// ReportDevice posts a scan result with its device snapshot.
func (c *Client) ReportDevice(ctx context.Context, result compliance.ScanResult, dev *device.Snapshot) error {
	data := result.Values()
	data["device"] = dev
	if err := c.do(ctx, http.MethodPost, reportPath, map[string]any{"data": data}, nil); err != nil {
		c.log.Error("report device failed", zap.Error(err), zap.String("baseUrl", c.baseURL))
		return err
	}
	c.log.Info("device reported", zap.String("status", string(result.Status)))
	return nil
}

// GetPolicy fetches the organization policy.
func (c *Client) GetPolicy(ctx context.Context) (compliance.Policy, error) {
	var resp struct {
		Policy json.RawMessage `json:"policy"`
	}
	if err := c.do(ctx, http.MethodGet, policyPath, nil, &resp); err != nil {
		c.log.Error("get policy failed", zap.Error(err), zap.String("baseUrl", c.baseURL))
		return compliance.Policy{}, err
	}
	if len(resp.Policy) == 0 {
		return compliance.Policy{}, &ResponseError{Err: errors.New("response carried no policy")}
	}
	policy, err := compliance.ParsePolicy(resp.Policy)
	if err != nil {
		return compliance.Policy{}, &ResponseError{Err: err}
	}
	return policy, nil
}

func linearDelay(n uint, _ error, _ *retry.Config) time.Duration {
	return time.Duration(n+1) * retryStep
}

// do runs one logical request, retrying transient failures.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	attempts := 0
	err = retry.Do(
		func() error {
			attempts++
			return c.attempt(ctx, method, c.baseURL+path, token, payload, out)
		},
		retry.Context(ctx),
		retry.Attempts(MaxRetries+1),
		retry.DelayType(linearDelay),
		retry.RetryIf(isTransient),
		retry.LastErrorOnly(true),
		retry.WithTimer(c.timer),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("transient error, retrying",
				zap.String("path", path),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
	case isTransient(err):
		return &TransientError{Attempts: attempts, Err: err}
	default:
		return err
	}
}

func (c *Client) attempt(ctx context.Context, method, url, token string, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, AttemptTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isCertificate(err) {
			return &CertificateError{Err: err}
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{Status: resp.StatusCode, Body: string(text)}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ResponseError{Err: err}
	}
	return nil
}
