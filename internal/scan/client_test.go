package scan

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
)

const okBody = `{
  "data": {
    "policy": {"validate": {"status": "NUDGE", "firewall": "PASS", "screenIdle": "NUDGE", "antivirus": null}},
    "device": {"deviceId": "dev-1", "platform": "darwin"}
  },
  "extensions": {"timing": {"total": 842}}
}`

func notReadyThenOK(notReady int32, calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= notReady {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, okBody)
	}
}

func TestScanRetriesUntilReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(notReadyThenOK(3, &calls))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), clock.NewMock(), 0, zap.NewNop())
	out, err := c.Scan(context.Background(), compliance.Policy{Firewall: compliance.RequireAlways}, Options{})
	require.NoError(t, err)

	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 4, out.Attempts)
	assert.Equal(t, compliance.StatusNudge, out.Result.Status)
	assert.Equal(t, "dev-1", out.Device.DeviceID)
	assert.Equal(t, int64(842), out.Timing.Server)
	assert.Equal(t, int64(0), out.Timing.Total)
}

func TestScanSendsPolicyAndSession(t *testing.T) {
	var got request
	var origin string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin = r.Header.Get("Origin")
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, okBody)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", srv.Client(), nil, 0, zap.NewNop())
	_, err := c.Scan(context.Background(), compliance.Policy{ScreenIdle: ">=600"}, Options{SessionID: "s-1"})
	require.NoError(t, err)

	assert.Equal(t, "drsprinto://main", origin)
	assert.Equal(t, "s-1", got.SessionID)
	assert.Contains(t, got.Query, "validate")
	policy, ok := got.Variables["policy"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, ">=600", policy["screenIdle"])
}

func TestScanProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":null,"errors":[{"message":"probe exploded"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), nil, 0, zap.NewNop())
	_, err := c.Scan(context.Background(), compliance.Policy{}, Options{})

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Len(t, pe.Errors, 1)
	assert.Equal(t, "probe exploded", pe.Errors[0].Message)
}

func TestScanRejectsMalformedResult(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty result", `{"data":{"policy":{"validate":{}},"device":null}}`, "no result"},
		{"null result", `{"data":{"policy":{"validate":null},"device":null}}`, "no result"},
		{"unknown status", `{"data":{"policy":{"validate":{"status":"MAYBE","firewall":"PASS"}}}}`, `unknown overall status "MAYBE"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, srv.Client(), nil, 0, zap.NewNop())
			_, err := c.Scan(context.Background(), compliance.Policy{}, Options{})

			var pe *ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Contains(t, pe.Error(), tt.want)
		})
	}
}

func TestScanTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"errors":[{"message":"bad policy"}]}`)
	}))
	c := NewClient(srv.URL, srv.Client(), nil, 0, zap.NewNop())
	_, err := c.Scan(context.Background(), compliance.Policy{}, Options{})
	srv.Close()

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadRequest, te.Status)
	require.Len(t, te.Errors, 1)
	assert.Equal(t, "bad policy", te.Errors[0].Message)

	// The server is gone now.
	_, err = c.Scan(context.Background(), compliance.Policy{}, Options{})
	require.ErrorAs(t, err, &te)
	assert.Error(t, te.Err)
}

func TestScanAttemptLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(notReadyThenOK(1000, &calls))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), nil, 5, zap.NewNop())
	_, err := c.Scan(context.Background(), compliance.Policy{}, Options{})
	assert.True(t, errors.Is(err, ErrTooManyAttempts))
	assert.Equal(t, int32(5), calls.Load())
}

func TestScanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 3 {
			cancel()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), nil, 0, zap.NewNop())
	_, err := c.Scan(ctx, compliance.Policy{}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), calls.Load())
}

func TestScanMeasuresTotal(t *testing.T) {
	clk := clock.NewMock()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clk.Add(1500 * time.Millisecond)
		io.WriteString(w, okBody)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), clk, 0, zap.NewNop())
	out, err := c.Scan(context.Background(), compliance.Policy{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), out.Timing.Total)
}
