package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
	"github.com/goSprinto/stethoscope-app/internal/config"
	"github.com/goSprinto/stethoscope-app/internal/device"
	"github.com/goSprinto/stethoscope-app/internal/settings"
)

const testPolicy = `{"diskEncryption":"ALWAYS","firewall":"ALWAYS"}`

type fakeResolver struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *fakeResolver) Resolve(ctx context.Context, _ compliance.Policy) (*device.Snapshot, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &device.Snapshot{
		Platform: "darwin",
		Security: device.Security{
			DiskEncryption: compliance.StatusOn,
			Firewall:       compliance.StatusOff,
		},
	}, nil
}

type fakeConnector struct {
	token, name  string
	disconnected bool
}

func (f *fakeConnector) Connect(token, name string) error {
	f.token, f.name = token, name
	return nil
}

func (f *fakeConnector) Disconnect() error {
	f.disconnected = true
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) of(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestServer(t *testing.T, res Resolver, opts Options) *Server {
	t.Helper()
	opts.Resolver = res
	if opts.Store == nil {
		opts.Store = settings.NewMemoryStore()
	}
	if opts.PollWait == 0 {
		opts.PollWait = 5 * time.Second
	}
	s := NewServer(opts, zap.NewNop())
	t.Cleanup(s.Close)
	return s
}

func scanBody(t *testing.T, sessionID string) *bytes.Reader {
	t.Helper()
	vars, _ := json.Marshal(map[string]json.RawMessage{"policy": json.RawMessage(testPolicy)})
	body, err := json.Marshal(ScanRequest{Query: "query { policy { validate } }", Variables: vars, SessionID: sessionID})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func post(h http.Handler, path, origin string, body *bytes.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, body)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestScanReturnsValidatedResult(t *testing.T) {
	s := newTestServer(t, &fakeResolver{}, Options{})

	w := post(s.Handler(), "/scan", AppOrigin, scanBody(t, ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, AppOrigin, w.Header().Get("Access-Control-Allow-Origin"))

	var resp ScanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Data)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, compliance.StatusFail, resp.Data.Policy.Validate.Status)
	fw, ok := resp.Data.Policy.Validate.Get("firewall")
	require.True(t, ok)
	assert.Equal(t, compliance.StatusFail, fw.Status)
	assert.Equal(t, "darwin", resp.Data.Device.Platform)
	assert.GreaterOrEqual(t, resp.Extensions.Timing.Total, int64(0))
}

func TestScanAcceptsGETWithStringPolicy(t *testing.T) {
	s := newTestServer(t, &fakeResolver{}, Options{})

	policy, _ := json.Marshal(testPolicy)
	vars := `{"policy":` + string(policy) + `}`
	q := url.Values{"query": {"{ policy { validate } }"}, "variables": {vars}}
	req := httptest.NewRequest(http.MethodGet, "/graphql?"+q.Encode(), nil)
	req.Header.Set("Origin", AppOrigin)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp ScanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	de, ok := resp.Data.Policy.Validate.Get("diskEncryption")
	require.True(t, ok)
	assert.Equal(t, compliance.StatusPass, de.Status)
}

func TestIntrospectionRejected(t *testing.T) {
	res := &fakeResolver{}
	s := newTestServer(t, res, Options{})

	body, _ := json.Marshal(ScanRequest{Query: "{ __schema { types { name } } }"})
	w := post(s.Handler(), "/graphql", AppOrigin, bytes.NewReader(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int32(0), res.calls.Load())
}

func TestOriginPolicy(t *testing.T) {
	origins, err := NewOriginPolicy(false, []string{"https://app.sprinto.com"},
		[]config.HostLabel{{Pattern: `^https://[a-z]+\.acme\.test$`, Name: "Acme Portal"}})
	require.NoError(t, err)

	tests := []struct {
		origin  string
		allowed bool
		label   string
	}{
		{AppOrigin, true, DefaultLabel},
		{"https://app.sprinto.com", true, DefaultLabel},
		{"https://portal.acme.test", true, "Acme Portal"},
		{"https://evil.example", false, DefaultLabel},
		{"", false, DefaultLabel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, origins.Allowed(tt.origin), tt.origin)
		assert.Equal(t, tt.label, origins.Label(tt.origin), tt.origin)
	}

	dev, err := NewOriginPolicy(true, nil, nil)
	require.NoError(t, err)
	assert.True(t, dev.Allowed("https://evil.example"))

	_, err = NewOriginPolicy(false, nil, []config.HostLabel{{Pattern: "("}})
	assert.Error(t, err)
}

func TestScanRefusesUnknownOrigin(t *testing.T) {
	res := &fakeResolver{}
	origins, _ := NewOriginPolicy(false, []string{"https://app.sprinto.com"}, nil)
	s := newTestServer(t, res, Options{Origins: origins})

	w := post(s.Handler(), "/scan", "https://evil.example", scanBody(t, ""))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, int32(0), res.calls.Load())
}

func TestRemoteScanCarriesLabel(t *testing.T) {
	rec := &recorder{}
	origins, _ := NewOriginPolicy(false, nil,
		[]config.HostLabel{{Pattern: `acme\.test$`, Name: "Acme Portal"}})
	s := newTestServer(t, &fakeResolver{}, Options{Origins: origins, Notifier: rec})

	w := post(s.Handler(), "/scan", "https://portal.acme.test", scanBody(t, ""))
	require.Equal(t, http.StatusOK, w.Code)

	done := rec.of(EventScanComplete)
	require.Len(t, done, 1)
	assert.True(t, done[0].Remote)
	assert.Equal(t, "Acme Portal", done[0].RemoteLabel)
}

func TestSlowScanAnswersNoContentThenJoins(t *testing.T) {
	res := &fakeResolver{release: make(chan struct{})}
	s := newTestServer(t, res, Options{PollWait: 200 * time.Millisecond})
	h := s.Handler()

	w := post(h, "/scan", AppOrigin, scanBody(t, ""))
	assert.Equal(t, http.StatusNoContent, w.Code)

	close(res.release)
	w = post(h, "/scan", AppOrigin, scanBody(t, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), res.calls.Load())

	// The delivered job is retired, so the next call scans again.
	w = post(h, "/scan", AppOrigin, scanBody(t, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(2), res.calls.Load())
}

func TestSessionNotifiesOnce(t *testing.T) {
	rec := &recorder{}
	s := newTestServer(t, &fakeResolver{}, Options{Notifier: rec})
	h := s.Handler()

	post(h, "/scan", AppOrigin, scanBody(t, "session-1"))
	post(h, "/scan", AppOrigin, scanBody(t, "session-1"))
	post(h, "/scan", AppOrigin, scanBody(t, ""))

	done := rec.of(EventScanComplete)
	require.Len(t, done, 3)
	assert.True(t, done[0].ShowNotification)
	assert.False(t, done[1].ShowNotification)
	assert.False(t, done[2].ShowNotification)
}

func TestScanErrorReported(t *testing.T) {
	rec := &recorder{}
	s := newTestServer(t, &fakeResolver{err: assert.AnError}, Options{Notifier: rec})

	w := post(s.Handler(), "/scan", AppOrigin, scanBody(t, ""))
	require.Equal(t, http.StatusOK, w.Code)

	var resp ScanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Data)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, assert.AnError.Error(), resp.Errors[0].Message)
	assert.Len(t, rec.of(EventScanError), 1)
}

func TestConnectIsAppOnly(t *testing.T) {
	conn := &fakeConnector{}
	s := newTestServer(t, &fakeResolver{}, Options{Connector: conn})
	h := s.Handler()

	body := func() *bytes.Reader {
		return bytes.NewReader([]byte(`{"accessToken":"tok-1","firstName":"Sam"}`))
	}

	w := post(h, "/connect", "https://app.sprinto.com", body())
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, conn.token)

	w = post(h, "/connect", "http://localhost:3000", body())
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "tok-1", conn.token)
	assert.Equal(t, "Sam", conn.name)

	w = post(h, "/connect", AppOrigin, bytes.NewReader([]byte(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(h, "/disconnect", AppOrigin, bytes.NewReader(nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, conn.disconnected)
}

func TestUnknownPathsForbidden(t *testing.T) {
	s := newTestServer(t, &fakeResolver{}, Options{
		Version: "1.2.3",
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("drsprinto_scans_total 1\n"))
		}),
	})
	h := s.Handler()

	for path, want := range map[string]int{
		"/":         http.StatusForbidden,
		"/policy":   http.StatusForbidden,
		"/healthz":  http.StatusOK,
		"/metrics":  http.StatusOK,
		"/graphiql": http.StatusForbidden,
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var health Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Nil(t, health.Perf)
}

func TestPolicyKeyStable(t *testing.T) {
	a, err := compliance.ParsePolicy([]byte(testPolicy))
	require.NoError(t, err)
	b, err := compliance.ParsePolicy([]byte(`{"firewall":"ALWAYS","diskEncryption":"ALWAYS"}`))
	require.NoError(t, err)
	assert.Equal(t, policyKey(a), policyKey(b))
	assert.NotEqual(t, policyKey(a), policyKey(compliance.Policy{}))
}
