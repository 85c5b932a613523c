// Package inspect serves device scans to the local app and to allowed web
// origins over HTTP on the loopback interface.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
	"github.com/goSprinto/stethoscope-app/internal/device"
	"github.com/goSprinto/stethoscope-app/internal/settings"
	"github.com/goSprinto/stethoscope-app/internal/telemetry"
)

const (
	// jobTTL bounds how long an unclaimed result is kept.
	jobTTL = 2 * time.Minute

	// DefaultScanTimeout bounds one resolve.
	DefaultScanTimeout = 65 * time.Second

	maxBodyBytes = 1 << 20
)

// Resolver gathers the device snapshot for a policy.
type Resolver interface {
	Resolve(ctx context.Context, policy compliance.Policy) (*device.Snapshot, error)
}

// Connector stores the credentials handed over by the app.
type Connector interface {
	Connect(accessToken, firstName string) error
	Disconnect() error
}

// EventType names a server event.
type EventType string

const (
	EventScanStarted  EventType = "scan:init"
	EventScanComplete EventType = "scan:complete"
	EventScanError    EventType = "scan:error"
	EventConnected    EventType = "auth:connected"
	EventDisconnected EventType = "auth:disconnected"
)

// AlertedPrefix marks sessions that were already notified.
const AlertedPrefix = "alerted:"

// Event tells the rest of the agent what the server did.
type Event struct {
	Type             EventType
	Remote           bool
	RemoteLabel      string
	Status           compliance.Status
	ShowNotification bool
	Err              error
}

// Notifier receives server events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Options configures a Server. Resolver and Store are required.
type Options struct {
	Resolver    Resolver
	Store       settings.Store
	Origins     *OriginPolicy
	Connector   Connector
	Notifier    Notifier
	Metrics     http.Handler
	Perf        *telemetry.PerfMonitor
	Clock       clock.Clock
	PollWait    time.Duration
	ScanTimeout time.Duration
	Version     string
}

// Server runs scan jobs on behalf of HTTP callers.
type Server struct {
	opts Options
	log  *zap.Logger
	jobs *cache.Cache

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer builds a server. Close releases running jobs.
func NewServer(opts Options, log *zap.Logger) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Origins == nil {
		opts.Origins = &OriginPolicy{}
	}
	if opts.Notifier == nil {
		opts.Notifier = NotifierFunc(func(Event) {})
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:   opts,
		log:    log.Named("inspect"),
		jobs:   cache.New(jobTTL, jobTTL),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close cancels running scans.
func (s *Server) Close() {
	s.cancel()
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes wires the endpoints into mux. Unknown paths are refused.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/scan", s.handleScan)
	mux.HandleFunc("/graphql", s.handleScan)
	mux.HandleFunc("/connect", s.handleConnect)
	mux.HandleFunc("/disconnect", s.handleDisconnect)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	})
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.opts.PollWait + 30*time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("inspection server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ScanRequest is the body of a scan call.
type ScanRequest struct {
	Query     string          `json:"query"`
	Variables json.RawMessage `json:"variables,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// Variables carries the policy. Policy may be an object or a JSON string.
type Variables struct {
	Policy json.RawMessage `json:"policy"`
}

// ScanData is the data member of a scan response.
type ScanData struct {
	Policy struct {
		Validate compliance.ScanResult `json:"validate"`
	} `json:"policy"`
	Device *device.Snapshot `json:"device"`
}

// ResponseError is one entry of a response's errors list.
type ResponseError struct {
	Message string `json:"message"`
}

// Timing is the timing extension, in milliseconds.
type Timing struct {
	Total int64 `json:"total"`
}

// ScanResponse is the 200 body of a scan call.
type ScanResponse struct {
	Data       *ScanData       `json:"data"`
	Errors     []ResponseError `json:"errors,omitempty"`
	Extensions struct {
		Timing Timing `json:"timing"`
	} `json:"extensions"`
}

func (s *Server) allowCORS(w http.ResponseWriter, r *http.Request) (origin string, ok bool) {
	origin = r.Header.Get("Origin")
	if !s.opts.Origins.Allowed(origin) {
		return origin, false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Add("Vary", "Origin")
	}
	return origin, true
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	origin, ok := s.allowCORS(w, r)
	if !ok {
		s.log.Warn("scan refused for origin", zap.String("origin", origin))
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "origin not allowed"})
		return
	}

	var req ScanRequest
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
		q := r.URL.Query()
		req.Query = q.Get("query")
		req.SessionID = q.Get("sessionId")
		if v := q.Get("variables"); v != "" {
			req.Variables = json.RawMessage(v)
		}
	case http.MethodPost:
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if isIntrospection(req.Query) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "introspection queries are not allowed"})
		return
	}

	policy, err := decodePolicy(req.Variables)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	showNotification := false
	if req.SessionID != "" {
		first, err := s.opts.Store.SetIfAbsent(AlertedPrefix+req.SessionID, "1")
		if err != nil {
			s.log.Warn("session alert state unavailable", zap.Error(err))
		}
		showNotification = first
	}

	j := s.startOrJoin(policy, func(j *job) {
		j.join(showNotification, origin != AppOrigin, s.opts.Origins.Label(origin))
	})

	timer := s.opts.Clock.Timer(s.opts.PollWait)
	defer timer.Stop()
	select {
	case <-j.done:
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
		return
	case <-r.Context().Done():
		return
	}

	s.deliver(w, j)
}

func isIntrospection(query string) bool {
	return strings.Contains(query, "__schema") || strings.Contains(query, "__type")
}

func decodePolicy(vars json.RawMessage) (compliance.Policy, error) {
	if len(vars) == 0 {
		return compliance.Policy{}, nil
	}
	var v Variables
	if err := json.Unmarshal(vars, &v); err != nil {
		return compliance.Policy{}, fmt.Errorf("variables: %w", err)
	}
	return compliance.ParsePolicy(v.Policy)
}

// startOrJoin returns the running job for policy, starting one if none
// exists. join is applied before a new job starts.
func (s *Server) startOrJoin(policy compliance.Policy, join func(*job)) *job {
	key := policyKey(policy)
	if v, ok := s.jobs.Get(key); ok {
		j := v.(*job)
		join(j)
		return j
	}
	j := newJob(key, s.opts.Clock.Now())
	join(j)
	if err := s.jobs.Add(key, j, cache.DefaultExpiration); err != nil {
		// Lost the race to another request.
		if v, ok := s.jobs.Get(key); ok {
			other := v.(*job)
			join(other)
			return other
		}
		s.jobs.Set(key, j, cache.DefaultExpiration)
	}
	go s.run(j, policy)
	return j
}

func (s *Server) run(j *job, policy compliance.Policy) {
	_, remote, label := j.requester()
	s.opts.Notifier.Notify(Event{Type: EventScanStarted, Remote: remote, RemoteLabel: label})

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ScanTimeout)
	defer cancel()

	var tok telemetry.ScanToken
	if s.opts.Perf != nil {
		tok = s.opts.Perf.Begin()
	}
	snap, err := s.opts.Resolver.Resolve(ctx, policy)
	if s.opts.Perf != nil {
		s.opts.Perf.End(tok)
	}
	if err == nil {
		j.snap = snap
		j.result = device.Evaluate(policy, snap)
	}
	j.err = err
	j.took = s.opts.Clock.Since(j.started)
	close(j.done)
}

// deliver writes a finished job and retires it so the next request scans
// afresh.
func (s *Server) deliver(w http.ResponseWriter, j *job) {
	if v, ok := s.jobs.Get(j.key); ok && v.(*job) == j {
		s.jobs.Delete(j.key)
	}

	notify, remote, label := j.requester()
	var resp ScanResponse
	resp.Extensions.Timing.Total = j.took.Milliseconds()

	if j.err != nil {
		j.announce.Do(func() {
			s.log.Error("scan failed", zap.Error(j.err))
			s.opts.Notifier.Notify(Event{Type: EventScanError, Remote: remote, RemoteLabel: label, Err: j.err})
		})
		resp.Errors = []ResponseError{{Message: j.err.Error()}}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Data = &ScanData{Device: j.snap}
	resp.Data.Policy.Validate = j.result
	j.announce.Do(func() {
		s.log.Info("scan complete",
			zap.String("status", string(j.result.Status)),
			zap.Bool("remote", remote),
			zap.Duration("took", j.took))
		s.opts.Notifier.Notify(Event{
			Type:             EventScanComplete,
			Remote:           remote,
			RemoteLabel:      label,
			Status:           j.result.Status,
			ShowNotification: notify && j.result.Status != compliance.StatusPass,
		})
	})
	writeJSON(w, http.StatusOK, resp)
}

type connectRequest struct {
	AccessToken string `json:"accessToken"`
	FirstName   string `json:"firstName"`
}

func (s *Server) appOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if !IsApp(r.Header.Get("Origin")) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return false
	}
	if s.opts.Connector == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "credentials unavailable"})
		return false
	}
	return true
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.appOnly(w, r) {
		return
	}
	var req connectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.AccessToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "accessToken is required"})
		return
	}
	if err := s.opts.Connector.Connect(req.AccessToken, req.FirstName); err != nil {
		s.log.Error("connect failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not store credentials"})
		return
	}
	s.log.Info("connected", zap.String("firstName", req.FirstName))
	s.opts.Notifier.Notify(Event{Type: EventConnected})
	writeJSON(w, http.StatusCreated, map[string]string{"status": "connected"})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !s.appOnly(w, r) {
		return
	}
	if err := s.opts.Connector.Disconnect(); err != nil {
		s.log.Error("disconnect failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not clear credentials"})
		return
	}
	s.log.Info("disconnected")
	s.opts.Notifier.Notify(Event{Type: EventDisconnected})
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// Health is the /healthz body. Perf is present when scans are profiled.
type Health struct {
	Status  string             `json:"status"`
	Version string             `json:"version"`
	Perf    *telemetry.Summary `json:"perf,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := Health{Status: "ok", Version: s.opts.Version}
	if s.opts.Perf != nil {
		sum := s.opts.Perf.Summary()
		resp.Perf = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
