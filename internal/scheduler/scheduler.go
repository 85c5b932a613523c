// Package scheduler decides when to scan the device, when to refresh the
// policy, and when to report results upstream.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
	"github.com/goSprinto/stethoscope-app/internal/device"
	"github.com/goSprinto/stethoscope-app/internal/partition"
	"github.com/goSprinto/stethoscope-app/internal/reporting"
	"github.com/goSprinto/stethoscope-app/internal/scan"
	"github.com/goSprinto/stethoscope-app/internal/settings"
)

// Settings keys.
const (
	KeyLastScanTime       = "lastScanTime"
	KeyLastReportTime     = "lastReportTime"
	KeyLastPolicySyncTime = "lastPolicySyncTime"
	KeyLastReportedResult = "lastReportedResult"
	KeyPolicy             = "policy"
)

var (
	// ErrScanInProgress is returned when a scan or forced report is requested
	// while one runs.
	ErrScanInProgress = errors.New("scheduler: scan already in progress")
	// ErrRescanThrottled is returned for a manual rescan inside the fresh
	// window.
	ErrRescanThrottled = errors.New("scheduler: last scan is still fresh")
	// ErrNoScanResult is returned by ForceReport before the first scan.
	ErrNoScanResult = errors.New("scheduler: no scan result to report")
)

// Scanner runs one scan.
type Scanner interface {
	Scan(ctx context.Context, policy compliance.Policy, opts scan.Options) (*scan.Outcome, error)
}

// Reporter talks to the Sprinto API.
type Reporter interface {
	ReportDevice(ctx context.Context, result compliance.ScanResult, dev *device.Snapshot) error
	GetPolicy(ctx context.Context) (compliance.Policy, error)
}

// Auth tells whether the device is connected to an account.
type Auth interface {
	Connected() bool
}

// Metrics receives scheduler outcomes.
type Metrics interface {
	ScanCompleted(result compliance.ScanResult, attempts int, took time.Duration)
	ScanFailed()
	Reported(outcome string)
	PolicySynced(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) ScanCompleted(compliance.ScanResult, int, time.Duration) {}
func (nopMetrics) ScanFailed()                                             {}
func (nopMetrics) Reported(string)                                         {}
func (nopMetrics) PolicySynced(string)                                     {}

// Trigger says what started a scan.
type Trigger string

const (
	TriggerAuto   Trigger = "auto"
	TriggerManual Trigger = "manual"
	TriggerForced Trigger = "forced"
)

// Event is published after every scan and forced report.
type Event struct {
	Trigger   Trigger
	At        time.Time
	Result    compliance.ScanResult
	Device    *device.Snapshot
	Partition partition.Partition
	Attempts  int
	Took      time.Duration
	Err       error

	// Reported is true when the result was delivered in this cycle.
	Reported  bool
	ReportErr error
}

// Config holds scheduling intervals.
type Config struct {
	// RescanInterval between automatic scans; floored at MinRescanInterval.
	RescanInterval time.Duration
	// FreshWindow after a scan during which manual rescans are refused.
	FreshWindow time.Duration
	Platform    string
}

// MinRescanInterval is the shortest automatic scan interval.
const MinRescanInterval = 300 * time.Second

// DefaultFreshWindow is the default fresh window.
const DefaultFreshWindow = 10 * time.Minute

type lastScan struct {
	result compliance.ScanResult
	device *device.Snapshot
}

// Scheduler coordinates scans, reports and policy syncs. At most one scan
// or forced report runs at a time.
type Scheduler struct {
	cfg       Config
	scanner   Scanner
	reporter  Reporter
	auth      Auth
	store     settings.Store
	practices map[string]partition.Practice
	metrics   Metrics
	clock     clock.Clock
	log       *zap.Logger

	busy atomic.Bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	timer  *clock.Timer
	policy compliance.Policy
	last   *lastScan
	subs   map[chan Event]struct{}

	wg sync.WaitGroup
}

// Deps groups the scheduler's collaborators.
type Deps struct {
	Scanner   Scanner
	Reporter  Reporter
	Auth      Auth
	Store     settings.Store
	Practices map[string]partition.Practice
	Metrics   Metrics
	Clock     clock.Clock
}

// New builds a scheduler. initial is used until a policy has been synced.
func New(cfg Config, deps Deps, initial compliance.Policy, log *zap.Logger) *Scheduler {
	if cfg.RescanInterval < MinRescanInterval {
		cfg.RescanInterval = MinRescanInterval
	}
	if cfg.FreshWindow <= 0 {
		cfg.FreshWindow = DefaultFreshWindow
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	s := &Scheduler{
		cfg:       cfg,
		scanner:   deps.Scanner,
		reporter:  deps.Reporter,
		auth:      deps.Auth,
		store:     deps.Store,
		practices: deps.Practices,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		log:       log.Named("scheduler"),
		policy:    initial,
		subs:      make(map[chan Event]struct{}),
	}
	var stored compliance.Policy
	if ok, err := settings.GetJSON(s.store, KeyPolicy, &stored); err != nil {
		s.log.Warn("stored policy unreadable, using bundled policy", zap.Error(err))
	} else if ok {
		s.policy = stored
	}
	return s
}

// Policy returns the policy scans are evaluated against.
func (s *Scheduler) Policy() compliance.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// Start runs a first scan right away and keeps scanning every rescan
// interval until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.log.Info("scheduler started",
		zap.Duration("rescanInterval", s.cfg.RescanInterval),
		zap.Duration("freshWindow", s.cfg.FreshWindow))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.autoScan()
	}()
}

// Stop cancels the pending timer and any running scan, then waits for the
// scan to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) running() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return nil, false
	}
	return s.ctx, s.ctx.Err() == nil
}

func (s *Scheduler) autoScan() {
	ctx, ok := s.running()
	if !ok {
		return
	}
	// A scan already in progress re-arms the timer itself.
	if _, err := s.scan(ctx, TriggerAuto); err != nil && !errors.Is(err, ErrScanInProgress) {
		s.log.Warn("automatic scan failed", zap.Error(err))
	}
}

// rearm schedules the next automatic scan one interval from now.
func (s *Scheduler) rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	var t *clock.Timer
	t = s.clock.AfterFunc(s.cfg.RescanInterval, func() {
		s.mu.Lock()
		if s.timer != t || s.ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()
		s.autoScan()
	})
	s.timer = t
}

// ForceScan scans now regardless of the fresh window.
func (s *Scheduler) ForceScan(ctx context.Context) (Event, error) {
	return s.scan(ctx, TriggerForced)
}

// RequestRescan scans now unless the last scan is still fresh.
func (s *Scheduler) RequestRescan(ctx context.Context) (Event, error) {
	if s.Countdown().Fresh {
		return Event{}, ErrRescanThrottled
	}
	return s.scan(ctx, TriggerManual)
}

// Countdown is the current button state.
func (s *Scheduler) Countdown() Countdown {
	last, err := settings.GetTime(s.store, KeyLastScanTime)
	if err != nil {
		s.log.Warn("last scan time unreadable", zap.Error(err))
	}
	return ComputeCountdown(last, s.clock.Now(), s.cfg.FreshWindow)
}

// State is the persisted schedule, as read back from the settings store.
type State struct {
	LastScanTime       time.Time      `json:"lastScanTime"`
	LastReportTime     time.Time      `json:"lastReportTime"`
	LastPolicySyncTime time.Time      `json:"lastPolicySyncTime"`
	LastReportedResult map[string]any `json:"lastReportedResult,omitempty"`
	Countdown          Countdown      `json:"countdown"`
}

// State reads every schedule field. Unreadable fields are left zero and
// reported together.
func (s *Scheduler) State() (State, error) {
	var (
		st   State
		errs *multierror.Error
		err  error
	)
	if st.LastScanTime, err = settings.GetTime(s.store, KeyLastScanTime); err != nil {
		errs = multierror.Append(errs, err)
	}
	if st.LastReportTime, err = settings.GetTime(s.store, KeyLastReportTime); err != nil {
		errs = multierror.Append(errs, err)
	}
	if st.LastPolicySyncTime, err = settings.GetTime(s.store, KeyLastPolicySyncTime); err != nil {
		errs = multierror.Append(errs, err)
	}
	if _, err = settings.GetJSON(s.store, KeyLastReportedResult, &st.LastReportedResult); err != nil {
		errs = multierror.Append(errs, err)
	}
	st.Countdown = ComputeCountdown(st.LastScanTime, s.clock.Now(), s.cfg.FreshWindow)
	return st, errs.ErrorOrNil()
}

// Subscribe returns a channel of events and a function that ends the
// subscription. Slow subscribers miss events rather than block scans.
func (s *Scheduler) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Scheduler) publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- e:
		default:
			s.log.Debug("subscriber lagging, event dropped")
		}
	}
}

func (s *Scheduler) scan(ctx context.Context, trigger Trigger) (Event, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return Event{}, ErrScanInProgress
	}

	if err := s.SyncPolicy(ctx, false); err != nil {
		s.log.Warn("policy sync failed, keeping current policy", zap.Error(err))
	}

	start := s.clock.Now()
	ev := Event{Trigger: trigger, At: start}
	out, err := s.scanner.Scan(ctx, s.Policy(), scan.Options{SessionID: uuid.NewString()})
	if err != nil {
		s.metrics.ScanFailed()
		ev.Err = err
		s.log.Error("scan failed", zap.String("trigger", string(trigger)), zap.Error(err))
		s.finish(ev)
		return ev, err
	}

	ev.Result = out.Result
	ev.Device = out.Device
	ev.Attempts = out.Attempts
	ev.Took = s.clock.Since(start)
	s.metrics.ScanCompleted(out.Result, out.Attempts, ev.Took)
	if err := settings.SetTime(s.store, KeyLastScanTime, s.clock.Now()); err != nil {
		s.log.Warn("could not persist scan time", zap.Error(err))
	}

	ev.Partition = partition.Compute(out.Result, s.practices, s.cfg.Platform, s.log)

	s.mu.Lock()
	s.last = &lastScan{result: out.Result, device: out.Device}
	s.mu.Unlock()

	s.log.Info("scan complete",
		zap.String("trigger", string(trigger)),
		zap.String("status", string(out.Result.Status)),
		zap.Int("critical", len(ev.Partition.Critical)),
		zap.Int("suggested", len(ev.Partition.Suggested)),
		zap.Int("attempts", out.Attempts))

	if s.auth.Connected() {
		due, err := s.reportDue(out.Result)
		if err != nil {
			s.log.Warn("report decision failed, reporting anyway", zap.Error(err))
			due = true
		}
		if due {
			ev.ReportErr = s.report(ctx, out.Result, out.Device)
			ev.Reported = ev.ReportErr == nil
		}
	}

	s.finish(ev)
	return ev, nil
}

// finish re-arms the automatic scan timer, releases the busy flag and
// publishes ev, in that order, so subscribers observe a settled scheduler.
func (s *Scheduler) finish(ev Event) {
	s.rearm()
	s.busy.Store(false)
	s.publish(ev)
}

func (s *Scheduler) reportDue(result compliance.ScanResult) (bool, error) {
	last, err := settings.GetTime(s.store, KeyLastReportTime)
	if err != nil {
		return false, err
	}
	var prev map[string]any
	if _, err := settings.GetJSON(s.store, KeyLastReportedResult, &prev); err != nil {
		return false, err
	}
	next, err := Flatten(result)
	if err != nil {
		return false, err
	}
	return ShouldReport(last, s.clock.Now(), prev, next), nil
}

// report delivers a result. Only success advances the report state.
func (s *Scheduler) report(ctx context.Context, result compliance.ScanResult, dev *device.Snapshot) error {
	err := s.reporter.ReportDevice(ctx, result, dev)
	s.metrics.Reported(reporting.Outcome(err))
	if err != nil {
		return err
	}
	// The result goes first: a report time without a result would hold back
	// the next report for a day.
	if err := settings.SetJSON(s.store, KeyLastReportedResult, result); err != nil {
		return fmt.Errorf("persist reported result: %w", err)
	}
	if err := settings.SetTime(s.store, KeyLastReportTime, s.clock.Now()); err != nil {
		return fmt.Errorf("persist report time: %w", err)
	}
	return nil
}

// ForceReport delivers the latest result now. It shares the busy flag with
// scans, so it fails with ErrScanInProgress while a scan or another forced
// report runs.
func (s *Scheduler) ForceReport(ctx context.Context) error {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		return ErrNoScanResult
	}
	if !s.auth.Connected() {
		return reporting.ErrNotAuthenticated
	}
	if !s.busy.CompareAndSwap(false, true) {
		return ErrScanInProgress
	}
	err := s.report(ctx, last.result, last.device)
	s.busy.Store(false)
	s.publish(Event{
		Trigger:   TriggerForced,
		At:        s.clock.Now(),
		Result:    last.result,
		Device:    last.device,
		Reported:  err == nil,
		ReportErr: err,
	})
	return err
}

// SyncPolicy refreshes the policy when due, or always when force is set. A
// failed sync keeps the current policy.
func (s *Scheduler) SyncPolicy(ctx context.Context, force bool) error {
	connected := s.auth.Connected()
	if !force {
		last, err := settings.GetTime(s.store, KeyLastPolicySyncTime)
		if err != nil {
			return err
		}
		if !ShouldSyncPolicy(connected, last, s.clock.Now()) {
			return nil
		}
	} else if !connected {
		return reporting.ErrNotAuthenticated
	}

	policy, err := s.reporter.GetPolicy(ctx)
	s.metrics.PolicySynced(reporting.Outcome(err))
	if err != nil {
		return fmt.Errorf("sync policy: %w", err)
	}
	if err := settings.SetJSON(s.store, KeyPolicy, policy); err != nil {
		return fmt.Errorf("persist policy: %w", err)
	}
	if err := settings.SetTime(s.store, KeyLastPolicySyncTime, s.clock.Now()); err != nil {
		return fmt.Errorf("persist policy sync time: %w", err)
	}
	s.mu.Lock()
	s.policy = policy
	s.mu.Unlock()
	s.log.Info("policy synced")
	return nil
}
