package device

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
	"github.com/goSprinto/stethoscope-app/internal/probe"
	"github.com/goSprinto/stethoscope-app/internal/security"
)

// Resolver builds device snapshots through a platform adapter.
type Resolver struct {
	adapter  security.Adapter
	reader   probe.Reader
	failures probe.FailureRecorder
	version  string
	log      *zap.Logger
}

// NewResolver returns a resolver for the given adapter. version is the
// running agent version reported as stethoscopeVersion. failures may be nil.
func NewResolver(adapter security.Adapter, reader probe.Reader, version string, failures probe.FailureRecorder, log *zap.Logger) *Resolver {
	return &Resolver{
		adapter:  adapter,
		reader:   reader,
		failures: failures,
		version:  version,
		log:      log.Named("device"),
	}
}

// Platform is the platform key snapshots are resolved for.
func (r *Resolver) Platform() string { return r.adapter.Platform() }

// Resolve inspects the device once. All capabilities run concurrently over
// a shared probe session, so each probe executes at most once per call.
// Capability failures degrade to UNKNOWN; only cancellation is an error.
func (r *Resolver) Resolve(ctx context.Context, policy compliance.Policy) (*Snapshot, error) {
	session := probe.NewSession(r.reader, r.log, r.failures)
	session.Rewrite("os", security.MarkWorkspace)

	cc := security.CheckContext{Probes: session, Policy: policy, Platform: r.adapter.Platform()}
	snap := &Snapshot{
		Platform:           cc.Platform,
		StethoscopeVersion: r.version,
	}
	facts := &snap.Facts

	var (
		mu       sync.Mutex
		hardware probe.Result
		osInfo   probe.Result
	)

	g, gctx := errgroup.WithContext(ctx)
	run := func(fn func(context.Context)) {
		g.Go(func() error {
			fn(gctx)
			return gctx.Err()
		})
	}

	run(func(ctx context.Context) {
		res, err := session.Inspect(ctx, "hardware", nil)
		if err != nil {
			return
		}
		mu.Lock()
		hardware = res
		mu.Unlock()
	})
	run(func(ctx context.Context) {
		res, err := session.Inspect(ctx, "os", nil)
		if err != nil {
			return
		}
		mu.Lock()
		osInfo = res
		mu.Unlock()
	})
	run(func(ctx context.Context) {
		if res, err := session.Inspect(ctx, "hostname", nil); err == nil {
			snap.DeviceName = res.Map("system").String("hostname")
		}
	})
	run(func(ctx context.Context) {
		if res, err := session.Inspect(ctx, "mac-addresses", nil); err == nil {
			snap.MACAddresses = FilterMACs(res)
		} else {
			snap.MACAddresses = []MACAddress{}
		}
	})
	run(func(ctx context.Context) {
		snap.FriendlyName, _ = r.adapter.FriendlyName(ctx, cc)
	})
	run(func(ctx context.Context) {
		snap.Disks, _ = r.adapter.Disks(ctx, cc)
	})
	run(func(ctx context.Context) {
		snap.ScreenLockDelay = r.adapter.ScreenLockDelay(ctx, cc)
	})
	run(func(ctx context.Context) {
		providers, fact := r.adapter.Antivirus(ctx, cc)
		if providers == nil {
			providers = []security.Provider{}
		}
		facts.Antivirus = fact
		snap.Security.Antivirus = Antivirus{Status: compliance.ToDeviceStatus(fact), ActiveProviders: providers}
	})
	run(func(ctx context.Context) {
		facts.Firewall = r.adapter.Firewall(ctx, cc)
		snap.Security.Firewall = compliance.ToDeviceStatus(facts.Firewall)
	})
	run(func(ctx context.Context) {
		facts.DiskEncryption = r.adapter.DiskEncryption(ctx, cc)
		snap.Security.DiskEncryption = compliance.ToDeviceStatus(facts.DiskEncryption)
	})
	run(func(ctx context.Context) {
		facts.ScreenLock = r.adapter.ScreenLock(ctx, cc)
		snap.Security.ScreenLock = compliance.ToDeviceStatus(facts.ScreenLock)
	})
	run(func(ctx context.Context) {
		facts.ScreenIdle = r.adapter.ScreenIdle(ctx, cc)
		snap.Security.ScreenIdle = compliance.ToPassFail(facts.ScreenIdle)
	})
	run(func(ctx context.Context) {
		facts.RemoteLogin = r.adapter.RemoteLogin(ctx, cc)
		snap.Security.RemoteLogin = compliance.ToDeviceStatus(facts.RemoteLogin)
	})
	run(func(ctx context.Context) {
		facts.AutomaticUpdates = r.adapter.AutomaticUpdates(ctx, cc)
		snap.Security.AutomaticUpdates = compliance.ToDeviceStatus(facts.AutomaticUpdates)
	})
	run(func(ctx context.Context) {
		snap.Applications, facts.Applications = r.adapter.Applications(ctx, cc)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sys := osInfo.Map("system")
	snap.PlatformName = sys.String("platform")
	snap.OSName = sys.String("platform")
	snap.OSBuild = sys.String("build")
	version := sys.String("version")
	if version == "" {
		version = sys.String("lsb_version")
	}
	if version != "" {
		snap.OSVersion = compliance.NormalizeOSVersion(version)
	}
	snap.DistroName = sys.String("distroId")
	if snap.DistroName == "" {
		snap.DistroName = snap.Platform
	}

	hw := hardware.Map("system")
	snap.SerialNumber = hw.String("serialNumber")
	snap.HardwareSerial = hw.String("serialNumber")
	snap.HardwareModel = hw.String("hardwareVersion")
	snap.FirmwareVersion = hw.String("firmwareVersion")
	snap.DeviceID = DeviceID(snap.Platform, hardware, snap.MACAddresses)

	facts.resolved = true
	r.log.Debug("device resolved",
		zap.String("deviceId", snap.DeviceID),
		zap.String("osVersion", snap.OSVersion))
	return snap, nil
}
