// Package security decodes raw probe output into the fixed set of security
// capabilities, one adapter per OS family.
package security

import (
	"context"

	"go.uber.org/zap"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
	"github.com/goSprinto/stethoscope-app/internal/probe"
)

// CheckContext is what every capability receives: where to read probes
// from, the policy in force and the platform key it is evaluated for.
type CheckContext struct {
	Probes   probe.Reader
	Policy   compliance.Policy
	Platform string
}

// Disk is one volume as reported by the disks capability.
type Disk struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	UUID      string `json:"uuid"`
	Encrypted bool   `json:"encrypted"`
}

// Provider is an active antivirus product.
type Provider struct {
	Name string `json:"name"`
}

// Reasons attached to application results.
const (
	ReasonNotInstalled = "NOT_INSTALLED"
	ReasonOutOfDate    = "OUT_OF_DATE"
)

// App is the outcome of checking one policy application.
type App struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Adapter is the capability surface every platform implements. Methods
// never fail: probe errors are logged and turned into FactUnknown or a safe
// default, and capabilities a platform lacks report FactUnsupported.
type Adapter interface {
	Platform() string
	FriendlyName(ctx context.Context, cc CheckContext) (string, compliance.Fact)
	Disks(ctx context.Context, cc CheckContext) ([]Disk, compliance.Fact)
	ScreenLockDelay(ctx context.Context, cc CheckContext) int
	Antivirus(ctx context.Context, cc CheckContext) ([]Provider, compliance.Fact)
	Firewall(ctx context.Context, cc CheckContext) compliance.Fact
	DiskEncryption(ctx context.Context, cc CheckContext) compliance.Fact
	ScreenLock(ctx context.Context, cc CheckContext) compliance.Fact
	ScreenIdle(ctx context.Context, cc CheckContext) compliance.Fact
	RemoteLogin(ctx context.Context, cc CheckContext) compliance.Fact
	Applications(ctx context.Context, cc CheckContext) ([]App, compliance.Fact)
	AutomaticUpdates(ctx context.Context, cc CheckContext) compliance.Fact
}

// Unsupported answers UNSUPPORTED for every capability. Platform adapters
// embed it and override what they implement.
type Unsupported struct {
	Name string
}

func (u Unsupported) Platform() string { return u.Name }

func (Unsupported) FriendlyName(context.Context, CheckContext) (string, compliance.Fact) {
	return string(compliance.StatusUnsupported), compliance.FactUnsupported
}

func (Unsupported) Disks(context.Context, CheckContext) ([]Disk, compliance.Fact) {
	return nil, compliance.FactUnsupported
}

func (Unsupported) ScreenLockDelay(context.Context, CheckContext) int { return -1 }

func (Unsupported) Antivirus(context.Context, CheckContext) ([]Provider, compliance.Fact) {
	return []Provider{}, compliance.FactUnsupported
}

func (Unsupported) Firewall(context.Context, CheckContext) compliance.Fact {
	return compliance.FactUnsupported
}

func (Unsupported) DiskEncryption(context.Context, CheckContext) compliance.Fact {
	return compliance.FactUnsupported
}

func (Unsupported) ScreenLock(context.Context, CheckContext) compliance.Fact {
	return compliance.FactUnsupported
}

func (Unsupported) ScreenIdle(context.Context, CheckContext) compliance.Fact {
	return compliance.FactUnsupported
}

func (Unsupported) RemoteLogin(context.Context, CheckContext) compliance.Fact {
	return compliance.FactUnsupported
}

func (Unsupported) Applications(context.Context, CheckContext) ([]App, compliance.Fact) {
	return nil, compliance.FactUnsupported
}

func (Unsupported) AutomaticUpdates(context.Context, CheckContext) compliance.Fact {
	return compliance.FactUnsupported
}

// ForPlatform picks the adapter for a GOOS value.
func ForPlatform(goos string, log *zap.Logger) Adapter {
	switch goos {
	case "windows":
		return NewWindows(log)
	case "darwin":
		return NewMac(log)
	case "linux":
		return NewLinux(log)
	default:
		return Unsupported{Name: goos}
	}
}
