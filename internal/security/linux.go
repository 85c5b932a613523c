package security

import (
	"context"

	"go.uber.org/zap"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
)

// Linux decodes the linux probe scripts. Package managers report installed
// software, so there is no default search path.
type Linux struct {
	base
}

func NewLinux(log *zap.Logger) *Linux {
	return &Linux{base: newBase("linux", log)}
}

func (l *Linux) FriendlyName(ctx context.Context, cc CheckContext) (string, compliance.Fact) {
	res, ok := l.read(ctx, cc, "friendlyName", "hardware", nil)
	if !ok {
		return "", compliance.FactUnknown
	}
	sys := res.Map("system")
	return friendly(sys.String("modelName"), sys.String("hardwareVersion")), compliance.FactTrue
}

func (l *Linux) Disks(ctx context.Context, cc CheckContext) ([]Disk, compliance.Fact) {
	res, ok := l.read(ctx, cc, "disks", "disks", nil)
	if !ok {
		return nil, compliance.FactUnknown
	}
	raw := res.List("disks")
	disks := make([]Disk, 0, len(raw))
	for _, d := range raw {
		name := d.String("name")
		if name == "" {
			name = d.String("label")
		}
		disks = append(disks, Disk{
			Name:      name,
			Label:     d.String("label"),
			UUID:      d.String("uuid"),
			Encrypted: truthy(d["encrypted"]),
		})
	}
	return disks, compliance.FactTrue
}

func (l *Linux) ScreenLockDelay(ctx context.Context, cc CheckContext) int {
	res, ok := l.read(ctx, cc, "screenLockDelay", "screen-lock", nil)
	if !ok {
		return -1
	}
	idle, idleOK := res.Int("idleDelay")
	lock, lockOK := res.Int("lockDelay")
	if !idleOK || !lockOK || lock < 0 || idle <= 0 {
		return -1
	}
	return idle + lock
}

func (l *Linux) Antivirus(ctx context.Context, cc CheckContext) ([]Provider, compliance.Fact) {
	return l.runningProviders(ctx, cc)
}

// flag reads one boolean field of a probe.
func (l *Linux) flag(ctx context.Context, cc CheckContext, capability, name, field string) compliance.Fact {
	res, ok := l.read(ctx, cc, capability, name, nil)
	if !ok || !res.Has(field) {
		return compliance.FactUnknown
	}
	return compliance.FactOf(truthy(res[field]))
}

func (l *Linux) Firewall(ctx context.Context, cc CheckContext) compliance.Fact {
	return l.flag(ctx, cc, "firewall", "firewall", "enabled")
}

func (l *Linux) DiskEncryption(ctx context.Context, cc CheckContext) compliance.Fact {
	return l.flag(ctx, cc, "diskEncryption", "disk-encryption", "encrypted")
}

func (l *Linux) ScreenLock(ctx context.Context, cc CheckContext) compliance.Fact {
	return l.flag(ctx, cc, "screenLock", "screen-lock", "lockEnabled")
}

func (l *Linux) ScreenIdle(ctx context.Context, cc CheckContext) compliance.Fact {
	if lock := l.ScreenLock(ctx, cc); lock != compliance.FactTrue {
		return lock
	}
	return compliance.FactOf(l.delaySatisfies(l.ScreenLockDelay(ctx, cc), cc.Policy.ScreenIdle))
}

func (l *Linux) RemoteLogin(ctx context.Context, cc CheckContext) compliance.Fact {
	return l.flag(ctx, cc, "remoteLogin", "ssh", "running")
}

func (l *Linux) Applications(ctx context.Context, cc CheckContext) ([]App, compliance.Fact) {
	return l.checkApplications(ctx, cc, "", "SEARCH_PATH")
}

func (l *Linux) AutomaticUpdates(ctx context.Context, cc CheckContext) compliance.Fact {
	return l.flag(ctx, cc, "automaticUpdates", "automatic-updates", "enabled")
}

var _ Adapter = (*Linux)(nil)
