package security

import (
	"context"

	"go.uber.org/zap"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
)

// DefaultMacAppPath is where application bundles are searched.
const DefaultMacAppPath = "/Applications"

// Mac decodes the macOS probe scripts.
type Mac struct {
	base
}

func NewMac(log *zap.Logger) *Mac {
	return &Mac{base: newBase("darwin", log)}
}

func (m *Mac) FriendlyName(ctx context.Context, cc CheckContext) (string, compliance.Fact) {
	res, ok := m.read(ctx, cc, "friendlyName", "hardware", nil)
	if !ok {
		return "", compliance.FactUnknown
	}
	sys := res.Map("system")
	return friendly(sys.String("modelName"), sys.String("hardwareVersion")), compliance.FactTrue
}

// Disks lists volumes. FileVault state applies to the boot volume, which
// the disks probe lists first.
func (m *Mac) Disks(ctx context.Context, cc CheckContext) ([]Disk, compliance.Fact) {
	res, ok := m.read(ctx, cc, "disks", "disks", nil)
	if !ok {
		return nil, compliance.FactUnknown
	}
	vault, vaultOK := m.read(ctx, cc, "disks", "file-vault", nil)

	raw := res.List("disks")
	disks := make([]Disk, 0, len(raw))
	for i, d := range raw {
		disk := Disk{
			Name:      d.String("label"),
			Label:     d.String("label"),
			UUID:      d.String("uuid"),
			Encrypted: truthy(d["encrypted"]),
		}
		if i == 0 && vaultOK {
			disk.Encrypted = vault.String("fileVaultEnabled") == "true"
		}
		disks = append(disks, disk)
	}
	return disks, compliance.FactTrue
}

func (m *Mac) screenDelays(ctx context.Context, cc CheckContext, capability string) (idle, lock int, ok bool) {
	res, ok := m.read(ctx, cc, capability, "screen-lock", nil)
	if !ok {
		return 0, 0, false
	}
	screen := res.Map("screen")
	idle, idleOK := screen.Int("idleDelay")
	lock, lockOK := screen.Int("lockDelay")
	if !idleOK {
		idle = -1
	}
	if !lockOK {
		lock = -1
	}
	return idle, lock, true
}

// ScreenLockDelay is the time from the last input until the screen locks:
// the idle delay before the screensaver plus the lock delay after it. An
// idle delay of 0 means never and -1 means never set.
func (m *Mac) ScreenLockDelay(ctx context.Context, cc CheckContext) int {
	idle, lock, ok := m.screenDelays(ctx, cc, "screenLockDelay")
	if !ok || lock < 0 || idle <= 0 {
		return -1
	}
	return idle + lock
}

func (m *Mac) Antivirus(ctx context.Context, cc CheckContext) ([]Provider, compliance.Fact) {
	return m.runningProviders(ctx, cc)
}

func (m *Mac) Firewall(ctx context.Context, cc CheckContext) compliance.Fact {
	res, ok := m.read(ctx, cc, "firewall", "firewall", nil)
	if !ok {
		return compliance.FactUnknown
	}
	state, ok := res.Int("state")
	if !ok {
		return compliance.FactUnknown
	}
	return compliance.FactOf(state > 0)
}

func (m *Mac) DiskEncryption(ctx context.Context, cc CheckContext) compliance.Fact {
	res, ok := m.read(ctx, cc, "diskEncryption", "file-vault", nil)
	if !ok {
		return compliance.FactUnknown
	}
	return compliance.FactOf(res.String("fileVaultEnabled") == "true")
}

func (m *Mac) ScreenLock(ctx context.Context, cc CheckContext) compliance.Fact {
	idle, lock, ok := m.screenDelays(ctx, cc, "screenLock")
	if !ok {
		return compliance.FactUnknown
	}
	return compliance.FactOf(lock >= 0 && idle != 0)
}

func (m *Mac) ScreenIdle(ctx context.Context, cc CheckContext) compliance.Fact {
	delay := m.ScreenLockDelay(ctx, cc)
	if delay < 0 {
		if _, _, ok := m.screenDelays(ctx, cc, "screenIdle"); !ok {
			return compliance.FactUnknown
		}
		return compliance.FactFalse
	}
	return compliance.FactOf(m.delaySatisfies(delay, cc.Policy.ScreenIdle))
}

func (m *Mac) RemoteLogin(ctx context.Context, cc CheckContext) compliance.Fact {
	res, ok := m.read(ctx, cc, "remoteLogin", "remote-login", nil)
	if !ok {
		return compliance.FactUnknown
	}
	return compliance.FactOf(truthy(res["remoteLogin"]))
}

func (m *Mac) Applications(ctx context.Context, cc CheckContext) ([]App, compliance.Fact) {
	return m.checkApplications(ctx, cc, DefaultMacAppPath, "SEARCH_PATH")
}

func (m *Mac) AutomaticUpdates(ctx context.Context, cc CheckContext) compliance.Fact {
	res, ok := m.read(ctx, cc, "automaticUpdates", "automatic-updates", nil)
	if !ok {
		return compliance.FactUnknown
	}
	return compliance.FactOf(truthy(res["automaticUpdates"]))
}

var _ Adapter = (*Mac)(nil)
