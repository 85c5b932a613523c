package security

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
)

// DefaultWindowsAppPath is searched for installed applications unless a
// policy entry names its own registry path.
const DefaultWindowsAppPath = `HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`

// Windows decodes the WMI and registry probes.
type Windows struct {
	base
}

func NewWindows(log *zap.Logger) *Windows {
	return &Windows{base: newBase("win32", log)}
}

func (w *Windows) workspace(ctx context.Context, cc CheckContext) bool {
	res, ok := w.read(ctx, cc, "os", "os", nil)
	return ok && IsWorkspace(res)
}

func (w *Windows) FriendlyName(ctx context.Context, cc CheckContext) (string, compliance.Fact) {
	res, ok := w.read(ctx, cc, "friendlyName", "hardware", nil)
	if !ok {
		return "", compliance.FactUnknown
	}
	return res.Map("system").String("hardwareVersion"), compliance.FactTrue
}

// ScreenLockDelay prefers the user's screensaver timeout and falls back to
// the group policy one when the user never set it.
func (w *Windows) ScreenLockDelay(ctx context.Context, cc CheckContext) int {
	lock, ok := w.read(ctx, cc, "screenLockDelay", "screensaver", nil)
	if !ok {
		return -1
	}
	delay, ok := lock.Int("screenlockDelay")
	if !ok {
		delay = -1
	}
	if delay == -1 {
		if pol, ok := w.read(ctx, cc, "screenLockDelay", "screensaver-policy", nil); ok {
			if n, ok := pol.Int("screenSaveTimeout"); ok {
				delay = n
			}
		}
	}
	if delay <= 0 {
		return -1
	}
	return delay
}

// productActive decodes a Security Center productState: rendered as six
// hex digits, the third one is 1 when real-time protection is on.
func productActive(state int) bool {
	s := fmt.Sprintf("%06x", state)
	return len(s) >= 3 && s[2] == '1'
}

func (w *Windows) Antivirus(ctx context.Context, cc CheckContext) ([]Provider, compliance.Fact) {
	res, ok := w.read(ctx, cc, "antivirus", "antivirus", nil)
	if !ok {
		return []Provider{}, compliance.FactUnknown
	}

	var active []string
	for _, p := range res.List("antivirusProducts") {
		state, ok := p.Int("productState")
		if ok && productActive(state) {
			active = append(active, p.String("name"))
		}
	}

	out := []Provider{}
	wanted := providersFor(cc)
	if len(wanted) == 0 {
		for _, name := range active {
			out = append(out, Provider{Name: name})
		}
		return out, compliance.FactOf(len(out) > 0)
	}
	for _, name := range active {
		for _, p := range wanted {
			if nameMatcher(p.Name, p.ExactMatch)(name) {
				out = append(out, Provider{Name: name})
				break
			}
		}
	}
	return out, compliance.FactOf(len(out) > 0)
}

func (w *Windows) Firewall(ctx context.Context, cc CheckContext) compliance.Fact {
	res, ok := w.read(ctx, cc, "firewall", "firewall", nil)
	if !ok {
		return compliance.FactUnknown
	}
	profiles := res.List("firewalls")
	if len(profiles) == 0 {
		return compliance.FactUnknown
	}
	for _, p := range profiles {
		if p.String("status") != "ON" {
			return compliance.FactFalse
		}
	}
	return compliance.FactTrue
}

func (w *Windows) DiskEncryption(ctx context.Context, cc CheckContext) compliance.Fact {
	if w.workspace(ctx, cc) {
		return passingFact(cc.Policy.DiskEncryption)
	}
	res, ok := w.read(ctx, cc, "diskEncryption", "bitlocker", nil)
	if !ok {
		return compliance.FactUnknown
	}
	return compliance.FactOf(res.String("bitlockerStatus") == "ON")
}

type screenSaver struct {
	enabled bool
	delay   int

	policyEnabled bool
	policyDelay   int
}

func (w *Windows) screenSaver(ctx context.Context, cc CheckContext, capability string) (screenSaver, bool) {
	lock, ok := w.read(ctx, cc, capability, "screensaver", nil)
	if !ok {
		return screenSaver{}, false
	}
	s := screenSaver{
		enabled: lock.String("screensaverEnabled") == "True" && lock.String("screenlockEnabled") == "True",
		delay:   -1,
	}
	if n, ok := lock.Int("screenlockDelay"); ok {
		s.delay = n
	}
	if pol, ok := w.read(ctx, cc, capability, "screensaver-policy", nil); ok {
		active, _ := pol.Int("screenSaveActive")
		secure, _ := pol.Int("screenSaverIsSecure")
		s.policyEnabled = active == 1 && secure == 1
		s.policyDelay, _ = pol.Int("screenSaveTimeout")
	}
	return s, true
}

func (w *Windows) ScreenLock(ctx context.Context, cc CheckContext) compliance.Fact {
	if w.workspace(ctx, cc) {
		return compliance.FactUnknown
	}
	s, ok := w.screenSaver(ctx, cc, "screenLock")
	if !ok {
		return compliance.FactUnknown
	}
	return compliance.FactOf(s.enabled || s.policyEnabled)
}

func (w *Windows) ScreenIdle(ctx context.Context, cc CheckContext) compliance.Fact {
	s, ok := w.screenSaver(ctx, cc, "screenIdle")
	if !ok {
		return compliance.FactUnknown
	}
	user := s.enabled && w.delaySatisfies(s.delay, cc.Policy.ScreenIdle)
	managed := s.policyEnabled && w.delaySatisfies(s.policyDelay, cc.Policy.ScreenIdle)
	return compliance.FactOf(user || managed)
}

func (w *Windows) RemoteLogin(ctx context.Context, cc CheckContext) compliance.Fact {
	if w.workspace(ctx, cc) {
		return passingFact(cc.Policy.RemoteLogin)
	}
	res, ok := w.read(ctx, cc, "remoteLogin", "remote-desktop", nil)
	if !ok {
		return compliance.FactUnknown
	}
	return compliance.FactOf(res.Map("sharingPreferences").String("remoteDesktopDisabled") != "1")
}

func (w *Windows) Applications(ctx context.Context, cc CheckContext) ([]App, compliance.Fact) {
	return w.checkApplications(ctx, cc, DefaultWindowsAppPath, "REGISTRY_PATH")
}

func (w *Windows) AutomaticUpdates(ctx context.Context, cc CheckContext) compliance.Fact {
	res, ok := w.read(ctx, cc, "automaticUpdates", "automatic-updates", nil)
	if !ok {
		return compliance.FactUnknown
	}
	level, ok := res.Int("automaticUpdatesNotificationLevel")
	if !ok {
		return compliance.FactUnknown
	}
	return compliance.FactOf(level > 1)
}

var _ Adapter = (*Windows)(nil)
