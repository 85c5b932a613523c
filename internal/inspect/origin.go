package inspect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goSprinto/stethoscope-app/internal/config"
)

// AppOrigin is the origin the desktop app and the agent's own scan client
// send.
const AppOrigin = "drsprinto://main"

// DefaultLabel names the app itself as the requester.
const DefaultLabel = "DrSprinto"

// appOriginPrefixes may call the app-only endpoints.
var appOriginPrefixes = []string{"drsprinto://", "http://localhost:", "http://127.0.0.1:"}

type hostLabel struct {
	re   *regexp.Regexp
	name string
}

// OriginPolicy decides which web origins may request scans.
type OriginPolicy struct {
	DevMode    bool
	allowHosts map[string]bool
	labels     []hostLabel
}

// NewOriginPolicy compiles the configured host labels.
func NewOriginPolicy(devMode bool, allowHosts []string, labels []config.HostLabel) (*OriginPolicy, error) {
	p := &OriginPolicy{DevMode: devMode, allowHosts: make(map[string]bool, len(allowHosts))}
	for _, h := range allowHosts {
		p.allowHosts[h] = true
	}
	for _, l := range labels {
		re, err := regexp.Compile(l.Pattern)
		if err != nil {
			return nil, fmt.Errorf("host label %q: %w", l.Pattern, err)
		}
		p.labels = append(p.labels, hostLabel{re: re, name: l.Name})
	}
	return p, nil
}

// IsApp reports whether origin belongs to the local app.
func IsApp(origin string) bool {
	for _, prefix := range appOriginPrefixes {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// Allowed reports whether origin may request a scan.
func (p *OriginPolicy) Allowed(origin string) bool {
	if p.DevMode || origin == AppOrigin {
		return true
	}
	if origin == "" {
		return false
	}
	if p.allowHosts[origin] {
		return true
	}
	for _, l := range p.labels {
		if l.re.MatchString(origin) {
			return true
		}
	}
	return false
}

// Label is the name shown as the party that requested a scan.
func (p *OriginPolicy) Label(origin string) string {
	if origin == AppOrigin {
		return DefaultLabel
	}
	for _, l := range p.labels {
		if l.re.MatchString(origin) {
			return l.name
		}
	}
	return DefaultLabel
}
