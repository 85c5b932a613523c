package compliance

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Requirement says how strictly a boolean check is enforced.
type Requirement string

const (
	RequireAlways      Requirement = "ALWAYS"
	RequireSuggested   Requirement = "SUGGESTED"
	RequireNever       Requirement = "NEVER"
	RequireIfSupported Requirement = "IF_SUPPORTED"
)

// Apply maps a capability fact onto a compliance status under r. An empty
// requirement behaves like ALWAYS.
func (r Requirement) Apply(f Fact) Status {
	switch f {
	case FactUnknown:
		return StatusUnknown
	case FactNudge:
		return StatusNudge
	case FactUnsupported:
		if r == RequireIfSupported {
			return StatusPass
		}
		return StatusUnsupported
	}

	ok := f == FactTrue
	switch r {
	case RequireNever:
		if ok {
			return StatusFail
		}
		return StatusPass
	case RequireSuggested:
		if ok {
			return StatusPass
		}
		return StatusNudge
	default:
		if ok {
			return StatusPass
		}
		return StatusFail
	}
}

// PlatformFilter restricts a policy entry to some platforms. An empty filter
// or one with "all" set applies everywhere.
type PlatformFilter map[string]bool

// Allows reports whether the entry applies to platform.
func (p PlatformFilter) Allows(platform string) bool {
	if len(p) == 0 || p["all"] {
		return true
	}
	return p[platform]
}

// VersionRule holds the acceptable and the tolerated-with-nudge version
// ranges for one platform.
type VersionRule struct {
	OK    string `json:"ok" yaml:"ok"`
	Nudge string `json:"nudge,omitempty" yaml:"nudge,omitempty"`
}

// Provider names an antivirus product the policy accepts.
type Provider struct {
	Name       string         `json:"name" yaml:"name"`
	ExactMatch bool           `json:"exactMatch,omitempty" yaml:"exactMatch,omitempty"`
	Platform   PlatformFilter `json:"platform,omitempty" yaml:"platform,omitempty"`
}

// AntivirusRule is the antivirus section of a policy.
type AntivirusRule struct {
	Requirement Requirement `json:"requirement,omitempty" yaml:"requirement,omitempty"`
	Providers   []Provider  `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// Application is one per-application requirement.
type Application struct {
	Name        string            `json:"name" yaml:"name"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	ExactMatch  bool              `json:"exactMatch,omitempty" yaml:"exactMatch,omitempty"`
	Requirement Requirement       `json:"assertion,omitempty" yaml:"assertion,omitempty"`
	Platform    PlatformFilter    `json:"platform,omitempty" yaml:"platform,omitempty"`
	Paths       map[string]string `json:"paths,omitempty" yaml:"paths,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
}

// PathFor returns the lookup path override for platform, if any.
func (a Application) PathFor(platform string) string {
	if a.Paths == nil {
		return ""
	}
	return a.Paths[platform]
}

// Policy is the organization-supplied device policy. Unset sections are
// not evaluated.
type Policy struct {
	OSVersion          map[string]VersionRule `json:"osVersion,omitempty" yaml:"osVersion,omitempty"`
	DiskEncryption     Requirement            `json:"diskEncryption,omitempty" yaml:"diskEncryption,omitempty"`
	ScreenLock         Requirement            `json:"screenLock,omitempty" yaml:"screenLock,omitempty"`
	ScreenIdle         string                 `json:"screenIdle,omitempty" yaml:"screenIdle,omitempty"`
	Firewall           Requirement            `json:"firewall,omitempty" yaml:"firewall,omitempty"`
	RemoteLogin        Requirement            `json:"remoteLogin,omitempty" yaml:"remoteLogin,omitempty"`
	AutomaticUpdates   Requirement            `json:"automaticUpdates,omitempty" yaml:"automaticUpdates,omitempty"`
	Antivirus          *AntivirusRule         `json:"antivirus,omitempty" yaml:"antivirus,omitempty"`
	Applications       []Application          `json:"applications,omitempty" yaml:"applications,omitempty"`
	StethoscopeVersion string                 `json:"stethoscopeVersion,omitempty" yaml:"stethoscopeVersion,omitempty"`
}

// Empty reports whether no section is set.
func (p Policy) Empty() bool {
	return len(p.OSVersion) == 0 &&
		p.DiskEncryption == "" &&
		p.ScreenLock == "" &&
		p.ScreenIdle == "" &&
		p.Firewall == "" &&
		p.RemoteLogin == "" &&
		p.AutomaticUpdates == "" &&
		p.Antivirus == nil &&
		len(p.Applications) == 0 &&
		p.StethoscopeVersion == ""
}

// ParsePolicy decodes a policy that is either a JSON object or a JSON string
// holding one. Empty input and null yield the empty policy.
func ParsePolicy(data []byte) (Policy, error) {
	data = bytes.TrimSpace(data)
	var p Policy
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return p, nil
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return p, fmt.Errorf("policy string: %w", err)
		}
		if inner == "" {
			return p, nil
		}
		data = []byte(inner)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("policy: %w", err)
	}
	return p, nil
}

// PlatformKey maps a Go GOOS value onto the platform key used by policies
// and practice directions.
func PlatformKey(goos string) string {
	if goos == "windows" {
		return "win32"
	}
	return goos
}
