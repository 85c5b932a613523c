package device

import (
	"github.com/goSprinto/stethoscope-app/internal/compliance"
	"github.com/goSprinto/stethoscope-app/internal/security"
)

// Check names in the order they appear in a scan result.
const (
	CheckOSVersion          = "osVersion"
	CheckDiskEncryption     = "diskEncryption"
	CheckScreenLock         = "screenLock"
	CheckScreenIdle         = "screenIdle"
	CheckFirewall           = "firewall"
	CheckRemoteLogin        = "remoteLogin"
	CheckAutomaticUpdates   = "automaticUpdates"
	CheckAntivirus          = "antivirus"
	CheckApplications       = "applications"
	CheckStethoscopeVersion = "stethoscopeVersion"
)

// Evaluate computes the compliance view of snap under policy. Checks the
// policy does not configure come out null.
func Evaluate(policy compliance.Policy, snap *Snapshot) compliance.ScanResult {
	f := snap.facts()

	requirement := func(name string, req compliance.Requirement, fact compliance.Fact) compliance.Check {
		if req == "" {
			return compliance.NullCheck(name)
		}
		return compliance.ValueCheck(name, req.Apply(fact))
	}

	checks := []compliance.Check{
		osVersionCheck(policy, snap),
		requirement(CheckDiskEncryption, policy.DiskEncryption, f.DiskEncryption),
		requirement(CheckScreenLock, policy.ScreenLock, f.ScreenLock),
		screenIdleCheck(policy, f.ScreenIdle),
		requirement(CheckFirewall, policy.Firewall, f.Firewall),
		requirement(CheckRemoteLogin, policy.RemoteLogin, f.RemoteLogin),
		requirement(CheckAutomaticUpdates, policy.AutomaticUpdates, f.AutomaticUpdates),
		antivirusCheck(policy, f.Antivirus),
		applicationsCheck(policy, snap, f.Applications),
		stethoscopeVersionCheck(policy, snap),
	}
	return compliance.NewScanResult(checks...)
}

func osVersionCheck(policy compliance.Policy, snap *Snapshot) compliance.Check {
	if len(policy.OSVersion) == 0 {
		return compliance.NullCheck(CheckOSVersion)
	}
	rule, ok := policy.OSVersion[snap.DistroName]
	if !ok {
		rule, ok = policy.OSVersion[snap.Platform]
	}
	if !ok {
		return compliance.NullCheck(CheckOSVersion)
	}
	if snap.OSVersion == "" {
		return compliance.ValueCheck(CheckOSVersion, compliance.StatusUnknown)
	}
	if ok, err := compliance.Satisfies(snap.OSVersion, rule.OK); err == nil && ok {
		return compliance.ValueCheck(CheckOSVersion, compliance.StatusPass)
	}
	if rule.Nudge != "" {
		if ok, err := compliance.Satisfies(snap.OSVersion, rule.Nudge); err == nil && ok {
			return compliance.ValueCheck(CheckOSVersion, compliance.StatusNudge)
		}
	}
	return compliance.ValueCheck(CheckOSVersion, compliance.StatusFail)
}

func screenIdleCheck(policy compliance.Policy, fact compliance.Fact) compliance.Check {
	if policy.ScreenIdle == "" {
		return compliance.NullCheck(CheckScreenIdle)
	}
	return compliance.ValueCheck(CheckScreenIdle, compliance.RequireAlways.Apply(fact))
}

func antivirusCheck(policy compliance.Policy, fact compliance.Fact) compliance.Check {
	if policy.Antivirus == nil {
		return compliance.NullCheck(CheckAntivirus)
	}
	return compliance.ValueCheck(CheckAntivirus, policy.Antivirus.Requirement.Apply(fact))
}

func stethoscopeVersionCheck(policy compliance.Policy, snap *Snapshot) compliance.Check {
	if policy.StethoscopeVersion == "" {
		return compliance.NullCheck(CheckStethoscopeVersion)
	}
	ok, err := compliance.Satisfies(snap.StethoscopeVersion, policy.StethoscopeVersion)
	if err != nil {
		return compliance.ValueCheck(CheckStethoscopeVersion, compliance.StatusUnknown)
	}
	if ok {
		return compliance.ValueCheck(CheckStethoscopeVersion, compliance.StatusPass)
	}
	return compliance.ValueCheck(CheckStethoscopeVersion, compliance.StatusFail)
}

// applicationsCheck pairs the adapter's per-application outcomes with the
// policy entries they were produced for, which are the entries allowed on
// this platform in policy order.
func applicationsCheck(policy compliance.Policy, snap *Snapshot, fact compliance.Fact) compliance.Check {
	if len(policy.Applications) == 0 {
		return compliance.NullCheck(CheckApplications)
	}
	switch fact {
	case compliance.FactUnknown:
		return compliance.ValueCheck(CheckApplications, compliance.StatusUnknown)
	case compliance.FactUnsupported:
		return compliance.ValueCheck(CheckApplications, compliance.StatusUnsupported)
	}

	items := []compliance.ItemResult{}
	i := 0
	for _, a := range policy.Applications {
		if !a.Platform.Allows(snap.Platform) {
			continue
		}
		if i >= len(snap.Applications) {
			break
		}
		items = append(items, applicationItem(a.Requirement, snap.Applications[i]))
		i++
	}
	return compliance.ListCheck(CheckApplications, items)
}

func applicationItem(req compliance.Requirement, app security.App) compliance.ItemResult {
	item := compliance.ItemResult{Name: app.Name, Reason: app.Reason, Version: app.Version, Status: compliance.StatusPass}
	switch req {
	case compliance.RequireNever:
		if app.Reason != security.ReasonNotInstalled {
			item.Status = compliance.StatusFail
		} else {
			item.Reason = ""
		}
	case compliance.RequireSuggested:
		if app.Reason != "" {
			item.Status = compliance.StatusNudge
		}
	default:
		if app.Reason != "" {
			item.Status = compliance.StatusFail
		}
	}
	return item
}
