package security

import (
	"strings"

	"github.com/goSprinto/stethoscope-app/internal/probe"
)

// Virtual desktops report a server edition as their OS. The platform name
// is rewritten so every capability in the scan sees the same marker.
const (
	WorkspaceMarker   = "Server 2016 Datacenter"
	WorkspacePlatform = "awsWorkspace"
)

// MarkWorkspace rewrites the os probe result of a virtual desktop. It is
// meant to be installed with probe.Session.Rewrite("os", MarkWorkspace).
func MarkWorkspace(res probe.Result) probe.Result {
	system := res.Map("system")
	if system == nil || !strings.Contains(system.String("platform"), WorkspaceMarker) {
		return res
	}
	out := make(probe.Result, len(res))
	for k, v := range res {
		out[k] = v
	}
	sys := make(map[string]any, len(system))
	for k, v := range system {
		sys[k] = v
	}
	sys["platform"] = WorkspacePlatform
	out["system"] = sys
	return out
}

// IsWorkspace reports whether an os probe result was marked as a virtual
// desktop.
func IsWorkspace(res probe.Result) bool {
	return res.Map("system").String("platform") == WorkspacePlatform
}
