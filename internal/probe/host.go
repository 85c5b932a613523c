package probe

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// probeFunc reads one property set natively.
type probeFunc func(ctx context.Context, params Params) (Result, error)

// HostReader answers the portable probes (os, hostname, hardware,
// mac-addresses, process-list) from gopsutil without spawning scripts.
type HostReader struct {
	probes map[string]probeFunc
}

// NewHostReader registers the portable probes.
func NewHostReader() *HostReader {
	h := &HostReader{probes: make(map[string]probeFunc)}
	h.probes["os"] = hostOS
	h.probes["hostname"] = hostName
	h.probes["hardware"] = hostHardware
	h.probes["mac-addresses"] = hostMACAddresses
	h.probes["process-list"] = hostProcessList
	return h
}

// Knows reports whether the reader implements name.
func (h *HostReader) Knows(name string) bool {
	_, ok := h.probes[name]
	return ok
}

// Inspect implements Reader.
func (h *HostReader) Inspect(ctx context.Context, name string, params Params) (Result, error) {
	fn, ok := h.probes[name]
	if !ok {
		return nil, &Error{Probe: name, Err: ErrUnknownProbe}
	}
	res, err := fn(ctx, params)
	if err != nil {
		return nil, &Error{Probe: name, Err: err}
	}
	return res, nil
}

func hostOS(ctx context.Context, _ Params) (Result, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}
	system := map[string]any{
		"platform": info.Platform,
		"version":  info.PlatformVersion,
		"build":    info.KernelVersion,
	}
	if runtime.GOOS == "linux" && info.Platform != "" {
		system["distroId"] = info.Platform
	}
	return Result{"system": system}, nil
}

func hostName(ctx context.Context, _ Params) (Result, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}
	return Result{"system": map[string]any{"hostname": info.Hostname}}, nil
}

func hostHardware(ctx context.Context, _ Params) (Result, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}
	return Result{"system": map[string]any{
		"uuid":            info.HostID,
		"serialNumber":    "",
		"hardwareVersion": info.KernelArch,
		"modelName":       info.PlatformFamily,
	}}, nil
}

func hostMACAddresses(ctx context.Context, _ Params) (Result, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("interfaces: %w", err)
	}
	macs := make([]any, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.HardwareAddr == "" || hasFlag(iface.Flags, "loopback") {
			continue
		}
		macs = append(macs, map[string]any{
			"device": iface.Name,
			"addr":   iface.HardwareAddr,
		})
	}
	return Result{"macAddresses": macs}, nil
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func hostProcessList(ctx context.Context, _ Params) (Result, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("process list: %w", err)
	}
	list := make([]any, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		list = append(list, map[string]any{
			"pid":     float64(p.Pid),
			"appName": name,
		})
	}
	return Result{"processList": list}, nil
}
