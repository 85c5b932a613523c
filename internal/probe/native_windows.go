//go:build windows

package probe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goSprinto/stethoscope-app/internal/wmi"
)

const (
	desktopKey       = `Control Panel\Desktop`
	desktopPolicyKey = `Software\Policies\Microsoft\Windows\Control Panel\Desktop`
	firewallKey      = `SYSTEM\CurrentControlSet\Services\SharedAccess\Parameters\FirewallPolicy`
	firewallPolicy   = `SOFTWARE\Policies\Microsoft\WindowsFirewall`
	updatePolicyKey  = `SOFTWARE\Policies\Microsoft\Windows\WindowsUpdate\AU`
	terminalKey      = `SYSTEM\CurrentControlSet\Control\Terminal Server`
	cryptographyKey  = `SOFTWARE\Microsoft\Cryptography`
)

func registerNative(probes map[string]probeFunc) {
	probes["os"] = winOS
	probes["hardware"] = winHardware
	probes["antivirus"] = winAntivirus
	probes["bitlocker"] = winBitLocker
	probes["firewall"] = winFirewall
	probes["screensaver"] = winScreensaver
	probes["screensaver-policy"] = winScreensaverPolicy
	probes["automatic-updates"] = winAutomaticUpdates
	probes["remote-desktop"] = winRemoteDesktop
	probes["apps"] = winApps
}

func winOS(ctx context.Context, _ Params) (Result, error) {
	osInfo, err := wmi.QuerySingle(ctx, `root\CIMV2`, "SELECT Caption, Version, BuildNumber FROM Win32_OperatingSystem")
	if err != nil {
		return nil, err
	}
	caption, _ := wmi.GetPropertyString(osInfo, "Caption")
	version, _ := wmi.GetPropertyString(osInfo, "Version")
	build, _ := wmi.GetPropertyString(osInfo, "BuildNumber")
	return Result{"system": map[string]any{
		"platform": strings.TrimSpace(caption),
		"version":  version,
		"build":    build,
	}}, nil
}

func winHardware(ctx context.Context, _ Params) (Result, error) {
	system := map[string]any{}

	if guid, err := wmi.ReadString(wmi.LocalMachine, cryptographyKey, "MachineGuid"); err == nil {
		system["machineGuid"] = guid
	}
	if product, err := wmi.QuerySingle(ctx, `root\CIMV2`, "SELECT UUID FROM Win32_ComputerSystemProduct"); err == nil {
		system["uuid"], _ = wmi.GetPropertyString(product, "UUID")
	}
	if bios, err := wmi.QuerySingle(ctx, `root\CIMV2`, "SELECT SerialNumber, SMBIOSBIOSVersion FROM Win32_BIOS"); err == nil {
		system["serialNumber"], _ = wmi.GetPropertyString(bios, "SerialNumber")
		system["firmwareVersion"], _ = wmi.GetPropertyString(bios, "SMBIOSBIOSVersion")
	}
	cs, err := wmi.QuerySingle(ctx, `root\CIMV2`, "SELECT Manufacturer, Model FROM Win32_ComputerSystem")
	if err != nil {
		if len(system) == 0 {
			return nil, err
		}
	} else {
		system["hardwareVersion"], _ = wmi.GetPropertyString(cs, "Model")
		system["modelName"], _ = wmi.GetPropertyString(cs, "Manufacturer")
	}
	return Result{"system": system}, nil
}

// winAntivirus lists registered products from Security Center. productState
// is passed through untouched; decoding it is the adapter's job.
func winAntivirus(ctx context.Context, _ Params) (Result, error) {
	products, err := wmi.Query(ctx, `root\SecurityCenter2`, "SELECT displayName, productState FROM AntiVirusProduct")
	if err != nil {
		return nil, err
	}
	list := make([]any, 0, len(products))
	for _, p := range products {
		name, _ := wmi.GetPropertyString(p, "displayName")
		state, _ := wmi.GetPropertyInt(p, "productState")
		list = append(list, map[string]any{
			"name":         name,
			"productState": float64(state),
		})
	}
	return Result{"antivirusProducts": list}, nil
}

func winBitLocker(ctx context.Context, _ Params) (Result, error) {
	volumes, err := wmi.Query(ctx,
		`root\CIMV2\Security\MicrosoftVolumeEncryption`,
		"SELECT DriveLetter, ProtectionStatus FROM Win32_EncryptableVolume WHERE DriveLetter = 'C:'",
	)
	if err != nil {
		return nil, err
	}
	status := "OFF"
	if len(volumes) > 0 {
		// ProtectionStatus: 0=Off, 1=On, 2=Unknown
		if ps, ok := wmi.GetPropertyInt(volumes[0], "ProtectionStatus"); ok && ps == 1 {
			status = "ON"
		}
	}
	return Result{"bitlockerStatus": status}, nil
}

// winFirewall reports each profile. A group policy value wins over the local
// setting; a profile with neither is UNKNOWN.
func winFirewall(ctx context.Context, _ Params) (Result, error) {
	profiles := []struct{ name, local, policy string }{
		{"Domain", `\DomainProfile`, `\DomainProfile`},
		{"Private", `\StandardProfile`, `\PrivateProfile`},
		{"Public", `\PublicProfile`, `\PublicProfile`},
	}
	list := make([]any, 0, len(profiles))
	readable := 0
	for _, p := range profiles {
		status := "UNKNOWN"
		v, err := wmi.ReadDWORD(wmi.LocalMachine, firewallPolicy+p.policy, "EnableFirewall")
		if err != nil {
			v, err = wmi.ReadDWORD(wmi.LocalMachine, firewallKey+p.local, "EnableFirewall")
		}
		if err == nil {
			readable++
			status = "OFF"
			if v == 1 {
				status = "ON"
			}
		}
		list = append(list, map[string]any{"name": p.name, "status": status})
	}
	if readable == 0 {
		return nil, errors.New("no firewall profile readable")
	}
	return Result{"firewalls": list}, nil
}

func titleBool(ok bool) string {
	if ok {
		return "True"
	}
	return "False"
}

func winScreensaver(ctx context.Context, _ Params) (Result, error) {
	active, err := wmi.ReadString(wmi.CurrentUser, desktopKey, "ScreenSaveActive")
	if err != nil {
		return nil, err
	}
	secure, _ := wmi.ReadString(wmi.CurrentUser, desktopKey, "ScreenSaverIsSecure")
	exe, _ := wmi.ReadString(wmi.CurrentUser, desktopKey, "SCRNSAVE.EXE")

	delay := -1
	if timeout, err := wmi.ReadString(wmi.CurrentUser, desktopKey, "ScreenSaveTimeOut"); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(timeout)); err == nil && n > 0 {
			delay = n
		}
	}
	enabled := active == "1" && exe != ""
	return Result{
		"screensaverEnabled": titleBool(enabled),
		"screenlockEnabled":  titleBool(enabled && secure == "1"),
		"screenlockDelay":    strconv.Itoa(delay),
	}, nil
}

func winScreensaverPolicy(ctx context.Context, _ Params) (Result, error) {
	active, err := wmi.ReadString(wmi.CurrentUser, desktopPolicyKey, "ScreenSaveActive")
	if err != nil {
		return nil, err
	}
	secure, _ := wmi.ReadString(wmi.CurrentUser, desktopPolicyKey, "ScreenSaverIsSecure")
	timeout, _ := wmi.ReadString(wmi.CurrentUser, desktopPolicyKey, "ScreenSaveTimeOut")
	return Result{
		"screenSaveActive":    active,
		"screenSaverIsSecure": secure,
		"screenSaveTimeout":   timeout,
	}, nil
}

// winAutomaticUpdates reports the Windows Update notification level
// (1 = disabled, 2 = notify, 3 = auto download, 4 = scheduled install).
// Without a policy, Windows 10 and later install automatically.
func winAutomaticUpdates(ctx context.Context, _ Params) (Result, error) {
	level := uint64(4)
	if off, err := wmi.ReadDWORD(wmi.LocalMachine, updatePolicyKey, "NoAutoUpdate"); err == nil && off == 1 {
		level = 1
	} else if opt, err := wmi.ReadDWORD(wmi.LocalMachine, updatePolicyKey, "AUOptions"); err == nil {
		level = opt
	}
	return Result{"automaticUpdatesNotificationLevel": float64(level)}, nil
}

func winRemoteDesktop(ctx context.Context, _ Params) (Result, error) {
	deny, err := wmi.ReadDWORD(wmi.LocalMachine, terminalKey, "fDenyTSConnections")
	if err != nil {
		return nil, err
	}
	return Result{"sharingPreferences": map[string]any{
		"remoteDesktopDisabled": strconv.FormatUint(deny, 10),
	}}, nil
}

// winApps enumerates an uninstall registry path given as REGISTRY_PATH,
// e.g. HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall.
func winApps(ctx context.Context, params Params) (Result, error) {
	hive, path, err := splitRegistryPath(params["REGISTRY_PATH"])
	if err != nil {
		return nil, err
	}
	keys, err := wmi.SubKeys(hive, path)
	if err != nil {
		return nil, err
	}
	apps := make([]any, 0, len(keys))
	for _, k := range keys {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name, err := wmi.ReadString(hive, path+`\`+k, "DisplayName")
		if err != nil || name == "" {
			continue
		}
		version, _ := wmi.ReadString(hive, path+`\`+k, "DisplayVersion")
		apps = append(apps, map[string]any{"name": name, "version": version})
	}
	return Result{"apps": apps}, nil
}

func splitRegistryPath(full string) (wmi.Hive, string, error) {
	full = strings.TrimSpace(full)
	root, rest, ok := strings.Cut(full, `\`)
	if !ok || rest == "" {
		return 0, "", fmt.Errorf("registry path %q has no hive", full)
	}
	switch strings.ToUpper(root) {
	case "HKLM", "HKEY_LOCAL_MACHINE":
		return wmi.LocalMachine, rest, nil
	case "HKCU", "HKEY_CURRENT_USER":
		return wmi.CurrentUser, rest, nil
	}
	return 0, "", fmt.Errorf("registry path %q: unsupported hive %s", full, root)
}
