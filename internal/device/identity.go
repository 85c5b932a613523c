package device

import (
	"net"
	"strings"

	"github.com/goSprinto/stethoscope-app/internal/probe"
)

// placeholderMACs are addresses handed out to virtual or not yet configured
// adapters. They are shared by many machines and identify nothing.
var placeholderMACs = map[string]bool{
	"02:00:00:00:00:00": true,
	"ac:de:48:00:11:22": true, // macOS Touch Bar / iBridge
}

// dockerPrefix is the locally administered range used for docker bridges.
const dockerPrefix = "02:42:"

// IsLocal reports loopback and unset addresses.
func IsLocal(mac string) bool {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return true
	}
	for _, b := range hw {
		if b != 0 {
			return false
		}
	}
	return true
}

// IsMulticast reports group addresses, broadcast included.
func IsMulticast(mac string) bool {
	hw, err := net.ParseMAC(mac)
	if err != nil || len(hw) == 0 {
		return false
	}
	return hw[0]&0x01 == 0x01
}

// IsPlaceholder reports well-known shared addresses.
func IsPlaceholder(mac string) bool {
	m := strings.ToLower(mac)
	return placeholderMACs[m] || strings.HasPrefix(m, dockerPrefix)
}

// FilterMACs turns the mac-addresses probe output into reportable
// interfaces.
func FilterMACs(res probe.Result) []MACAddress {
	out := []MACAddress{}
	for _, m := range res.List("macAddresses") {
		addr := strings.ToLower(m.String("addr"))
		if addr == "" || IsLocal(addr) || IsMulticast(addr) || IsPlaceholder(addr) {
			continue
		}
		out = append(out, MACAddress{
			Interface:       m.String("device"),
			MAC:             addr,
			PhysicalAdapter: true,
			Type:            6,
		})
	}
	return out
}

// DeviceID derives a stable identifier from the hardware probe. Windows
// machine GUIDs and SMBIOS UUIDs are both known to collide on cloned
// images, so all three identifiers are combined there. When the hardware
// gives nothing, the reportable MAC addresses stand in.
func DeviceID(platform string, hardware probe.Result, macs []MACAddress) string {
	sys := hardware.Map("system")
	var id string
	if platform == "win32" {
		parts := []string{sys.String("machineGuid"), sys.String("uuid"), sys.String("serialNumber")}
		if strings.Join(parts, "") != "" {
			id = strings.Join(parts, "|")
		}
	} else {
		id = sys.String("uuid")
	}
	if id != "" {
		return id
	}
	var b strings.Builder
	for _, m := range macs {
		b.WriteString(m.MAC)
	}
	return b.String()
}
