// Package device resolves the device snapshot for one scan and evaluates a
// policy against it.
package device

import (
	"github.com/goSprinto/stethoscope-app/internal/compliance"
	"github.com/goSprinto/stethoscope-app/internal/security"
)

// MACAddress is one reportable network interface.
type MACAddress struct {
	Interface       string `json:"interface"`
	MAC             string `json:"mac"`
	PhysicalAdapter bool   `json:"physicalAdapter"`
	Type            int    `json:"type"`
}

// Antivirus is the antivirus block of the security record.
type Antivirus struct {
	Status          compliance.Status   `json:"status"`
	ActiveProviders []security.Provider `json:"activeProviders"`
}

// Security holds device-style statuses (ON/OFF/UNKNOWN/UNSUPPORTED), except
// screenIdle which is PASS/FAIL.
type Security struct {
	DiskEncryption   compliance.Status `json:"diskEncryption"`
	ScreenLock       compliance.Status `json:"screenLock"`
	ScreenIdle       compliance.Status `json:"screenIdle"`
	Firewall         compliance.Status `json:"firewall"`
	RemoteLogin      compliance.Status `json:"remoteLogin"`
	AutomaticUpdates compliance.Status `json:"automaticUpdates"`
	Antivirus        Antivirus         `json:"antivirus"`
}

// Snapshot is everything known about the device for one scan. It is never
// modified once Resolve returns.
type Snapshot struct {
	DeviceID           string          `json:"deviceId"`
	DeviceName         string          `json:"deviceName"`
	SerialNumber       string          `json:"serialNumber"`
	Platform           string          `json:"platform"`
	PlatformName       string          `json:"platformName"`
	DistroName         string          `json:"distroName"`
	OSVersion          string          `json:"osVersion"`
	OSName             string          `json:"osName"`
	OSBuild            string          `json:"osBuild"`
	FirmwareVersion    string          `json:"firmwareVersion"`
	HardwareModel      string          `json:"hardwareModel"`
	FriendlyName       string          `json:"friendlyName"`
	HardwareSerial     string          `json:"hardwareSerial"`
	StethoscopeVersion string          `json:"stethoscopeVersion"`
	ScreenLockDelay    int             `json:"screenLockDelay"`
	MACAddresses       []MACAddress    `json:"macAddresses"`
	Disks              []security.Disk `json:"disks"`
	Applications       []security.App  `json:"applications"`
	Security           Security        `json:"security"`

	// Facts keeps the raw capability answers the statuses were derived
	// from. It is not part of the wire form.
	Facts Facts `json:"-"`
}

// Facts are the unconverted capability answers of one scan.
type Facts struct {
	DiskEncryption   compliance.Fact
	ScreenLock       compliance.Fact
	ScreenIdle       compliance.Fact
	Firewall         compliance.Fact
	RemoteLogin      compliance.Fact
	AutomaticUpdates compliance.Fact
	Antivirus        compliance.Fact
	Applications     compliance.Fact

	resolved bool
}

// facts returns the raw facts, recovering them from the statuses when the
// snapshot was decoded from the wire.
func (s *Snapshot) facts() Facts {
	if s.Facts.resolved {
		return s.Facts
	}
	sec := s.Security
	apps := compliance.FactUnknown
	if s.Applications != nil {
		apps = compliance.FactTrue
	}
	return Facts{
		DiskEncryption:   compliance.FactFromStatus(sec.DiskEncryption),
		ScreenLock:       compliance.FactFromStatus(sec.ScreenLock),
		ScreenIdle:       compliance.FactFromStatus(sec.ScreenIdle),
		Firewall:         compliance.FactFromStatus(sec.Firewall),
		RemoteLogin:      compliance.FactFromStatus(sec.RemoteLogin),
		AutomaticUpdates: compliance.FactFromStatus(sec.AutomaticUpdates),
		Antivirus:        compliance.FactFromStatus(sec.Antivirus.Status),
		Applications:     apps,
	}
}
