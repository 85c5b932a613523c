// Package compliance defines the status domain, policy document and scan
// result shared by the resolver, the scan protocol and the partitioner.
package compliance

// Status is the tri-state (and then some) outcome of a single check.
type Status string

const (
	StatusPass        Status = "PASS"
	StatusFail        Status = "FAIL"
	StatusOn          Status = "ON"
	StatusOff         Status = "OFF"
	StatusUnknown     Status = "UNKNOWN"
	StatusUnsupported Status = "UNSUPPORTED"
	StatusNudge       Status = "NUDGE"
	StatusError       Status = "ERROR"
)

// Passing reports whether s counts as compliant.
func (s Status) Passing() bool {
	return s == StatusPass || s == StatusOn
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := severity[s]
	return ok
}

// severity orders statuses from best to worst.
var severity = map[Status]int{
	StatusPass:        0,
	StatusOn:          0,
	StatusUnsupported: 1,
	StatusUnknown:     2,
	StatusNudge:       3,
	StatusOff:         4,
	StatusFail:        5,
	StatusError:       6,
}

// Worse returns whichever of a and b is more severe. Unknown values rank as
// ERROR.
func Worse(a, b Status) Status {
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func rank(s Status) int {
	if r, ok := severity[s]; ok {
		return r
	}
	return severity[StatusError]
}

// Fact is the raw answer a platform capability gives before it is mapped
// onto a Status.
type Fact int

const (
	FactUnknown Fact = iota
	FactTrue
	FactFalse
	FactNudge
	FactUnsupported
)

// FactOf converts a boolean reading.
func FactOf(ok bool) Fact {
	if ok {
		return FactTrue
	}
	return FactFalse
}

func (f Fact) String() string {
	switch f {
	case FactTrue:
		return "true"
	case FactFalse:
		return "false"
	case FactNudge:
		return "NUDGE"
	case FactUnsupported:
		return "UNSUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// ToDeviceStatus maps a capability-style fact onto ON/OFF. NUDGE counts as
// OFF; UNSUPPORTED is preserved so an absent capability is not mistaken for
// a failed probe.
func ToDeviceStatus(f Fact) Status {
	switch f {
	case FactTrue:
		return StatusOn
	case FactFalse, FactNudge:
		return StatusOff
	case FactUnsupported:
		return StatusUnsupported
	default:
		return StatusUnknown
	}
}

// ToPassFail maps a compliance-style fact onto PASS/FAIL.
func ToPassFail(f Fact) Status {
	switch f {
	case FactTrue:
		return StatusPass
	case FactFalse:
		return StatusFail
	default:
		return StatusUnknown
	}
}

// FactFromStatus recovers the fact behind a device status. It is the
// inverse of ToDeviceStatus and ToPassFail for the values they produce.
func FactFromStatus(s Status) Fact {
	switch s {
	case StatusOn, StatusPass:
		return FactTrue
	case StatusOff, StatusFail:
		return FactFalse
	case StatusNudge:
		return FactNudge
	case StatusUnsupported:
		return FactUnsupported
	default:
		return FactUnknown
	}
}
