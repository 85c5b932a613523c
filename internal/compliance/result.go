package compliance

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ItemResult is one element of an array-valued check, e.g. a single
// application out of the applications policy.
type ItemResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Version string `json:"version,omitempty"`
}

// Check is one named entry of a scan result. Exactly one of Status or Items
// carries the value; a check with neither is null (not configured).
type Check struct {
	Name   string
	Status Status
	Items  []ItemResult
	// array marks a check whose value is a list, even an empty one.
	array bool
}

// ValueCheck builds a scalar check.
func ValueCheck(name string, s Status) Check {
	return Check{Name: name, Status: s}
}

// ListCheck builds an array-valued check.
func ListCheck(name string, items []ItemResult) Check {
	if items == nil {
		items = []ItemResult{}
	}
	return Check{Name: name, Items: items, array: true}
}

// NullCheck builds a check that carries no value.
func NullCheck(name string) Check {
	return Check{Name: name}
}

// IsArray reports whether the check holds per-item results.
func (c Check) IsArray() bool { return c.array }

// IsNull reports whether the check carries no value.
func (c Check) IsNull() bool { return !c.array && c.Status == "" }

// Reduce collapses the check to a single status. For array checks the
// result is PASS when every item passes and FAIL when any item fails; any
// other mix leaves the array unresolved, in which case the worst item status
// is returned with resolved == false.
func (c Check) Reduce() (s Status, resolved bool) {
	if !c.array {
		return c.Status, true
	}
	return ReduceItems(c.Items)
}

// ReduceItems applies the array reduction rule to a list of item results.
func ReduceItems(items []ItemResult) (Status, bool) {
	allPass := true
	worst := StatusPass
	for _, it := range items {
		if it.Status == StatusFail {
			return StatusFail, true
		}
		if it.Status != StatusPass {
			allPass = false
		}
		worst = Worse(worst, it.Status)
	}
	if allPass {
		return StatusPass, true
	}
	return worst, false
}

// ScanResult is the policy-evaluated outcome of one scan. Checks keep the
// order in which they were produced; that order survives a JSON round trip.
type ScanResult struct {
	Status Status
	Checks []Check
}

// NewScanResult assembles a result and computes the overall status.
func NewScanResult(checks ...Check) ScanResult {
	r := ScanResult{Checks: checks}
	r.Status = OverallStatus(checks)
	return r
}

// OverallStatus is PASS when every non-null check reduces to PASS or ON, and
// otherwise the most severe reduced status observed.
func OverallStatus(checks []Check) Status {
	overall := StatusPass
	for _, c := range checks {
		if c.IsNull() {
			continue
		}
		s, _ := c.Reduce()
		if s.Passing() {
			continue
		}
		overall = Worse(overall, s)
	}
	return overall
}

// Get returns the named check.
func (r ScanResult) Get(name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// IsZero reports whether the result holds nothing at all.
func (r ScanResult) IsZero() bool {
	return r.Status == "" && len(r.Checks) == 0
}

// Values flattens the result into name → value, the shape the remote
// report endpoint expects. Array checks map to their item slices.
func (r ScanResult) Values() map[string]any {
	out := make(map[string]any, len(r.Checks)+1)
	out["status"] = r.Status
	for _, c := range r.Checks {
		switch {
		case c.array:
			out[c.Name] = c.Items
		case c.IsNull():
			out[c.Name] = nil
		default:
			out[c.Name] = c.Status
		}
	}
	return out
}

// MarshalJSON writes status first and then every check in order.
func (r ScanResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	status, err := json.Marshal(r.Status)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`"status":`)
	buf.Write(status)

	for _, c := range r.Checks {
		if c.Name == "status" {
			continue
		}
		key, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')

		var val []byte
		switch {
		case c.array:
			val, err = json.Marshal(c.Items)
		case c.IsNull():
			val = []byte("null")
		default:
			val, err = json.Marshal(c.Status)
		}
		if err != nil {
			return nil, fmt.Errorf("marshal check %s: %w", c.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping key order. Values may be a status
// string, an array of item results, or null. Any other scalar is kept as its
// raw text so unexpected values still land somewhere visible.
func (r *ScanResult) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("scan result: %w", err)
	}
	if tok == nil {
		*r = ScanResult{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("scan result: expected object, got %v", tok)
	}

	out := ScanResult{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("scan result: %w", err)
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("scan result %s: %w", key, err)
		}
		raw = bytes.TrimSpace(raw)

		if key == "status" {
			if err := json.Unmarshal(raw, &out.Status); err != nil {
				return fmt.Errorf("scan result status: %w", err)
			}
			continue
		}

		switch {
		case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
			out.Checks = append(out.Checks, NullCheck(key))
		case raw[0] == '[':
			var items []ItemResult
			if err := json.Unmarshal(raw, &items); err != nil {
				return fmt.Errorf("scan result %s: %w", key, err)
			}
			out.Checks = append(out.Checks, ListCheck(key, items))
		case raw[0] == '"':
			var s Status
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("scan result %s: %w", key, err)
			}
			out.Checks = append(out.Checks, ValueCheck(key, s))
		default:
			out.Checks = append(out.Checks, ValueCheck(key, Status(raw)))
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("scan result: %w", err)
	}
	*r = out
	return nil
}
