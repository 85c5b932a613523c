// Package probe runs named OS property reads and hands back their
// structured output. Probes are the only place the agent touches the
// operating system; everything above works on the decoded maps.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrUnknownProbe is returned when no reader knows a probe name.
var ErrUnknownProbe = errors.New("unknown probe")

// Params are optional string arguments to a probe (e.g. a registry path).
type Params map[string]string

// key renders params deterministically for caching.
func (p Params) key() string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
		b.WriteByte(';')
	}
	return b.String()
}

// Result is the decoded output of one probe.
type Result map[string]any

// Reader executes probes.
type Reader interface {
	Inspect(ctx context.Context, name string, params Params) (Result, error)
}

// Error wraps a failed probe with its name.
type Error struct {
	Probe string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Probe, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Map returns the nested object at key.
func (r Result) Map(key string) Result {
	switch v := r[key].(type) {
	case map[string]any:
		return Result(v)
	case Result:
		return v
	}
	return nil
}

// List returns the nested array of objects at key. Non-object elements are
// skipped.
func (r Result) List(key string) []Result {
	raw, ok := r[key].([]any)
	if !ok {
		if typed, ok := r[key].([]Result); ok {
			return typed
		}
		return nil
	}
	out := make([]Result, 0, len(raw))
	for _, el := range raw {
		switch m := el.(type) {
		case map[string]any:
			out = append(out, Result(m))
		case Result:
			out = append(out, m)
		}
	}
	return out
}

// String returns the value at key rendered as a string. Numbers and bools
// are formatted the way shell scripts tend to print them.
func (r Result) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Has reports whether key is present.
func (r Result) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Int parses the value at key as an integer. Strings are parsed leniently;
// anything unparsable yields ok == false.
func (r Result) Int(key string) (int, bool) {
	return ParseInt(r[key])
}

// ParseInt is the lenient integer reading used for probe output, which
// mixes numbers and numeric strings.
func ParseInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return i, true
	}
	return 0, false
}
