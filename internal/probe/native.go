package probe

import "context"

// NativeReader answers probes through OS APIs instead of scripts. Only the
// Windows build registers any; elsewhere it knows nothing and the Mux falls
// through to scripts.
type NativeReader struct {
	probes map[string]probeFunc
}

// NewNativeReader registers the probes available on this platform.
func NewNativeReader() *NativeReader {
	n := &NativeReader{probes: make(map[string]probeFunc)}
	registerNative(n.probes)
	return n
}

// Knows reports whether the reader implements name.
func (n *NativeReader) Knows(name string) bool {
	_, ok := n.probes[name]
	return ok
}

// Inspect implements Reader.
func (n *NativeReader) Inspect(ctx context.Context, name string, params Params) (Result, error) {
	fn, ok := n.probes[name]
	if !ok {
		return nil, &Error{Probe: name, Err: ErrUnknownProbe}
	}
	res, err := fn(ctx, params)
	if err != nil {
		return nil, &Error{Probe: name, Err: err}
	}
	return res, nil
}
