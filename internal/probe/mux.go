package probe

import (
	"context"
	"errors"
)

// Mux tries readers in order and returns the first answer. A reader that
// does not know a probe reports ErrUnknownProbe and the next one is asked;
// any other failure is final so a broken script does not silently fall
// through to a less precise source.
type Mux struct {
	readers []Reader
}

// NewMux builds a Mux over readers, highest priority first.
func NewMux(readers ...Reader) *Mux {
	return &Mux{readers: readers}
}

// Inspect implements Reader.
func (m *Mux) Inspect(ctx context.Context, name string, params Params) (Result, error) {
	for _, r := range m.readers {
		res, err := r.Inspect(ctx, name, params)
		if errors.Is(err, ErrUnknownProbe) {
			continue
		}
		return res, err
	}
	return nil, &Error{Probe: name, Err: ErrUnknownProbe}
}

// Static is a fixed set of probe results, used by tests and by dry runs
// that replay a captured device.
type Static map[string]Result

// Inspect implements Reader.
func (s Static) Inspect(_ context.Context, name string, _ Params) (Result, error) {
	res, ok := s[name]
	if !ok {
		return nil, &Error{Probe: name, Err: ErrUnknownProbe}
	}
	return res, nil
}

// Func adapts a function to Reader.
type Func func(ctx context.Context, name string, params Params) (Result, error)

// Inspect implements Reader.
func (f Func) Inspect(ctx context.Context, name string, params Params) (Result, error) {
	return f(ctx, name, params)
}
