package probe

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FailureRecorder is told about every failed probe.
type FailureRecorder interface {
	ProbeFailed(name string)
}

type entry struct {
	result Result
	err    error
}

// Session memoizes probe results for the lifetime of one scan. Several
// capabilities read the same probe (the os probe is read by almost all of
// them); within a session it runs once, and concurrent readers share the
// in-flight execution.
type Session struct {
	reader   Reader
	log      *zap.Logger
	failures FailureRecorder

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]entry

	overrides map[string]func(Result) Result
}

// NewSession wraps reader for one scan. failures may be nil.
func NewSession(reader Reader, log *zap.Logger, failures FailureRecorder) *Session {
	return &Session{
		reader:    reader,
		log:       log.Named("probe"),
		failures:  failures,
		cache:     make(map[string]entry),
		overrides: make(map[string]func(Result) Result),
	}
}

// Rewrite registers a transform applied to a probe's result before it is
// cached, so every capability in the session sees the same adjusted value.
func (s *Session) Rewrite(name string, fn func(Result) Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[name] = fn
}

// Inspect implements Reader.
func (s *Session) Inspect(ctx context.Context, name string, params Params) (Result, error) {
	key := name + "?" + params.key()

	s.mu.Lock()
	if e, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return e.result, e.err
	}
	s.mu.Unlock()

	v, _, _ := s.group.Do(key, func() (any, error) {
		s.mu.Lock()
		if e, ok := s.cache[key]; ok {
			s.mu.Unlock()
			return e, nil
		}
		s.mu.Unlock()

		res, err := s.reader.Inspect(ctx, name, params)
		if err != nil {
			s.log.Warn("probe failed", zap.String("probe", name), zap.Error(err))
			if s.failures != nil {
				s.failures.ProbeFailed(name)
			}
		} else {
			s.mu.Lock()
			fn := s.overrides[name]
			s.mu.Unlock()
			if fn != nil {
				res = fn(res)
			}
		}

		e := entry{result: res, err: err}
		s.mu.Lock()
		s.cache[key] = e
		s.mu.Unlock()
		return e, nil
	})
	e := v.(entry)
	return e.result, e.err
}
