package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingFailures struct {
	mu    sync.Mutex
	names []string
}

func (c *countingFailures) ProbeFailed(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
}

func TestSessionRunsEachProbeOnce(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	reader := Func(func(ctx context.Context, name string, params Params) (Result, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return Result{"system": map[string]any{"platform": "darwin"}}, nil
	})

	s := NewSession(reader, zap.NewNop(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Inspect(context.Background(), "os", nil)
			assert.NoError(t, err)
			assert.Equal(t, "darwin", res.Map("system").String("platform"))
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	_, err := s.Inspect(context.Background(), "os", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSessionKeysOnParams(t *testing.T) {
	var calls int32
	reader := Func(func(ctx context.Context, name string, params Params) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return Result{"path": params["REGISTRY_PATH"]}, nil
	})
	s := NewSession(reader, zap.NewNop(), nil)

	a, _ := s.Inspect(context.Background(), "apps", Params{"REGISTRY_PATH": "A"})
	b, _ := s.Inspect(context.Background(), "apps", Params{"REGISTRY_PATH": "B"})
	a2, _ := s.Inspect(context.Background(), "apps", Params{"REGISTRY_PATH": "A"})

	assert.Equal(t, "A", a.String("path"))
	assert.Equal(t, "B", b.String("path"))
	assert.Equal(t, "A", a2.String("path"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSessionCachesFailuresAndRecordsThem(t *testing.T) {
	var calls int32
	boom := errors.New("boom")
	reader := Func(func(ctx context.Context, name string, params Params) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &Error{Probe: name, Err: boom}
	})
	failures := &countingFailures{}
	s := NewSession(reader, zap.NewNop(), failures)

	_, err := s.Inspect(context.Background(), "bitlocker", nil)
	require.ErrorIs(t, err, boom)
	_, err = s.Inspect(context.Background(), "bitlocker", nil)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"bitlocker"}, failures.names)
}

func TestSessionRewrite(t *testing.T) {
	reader := Static{"os": {"system": map[string]any{"platform": "Microsoft Windows Server 2016 Datacenter"}}}
	s := NewSession(reader, zap.NewNop(), nil)
	s.Rewrite("os", func(r Result) Result {
		return Result{"system": map[string]any{"platform": "awsWorkspace"}}
	})

	res, err := s.Inspect(context.Background(), "os", nil)
	require.NoError(t, err)
	assert.Equal(t, "awsWorkspace", res.Map("system").String("platform"))
}

func TestMuxFallsThroughUnknownOnly(t *testing.T) {
	first := Static{"os": {"from": "first"}}
	broken := Func(func(ctx context.Context, name string, params Params) (Result, error) {
		if name == "firewall" {
			return nil, &Error{Probe: name, Err: errors.New("script crashed")}
		}
		return nil, &Error{Probe: name, Err: ErrUnknownProbe}
	})
	last := Static{"firewall": {"from": "last"}, "hostname": {"from": "last"}}

	m := NewMux(first, broken, last)

	res, err := m.Inspect(context.Background(), "os", nil)
	require.NoError(t, err)
	assert.Equal(t, "first", res.String("from"))

	res, err = m.Inspect(context.Background(), "hostname", nil)
	require.NoError(t, err)
	assert.Equal(t, "last", res.String("from"))

	_, err = m.Inspect(context.Background(), "firewall", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownProbe)

	_, err = m.Inspect(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownProbe)
}

func TestDecodeOutput(t *testing.T) {
	res, err := DecodeOutput([]byte("banner line\n{\"fileVaultEnabled\":\"true\",\"count\":3}\n"))
	require.NoError(t, err)
	assert.Equal(t, "true", res.String("fileVaultEnabled"))
	n, ok := res.Int("count")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, err = DecodeOutput([]byte("no json here"))
	assert.Error(t, err)

	_, err = DecodeOutput([]byte("{broken"))
	assert.Error(t, err)
}

func TestResultHelpers(t *testing.T) {
	r := Result{
		"screen": map[string]any{"idleDelay": "300", "lockDelay": float64(5)},
		"disks": []any{
			map[string]any{"label": "Macintosh HD"},
			"ignored",
		},
		"flag": true,
	}
	screen := r.Map("screen")
	idle, ok := screen.Int("idleDelay")
	assert.True(t, ok)
	assert.Equal(t, 300, idle)
	lock, ok := screen.Int("lockDelay")
	assert.True(t, ok)
	assert.Equal(t, 5, lock)

	disks := r.List("disks")
	require.Len(t, disks, 1)
	assert.Equal(t, "Macintosh HD", disks[0].String("label"))

	assert.Equal(t, "true", r.String("flag"))
	assert.Nil(t, r.Map("missing"))
	assert.Nil(t, r.List("missing"))

	_, ok = ParseInt("abc")
	assert.False(t, ok)
	n, ok := ParseInt(" 42 ")
	assert.True(t, ok)
	assert.Equal(t, 42, n)
}

func TestScriptReader(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("script probes are bash based here")
	}
	if _, err := findBash(); err != nil {
		t.Skip("bash not available")
	}

	dir := t.TempDir()
	osDir := filepath.Join(dir, runtime.GOOS)
	require.NoError(t, os.MkdirAll(osDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(osDir, "apps.sh"),
		[]byte("#!/bin/bash\necho '{\"path\":\"'\"$REGISTRY_PATH\"'\"}'\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(osDir, "broken.sh"),
		[]byte("#!/bin/bash\necho oops >&2\nexit 3\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(osDir, "slow.sh"),
		[]byte("#!/bin/bash\nsleep 5\necho '{}'\n"), 0o755))

	r := NewScriptReader(dir, 500*time.Millisecond)

	res, err := r.Inspect(context.Background(), "apps", Params{"REGISTRY_PATH": "/Applications"})
	require.NoError(t, err)
	assert.Equal(t, "/Applications", res.String("path"))

	_, err = r.Inspect(context.Background(), "broken", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")

	_, err = r.Inspect(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	_, err = r.Inspect(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownProbe)
}

func TestHostReaderKnowsPortableProbes(t *testing.T) {
	h := NewHostReader()
	for _, name := range []string{"os", "hostname", "hardware", "mac-addresses", "process-list"} {
		assert.True(t, h.Knows(name), name)
	}
	_, err := h.Inspect(context.Background(), "bitlocker", nil)
	assert.ErrorIs(t, err, ErrUnknownProbe)
}
