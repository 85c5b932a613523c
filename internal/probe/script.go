package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// bashCandidates are checked when bash is not on $PATH.
var bashCandidates = []string{"/bin/bash", "/usr/bin/bash", "/usr/local/bin/bash"}

// ScriptReader runs probe scripts from a directory laid out as
// <dir>/<goos>/<probe>.sh (or .ps1 on Windows). Each script prints one JSON
// object on stdout. Params are passed as environment variables.
type ScriptReader struct {
	Dir     string
	GOOS    string
	Timeout time.Duration
}

// NewScriptReader returns a reader for the running OS.
func NewScriptReader(dir string, timeout time.Duration) *ScriptReader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ScriptReader{Dir: dir, GOOS: runtime.GOOS, Timeout: timeout}
}

// Path returns the script file for a probe, or "" when none exists.
func (s *ScriptReader) Path(name string) string {
	ext := ".sh"
	if s.GOOS == "windows" {
		ext = ".ps1"
	}
	p := filepath.Join(s.Dir, s.GOOS, name+ext)
	if info, err := os.Stat(p); err == nil && !info.IsDir() {
		return p
	}
	return ""
}

// Inspect implements Reader.
func (s *ScriptReader) Inspect(ctx context.Context, name string, params Params) (Result, error) {
	path := s.Path(name)
	if path == "" {
		return nil, &Error{Probe: name, Err: ErrUnknownProbe}
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd, err := s.command(ctx, path)
	if err != nil {
		return nil, &Error{Probe: name, Err: err}
	}
	cmd.WaitDelay = time.Second
	cmd.Env = os.Environ()
	for k, v := range params {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Probe: name, Err: fmt.Errorf("timed out after %s", s.Timeout)}
		}
		return nil, &Error{Probe: name, Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))}
	}

	res, err := DecodeOutput(out)
	if err != nil {
		return nil, &Error{Probe: name, Err: err}
	}
	return res, nil
}

func (s *ScriptReader) command(ctx context.Context, path string) (*exec.Cmd, error) {
	if s.GOOS == "windows" {
		return exec.CommandContext(ctx, "powershell.exe", "-NoProfile", "-NonInteractive",
			"-ExecutionPolicy", "Bypass", "-File", path), nil
	}
	bash, err := findBash()
	if err != nil {
		return nil, err
	}
	return exec.CommandContext(ctx, bash, path), nil
}

func findBash() (string, error) {
	if p, err := exec.LookPath("bash"); err == nil {
		return p, nil
	}
	for _, p := range bashCandidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("bash not found in $PATH or at %v", bashCandidates)
}

// DecodeOutput parses probe stdout. Anything printed before the first '{'
// is ignored, since some tools write banners on stdout.
func DecodeOutput(out []byte) (Result, error) {
	start := bytes.IndexByte(out, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in output (%.120q)", out)
	}
	var res Result
	if err := json.Unmarshal(out[start:], &res); err != nil {
		return nil, fmt.Errorf("parse output: %w (raw: %.200s)", err, out[start:])
	}
	return res, nil
}
