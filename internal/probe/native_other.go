//go:build !windows

package probe

func registerNative(map[string]probeFunc) {}
