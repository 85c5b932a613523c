// Package wmi reads Windows Management Instrumentation classes and registry
// values. On other platforms every call fails with ErrUnsupported.
package wmi

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupported is returned on platforms without WMI.
var ErrUnsupported = errors.New("wmi: only supported on Windows")

// QueryResult represents a single WMI object as property name → value.
type QueryResult map[string]interface{}

// Query executes a WQL query in namespace, e.g.
// Query(ctx, `root\SecurityCenter2`, "SELECT * FROM AntiVirusProduct").
func Query(ctx context.Context, namespace, q string) ([]QueryResult, error) {
	return query(ctx, namespace, q)
}

// QuerySingle executes a query expecting at least one result.
func QuerySingle(ctx context.Context, namespace, q string) (QueryResult, error) {
	results, err := Query(ctx, namespace, q)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no results for %q", q)
	}
	return results[0], nil
}

// GetPropertyBool extracts a boolean property.
func GetPropertyBool(result QueryResult, name string) (bool, bool) {
	val, ok := result[name]
	if !ok {
		return false, false
	}
	bval, ok := val.(bool)
	return bval, ok
}

// GetPropertyInt extracts an integer property.
func GetPropertyInt(result QueryResult, name string) (int, bool) {
	val, ok := result[name]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint32:
		return int(v), true
	case uint8:
		return int(v), true
	default:
		return 0, false
	}
}

// GetPropertyString extracts a string property.
func GetPropertyString(result QueryResult, name string) (string, bool) {
	val, ok := result[name]
	if !ok {
		return "", false
	}
	sval, ok := val.(string)
	return sval, ok
}

// Hive selects a registry root.
type Hive int

const (
	LocalMachine Hive = iota
	CurrentUser
)

func (h Hive) String() string {
	if h == CurrentUser {
		return "HKCU"
	}
	return "HKLM"
}

// ReadString reads a REG_SZ (or REG_EXPAND_SZ) value.
func ReadString(hive Hive, path, name string) (string, error) {
	return readString(hive, path, name)
}

// ReadDWORD reads an integer value.
func ReadDWORD(hive Hive, path, name string) (uint64, error) {
	return readDWORD(hive, path, name)
}

// SubKeys lists the immediate subkeys of path.
func SubKeys(hive Hive, path string) ([]string, error) {
	return subKeys(hive, path)
}
