//go:build !windows

package wmi

import "context"

func query(ctx context.Context, namespace, q string) ([]QueryResult, error) {
	return nil, ErrUnsupported
}

func readString(hive Hive, path, name string) (string, error) {
	return "", ErrUnsupported
}

func readDWORD(hive Hive, path, name string) (uint64, error) {
	return 0, ErrUnsupported
}

func subKeys(hive Hive, path string) ([]string, error) {
	return nil, ErrUnsupported
}
