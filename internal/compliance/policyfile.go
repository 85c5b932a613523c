package compliance

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed policy.default.yaml
var defaultPolicy []byte

// DefaultPolicy is the bundled policy used until the organization policy
// has been synced.
func DefaultPolicy() (Policy, error) {
	return decodePolicyDocument(defaultPolicy)
}

// LoadPolicyFile reads a policy from disk. YAML, JSON objects and JSON
// strings are accepted. An empty path yields DefaultPolicy.
func LoadPolicyFile(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	p, err := decodePolicyDocument(data)
	if err != nil {
		return Policy{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func decodePolicyDocument(data []byte) (Policy, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return ParsePolicy(data)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("policy: %w", err)
	}
	return p, nil
}
