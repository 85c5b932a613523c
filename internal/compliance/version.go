package compliance

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/Masterminds/semver/v3"
)

var versionPattern = regexp.MustCompile(`(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

// CoerceVersion extracts the first major[.minor[.patch]] run from s. It
// never fails loudly: strings without any digits return ok == false.
func CoerceVersion(s string) (*semver.Version, bool) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}
	parts := [3]uint64{}
	for i := 0; i < 3; i++ {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseUint(m[i+1], 10, 64)
		if err != nil {
			return nil, false
		}
		parts[i] = n
	}
	return semver.New(parts[0], parts[1], parts[2], "", ""), true
}

// Satisfies reports whether version (coerced) falls inside the constraint.
// A malformed constraint is an error; an uncoercible version is simply not
// satisfied.
func Satisfies(version, constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("version range %q: %w", constraint, err)
	}
	v, ok := CoerceVersion(version)
	if !ok {
		return false, nil
	}
	return c.Check(v), nil
}

// NormalizeOSVersion renders a dotted version as major.minor.patch, with
// patch defaulting to 0.
func NormalizeOSVersion(version string) string {
	v, ok := CoerceVersion(version)
	if !ok {
		return version
	}
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}
