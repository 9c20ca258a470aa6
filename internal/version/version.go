package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is an API version such as v1 or v2.1
type Version struct {
	Major int
	Minor int
}

// Parse parses "v1", "v1.2", "V2" or "1" into a Version
func Parse(versionStr string) (Version, error) {
	s := strings.TrimSpace(versionStr)
	if s == "" {
		return Version{}, fmt.Errorf("version cannot be empty")
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")

	majorStr, minorStr, hasMinor := strings.Cut(s, ".")

	major, err := strconv.Atoi(majorStr)
	if err != nil || major < 0 {
		return Version{}, fmt.Errorf("invalid major version: %s", versionStr)
	}

	minor := 0
	if hasMinor {
		minor, err = strconv.Atoi(minorStr)
		if err != nil || minor < 0 {
			return Version{}, fmt.Errorf("invalid minor version: %s", versionStr)
		}
	}

	return Version{Major: major, Minor: minor}, nil
}

// MustParse is Parse for constants; it panics on error
func MustParse(versionStr string) Version {
	v, err := Parse(versionStr)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the canonical form: v1, or v1.2 when the minor is set
func (v Version) String() string {
	if v.Minor == 0 {
		return fmt.Sprintf("v%d", v.Major)
	}
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// Compare returns -1, 0 or 1 as v is older than, equal to or newer than other
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		if v.Major > other.Major {
			return 1
		}
		return -1
	}
	if v.Minor != other.Minor {
		if v.Minor > other.Minor {
			return 1
		}
		return -1
	}
	return 0
}

// IsValid reports whether s parses as a version
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}
