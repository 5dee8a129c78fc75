package service

import (
	"fmt"
	"strconv"
	"strings"
)

// Application versions are packed as major<<16 | minor<<8 | patch.

// ComposeVersion packs a semantic version.
func ComposeVersion(major, minor, patch int) int32 {
	return int32((major&0xFFFF)<<16 | (minor&0xFF)<<8 | patch&0xFF)
}

// VersionMajor returns the major component of a packed version.
func VersionMajor(v int32) int { return int(uint32(v) >> 16) }

// VersionMinor returns the minor component of a packed version.
func VersionMinor(v int32) int { return int(uint32(v)>>8) & 0xFF }

// VersionPatch returns the patch component of a packed version.
func VersionPatch(v int32) int { return int(v) & 0xFF }

// VersionString formats a packed version as major.minor.patch.
func VersionString(v int32) string {
	return fmt.Sprintf("%d.%d.%d", VersionMajor(v), VersionMinor(v), VersionPatch(v))
}

// SameMajorVersion accepts snapshots whose major version matches the
// running application.
func SameMajorVersion(local, snapshot int32) bool {
	return VersionMajor(local) == VersionMajor(snapshot)
}

// ParseVersion parses "major.minor.patch" into a packed version. Missing
// components are zero, so "2" and "2.1" are accepted.
func ParseVersion(s string) (int32, error) {
	var parts [3]int
	fields := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(fields) > 3 || fields[0] == "" {
		return 0, fmt.Errorf("service: invalid version %q", s)
	}
	limits := [3]int{0xFFFF, 0xFF, 0xFF}
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("service: invalid version %q", s)
		}
		parts[i] = n
	}
	return ComposeVersion(parts[0], parts[1], parts[2]), nil
}
