package hivescan

import (
	"path"
	"strings"
)

// Glob patterns are matched per path segment with path.Match syntax, plus a
// `**` segment that matches zero or more directories. This covers the shapes
// used with hive trees, such as `root/**/*.parquet`.

// hasGlobMeta reports whether the path contains glob metacharacters.
func hasGlobMeta(p string) bool {
	return strings.ContainsAny(p, "*?[")
}

// globStaticPrefix returns the directory prefix of a pattern up to its first
// segment containing metacharacters. Listing this prefix bounds the set of
// candidate paths that must be matched.
func globStaticPrefix(pattern string) string {
	segments := strings.Split(pattern, "/")
	var static []string
	for _, seg := range segments {
		if hasGlobMeta(seg) {
			break
		}
		static = append(static, seg)
	}
	if len(static) == len(segments) {
		// No metacharacters at all; the prefix is the parent directory.
		return path.Dir(pattern)
	}
	return strings.Join(static, "/")
}

// matchGlob reports whether p matches the segment-wise glob pattern.
func matchGlob(pattern, p string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(p, "/"))
}

func matchSegments(pattern, segments []string) bool {
	if len(pattern) == 0 {
		return len(segments) == 0
	}

	if pattern[0] == "**" {
		// `**` matches zero or more leading segments.
		for skip := 0; skip <= len(segments); skip++ {
			if matchSegments(pattern[1:], segments[skip:]) {
				return true
			}
		}
		return false
	}

	if len(segments) == 0 {
		return false
	}

	ok, err := path.Match(pattern[0], segments[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], segments[1:])
}
