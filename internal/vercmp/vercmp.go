// Package vercmp compares runtime version strings.
//
// Versions are ordered by their parsed numeric segments (major.minor.patch...),
// never lexically: "7.12" sorts above "7.9". Only when every numeric segment is
// equal do differing suffixes fall back to a plain string comparison.
package vercmp

import (
	"strings"

	version "github.com/hashicorp/go-version"
)

// Compare returns -1, 0 or 1 if a sorts below, equal to or above b.
func Compare(a, b string) int {
	va, errA := version.NewVersion(normalize(a))
	vb, errB := version.NewVersion(normalize(b))
	if errA != nil || errB != nil {
		// Unparseable on either side: lexical order is all that is left.
		return strings.Compare(a, b)
	}

	if c := compareSegments(va.Segments64(), vb.Segments64()); c != 0 {
		return c
	}

	// Numeric parts fully equal; differing suffixes tie-break lexically.
	return strings.Compare(normalize(a), normalize(b))
}

// AtLeast reports whether have satisfies the min version.
func AtLeast(have, min string) bool {
	return Compare(have, min) >= 0
}

func compareSegments(a, b []int64) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var sa, sb int64
		if i < len(a) {
			sa = a[i]
		}
		if i < len(b) {
			sb = b[i]
		}
		if sa != sb {
			if sa < sb {
				return -1
			}
			return 1
		}
	}
	return 0
}

// normalize strips common runtime decorations so go-version can parse the
// numeric core, e.g. "wine-7.12 (Staging)" becomes "7.12".
func normalize(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "wine-")
	if i := strings.IndexByte(v, ' '); i >= 0 {
		v = v[:i]
	}
	return v
}
