// Package versionutil compares dotted numeric version strings (e.g. "1.2",
// "1.2.0", "1.10.0") the way the kernel's Module.dependencyVersions checks
// and UpdateChecker's local-vs-remote comparison both need.
package versionutil

import (
	"strconv"
	"strings"
)

// Compare returns -1, 0, or 1 depending on whether a is semantically less
// than, equal to, or greater than b, after zero-padding the shorter of the
// two to the longer's component count.
//
//	Compare("1.2", "1.2.0")    == 0
//	Compare("1.10.0", "1.9.9") == 1
//	Compare("2.0", "10.0")     == -1
func Compare(a, b string) int {
	pa := strings.Split(Strip(a), ".")
	pb := strings.Split(Strip(b), ".")

	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}

	for i := 0; i < n; i++ {
		va := component(pa, i)
		vb := component(pb, i)
		if va < vb {
			return -1
		}
		if va > vb {
			return 1
		}
	}
	return 0
}

// Strip removes a leading "v" from a version string, e.g. "v1.2.3" -> "1.2.3".
func Strip(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

func component(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
	if err != nil {
		return 0
	}
	return n
}

// AtLeast reports whether actual is >= minimum, using Compare semantics.
func AtLeast(actual, minimum string) bool {
	return Compare(actual, minimum) >= 0
}
