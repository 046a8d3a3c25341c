package kernel

import "github.com/forgekit/kernel/internal/versionutil"

// versionAtLeast reports whether actual is >= minimum using dotted numeric
// comparison (spec.md §8 property 7 / scenario 6).
func versionAtLeast(actual, minimum string) bool {
	return versionutil.AtLeast(actual, minimum)
}

// compareVersions is the root package's shorthand for the dotted-version
// comparator in internal/versionutil.
func compareVersions(a, b string) int {
	return versionutil.Compare(a, b)
}
