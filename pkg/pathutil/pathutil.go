// Package pathutil implements the pure, non-normalizing path predicates used
// throughout the watch engine to reason about nesting between watch roots,
// mount points, and filesystem events.
package pathutil

import "strings"

// IsParentPath reports whether child is equal to parent, or begins with
// parent followed by a path separator. Both arguments are treated as raw byte
// strings: no normalization is performed (no resolution of "..", symlinks, or
// trailing slashes). Callers that need "strictly under" rather than "at or
// under" disambiguate with an equality check of their own.
func IsParentPath(parent, child string) bool {
	if !strings.HasPrefix(child, parent) {
		return false
	}
	if len(child) == len(parent) {
		return true
	}
	return child[len(parent)] == '/'
}
