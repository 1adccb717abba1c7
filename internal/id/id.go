// Package id generates identifiers for test runs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Generate returns <prefix>_<12 hex chars>, e.g. "run_3f9a0c12be47".
// The hex is the leading random part of a version 4 UUID.
func Generate(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + hex[:12]
}

// Valid reports whether s has the form Generate(prefix) produces.
func Valid(prefix, s string) bool {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok || len(rest) != 12 {
		return false
	}
	for _, c := range rest {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
