package eccs

import "strings"

// AllScopes is the full scope set: read, create, update, delete, index,
// object permissions and user management.
const AllScopes = "rcudiom"

// ValidateScopes checks that every letter of scopes is a known scope.
func ValidateScopes(scopes string) error {
	for _, s := range scopes {
		if !strings.ContainsRune(AllScopes, s) {
			return &InvalidScopeError{Scope: s}
		}
	}
	return nil
}

// FilterScopes drops the letters of scopes that supported does not contain.
// Order and duplicates of scopes are preserved.
func FilterScopes(scopes, supported string) string {
	var b strings.Builder
	for _, s := range scopes {
		if strings.ContainsRune(supported, s) {
			b.WriteRune(s)
		}
	}
	return b.String()
}

// scopeFlags expands a scope string into the boolean flags used by the
// early releases. Letters absent from flags are rejected.
func scopeFlags(scopes string, flags map[rune]string) ([]string, error) {
	if err := ValidateScopes(scopes); err != nil {
		return nil, err
	}
	var args []string
	seen := make(map[rune]bool)
	for _, s := range scopes {
		if seen[s] {
			continue
		}
		seen[s] = true
		flag, ok := flags[s]
		if !ok {
			return nil, &InvalidScopeError{Scope: s}
		}
		args = append(args, flag)
	}
	return args, nil
}
