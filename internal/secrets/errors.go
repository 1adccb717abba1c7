package secrets

import (
	"fmt"
	"slices"
	"strings"
)

// Failures resolving the admin password or token given as a reference.
// Messages name the reference, never the resolved value.

// UnsupportedSchemeError is a reference whose scheme has no resolver.
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	known := Schemes()
	slices.Sort(known)
	return fmt.Sprintf("no resolver for %s:// references (supported: %s)", e.Scheme, strings.Join(known, ", "))
}

// InvalidReferenceError is a reference that cannot be parsed.
type InvalidReferenceError struct {
	Reference string
	Reason    string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("cannot parse credential reference %q: %s", e.Reference, e.Reason)
}

// NotFoundError is a well-formed reference that points at nothing.
type NotFoundError struct {
	Reference string
	Backend   string
}

func (e *NotFoundError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s has nothing at %s", e.Backend, e.Reference)
	}
	return fmt.Sprintf("nothing found at %s", e.Reference)
}

// BackendError is a failure reported by the backend CLI or API. Fix, when
// set, is printed on its own line.
type BackendError struct {
	Backend   string
	Reference string
	Reason    string
	Fix       string
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("resolving %s with %s: %s", e.Reference, e.Backend, e.Reason)
	if e.Fix != "" {
		msg += "\n  " + e.Fix
	}
	return msg
}
