// Package secrets resolves secret references such as op://vault/item/field
// to their values. Values without a scheme pass through unchanged.
package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Resolver resolves a secret reference to its plaintext value.
type Resolver interface {
	// Scheme returns the URI scheme this resolver handles (e.g., "op", "ssm").
	Scheme() string

	// Resolve fetches the secret value for the given reference.
	// The reference is the full URI (e.g., "op://CI/eccs-admin/password").
	Resolve(ctx context.Context, reference string) (string, error)
}

var (
	resolvers = make(map[string]Resolver)
	mu        sync.RWMutex
)

// Register adds a resolver to the registry.
func Register(r Resolver) {
	mu.Lock()
	defer mu.Unlock()
	resolvers[r.Scheme()] = r
}

// Resolve dispatches to the appropriate resolver based on URI scheme.
func Resolve(ctx context.Context, reference string) (string, error) {
	scheme := parseScheme(reference)
	if scheme == "" {
		return "", &InvalidReferenceError{Reference: reference, Reason: "missing scheme"}
	}

	mu.RLock()
	r, ok := resolvers[scheme]
	mu.RUnlock()

	if !ok {
		return "", &UnsupportedSchemeError{Scheme: scheme}
	}

	return r.Resolve(ctx, reference)
}

// IsReference reports whether value looks like scheme://... and should be
// resolved rather than used literally.
func IsReference(value string) bool {
	return parseScheme(value) != ""
}

// ResolveValue resolves value if it is a reference and returns it
// unchanged otherwise. Empty values stay empty.
func ResolveValue(ctx context.Context, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	return Resolve(ctx, value)
}

// ResolveAll resolves every value of m with ResolveValue and returns a new
// map. The first failure aborts and names the offending key.
func ResolveAll(ctx context.Context, m map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		resolved, err := ResolveValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

// Schemes lists the registered schemes.
func Schemes() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(resolvers))
	for s := range resolvers {
		out = append(out, s)
	}
	return out
}

// parseScheme extracts the scheme from a URI (e.g., "op" from "op://vault/item").
func parseScheme(ref string) string {
	idx := strings.Index(ref, "://")
	if idx < 1 {
		return ""
	}
	for _, c := range ref[:idx] {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return ""
		}
	}
	return ref[:idx]
}

// withTestRegistry swaps in an empty registry for the duration of fn.
func withTestRegistry(fn func()) {
	mu.Lock()
	saved := resolvers
	resolvers = make(map[string]Resolver)
	mu.Unlock()

	defer func() {
		mu.Lock()
		resolvers = saved
		mu.Unlock()
	}()
	fn()
}
