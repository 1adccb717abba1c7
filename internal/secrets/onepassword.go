package secrets

import (
	"context"
	"strings"
)

// OnePasswordResolver resolves op://vault/item/field with the op CLI.
type OnePasswordResolver struct{}

// Scheme returns "op".
func (r *OnePasswordResolver) Scheme() string {
	return "op"
}

// Resolve fetches a secret using `op read`.
func (r *OnePasswordResolver) Resolve(ctx context.Context, reference string) (string, error) {
	return runBackendCLI(ctx, "1Password", "op",
		"Install from https://1password.com/downloads/command-line/\nThen run: op signin",
		func(stderr []byte) error { return r.parseOpError(stderr, reference) },
		"read", "--no-newline", reference)
}

// parseOpError converts op CLI errors to actionable error types.
func (r *OnePasswordResolver) parseOpError(stderr []byte, reference string) error {
	msg := string(stderr)

	switch {
	case strings.Contains(msg, "not currently signed in") || strings.Contains(msg, "not signed in"):
		return &BackendError{
			Backend:   "1Password",
			Reference: reference,
			Reason:    "not signed in",
			Fix:       "Run: eval $(op signin)\n\nOr for CI, set OP_SERVICE_ACCOUNT_TOKEN.",
		}
	case strings.Contains(msg, "isn't an item") || strings.Contains(msg, "could not be found"):
		return &NotFoundError{Reference: reference, Backend: "1Password"}
	case strings.Contains(msg, "isn't a vault") || (strings.Contains(msg, "vault") && strings.Contains(msg, "not found")):
		vault := "unknown"
		if parts := strings.Split(strings.TrimPrefix(reference, "op://"), "/"); parts[0] != "" {
			vault = parts[0]
		}
		return &BackendError{
			Backend:   "1Password",
			Reference: reference,
			Reason:    "vault not found or not accessible",
			Fix:       "Vault \"" + vault + "\" not found.\n\nList available vaults with: op vault list",
		}
	}
	return &BackendError{
		Backend:   "1Password",
		Reference: reference,
		Reason:    strings.TrimSpace(msg),
	}
}

func init() {
	Register(&OnePasswordResolver{})
}
