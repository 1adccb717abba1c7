package run

import (
	"context"
	"errors"
	"fmt"

	"github.com/majorcontext/eccs-e2e/internal/config"
	"github.com/majorcontext/eccs-e2e/internal/credential"
	"github.com/majorcontext/eccs-e2e/internal/secrets"
)

// ResolveAdmin completes admin with the credential stored for endpoint and
// resolves secret references in the password and token.
//
// Values already present win. The stored credential is only consulted
// when no user ID is given or the stored one has the same user ID.
func ResolveAdmin(ctx context.Context, admin config.Admin, store credential.Store, endpoint string) (config.Admin, error) {
	if store != nil && (admin.Password == "" || admin.UserID == "") && admin.Token == "" {
		cred, err := store.Get(endpoint)
		switch {
		case err == nil:
			if admin.UserID == "" || admin.UserID == cred.UserID {
				admin.UserID = cred.UserID
				if admin.Password == "" {
					admin.Password = cred.Password
				}
				if admin.Token == "" {
					admin.Token = cred.Token
				}
			}
		case errors.Is(err, credential.ErrNotFound):
		default:
			return admin, fmt.Errorf("reading stored credentials: %w", err)
		}
	}

	var err error
	if admin.Password, err = secrets.ResolveValue(ctx, admin.Password); err != nil {
		return admin, fmt.Errorf("resolving %s: %w", config.EnvAdminPass, err)
	}
	if admin.Token, err = secrets.ResolveValue(ctx, admin.Token); err != nil {
		return admin, fmt.Errorf("resolving %s: %w", config.EnvAdminToken, err)
	}
	return admin, nil
}
