package scenario

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/majorcontext/eccs-e2e/internal/eccs"
)

// Payloads used by the default scenario.
const (
	Data           = "hello encryption algorithm"
	AssociatedData = "AES"
	UpdatedData    = "new data"
	UpdatedAAD     = "new associated data"
)

// Default returns the standard end-to-end scenario.
func Default() *Scenario {
	return &Scenario{Steps: []Step{
		{Name: "admin-login", Needs: ops(eccs.OpLoginUser), Run: adminLogin},

		// User management
		{Name: "create-user-1", Needs: ops(eccs.OpCreateUser), Run: createUser1},
		{Name: "create-user-2", Needs: ops(eccs.OpCreateUser), Run: createUser2},
		{Name: "create-group", Needs: ops(eccs.OpCreateGroup), Run: createGroup},
		{Name: "add-user-to-group", Needs: ops(eccs.OpCreateGroup, eccs.OpAddUserToGroup), Run: addUserToGroup},
		{Name: "remove-user-from-group", Needs: ops(eccs.OpCreateGroup, eccs.OpRemoveUserFromGroup), Run: removeUserFromGroup},
		{Name: "remove-user", Needs: ops(eccs.OpRemoveUser), Run: removeUser},
		{Name: "removed-user-login", Needs: ops(eccs.OpRemoveUser, eccs.OpLoginUser), Run: removedUserLogin},
		{Name: "unscoped-user", Needs: ops(eccs.OpCreateUser), Run: unscopedUser},
		{Name: "user-login", Needs: ops(eccs.OpLoginUser), Run: userLogin},

		// Encryption
		{Name: "encrypt", Needs: ops(eccs.OpEncrypt), Run: encrypt},
		{Name: "decrypt", Needs: ops(eccs.OpEncrypt, eccs.OpDecrypt), Run: decrypt},

		// Storage
		{Name: "store", Needs: ops(eccs.OpStore), Run: store},
		{Name: "retrieve", Needs: ops(eccs.OpStore, eccs.OpRetrieve), Run: retrieve},
		{Name: "update", Needs: ops(eccs.OpStore, eccs.OpUpdate), Run: update},
		{Name: "retrieve-updated", Needs: ops(eccs.OpUpdate, eccs.OpRetrieve), Run: retrieveUpdated},
		{Name: "delete", Needs: ops(eccs.OpStore, eccs.OpDelete), Run: deleteObject},
		{Name: "retrieve-deleted", Needs: ops(eccs.OpDelete, eccs.OpRetrieve), Run: retrieveDeleted},

		// Permissions
		{Name: "create-user-3", Needs: ops(eccs.OpCreateUser), Run: createUser3},
		{Name: "store-shared", Needs: ops(eccs.OpStore), Run: storeShared},
		{Name: "add-permission", Needs: ops(eccs.OpStore, eccs.OpAddPermission), Run: addPermission},
		{Name: "get-permissions", Needs: ops(eccs.OpAddPermission, eccs.OpGetPermissions), Run: getPermissions},
		{Name: "shared-retrieve", Needs: ops(eccs.OpAddPermission, eccs.OpRetrieve), Run: sharedRetrieve},
		{Name: "remove-permission", Needs: ops(eccs.OpAddPermission, eccs.OpRemovePermission), Run: removePermission},
		{Name: "get-permissions-revoked", Needs: ops(eccs.OpRemovePermission, eccs.OpGetPermissions), Run: getPermissionsRevoked},
	}}
}

func ops(o ...eccs.Op) []eccs.Op { return o }

// expectExit turns the error of a call that should have failed into the
// step's outcome: only a non-zero exit counts as the expected failure.
func expectExit(err error, format string, args ...any) error {
	if err == nil {
		return fail(format, args...)
	}
	var exitErr *eccs.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func adminLogin(ctx context.Context, st *State) (string, error) {
	if st.Admin.Token != "" {
		return "", &SkipError{Reason: "using supplied admin access token"}
	}
	token, err := st.Client.LoginUser(ctx, st.Admin.UserID, st.Admin.Password)
	if err != nil {
		return "", err
	}
	st.Admin.Token = token
	return fmt.Sprintf("logged in admin %s", st.Admin.UserID), nil
}

func createUser1(ctx context.Context, st *State) (string, error) {
	scopes := eccs.FilterScopes(eccs.AllScopes, st.Client.Contract().Scopes())
	creds, err := st.Client.CreateUser(ctx, st.Admin, scopes)
	if err != nil {
		return "", err
	}
	st.User1 = creds
	st.Auth1 = st.auth(creds, "")
	return fmt.Sprintf("created first user: UID %s, scopes %s", creds.UserID, scopes), nil
}

func createUser2(ctx context.Context, st *State) (string, error) {
	creds, err := st.Client.CreateUser(ctx, st.Admin, "r")
	if err != nil {
		return "", err
	}
	st.User2 = creds
	return fmt.Sprintf("created second user: UID %s", creds.UserID), nil
}

func createGroup(ctx context.Context, st *State) (string, error) {
	gid, err := st.Client.CreateGroup(ctx, st.Admin, eccs.AllScopes)
	if err != nil {
		return "", err
	}
	st.GroupID = gid
	return fmt.Sprintf("created group: GID %s", gid), nil
}

func addUserToGroup(ctx context.Context, st *State) (string, error) {
	if err := st.Client.AddUserToGroup(ctx, st.Admin, st.User2.UserID, st.GroupID); err != nil {
		return "", err
	}
	return fmt.Sprintf("added user %s to group %s", st.User2.UserID, st.GroupID), nil
}

func removeUserFromGroup(ctx context.Context, st *State) (string, error) {
	if err := st.Client.RemoveUserFromGroup(ctx, st.Admin, st.User2.UserID, st.GroupID); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed user %s from group %s", st.User2.UserID, st.GroupID), nil
}

func removeUser(ctx context.Context, st *State) (string, error) {
	if err := st.Client.RemoveUser(ctx, st.Admin, st.User2.UserID); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed user %s", st.User2.UserID), nil
}

func removedUserLogin(ctx context.Context, st *State) (string, error) {
	_, err := st.Client.LoginUser(ctx, st.User2.UserID, st.User2.Password)
	if err := expectExit(err, "login of removed user %s should fail", st.User2.UserID); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed user %s cannot log in", st.User2.UserID), nil
}

func unscopedUser(ctx context.Context, st *State) (string, error) {
	_, err := st.Client.CreateUser(ctx, st.Admin, "")
	if err := expectExit(err, "creating a user without scopes should fail"); err != nil {
		return "", err
	}
	return "creating a user without scopes was rejected", nil
}

func userLogin(ctx context.Context, st *State) (string, error) {
	token, err := st.Client.LoginUser(ctx, st.User1.UserID, st.User1.Password)
	if err != nil {
		return "", err
	}
	st.Auth1 = st.auth(st.User1, token)
	return fmt.Sprintf("logged in user %s", st.User1.UserID), nil
}

func encrypt(ctx context.Context, st *State) (string, error) {
	ct, err := st.Client.Encrypt(ctx, st.Auth1, Data, AssociatedData)
	if err != nil {
		return "", err
	}
	st.Encrypted = ct
	return fmt.Sprintf("encrypted object %s", ct.ObjectID), nil
}

func decrypt(ctx context.Context, st *State) (string, error) {
	obj, err := st.Client.Decrypt(ctx, st.Auth1, st.Encrypted.Ciphertext, st.Encrypted.AssociatedData, st.Encrypted.ObjectID)
	if err != nil {
		return "", err
	}
	if err := checkObject("decryption failed", obj, Data, AssociatedData); err != nil {
		return "", err
	}
	return fmt.Sprintf("decrypted object %s", st.Encrypted.ObjectID), nil
}

func store(ctx context.Context, st *State) (string, error) {
	oid, err := st.Client.Store(ctx, st.Auth1, Data, AssociatedData)
	if err != nil {
		return "", err
	}
	st.ObjectID = oid
	return fmt.Sprintf("stored object %s", oid), nil
}

func retrieve(ctx context.Context, st *State) (string, error) {
	obj, err := st.Client.Retrieve(ctx, st.Auth1, st.ObjectID)
	if err != nil {
		return "", err
	}
	if err := checkObject("retrieval failed", obj, Data, AssociatedData); err != nil {
		return "", err
	}
	return fmt.Sprintf("retrieved object %s", st.ObjectID), nil
}

func update(ctx context.Context, st *State) (string, error) {
	if err := st.Client.Update(ctx, st.Auth1, st.ObjectID, UpdatedData, UpdatedAAD); err != nil {
		return "", err
	}
	return fmt.Sprintf("updated object %s", st.ObjectID), nil
}

func retrieveUpdated(ctx context.Context, st *State) (string, error) {
	obj, err := st.Client.Retrieve(ctx, st.Auth1, st.ObjectID)
	if err != nil {
		return "", err
	}
	if err := checkObject("failed to update object", obj, UpdatedData, UpdatedAAD); err != nil {
		return "", err
	}
	return fmt.Sprintf("retrieved updated object %s", st.ObjectID), nil
}

func deleteObject(ctx context.Context, st *State) (string, error) {
	if err := st.Client.Delete(ctx, st.Auth1, st.ObjectID); err != nil {
		return "", err
	}
	return fmt.Sprintf("deleted object %s", st.ObjectID), nil
}

func retrieveDeleted(ctx context.Context, st *State) (string, error) {
	_, err := st.Client.Retrieve(ctx, st.Auth1, st.ObjectID)
	if err := expectExit(err, "retrieving object %s should fail after deletion", st.ObjectID); err != nil {
		return "", err
	}
	return fmt.Sprintf("object %s was deleted successfully", st.ObjectID), nil
}

func createUser3(ctx context.Context, st *State) (string, error) {
	creds, err := st.Client.CreateUser(ctx, st.Admin, "r")
	if err != nil {
		return "", err
	}
	st.User3 = creds
	st.Auth3 = st.auth(creds, "")
	if st.Client.Contract().UsesToken() {
		token, err := st.Client.LoginUser(ctx, creds.UserID, creds.Password)
		if err != nil {
			return "", fmt.Errorf("logging in third user: %w", err)
		}
		st.Auth3.Token = token
	}
	return fmt.Sprintf("created third user: UID %s", creds.UserID), nil
}

func storeShared(ctx context.Context, st *State) (string, error) {
	oid, err := st.Client.Store(ctx, st.Auth1, Data, AssociatedData)
	if err != nil {
		return "", err
	}
	st.SharedID = oid
	return fmt.Sprintf("stored object %s", oid), nil
}

func addPermission(ctx context.Context, st *State) (string, error) {
	if err := st.Client.AddPermission(ctx, st.Auth1, st.User3.UserID, st.SharedID); err != nil {
		return "", err
	}
	return fmt.Sprintf("added permissions for user %s on object %s", st.User3.UserID, st.SharedID), nil
}

func getPermissions(ctx context.Context, st *State) (string, error) {
	ids, err := st.Client.GetPermissions(ctx, st.Auth1, st.SharedID)
	if err != nil {
		return "", err
	}
	if !slices.Contains(ids, st.User1.UserID) || !slices.Contains(ids, st.User3.UserID) {
		return "", fail("wrong IDs in permission list %v", ids)
	}
	return fmt.Sprintf("got correct permissions %v", ids), nil
}

func sharedRetrieve(ctx context.Context, st *State) (string, error) {
	obj, err := st.Client.Retrieve(ctx, st.Auth3, st.SharedID)
	if err != nil {
		return "", err
	}
	if err := checkObject("shared retrieval failed", obj, Data, AssociatedData); err != nil {
		return "", err
	}
	return fmt.Sprintf("user %s retrieved shared object %s", st.User3.UserID, st.SharedID), nil
}

func removePermission(ctx context.Context, st *State) (string, error) {
	if err := st.Client.RemovePermission(ctx, st.Auth1, st.User3.UserID, st.SharedID); err != nil {
		return "", err
	}
	return fmt.Sprintf("removed permissions for user %s on object %s", st.User3.UserID, st.SharedID), nil
}

func getPermissionsRevoked(ctx context.Context, st *State) (string, error) {
	ids, err := st.Client.GetPermissions(ctx, st.Auth1, st.SharedID)
	if err != nil {
		return "", err
	}
	if slices.Contains(ids, st.User3.UserID) {
		return "", fail("user %s not removed from permission list %v", st.User3.UserID, ids)
	}
	return fmt.Sprintf("user %s no longer in permission list", st.User3.UserID), nil
}

func checkObject(what string, obj eccs.Object, data, aad string) error {
	if err := assertEqual(what, obj.Plaintext, data); err != nil {
		return err
	}
	return assertEqual(what, obj.AssociatedData, aad)
}
