package eccs_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/eccs-e2e/internal/eccs"
	"github.com/majorcontext/eccs-e2e/internal/eccs/eccstest"
)

const (
	adminUID  = "admin"
	adminPass = "admin-password"
)

func newClient(t *testing.T, contract string) (*eccs.Client, *eccstest.Server, eccs.Auth) {
	t.Helper()
	ct, err := eccs.Lookup(contract)
	require.NoError(t, err)
	srv := eccstest.New(contract, adminUID, adminPass)
	client := eccs.NewClient(srv, ct, eccs.Endpoint{Address: "localhost:9000"}, nil)

	admin := eccs.Auth{UserID: adminUID, Password: adminPass}
	if ct.UsesToken() {
		tok, err := client.LoginUser(context.Background(), adminUID, adminPass)
		require.NoError(t, err)
		admin.Token = tok
	}
	return client, srv, admin
}

func TestClient_StorageRoundTrip(t *testing.T) {
	for _, contract := range []string{"v1", "v2", "v3", "v4"} {
		t.Run(contract, func(t *testing.T) {
			ctx := context.Background()
			client, _, admin := newClient(t, contract)

			oid, err := client.Store(ctx, admin, "hello encryption algorithm", "AES")
			require.NoError(t, err)
			assert.NotEmpty(t, oid)

			obj, err := client.Retrieve(ctx, admin, oid)
			require.NoError(t, err)
			assert.Equal(t, "hello encryption algorithm", obj.Plaintext)
			assert.Equal(t, "AES", obj.AssociatedData)
		})
	}
}

func TestClient_EncryptDecrypt(t *testing.T) {
	for _, contract := range []string{"v2", "v3", "v4"} {
		t.Run(contract, func(t *testing.T) {
			ctx := context.Background()
			client, _, admin := newClient(t, contract)

			ct, err := client.Encrypt(ctx, admin, "hello encryption algorithm", "AES")
			require.NoError(t, err)

			obj, err := client.Decrypt(ctx, admin, ct.Ciphertext, ct.AssociatedData, ct.ObjectID)
			require.NoError(t, err)
			assert.Equal(t, "hello encryption algorithm", obj.Plaintext)
			assert.Equal(t, "AES", obj.AssociatedData)
		})
	}
}

func TestClient_V2EscapedPayload(t *testing.T) {
	ctx := context.Background()
	client, _, admin := newClient(t, "v2")
	const data, aad = `say "hi" from C:\new`, `a\b "c"`

	ct, err := client.Encrypt(ctx, admin, data, aad)
	require.NoError(t, err)
	obj, err := client.Decrypt(ctx, admin, ct.Ciphertext, ct.AssociatedData, ct.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, data, obj.Plaintext)
	assert.Equal(t, aad, obj.AssociatedData)

	oid, err := client.Store(ctx, admin, data, aad)
	require.NoError(t, err)
	assert.NotContains(t, oid, "object_id")
	obj, err = client.Retrieve(ctx, admin, oid)
	require.NoError(t, err)
	assert.Equal(t, data, obj.Plaintext)
	assert.Equal(t, aad, obj.AssociatedData)
}

func TestClient_CreateUserAndLogin(t *testing.T) {
	ctx := context.Background()
	client, srv, admin := newClient(t, "v4")

	creds, err := client.CreateUser(ctx, admin, "r")
	require.NoError(t, err)
	assert.True(t, srv.HasUser(creds.UserID))

	tok, err := client.LoginUser(ctx, creds.UserID, creds.Password)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)

	_, err = client.LoginUser(ctx, creds.UserID, "wrong")
	assert.True(t, eccs.IsExitError(err), "bad password: error = %v", err)
}

func TestClient_UnscopedCreateUserFails(t *testing.T) {
	for _, contract := range []string{"v1", "v3"} {
		t.Run(contract, func(t *testing.T) {
			client, _, admin := newClient(t, contract)
			_, err := client.CreateUser(context.Background(), admin, "")
			var exitErr *eccs.ExitError
			require.True(t, errors.As(err, &exitErr), "error = %v, want *ExitError", err)
			assert.Equal(t, eccs.OpCreateUser, exitErr.Op)
			assert.Contains(t, exitErr.Error(), "no scopes given")
		})
	}
}

func TestClient_Groups(t *testing.T) {
	ctx := context.Background()
	client, _, admin := newClient(t, "v3")

	creds, err := client.CreateUser(ctx, admin, "r")
	require.NoError(t, err)
	gid, err := client.CreateGroup(ctx, admin, "rcudiom")
	require.NoError(t, err)
	require.NoError(t, client.AddUserToGroup(ctx, admin, creds.UserID, gid))
	require.NoError(t, client.RemoveUserFromGroup(ctx, admin, creds.UserID, gid))
	require.NoError(t, client.RemoveUser(ctx, admin, creds.UserID))

	err = client.RemoveUser(ctx, admin, creds.UserID)
	assert.True(t, eccs.IsExitError(err), "second removal: error = %v", err)
}

func TestClient_Permissions(t *testing.T) {
	ctx := context.Background()
	client, _, admin := newClient(t, "v2")

	creds, err := client.CreateUser(ctx, admin, "r")
	require.NoError(t, err)
	oid, err := client.Store(ctx, admin, "data", "aad")
	require.NoError(t, err)

	require.NoError(t, client.AddPermission(ctx, admin, creds.UserID, oid))
	ids, err := client.GetPermissions(ctx, admin, oid)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{adminUID, creds.UserID}, ids)

	require.NoError(t, client.RemovePermission(ctx, admin, creds.UserID, oid))
	ids, err = client.GetPermissions(ctx, admin, oid)
	require.NoError(t, err)
	assert.NotContains(t, ids, creds.UserID)
}

func TestClient_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	client, _, admin := newClient(t, "v3")

	oid, err := client.Store(ctx, admin, "data", "aad")
	require.NoError(t, err)
	require.NoError(t, client.Update(ctx, admin, oid, "new data", "new associated data"))

	obj, err := client.Retrieve(ctx, admin, oid)
	require.NoError(t, err)
	assert.Equal(t, eccs.Object{Plaintext: "new data", AssociatedData: "new associated data"}, obj)

	require.NoError(t, client.Delete(ctx, admin, oid))
	_, err = client.Retrieve(ctx, admin, oid)
	assert.True(t, eccs.IsExitError(err), "retrieve after delete: error = %v", err)
}

func TestClient_UnsupportedDoesNotSpawn(t *testing.T) {
	client, srv, admin := newClient(t, "v1")
	before := len(srv.Calls())

	_, err := client.Encrypt(context.Background(), admin, "data", "aad")
	assert.ErrorIs(t, err, eccs.ErrUnsupported)
	assert.Len(t, srv.Calls(), before)
}

func TestClient_InvalidScopeDoesNotSpawn(t *testing.T) {
	client, srv, admin := newClient(t, "v3")

	_, err := client.CreateUser(context.Background(), admin, "rq")
	var se *eccs.InvalidScopeError
	assert.ErrorAs(t, err, &se)
	assert.Empty(t, srv.Calls())
}

func TestClient_ParseError(t *testing.T) {
	client, srv, admin := newClient(t, "v3")
	srv.Tamper = func(op eccs.Op, res *eccs.Result) {
		if op == eccs.OpStore {
			res.Stdout = "{}"
		}
	}
	_, err := client.Store(context.Background(), admin, "data", "aad")
	var pe *eccs.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "objectId", pe.Field)
	assert.False(t, eccs.IsExitError(err))
}

func TestClient_LogsRedactedArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ct, err := eccs.Lookup("v3")
	require.NoError(t, err)
	srv := eccstest.New("v3", adminUID, adminPass)
	client := eccs.NewClient(srv, ct, eccs.Endpoint{Address: "localhost:9000"}, logger)

	_, err = client.Store(context.Background(), eccs.Auth{UserID: adminUID, Password: adminPass}, "data", "aad")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "op=store")
	assert.Contains(t, out, "exit_code=0")
	assert.False(t, strings.Contains(out, adminPass), "log output leaks password: %s", out)
}
