package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
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

func newClient(t *testing.T, contract string) (*eccs.Client, *eccstest.Server) {
	t.Helper()
	ct, err := eccs.Lookup(contract)
	require.NoError(t, err)
	srv := eccstest.New(contract, adminUID, adminPass)
	return eccs.NewClient(srv, ct, eccs.Endpoint{Address: "localhost:9000"}, nil), srv
}

func TestDefault_PassesOnEveryContract(t *testing.T) {
	tests := []struct {
		contract    string
		wantSkipped int
	}{
		{"v1", 11},
		{"v2", 5},
		{"v3", 3},
		{"v4", 0},
	}
	for _, tt := range tests {
		t.Run(tt.contract, func(t *testing.T) {
			client, _ := newClient(t, tt.contract)
			var seen []StepResult
			rep := ReporterFunc(func(r StepResult) { seen = append(seen, r) })

			report, err := Default().Run(context.Background(), client, eccs.Auth{UserID: adminUID, Password: adminPass}, rep)
			require.NoError(t, err)
			assert.True(t, report.Passed())
			assert.Equal(t, tt.contract, report.Contract)
			assert.Len(t, report.Steps, len(Default().Steps))
			assert.Equal(t, report.Steps, seen)
			assert.Equal(t, tt.wantSkipped, report.Count(StatusSkipped))
			assert.Equal(t, len(Default().Steps)-tt.wantSkipped, report.Count(StatusPassed))
			assert.False(t, report.Finished.Before(report.Started))
		})
	}
}

func TestRun_SkippedStepNamesMissingOp(t *testing.T) {
	client, _ := newClient(t, "v1")
	report, err := Default().Run(context.Background(), client, eccs.Auth{UserID: adminUID, Password: adminPass}, nil)
	require.NoError(t, err)

	for _, s := range report.Steps {
		if s.Name == "encrypt" {
			assert.Equal(t, StatusSkipped, s.Status)
			assert.Equal(t, "encrypt not supported by contract v1", s.Detail)
			return
		}
	}
	t.Fatal("encrypt step not reported")
}

func TestRun_SuppliedAdminToken(t *testing.T) {
	client, srv := newClient(t, "v4")
	admin := eccs.Auth{UserID: adminUID, Token: srv.Token(adminUID)}

	report, err := Default().Run(context.Background(), client, admin, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, report.Steps[0].Status)
	assert.Contains(t, report.Steps[0].Detail, "supplied admin access token")
}

func TestRun_SoftDeleteFails(t *testing.T) {
	client, srv := newClient(t, "v3")
	srv.Tamper = func(op eccs.Op, res *eccs.Result) {
		if op == eccs.OpRetrieve && res.ExitCode != 0 {
			res.ExitCode = 0
			res.Stderr = ""
			res.Stdout = `{"plaintext":"stale","associatedData":"stale"}`
		}
	}

	report, err := Default().Run(context.Background(), client, eccs.Auth{UserID: adminUID, Password: adminPass}, nil)
	require.Error(t, err)
	assert.False(t, report.Passed())

	last := report.Steps[len(report.Steps)-1]
	assert.Equal(t, "retrieve-deleted", last.Name)
	assert.Equal(t, StatusFailed, last.Status)
	assert.Contains(t, last.Detail, "should fail after deletion")

	var ae *AssertionError
	assert.True(t, errors.As(err, &ae))
	assert.True(t, strings.HasPrefix(err.Error(), "step retrieve-deleted: "))
}

// requireFailedAt checks that the run stopped at step with an assertion
// failure and returns that failure.
func requireFailedAt(t *testing.T, report *Report, err error, step string) *AssertionError {
	t.Helper()
	require.Error(t, err)
	assert.False(t, report.Passed())

	last := report.Steps[len(report.Steps)-1]
	assert.Equal(t, step, last.Name)
	assert.Equal(t, StatusFailed, last.Status)

	var ae *AssertionError
	require.True(t, errors.As(err, &ae), "error = %v, want *AssertionError", err)
	assert.True(t, strings.HasPrefix(err.Error(), "step "+step+": "), err.Error())
	return ae
}

// permissionIDs decodes the group IDs printed by a v3/v4 getpermissions.
func permissionIDs(t *testing.T, res *eccs.Result) []string {
	t.Helper()
	var out struct {
		GroupIDs []string `json:"groupIds"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(eccs.StripANSI(res.Stdout))), &out))
	return out.GroupIDs
}

func printPermissions(t *testing.T, res *eccs.Result, ids []string) {
	t.Helper()
	b, err := json.Marshal(map[string][]string{"groupIds": ids})
	require.NoError(t, err)
	res.Stdout = string(b)
}

func TestRun_UpdateNotApplied(t *testing.T) {
	client, srv := newClient(t, "v4")
	srv.Tamper = func(op eccs.Op, res *eccs.Result) {
		if op == eccs.OpRetrieve && strings.Contains(res.Stdout, UpdatedData) {
			res.Stdout = `{"plaintext":"` + Data + `","associatedData":"` + AssociatedData + `"}`
		}
	}

	report, err := Default().Run(context.Background(), client, eccs.Auth{UserID: adminUID, Password: adminPass}, nil)
	ae := requireFailedAt(t, report, err, "retrieve-updated")
	assert.Equal(t, Data, ae.Got)
	assert.Equal(t, UpdatedData, ae.Want)
}

func TestRun_PermissionListMissingUser(t *testing.T) {
	client, srv := newClient(t, "v4")
	srv.Tamper = func(op eccs.Op, res *eccs.Result) {
		if op == eccs.OpGetPermissions && res.ExitCode == 0 {
			// Keep only the owner.
			printPermissions(t, res, permissionIDs(t, res)[:1])
		}
	}

	report, err := Default().Run(context.Background(), client, eccs.Auth{UserID: adminUID, Password: adminPass}, nil)
	ae := requireFailedAt(t, report, err, "get-permissions")
	assert.Contains(t, ae.Error(), "wrong IDs in permission list")
}

func TestRun_RevokedPermissionStillListed(t *testing.T) {
	client, srv := newClient(t, "v4")
	var lastUser string
	srv.Tamper = func(op eccs.Op, res *eccs.Result) {
		if res.ExitCode != 0 {
			return
		}
		switch op {
		case eccs.OpCreateUser:
			var out struct {
				UserID string `json:"userId"`
			}
			require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(eccs.StripANSI(res.Stdout))), &out))
			lastUser = out.UserID
		case eccs.OpGetPermissions:
			ids := permissionIDs(t, res)
			if !slices.Contains(ids, lastUser) {
				printPermissions(t, res, append(ids, lastUser))
			}
		}
	}

	report, err := Default().Run(context.Background(), client, eccs.Auth{UserID: adminUID, Password: adminPass}, nil)
	ae := requireFailedAt(t, report, err, "get-permissions-revoked")
	assert.Contains(t, ae.Error(), "user "+lastUser+" not removed from permission list")
}

func TestRun_RemovedUserCanLogIn(t *testing.T) {
	client, srv := newClient(t, "v4")
	srv.Tamper = func(op eccs.Op, res *eccs.Result) {
		if op == eccs.OpLoginUser && res.ExitCode != 0 {
			res.ExitCode = 0
			res.Stderr = ""
			res.Stdout = `{"accessToken":"still-valid"}`
		}
	}

	report, err := Default().Run(context.Background(), client, eccs.Auth{UserID: adminUID, Password: adminPass}, nil)
	ae := requireFailedAt(t, report, err, "removed-user-login")
	assert.Contains(t, ae.Error(), "should fail")
}

func TestRun_DecryptMismatch(t *testing.T) {
	client, srv := newClient(t, "v4")
	srv.Tamper = func(op eccs.Op, res *eccs.Result) {
		if op == eccs.OpDecrypt {
			res.Stdout = `{"plaintext":"garbled","associatedData":"AES"}`
		}
	}

	report, err := Default().Run(context.Background(), client, eccs.Auth{UserID: adminUID, Password: adminPass}, nil)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "garbled", ae.Got)
	assert.Equal(t, Data, ae.Want)
	assert.Equal(t, `decryption failed: "garbled" != "hello encryption algorithm"`, ae.Error())
	assert.Equal(t, "decrypt", report.Steps[len(report.Steps)-1].Name)
}

func TestRun_UnexpectedExitAborts(t *testing.T) {
	client, srv := newClient(t, "v2")
	srv.Tamper = func(op eccs.Op, res *eccs.Result) {
		if op == eccs.OpStore {
			res.ExitCode = 1
			res.Stderr = "Error: storage unavailable\n"
		}
	}

	report, err := Default().Run(context.Background(), client, eccs.Auth{UserID: adminUID, Password: adminPass}, nil)
	require.Error(t, err)
	assert.True(t, eccs.IsExitError(err))
	assert.Equal(t, "store", report.Steps[len(report.Steps)-1].Name)
	assert.Contains(t, report.Steps[len(report.Steps)-1].Detail, "storage unavailable")
}

func TestRun_UnscopedUserAccepted(t *testing.T) {
	client, srv := newClient(t, "v3")
	calls := 0
	srv.Tamper = func(op eccs.Op, res *eccs.Result) {
		if op != eccs.OpCreateUser {
			return
		}
		calls++
		// The third createuser is the unscoped one.
		if calls == 3 {
			res.ExitCode = 0
			res.Stderr = ""
			res.Stdout = `{"userId":"u","password":"p"}`
		}
	}

	report, err := Default().Run(context.Background(), client, eccs.Auth{UserID: adminUID, Password: adminPass}, nil)
	require.Error(t, err)
	assert.Equal(t, "unscoped-user", report.Steps[len(report.Steps)-1].Name)
}

func TestRun_CancelledContext(t *testing.T) {
	client, _ := newClient(t, "v3")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := Default().Run(ctx, client, eccs.Auth{UserID: adminUID, Password: adminPass}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, report.Passed())
}

func TestAssertionError(t *testing.T) {
	err := &AssertionError{What: "wrong IDs in permission list"}
	assert.Equal(t, "wrong IDs in permission list", err.Error())
	assert.Nil(t, assertEqual("x", "a", "a"))
}
