package eccs

import (
	"context"
	"fmt"
	"log/slog"
)

// Client runs eccs subcommands against one server using one contract.
type Client struct {
	exec     Executor
	contract Contract
	endpoint Endpoint
	logger   *slog.Logger
}

// NewClient binds an executor, a contract and an endpoint.
// A nil logger falls back to slog.Default.
func NewClient(exec Executor, contract Contract, endpoint Endpoint, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{exec: exec, contract: contract, endpoint: endpoint, logger: logger}
}

// Contract returns the contract the client speaks.
func (c *Client) Contract() Contract { return c.contract }

// Endpoint returns the server the client talks to.
func (c *Client) Endpoint() Endpoint { return c.endpoint }

// Call runs op and decodes its output. A non-zero exit is returned as
// *ExitError; output that lacks the expected values as *ParseError.
func (c *Client) Call(ctx context.Context, op Op, auth Auth, req Request) (*Response, error) {
	if !c.contract.Supports(op) {
		return nil, fmt.Errorf("%s (%s): %w", op, c.contract.Name(), ErrUnsupported)
	}
	inv, err := c.contract.Command(op, c.endpoint, auth, req)
	if err != nil {
		return nil, fmt.Errorf("building %s command: %w", op, err)
	}

	res, err := c.exec.Exec(ctx, inv)
	if err != nil {
		c.logger.Debug("eccs failed to run",
			"op", op,
			"args", redactArgs(inv.Args, auth.Password, auth.Token),
			"error", err)
		return nil, err
	}
	c.logger.Debug("eccs",
		"op", op,
		"contract", c.contract.Name(),
		"args", redactArgs(inv.Args, auth.Password, auth.Token),
		"exit_code", res.ExitCode,
		"duration", res.Duration)

	if res.ExitCode != 0 {
		return nil, &ExitError{Op: op, Result: res}
	}
	return c.contract.Decode(op, res)
}

// CreateUser creates a user with the given scopes and returns its
// credentials.
func (c *Client) CreateUser(ctx context.Context, auth Auth, scopes string) (Credentials, error) {
	resp, err := c.Call(ctx, OpCreateUser, auth, Request{Scopes: scopes})
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{UserID: resp.UserID, Password: resp.Password}, nil
}

// RemoveUser deletes the user target.
func (c *Client) RemoveUser(ctx context.Context, auth Auth, target string) error {
	_, err := c.Call(ctx, OpRemoveUser, auth, Request{Target: target})
	return err
}

// CreateGroup creates a group with the given scopes and returns its ID.
func (c *Client) CreateGroup(ctx context.Context, auth Auth, scopes string) (string, error) {
	resp, err := c.Call(ctx, OpCreateGroup, auth, Request{Scopes: scopes})
	if err != nil {
		return "", err
	}
	return resp.GroupID, nil
}

// AddUserToGroup adds target to group gid.
func (c *Client) AddUserToGroup(ctx context.Context, auth Auth, target, gid string) error {
	_, err := c.Call(ctx, OpAddUserToGroup, auth, Request{Target: target, GroupID: gid})
	return err
}

// RemoveUserFromGroup removes target from group gid.
func (c *Client) RemoveUserFromGroup(ctx context.Context, auth Auth, target, gid string) error {
	_, err := c.Call(ctx, OpRemoveUserFromGroup, auth, Request{Target: target, GroupID: gid})
	return err
}

// LoginUser exchanges credentials for an access token.
func (c *Client) LoginUser(ctx context.Context, uid, password string) (string, error) {
	resp, err := c.Call(ctx, OpLoginUser, Auth{UserID: uid, Password: password}, Request{})
	if err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

// Encrypt encrypts data bound to aad without storing it.
func (c *Client) Encrypt(ctx context.Context, auth Auth, data, aad string) (Ciphertext, error) {
	resp, err := c.Call(ctx, OpEncrypt, auth, Request{Data: data, AssociatedData: aad})
	if err != nil {
		return Ciphertext{}, err
	}
	return Ciphertext{
		ObjectID:       resp.ObjectID,
		Ciphertext:     resp.Ciphertext,
		AssociatedData: resp.AssociatedData,
	}, nil
}

// Decrypt reverses Encrypt. ciphertext and aad are passed back exactly as
// Encrypt returned them.
func (c *Client) Decrypt(ctx context.Context, auth Auth, ciphertext, aad, oid string) (Object, error) {
	resp, err := c.Call(ctx, OpDecrypt, auth, Request{
		Ciphertext:     ciphertext,
		AssociatedData: aad,
		ObjectID:       oid,
	})
	if err != nil {
		return Object{}, err
	}
	return Object{Plaintext: resp.Plaintext, AssociatedData: resp.AssociatedData}, nil
}

// Store stores data and aad on the server and returns the object ID.
func (c *Client) Store(ctx context.Context, auth Auth, data, aad string) (string, error) {
	resp, err := c.Call(ctx, OpStore, auth, Request{Data: data, AssociatedData: aad})
	if err != nil {
		return "", err
	}
	return resp.ObjectID, nil
}

// Retrieve fetches a stored object.
func (c *Client) Retrieve(ctx context.Context, auth Auth, oid string) (Object, error) {
	resp, err := c.Call(ctx, OpRetrieve, auth, Request{ObjectID: oid})
	if err != nil {
		return Object{}, err
	}
	return Object{Plaintext: resp.Plaintext, AssociatedData: resp.AssociatedData}, nil
}

// Update replaces the contents of a stored object.
func (c *Client) Update(ctx context.Context, auth Auth, oid, data, aad string) error {
	_, err := c.Call(ctx, OpUpdate, auth, Request{ObjectID: oid, Data: data, AssociatedData: aad})
	return err
}

// Delete removes a stored object.
func (c *Client) Delete(ctx context.Context, auth Auth, oid string) error {
	_, err := c.Call(ctx, OpDelete, auth, Request{ObjectID: oid})
	return err
}

// GetPermissions lists the IDs with access to oid.
func (c *Client) GetPermissions(ctx context.Context, auth Auth, oid string) ([]string, error) {
	resp, err := c.Call(ctx, OpGetPermissions, auth, Request{ObjectID: oid})
	if err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// AddPermission grants target access to oid.
func (c *Client) AddPermission(ctx context.Context, auth Auth, target, oid string) error {
	_, err := c.Call(ctx, OpAddPermission, auth, Request{Target: target, ObjectID: oid})
	return err
}

// RemovePermission revokes target's access to oid.
func (c *Client) RemovePermission(ctx context.Context, auth Auth, target, oid string) error {
	_, err := c.Call(ctx, OpRemovePermission, auth, Request{Target: target, ObjectID: oid})
	return err
}
