package eccs

import (
	"fmt"

	"github.com/google/uuid"
)

// V3 is the credential-per-call release: every subcommand takes -u/-p and
// prints a JSON object on stdout. There is no loginuser.
type V3 struct{}

func (V3) Name() string { return "v3" }

func (V3) Description() string {
	return "credentials (-u/-p) on every call, endpoint flag, JSON on stdout, user groups"
}

var v3Ops = newOpSet(OpCreateUser, OpRemoveUser, OpCreateGroup, OpAddUserToGroup,
	OpRemoveUserFromGroup, OpEncrypt, OpDecrypt, OpStore, OpRetrieve, OpUpdate, OpDelete,
	OpGetPermissions, OpAddPermission, OpRemovePermission)

func (V3) Supports(op Op) bool { return v3Ops[op] }

func (V3) Scopes() string { return AllScopes }

func (V3) UsesToken() bool { return false }

func (c V3) Command(op Op, ep Endpoint, auth Auth, req Request) (Invocation, error) {
	if !c.Supports(op) {
		return Invocation{}, ErrUnsupported
	}
	args := endpointFlags(ep)
	args = append(args, "-u", auth.UserID, "-p", auth.Password)
	sub, err := jsonSubcommand(op, auth, req)
	if err != nil {
		return Invocation{}, err
	}
	return Invocation{Args: append(args, sub...)}, nil
}

func (V3) Decode(op Op, res *Result) (*Response, error) {
	return decodeJSONResponse(op, res.Stdout)
}

// V4 keeps the JSON output of V3 but authenticates with an access token
// obtained from loginuser. Every ID it prints is a UUID.
type V4 struct{}

func (V4) Name() string { return "v4" }

func (V4) Description() string {
	return "token (--token), endpoint flag, JSON on stdout, UUID identifiers"
}

func (V4) Supports(Op) bool { return true }

func (V4) Scopes() string { return AllScopes }

func (V4) UsesToken() bool { return true }

func (V4) Command(op Op, ep Endpoint, auth Auth, req Request) (Invocation, error) {
	args := endpointFlags(ep)
	if op != OpLoginUser {
		args = append(args, "--token", auth.Token)
	}
	sub, err := jsonSubcommand(op, auth, req)
	if err != nil {
		return Invocation{}, err
	}
	return Invocation{Args: append(args, sub...)}, nil
}

func (V4) Decode(op Op, res *Result) (*Response, error) {
	resp, err := decodeJSONResponse(op, res.Stdout)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		name, value string
	}{
		{"userId", resp.UserID},
		{"groupId", resp.GroupID},
		{"objectId", resp.ObjectID},
	} {
		if f.value == "" {
			continue
		}
		if _, err := uuid.Parse(f.value); err != nil {
			return nil, &ParseError{Op: op, Field: f.name, Reason: "not a UUID", Output: res.Stdout}
		}
	}
	return resp, nil
}

func endpointFlags(ep Endpoint) []string {
	args := []string{"-e", ep.Address}
	if ep.CertPath != "" {
		args = append(args, "-c", ep.CertPath)
	}
	return args
}

// jsonSubcommand builds the subcommand part shared by the JSON releases.
func jsonSubcommand(op Op, auth Auth, req Request) ([]string, error) {
	args := []string{string(op)}
	switch op {
	case OpCreateUser, OpCreateGroup:
		if err := ValidateScopes(req.Scopes); err != nil {
			return nil, err
		}
		if req.Scopes != "" {
			args = append(args, "-s", req.Scopes)
		}
	case OpRemoveUser:
		args = append(args, "-t", req.Target)
	case OpAddUserToGroup, OpRemoveUserFromGroup:
		args = append(args, "-t", req.Target, "-g", req.GroupID)
	case OpLoginUser:
		args = append(args, "-u", auth.UserID, "-p", auth.Password)
	case OpEncrypt, OpStore:
		args = append(args, "-d", req.Data, "-a", req.AssociatedData)
	case OpDecrypt:
		args = append(args, "-d", req.Ciphertext, "-a", req.AssociatedData, "-o", req.ObjectID)
	case OpUpdate:
		args = append(args, "-o", req.ObjectID, "-d", req.Data, "-a", req.AssociatedData)
	case OpRetrieve, OpDelete, OpGetPermissions:
		args = append(args, "-o", req.ObjectID)
	case OpAddPermission, OpRemovePermission:
		args = append(args, "-t", req.Target, "-o", req.ObjectID)
	default:
		return nil, fmt.Errorf("no command line for %s", op)
	}
	return args, nil
}

// jsonOutput is the union of the objects printed by the JSON releases.
// Pointers distinguish a missing field from an empty one.
type jsonOutput struct {
	UserID         *string  `json:"userId"`
	Password       *string  `json:"password"`
	AccessToken    *string  `json:"accessToken"`
	GroupID        *string  `json:"groupId"`
	ObjectID       *string  `json:"objectId"`
	Ciphertext     *string  `json:"ciphertext"`
	AssociatedData *string  `json:"associatedData"`
	Plaintext      *string  `json:"plaintext"`
	GroupIDs       []string `json:"groupIds"`
}

// jsonFields lists the fields each subcommand must print. Subcommands
// missing from the map print nothing worth checking.
var jsonFields = map[Op][]string{
	OpCreateUser:     {"userId", "password"},
	OpCreateGroup:    {"groupId"},
	OpLoginUser:      {"accessToken"},
	OpEncrypt:        {"objectId", "ciphertext", "associatedData"},
	OpDecrypt:        {"plaintext", "associatedData"},
	OpStore:          {"objectId"},
	OpRetrieve:       {"plaintext", "associatedData"},
	OpGetPermissions: {"groupIds"},
}

func decodeJSONResponse(op Op, stdout string) (*Response, error) {
	fields, ok := jsonFields[op]
	if !ok {
		return &Response{}, nil
	}
	var out jsonOutput
	if err := decodeJSON(op, stdout, &out); err != nil {
		return nil, err
	}
	present := map[string]bool{
		"userId":         out.UserID != nil,
		"password":       out.Password != nil,
		"accessToken":    out.AccessToken != nil,
		"groupId":        out.GroupID != nil,
		"objectId":       out.ObjectID != nil,
		"ciphertext":     out.Ciphertext != nil,
		"associatedData": out.AssociatedData != nil,
		"plaintext":      out.Plaintext != nil,
		"groupIds":       out.GroupIDs != nil,
	}
	for _, f := range fields {
		if !present[f] {
			return nil, &ParseError{Op: op, Field: f, Reason: "field missing", Output: stdout}
		}
	}
	return &Response{
		UserID:         deref(out.UserID),
		Password:       deref(out.Password),
		AccessToken:    deref(out.AccessToken),
		GroupID:        deref(out.GroupID),
		ObjectID:       deref(out.ObjectID),
		Ciphertext:     deref(out.Ciphertext),
		AssociatedData: deref(out.AssociatedData),
		Plaintext:      deref(out.Plaintext),
		IDs:            out.GroupIDs,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func init() {
	Register(V3{})
	Register(V4{})
}
