package eccs

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The first two eccs releases authenticate with -a <token>, read the server
// address from ECCS_ENDPOINT, take payloads on stdin and report results with
// log lines on stderr.

// quoted matches a Go/protobuf double-quoted string including escapes.
const quoted = `("(?:[^"\\]|\\.)*")`

var (
	v1CredentialsRe = regexp.MustCompile(`user_id:"([^"]+)"\s+password:"([^"]+)"`)
	v1TokenRe       = regexp.MustCompile(`access_token:"([^"]+)"`)
	v1ObjectIDRe    = regexp.MustCompile(`object_id:"([^"]+)"`)
	v1ObjectRe      = regexp.MustCompile(`plaintext:` + quoted + `\s+associated_data:` + quoted)
	v1PermsLineRe   = regexp.MustCompile(`Permissions:`)
	v1PermIDRe      = regexp.MustCompile(`user_ids:"([^"]+)"`)

	v2TokenRe     = regexp.MustCompile(`AccessToken:\s*(\S+)`)
	v2EncryptRe   = regexp.MustCompile(`ObjectID:\s*([^\s,]+),\s*Ciphertext:\s*([A-Za-z0-9+/=]+),\s*AssociatedData:\s*([A-Za-z0-9+/=]*)`)
	v2PermsLineRe = regexp.MustCompile(`Permissions:\s*(.*)$`)

	// v2 decrypt prints both values unescaped between literal quotes, so
	// the captures are greedy and anchored to the end of the line.
	v2DecryptRe = regexp.MustCompile(`Object:\s*m="(.*)", aad="(.*)"$`)
)

// V1 is the first eccs release: token auth, protobuf text on stderr, no
// groups, no encryption API, no update or delete.
type V1 struct{}

func (V1) Name() string { return "v1" }

func (V1) Description() string {
	return "token (-a), ECCS_ENDPOINT, protobuf text on stderr, storage and permissions only"
}

var v1Ops = newOpSet(OpCreateUser, OpLoginUser, OpStore, OpRetrieve,
	OpGetPermissions, OpAddPermission, OpRemovePermission)

func (V1) Supports(op Op) bool { return v1Ops[op] }

func (V1) Scopes() string { return "rciom" }

func (V1) UsesToken() bool { return true }

var v1ScopeFlags = map[rune]string{'r': "-r", 'c': "-c", 'i': "-i", 'o': "-p", 'm': "-m"}

func (c V1) Command(op Op, ep Endpoint, auth Auth, req Request) (Invocation, error) {
	if !c.Supports(op) {
		return Invocation{}, ErrUnsupported
	}
	inv := Invocation{Env: endpointEnv(ep)}
	if op != OpLoginUser {
		inv.Args = []string{"-a", auth.Token}
	}
	inv.Args = append(inv.Args, string(op))

	switch op {
	case OpCreateUser:
		flags, err := scopeFlags(req.Scopes, v1ScopeFlags)
		if err != nil {
			return Invocation{}, err
		}
		inv.Args = append(inv.Args, flags...)
	case OpLoginUser:
		inv.Args = append(inv.Args, "-u", auth.UserID, "-p", auth.Password)
	case OpStore:
		inv.Args = append(inv.Args, "-s", "-d", req.AssociatedData)
		inv.Stdin = req.Data
	case OpRetrieve, OpGetPermissions:
		inv.Args = append(inv.Args, "-o", req.ObjectID)
	case OpAddPermission, OpRemovePermission:
		inv.Args = append(inv.Args, "-t", req.Target, "-o", req.ObjectID)
	}
	return inv, nil
}

func (V1) Decode(op Op, res *Result) (*Response, error) {
	out := res.Stderr
	switch op {
	case OpCreateUser:
		m, err := scrapeLine(op, "UID and password", out, v1CredentialsRe)
		if err != nil {
			return nil, err
		}
		return &Response{UserID: m[1], Password: m[2]}, nil
	case OpLoginUser:
		m, err := scrapeLine(op, "access token", out, v1TokenRe)
		if err != nil {
			return nil, err
		}
		return &Response{AccessToken: m[1]}, nil
	case OpStore:
		m, err := scrapeLine(op, "object ID", out, v1ObjectIDRe)
		if err != nil {
			return nil, err
		}
		return &Response{ObjectID: m[1]}, nil
	case OpRetrieve:
		return decodeQuotedObject(op, out, v1ObjectRe)
	case OpGetPermissions:
		ids, err := scrapeAll(op, "permissions", out, v1PermsLineRe, v1PermIDRe)
		if err != nil {
			return nil, err
		}
		return &Response{IDs: ids}, nil
	}
	return &Response{}, nil
}

// V2 adds the encryption API, update and delete to V1. Stored objects and
// credentials are still printed as protobuf text; login, encrypt, decrypt
// and permissions use plain "Key: value" log lines.
type V2 struct{}

func (V2) Name() string { return "v2" }

func (V2) Description() string {
	return "token (-a), ECCS_ENDPOINT, protobuf text and key/value lines on stderr, adds encrypt, decrypt, update, delete"
}

var v2Ops = newOpSet(OpCreateUser, OpLoginUser, OpEncrypt, OpDecrypt,
	OpStore, OpRetrieve, OpUpdate, OpDelete,
	OpGetPermissions, OpAddPermission, OpRemovePermission)

func (V2) Supports(op Op) bool { return v2Ops[op] }

func (V2) Scopes() string { return AllScopes }

func (V2) UsesToken() bool { return true }

var v2ScopeFlags = map[rune]string{'r': "-r", 'c': "-c", 'u': "-u", 'd': "-d", 'i': "-i", 'o': "-p", 'm': "-m"}

// v2Encrypted is what v2 decrypt expects on stdin.
type v2Encrypted struct {
	Ciphertext     string `json:"ciphertext"`
	AssociatedData string `json:"associatedData"`
	ObjectID       string `json:"objectId"`
}

func (c V2) Command(op Op, ep Endpoint, auth Auth, req Request) (Invocation, error) {
	if !c.Supports(op) {
		return Invocation{}, ErrUnsupported
	}
	inv := Invocation{Env: endpointEnv(ep)}
	if op != OpLoginUser {
		inv.Args = []string{"-a", auth.Token}
	}
	inv.Args = append(inv.Args, string(op))

	switch op {
	case OpCreateUser:
		flags, err := scopeFlags(req.Scopes, v2ScopeFlags)
		if err != nil {
			return Invocation{}, err
		}
		inv.Args = append(inv.Args, flags...)
	case OpLoginUser:
		inv.Args = append(inv.Args, "-u", auth.UserID, "-p", auth.Password)
	case OpEncrypt, OpStore:
		inv.Args = append(inv.Args, "-s", "-d", req.AssociatedData)
		inv.Stdin = req.Data
	case OpDecrypt:
		payload, err := json.Marshal(v2Encrypted{
			Ciphertext:     req.Ciphertext,
			AssociatedData: req.AssociatedData,
			ObjectID:       req.ObjectID,
		})
		if err != nil {
			return Invocation{}, fmt.Errorf("encoding decrypt input: %w", err)
		}
		inv.Args = append(inv.Args, "-s")
		inv.Stdin = string(payload)
	case OpUpdate:
		inv.Args = append(inv.Args, "-o", req.ObjectID, "-s", "-d", req.AssociatedData)
		inv.Stdin = req.Data
	case OpRetrieve, OpDelete, OpGetPermissions:
		inv.Args = append(inv.Args, "-o", req.ObjectID)
	case OpAddPermission, OpRemovePermission:
		inv.Args = append(inv.Args, "-t", req.Target, "-o", req.ObjectID)
	}
	return inv, nil
}

func (V2) Decode(op Op, res *Result) (*Response, error) {
	out := res.Stderr
	switch op {
	case OpCreateUser:
		m, err := scrapeLine(op, "UID and password", out, v1CredentialsRe)
		if err != nil {
			return nil, err
		}
		return &Response{UserID: m[1], Password: m[2]}, nil
	case OpLoginUser:
		m, err := scrapeLine(op, "access token", out, v2TokenRe)
		if err != nil {
			return nil, err
		}
		return &Response{AccessToken: m[1]}, nil
	case OpEncrypt:
		m, err := scrapeLine(op, "object ID, ciphertext, or associated data", out, v2EncryptRe)
		if err != nil {
			return nil, err
		}
		return &Response{ObjectID: m[1], Ciphertext: m[2], AssociatedData: m[3]}, nil
	case OpStore:
		m, err := scrapeLine(op, "object ID", out, v1ObjectIDRe)
		if err != nil {
			return nil, err
		}
		return &Response{ObjectID: m[1]}, nil
	case OpRetrieve:
		return decodeQuotedObject(op, out, v1ObjectRe)
	case OpDecrypt:
		m, err := scrapeLine(op, "plaintext or associated data", out, v2DecryptRe)
		if err != nil {
			return nil, err
		}
		return &Response{Plaintext: m[1], AssociatedData: m[2]}, nil
	case OpGetPermissions:
		m, err := scrapeLine(op, "permissions", out, v2PermsLineRe)
		if err != nil {
			return nil, err
		}
		var ids []string
		for _, id := range strings.Split(m[1], ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		return &Response{IDs: ids}, nil
	}
	return &Response{}, nil
}

// decodeQuotedObject scrapes a plaintext / associated data pair printed as
// two quoted strings on one line.
func decodeQuotedObject(op Op, out string, re *regexp.Regexp) (*Response, error) {
	m, err := scrapeLine(op, "plaintext or associated data", out, re)
	if err != nil {
		return nil, err
	}
	plaintext, err := strconv.Unquote(m[1])
	if err != nil {
		return nil, &ParseError{Op: op, Field: "plaintext", Reason: err.Error(), Output: out}
	}
	aad, err := strconv.Unquote(m[2])
	if err != nil {
		return nil, &ParseError{Op: op, Field: "associated data", Reason: err.Error(), Output: out}
	}
	return &Response{Plaintext: plaintext, AssociatedData: aad}, nil
}

func init() {
	Register(V1{})
	Register(V2{})
}
