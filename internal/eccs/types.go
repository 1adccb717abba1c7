// Package eccs drives the eccs command-line client as an external process.
//
// Each operation of the Encryption Server is reached through one eccs
// subcommand. A Contract knows how a particular eccs release spells the
// subcommand's flags and how it prints the result; a Client pairs a
// Contract with an Executor and exposes one Go method per subcommand.
package eccs

import (
	"time"
)

// Op is an eccs subcommand.
type Op string

const (
	OpCreateUser          Op = "createuser"
	OpRemoveUser          Op = "removeuser"
	OpCreateGroup         Op = "creategroup"
	OpAddUserToGroup      Op = "addusertogroup"
	OpRemoveUserFromGroup Op = "removeuserfromgroup"
	OpLoginUser           Op = "loginuser"
	OpEncrypt             Op = "encrypt"
	OpDecrypt             Op = "decrypt"
	OpStore               Op = "store"
	OpRetrieve            Op = "retrieve"
	OpUpdate              Op = "update"
	OpDelete              Op = "delete"
	OpGetPermissions      Op = "getpermissions"
	OpAddPermission       Op = "addpermission"
	OpRemovePermission    Op = "removepermission"
)

// AllOps lists every subcommand in the order the CLI documents them.
func AllOps() []Op {
	return []Op{
		OpCreateUser, OpRemoveUser, OpCreateGroup, OpAddUserToGroup, OpRemoveUserFromGroup,
		OpLoginUser,
		OpEncrypt, OpDecrypt,
		OpStore, OpRetrieve, OpUpdate, OpDelete,
		OpGetPermissions, OpAddPermission, OpRemovePermission,
	}
}

// Auth identifies the caller of a subcommand. Password contracts use
// UserID and Password; token contracts use Token.
type Auth struct {
	UserID   string
	Password string
	Token    string
}

// Endpoint describes where the Encryption Server lives.
type Endpoint struct {
	// Address is host:port of the server.
	Address string
	// Cert is forwarded as ECCS_CRT to releases that read it from the
	// environment. CertSet distinguishes an unset variable from an empty one.
	Cert    string
	CertSet bool
	// CertPath is passed with -c to releases that take a certificate file.
	CertPath string
}

// Invocation is one process execution of the eccs binary.
type Invocation struct {
	Args  []string
	Stdin string
	Env   []string
}

// Result captures what a finished eccs process produced.
type Result struct {
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Request carries the inputs of a subcommand. Only the fields relevant to
// the subcommand are read.
type Request struct {
	Scopes         string
	Target         string
	GroupID        string
	ObjectID       string
	Data           string
	AssociatedData string
	Ciphertext     string
}

// Response carries the values scraped from a subcommand's output.
type Response struct {
	UserID         string
	Password       string
	AccessToken    string
	GroupID        string
	ObjectID       string
	Ciphertext     string
	AssociatedData string
	Plaintext      string
	// IDs is the permission list returned by getpermissions.
	IDs []string
}

// Credentials is a user ID and password pair returned by createuser.
type Credentials struct {
	UserID   string
	Password string
}

// Auth returns credentials usable by password contracts.
func (c Credentials) Auth() Auth {
	return Auth{UserID: c.UserID, Password: c.Password}
}

// Ciphertext is the output of encrypt: an object ID plus the encoded
// ciphertext and associated data to hand back to decrypt.
type Ciphertext struct {
	ObjectID       string
	Ciphertext     string
	AssociatedData string
}

// Object is a decrypted or retrieved payload.
type Object struct {
	Plaintext      string
	AssociatedData string
}
