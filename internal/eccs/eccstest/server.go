// Package eccstest provides an in-memory stand-in for the eccs binary and
// the Encryption Server behind it.
//
// Server implements eccs.Executor. It parses each invocation the way the
// named contract's eccs release would, applies it to in-memory users,
// groups and objects, and prints the result in that release's format.
package eccstest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/majorcontext/eccs-e2e/internal/eccs"
)

// scopeFor maps each subcommand to the scope letter it requires.
var scopeFor = map[eccs.Op]rune{
	eccs.OpCreateUser:          'm',
	eccs.OpRemoveUser:          'm',
	eccs.OpCreateGroup:         'm',
	eccs.OpAddUserToGroup:      'm',
	eccs.OpRemoveUserFromGroup: 'm',
	eccs.OpEncrypt:             'c',
	eccs.OpDecrypt:             'r',
	eccs.OpStore:               'c',
	eccs.OpRetrieve:            'r',
	eccs.OpUpdate:              'u',
	eccs.OpDelete:              'd',
	eccs.OpGetPermissions:      'o',
	eccs.OpAddPermission:       'o',
	eccs.OpRemovePermission:    'o',
}

type user struct {
	password string
	scopes   string
	groups   map[string]bool
}

type object struct {
	data  string
	aad   string
	perms []string
}

// Server emulates an eccs release and its server.
type Server struct {
	// Tamper, when set, may rewrite every result before it is returned.
	Tamper func(op eccs.Op, res *eccs.Result)

	mu       sync.Mutex
	contract string
	users    map[string]*user
	groups   map[string]string
	tokens   map[string]string
	objects  map[string]*object
	sealed   map[string]*object
	calls    []eccs.Invocation
}

// New returns a server speaking the named contract ("v1" to "v4") with one
// admin user holding every scope.
func New(contract, adminUID, adminPassword string) *Server {
	s := &Server{
		contract: contract,
		users:    make(map[string]*user),
		groups:   make(map[string]string),
		tokens:   make(map[string]string),
		objects:  make(map[string]*object),
		sealed:   make(map[string]*object),
	}
	s.users[adminUID] = &user{password: adminPassword, scopes: eccs.AllScopes, groups: map[string]bool{adminUID: true}}
	s.groups[adminUID] = eccs.AllScopes
	return s
}

// Calls returns every invocation received so far.
func (s *Server) Calls() []eccs.Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// Token logs uid in directly and returns its access token.
func (s *Server) Token(uid string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueToken(uid)
}

// HasUser reports whether uid exists.
func (s *Server) HasUser(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[uid]
	return ok
}

// Exec implements eccs.Executor.
func (s *Server) Exec(ctx context.Context, inv eccs.Invocation) (*eccs.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls = append(s.calls, inv)
	op, res := s.handle(inv)
	s.mu.Unlock()

	res.Args = inv.Args
	res.Duration = time.Millisecond
	if s.Tamper != nil {
		s.Tamper(op, res)
	}
	return res, nil
}

func (s *Server) legacy() bool { return s.contract == "v1" || s.contract == "v2" }

// call is a parsed invocation.
type call struct {
	global map[string]string
	op     eccs.Op
	flags  map[string]string
	bools  map[string]bool
	stdin  string
	env    map[string]string
}

func (s *Server) parse(inv eccs.Invocation) (*call, error) {
	c := &call{
		global: make(map[string]string),
		flags:  make(map[string]string),
		bools:  make(map[string]bool),
		stdin:  inv.Stdin,
		env:    make(map[string]string),
	}
	for _, kv := range inv.Env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			c.env[k] = v
		}
	}
	args := inv.Args
	i := 0
	for ; i < len(args) && strings.HasPrefix(args[i], "-"); i += 2 {
		if i+1 >= len(args) {
			return nil, fmt.Errorf("flag needs an argument: %s", args[i])
		}
		c.global[args[i]] = args[i+1]
	}
	if i >= len(args) {
		return nil, fmt.Errorf("missing subcommand")
	}
	c.op = eccs.Op(args[i])
	if !slices.Contains(eccs.AllOps(), c.op) {
		return nil, fmt.Errorf("unknown command %q", args[i])
	}
	rest := args[i+1:]
	for j := 0; j < len(rest); j++ {
		flag := rest[j]
		if !strings.HasPrefix(flag, "-") {
			return nil, fmt.Errorf("unexpected argument %q", flag)
		}
		if s.legacyBool(c.op, flag) {
			c.bools[flag] = true
			continue
		}
		if j+1 >= len(rest) {
			return nil, fmt.Errorf("flag needs an argument: %s", flag)
		}
		c.flags[flag] = rest[j+1]
		j++
	}
	return c, nil
}

// legacyBool reports whether flag is a boolean for op in v1 and v2.
func (s *Server) legacyBool(op eccs.Op, flag string) bool {
	if !s.legacy() {
		return false
	}
	if op == eccs.OpCreateUser {
		return true
	}
	return flag == "-s"
}

func (s *Server) handle(inv eccs.Invocation) (eccs.Op, *eccs.Result) {
	c, err := s.parse(inv)
	if err != nil {
		return "", failure(err.Error())
	}
	var supported bool
	if ct, err := eccs.Lookup(s.contract); err == nil {
		supported = ct.Supports(c.op)
	}
	if !supported {
		return c.op, failure(fmt.Sprintf("unknown command %q", c.op))
	}
	if s.endpoint(c) == "" {
		return c.op, failure("no endpoint given")
	}
	if c.op == eccs.OpLoginUser {
		return c.op, s.login(c)
	}

	uid, err := s.authenticate(c)
	if err != nil {
		return c.op, failure(err.Error())
	}
	if need := scopeFor[c.op]; !strings.ContainsRune(s.users[uid].scopes, need) {
		return c.op, failure(fmt.Sprintf("rpc error: code = PermissionDenied desc = missing scope %q", string(need)))
	}
	return c.op, s.dispatch(uid, c)
}

func (s *Server) endpoint(c *call) string {
	if s.legacy() {
		return c.env["ECCS_ENDPOINT"]
	}
	return c.global["-e"]
}

func (s *Server) authenticate(c *call) (string, error) {
	if s.contract == "v3" {
		uid := c.global["-u"]
		u, ok := s.users[uid]
		if !ok || u.password != c.global["-p"] {
			return "", fmt.Errorf("rpc error: code = Unauthenticated desc = invalid credentials")
		}
		return uid, nil
	}
	flag := "-a"
	if s.contract == "v4" {
		flag = "--token"
	}
	uid, ok := s.tokens[c.global[flag]]
	if !ok {
		return "", fmt.Errorf("rpc error: code = Unauthenticated desc = invalid token")
	}
	if _, exists := s.users[uid]; !exists {
		return "", fmt.Errorf("rpc error: code = Unauthenticated desc = user removed")
	}
	return uid, nil
}

func (s *Server) login(c *call) *eccs.Result {
	uid := c.flags["-u"]
	u, ok := s.users[uid]
	if !ok || u.password != c.flags["-p"] {
		return failure("rpc error: code = Unauthenticated desc = invalid credentials")
	}
	token := s.issueToken(uid)
	switch s.contract {
	case "v1":
		return logged(fmt.Sprintf("AccessToken: access_token:%q", token))
	case "v2":
		return logged("AccessToken: " + token)
	default:
		return printed(map[string]any{"accessToken": token})
	}
}

func (s *Server) issueToken(uid string) string {
	token := "at." + base64.RawURLEncoding.EncodeToString([]byte(uid+"."+uuid.NewString()))
	s.tokens[token] = uid
	return token
}

func (s *Server) newID() string { return uuid.NewString() }

func (s *Server) dispatch(uid string, c *call) *eccs.Result {
	switch c.op {
	case eccs.OpCreateUser:
		return s.createUser(c)
	case eccs.OpRemoveUser:
		target := c.flags["-t"]
		if _, ok := s.users[target]; !ok {
			return failure("user not found")
		}
		delete(s.users, target)
		return done()
	case eccs.OpCreateGroup:
		scopes := c.flags["-s"]
		if scopes == "" {
			return failure("a group needs at least one scope")
		}
		gid := s.newID()
		s.groups[gid] = scopes
		return printed(map[string]any{"groupId": gid})
	case eccs.OpAddUserToGroup, eccs.OpRemoveUserFromGroup:
		u, ok := s.users[c.flags["-t"]]
		if !ok {
			return failure("user not found")
		}
		gid := c.flags["-g"]
		if _, ok := s.groups[gid]; !ok {
			return failure("group not found")
		}
		if c.op == eccs.OpAddUserToGroup {
			u.groups[gid] = true
		} else {
			delete(u.groups, gid)
		}
		return done()
	case eccs.OpEncrypt:
		return s.encrypt(uid, c)
	case eccs.OpDecrypt:
		return s.decrypt(uid, c)
	case eccs.OpStore:
		data, aad := s.payload(c)
		oid := s.newID()
		s.objects[oid] = &object{data: data, aad: aad, perms: []string{uid}}
		if s.legacy() {
			return logged(fmt.Sprintf("ObjectID: object_id:%q", oid))
		}
		return printed(map[string]any{"objectId": oid})
	}

	obj, ok := s.objects[c.flags["-o"]]
	if !ok || !s.canAccess(uid, obj) {
		return failure("rpc error: code = NotFound desc = object not found")
	}
	switch c.op {
	case eccs.OpRetrieve:
		return s.object(obj.data, obj.aad)
	case eccs.OpUpdate:
		obj.data, obj.aad = s.payload(c)
		return done()
	case eccs.OpDelete:
		delete(s.objects, c.flags["-o"])
		return done()
	case eccs.OpGetPermissions:
		return s.permissions(obj.perms)
	case eccs.OpAddPermission, eccs.OpRemovePermission:
		target := c.flags["-t"]
		_, isUser := s.users[target]
		_, isGroup := s.groups[target]
		if !isUser && !isGroup {
			return failure("target not found")
		}
		obj.perms = slices.DeleteFunc(obj.perms, func(id string) bool { return id == target })
		if c.op == eccs.OpAddPermission {
			obj.perms = append(obj.perms, target)
		}
		return done()
	}
	return failure(fmt.Sprintf("unhandled command %q", c.op))
}

func (s *Server) createUser(c *call) *eccs.Result {
	var scopes string
	if s.legacy() {
		letters := map[string]rune{"-r": 'r', "-c": 'c', "-u": 'u', "-d": 'd', "-i": 'i', "-p": 'o', "-m": 'm'}
		for flag := range c.bools {
			scopes += string(letters[flag])
		}
	} else {
		scopes = c.flags["-s"]
	}
	if scopes == "" {
		return failure("rpc error: code = InvalidArgument desc = no scopes given")
	}
	uid := s.newID()
	password := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.users[uid] = &user{password: password, scopes: scopes, groups: map[string]bool{uid: true}}
	s.groups[uid] = scopes
	if s.legacy() {
		return logged(fmt.Sprintf("Credentials: user_id:%q password:%q", uid, password))
	}
	return printed(map[string]any{"userId": uid, "password": password})
}

// payload returns the data and associated data of store, encrypt and update.
func (s *Server) payload(c *call) (string, string) {
	if s.legacy() {
		return c.stdin, c.flags["-d"]
	}
	return c.flags["-d"], c.flags["-a"]
}

func (s *Server) encrypt(uid string, c *call) *eccs.Result {
	data, aad := s.payload(c)
	oid := s.newID()
	ct := base64.StdEncoding.EncodeToString([]byte(oid + ":" + data))
	s.sealed[ct] = &object{data: data, aad: aad, perms: []string{uid}}
	encAAD := base64.StdEncoding.EncodeToString([]byte(aad))
	if s.contract == "v2" {
		return logged(fmt.Sprintf("ObjectID: %s, Ciphertext: %s, AssociatedData: %s", oid, ct, encAAD))
	}
	return printed(map[string]any{"objectId": oid, "ciphertext": ct, "associatedData": encAAD})
}

func (s *Server) decrypt(uid string, c *call) *eccs.Result {
	ct, encAAD, oid := c.flags["-d"], c.flags["-a"], c.flags["-o"]
	if s.contract == "v2" {
		var in struct {
			Ciphertext     string `json:"ciphertext"`
			AssociatedData string `json:"associatedData"`
			ObjectID       string `json:"objectId"`
		}
		if err := json.Unmarshal([]byte(c.stdin), &in); err != nil {
			return failure("invalid input: " + err.Error())
		}
		ct, encAAD, oid = in.Ciphertext, in.AssociatedData, in.ObjectID
	}
	obj, ok := s.sealed[ct]
	raw, _ := base64.StdEncoding.DecodeString(ct)
	if !ok || !strings.HasPrefix(string(raw), oid+":") || !s.canAccess(uid, obj) {
		return failure("rpc error: code = InvalidArgument desc = authentication failed")
	}
	aad, err := base64.StdEncoding.DecodeString(encAAD)
	if err != nil || string(aad) != obj.aad {
		return failure("rpc error: code = InvalidArgument desc = authentication failed")
	}
	if s.contract == "v2" {
		return logged(fmt.Sprintf("Object: m=\"%s\", aad=\"%s\"", obj.data, obj.aad))
	}
	return s.object(obj.data, obj.aad)
}

func (s *Server) canAccess(uid string, obj *object) bool {
	u, ok := s.users[uid]
	if !ok {
		return false
	}
	for _, id := range obj.perms {
		if id == uid || u.groups[id] {
			return true
		}
	}
	return false
}

func (s *Server) object(data, aad string) *eccs.Result {
	switch s.contract {
	case "v1":
		return logged("Object: plaintext:" + strconv.Quote(data) + " associated_data:" + strconv.Quote(aad))
	case "v2":
		return logged("Object: object:{plaintext:" + strconv.Quote(data) + " associated_data:" + strconv.Quote(aad) + "}")
	}
	return printed(map[string]any{"plaintext": data, "associatedData": aad})
}

func (s *Server) permissions(ids []string) *eccs.Result {
	switch s.contract {
	case "v1":
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = fmt.Sprintf("user_ids:%q", id)
		}
		return logged("Permissions: " + strings.Join(parts, " "))
	case "v2":
		return logged("Permissions: " + strings.Join(ids, ", "))
	}
	return printed(map[string]any{"groupIds": slices.Clone(ids)})
}

const logPrefix = "2021/06/01 12:00:00 "

// logged mimics the log.Printf output of the stderr releases.
func logged(lines ...string) *eccs.Result {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(logPrefix + l + "\n")
	}
	return &eccs.Result{Stderr: b.String()}
}

// printed mimics the coloured JSON output of the stdout releases.
func printed(v map[string]any) *eccs.Result {
	out, _ := json.Marshal(v)
	return &eccs.Result{Stdout: "\x1b[32m" + string(out) + "\x1b[0m\n"}
}

func done() *eccs.Result {
	return &eccs.Result{}
}

func failure(msg string) *eccs.Result {
	return &eccs.Result{Stderr: logPrefix + "Error: " + msg + "\n", ExitCode: 1}
}
