package eccs

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Contract describes how one eccs release is invoked and what it prints.
type Contract interface {
	// Name is the short identifier used in configuration (e.g. "v3").
	Name() string

	// Description is a one-line summary for listings.
	Description() string

	// Supports reports whether the release has a subcommand for op.
	Supports(op Op) bool

	// Scopes lists the scope letters the release can grant.
	Scopes() string

	// UsesToken reports whether callers authenticate with an access token
	// obtained from loginuser rather than passing credentials each call.
	UsesToken() bool

	// Command builds the invocation for op.
	Command(op Op, ep Endpoint, auth Auth, req Request) (Invocation, error)

	// Decode extracts the values op prints on success.
	Decode(op Op, res *Result) (*Response, error)
}

var (
	contracts   = make(map[string]Contract)
	contractsMu sync.RWMutex
)

// Register makes a contract available to Lookup.
func Register(c Contract) {
	contractsMu.Lock()
	defer contractsMu.Unlock()
	contracts[c.Name()] = c
}

// Lookup returns the contract registered under name.
func Lookup(name string) (Contract, error) {
	contractsMu.RLock()
	defer contractsMu.RUnlock()
	c, ok := contracts[name]
	if !ok {
		names := make([]string, 0, len(contracts))
		for n := range contracts {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown eccs contract %q; known contracts: %s", name, strings.Join(names, ", "))
	}
	return c, nil
}

// Contracts returns all registered contracts sorted by name.
func Contracts() []Contract {
	contractsMu.RLock()
	defer contractsMu.RUnlock()
	list := make([]Contract, 0, len(contracts))
	for _, c := range contracts {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// opSet is a helper for implementing Contract.Supports.
type opSet map[Op]bool

func newOpSet(ops ...Op) opSet {
	s := make(opSet, len(ops))
	for _, op := range ops {
		s[op] = true
	}
	return s
}

// endpointEnv is how the early releases learn the server address.
func endpointEnv(ep Endpoint) []string {
	env := []string{"ECCS_ENDPOINT=" + ep.Address}
	if ep.CertSet {
		env = append(env, "ECCS_CRT="+ep.Cert)
	}
	return env
}
