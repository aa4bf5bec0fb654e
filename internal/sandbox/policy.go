// Package sandbox generates and enforces the policy a worker runs under.
//
// A policy is a list of grants, each naming a scope and the permission it
// receives there. Policies are rendered as YAML and cached on disk by a
// hash of their content, so every worker started for the same database
// reads the same file. Inside the worker a Guard enforces the policy on
// connect(), on database dials and on setting() lookups.
package sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scopes a grant can apply to.
const (
	// ScopeStarlark covers the script runtime itself.
	ScopeStarlark = "starlark"
	// ScopeDSL covers the query builder library.
	ScopeDSL = "dsl"
	// ScopeNetwork covers outgoing connections.
	ScopeNetwork = "net"
	// ScopeDatabase covers the databases connect() may open.
	ScopeDatabase = "database"
)

// Permissions a grant can give.
const (
	PermissionAll          = "all"
	PermissionPropertyRead = "property-read"
	PermissionConnect      = "connect"
	PermissionOpen         = "open"
)

// DefaultProperties are the settings the query builder may read.
var DefaultProperties = []string{"LEAPREPL_*"}

// ErrInvalidPolicy is returned for policies that fail validation.
var ErrInvalidPolicy = errors.New("invalid sandbox policy")

// Grant gives a permission within a scope. Targets are setting name
// patterns for property-read grants, host:port pairs for connect grants and
// connection strings without credentials for open grants.
type Grant struct {
	Scope      string   `yaml:"scope"`
	Permission string   `yaml:"permission"`
	Targets    []string `yaml:"targets,omitempty"`
}

// Policy is the complete set of grants of a worker.
type Policy struct {
	Grants []Grant `yaml:"grants"`
}

// ForHosts returns the policy of a worker that may connect to hosts only.
// Each host is a host:port pair; empty entries are skipped.
func ForHosts(hosts ...string) Policy {
	p := Policy{Grants: []Grant{
		{Scope: ScopeStarlark, Permission: PermissionAll},
		{Scope: ScopeDSL, Permission: PermissionPropertyRead, Targets: slices.Clone(DefaultProperties)},
	}}
	for _, h := range hosts {
		if h == "" {
			continue
		}
		p.Grants = append(p.Grants, Grant{Scope: ScopeNetwork, Permission: PermissionConnect, Targets: []string{normalizeHostPort(h)}})
	}
	return p
}

// WithDatabases returns a copy of p that may also open the databases at
// urls. Credentials embedded in a url are not part of the grant.
func (p Policy) WithDatabases(urls ...string) Policy {
	out := Policy{Grants: slices.Clone(p.Grants)}
	for _, u := range urls {
		if u == "" {
			continue
		}
		out.Grants = append(out.Grants, Grant{Scope: ScopeDatabase, Permission: PermissionOpen, Targets: []string{stripCredentials(u)}})
	}
	return out
}

// Validate checks that every grant is well formed.
func (p Policy) Validate() error {
	for i, g := range p.Grants {
		switch g.Permission {
		case PermissionAll:
			if g.Scope != ScopeStarlark && g.Scope != ScopeDSL {
				return fmt.Errorf("%w: grant %d: %s cannot be granted on %q", ErrInvalidPolicy, i+1, g.Permission, g.Scope)
			}
		case PermissionPropertyRead:
			for _, pattern := range g.Targets {
				if _, err := path.Match(pattern, ""); err != nil {
					return fmt.Errorf("%w: grant %d: bad pattern %q", ErrInvalidPolicy, i+1, pattern)
				}
			}
		case PermissionConnect:
			if g.Scope != ScopeNetwork {
				return fmt.Errorf("%w: grant %d: connect is only granted on %q", ErrInvalidPolicy, i+1, ScopeNetwork)
			}
			for _, target := range g.Targets {
				if _, _, err := net.SplitHostPort(target); err != nil {
					return fmt.Errorf("%w: grant %d: %v", ErrInvalidPolicy, i+1, err)
				}
			}
		case PermissionOpen:
			if g.Scope != ScopeDatabase {
				return fmt.Errorf("%w: grant %d: open is only granted on %q", ErrInvalidPolicy, i+1, ScopeDatabase)
			}
			for _, target := range g.Targets {
				if target == "" {
					return fmt.Errorf("%w: grant %d: empty database target", ErrInvalidPolicy, i+1)
				}
			}
		default:
			return fmt.Errorf("%w: grant %d: unknown permission %q", ErrInvalidPolicy, i+1, g.Permission)
		}
	}
	return nil
}

// Render returns the YAML form of the policy.
func (p Policy) Render() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to render sandbox policy: %w", err)
	}
	return data, nil
}

// Parse reads a rendered policy.
func Parse(data []byte) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Trusts reports whether scope holds every permission.
func (p Policy) Trusts(scope string) bool {
	for _, g := range p.Grants {
		if g.Scope == scope && g.Permission == PermissionAll {
			return true
		}
	}
	return false
}

// CanConnect reports whether a connection to addr is granted.
func (p Policy) CanConnect(addr string) bool {
	want := normalizeHostPort(addr)
	for _, g := range p.Grants {
		if g.Scope != ScopeNetwork || g.Permission != PermissionConnect {
			continue
		}
		if slices.Contains(g.Targets, want) {
			return true
		}
	}
	return false
}

// CanOpen reports whether connect() may open the database at target.
func (p Policy) CanOpen(target string) bool {
	want := stripCredentials(target)
	for _, g := range p.Grants {
		if g.Scope != ScopeDatabase || g.Permission != PermissionOpen {
			continue
		}
		if slices.Contains(g.Targets, want) {
			return true
		}
	}
	return false
}

// CanRead reports whether the query builder may read the setting name.
func (p Policy) CanRead(name string) bool {
	for _, g := range p.Grants {
		if g.Scope != ScopeDSL {
			continue
		}
		if g.Permission == PermissionAll {
			return true
		}
		if g.Permission != PermissionPropertyRead {
			continue
		}
		for _, pattern := range g.Targets {
			if ok, _ := path.Match(pattern, name); ok {
				return true
			}
		}
	}
	return false
}

func normalizeHostPort(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.ToLower(addr)
	}
	return net.JoinHostPort(strings.ToLower(host), port)
}

func stripCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}
