// Package database holds the immutable descriptors of the configured data
// sources.
package database

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/leapstack-labs/leaprepl/pkg/adapter"
)

// ErrUnknownDatabase is returned when a descriptor id does not exist.
var ErrUnknownDatabase = errors.New("unknown database")

var lastID atomic.Int64

// Settings is the configuration of one database as read from leaprepl.yaml
// or DATABASE_<NAME>_* environment variables.
type Settings struct {
	URL         string         `koanf:"url"`
	Description string         `koanf:"description"`
	User        string         `koanf:"user"`
	Password    string         `koanf:"password"`
	Prefix      string         `koanf:"prefix"`
	Sandbox     string         `koanf:"sandbox"`
	Dialect     string         `koanf:"dialect"`
	Params      map[string]any `koanf:"params"`
}

// Descriptor describes one data source. Descriptors are created once at
// startup and never change.
type Descriptor struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	ConnectionString string `json:"connectionString"`
	Description      string `json:"description"`
	User             string `json:"user,omitempty"`
	Password         string `json:"password,omitempty"`
	// ScriptPrefix runs after the connection unit. Empty means the default
	// load of the sql helpers.
	ScriptPrefix string `json:"scriptPrefix,omitempty"`
	// SandboxHostPort is the only address a worker may dial for this
	// database. Empty for file-based databases.
	SandboxHostPort string         `json:"sandboxHostPort,omitempty"`
	Dialect         string         `json:"dialect"`
	Params          map[string]any `json:"params,omitempty"`
}

// New builds a descriptor and assigns it the next id.
func New(name string, s Settings) (*Descriptor, error) {
	if s.URL == "" {
		return nil, fmt.Errorf("database %q: url is required", name)
	}

	dialect := s.Dialect
	if dialect == "" {
		d, err := adapter.NameForURL(s.URL)
		if err != nil {
			return nil, fmt.Errorf("database %q: %w", name, err)
		}
		dialect = d
	}
	if _, ok := adapter.LookupDialect(dialect); !ok {
		return nil, fmt.Errorf("database %q: unknown dialect %q", name, dialect)
	}

	sandbox := s.Sandbox
	if sandbox == "" {
		sandbox = hostPort(s.URL)
	}

	description := s.Description
	if description == "" {
		description = name
	}

	return &Descriptor{
		ID:               lastID.Add(1),
		Name:             name,
		ConnectionString: s.URL,
		Description:      description,
		User:             s.User,
		Password:         s.Password,
		ScriptPrefix:     s.Prefix,
		SandboxHostPort:  sandbox,
		Dialect:          dialect,
		Params:           s.Params,
	}, nil
}

// String renders the descriptor for logs. The password is never included.
func (d *Descriptor) String() string {
	if d == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s (#%d: %s)", d.Name, d.ID, d.Description)
}

var defaultPorts = map[string]string{
	"postgres":   "5432",
	"postgresql": "5432",
}

// hostPort derives host:port from a network connection string.
func hostPort(raw string) string {
	raw = strings.TrimPrefix(raw, "jdbc:")
	scheme := adapter.Scheme(raw)
	port, network := defaultPorts[scheme]
	if !network {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	if p := u.Port(); p != "" {
		port = p
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// Catalog is the ordered, immutable set of descriptors.
type Catalog struct {
	list []*Descriptor
	byID map[int64]*Descriptor
}

// NewCatalog builds descriptors for every entry of settings, ordered by
// name.
func NewCatalog(settings map[string]Settings) (*Catalog, error) {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)

	c := &Catalog{byID: make(map[int64]*Descriptor, len(names))}
	for _, name := range names {
		d, err := New(name, settings[name])
		if err != nil {
			return nil, err
		}
		c.list = append(c.list, d)
		c.byID[d.ID] = d
	}
	return c, nil
}

// All returns the descriptors in catalog order.
func (c *Catalog) All() []*Descriptor {
	return append([]*Descriptor(nil), c.list...)
}

// Get returns the descriptor with id.
func (c *Catalog) Get(id int64) (*Descriptor, error) {
	d, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: #%d", ErrUnknownDatabase, id)
	}
	return d, nil
}

// Lookup accepts an id or a name.
func (c *Catalog) Lookup(ref string) (*Descriptor, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return c.Get(id)
	}
	for _, d := range c.list {
		if d.Name == ref {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDatabase, ref)
}

// Default returns the first descriptor, or nil when none is configured.
func (c *Catalog) Default() *Descriptor {
	if len(c.list) == 0 {
		return nil
	}
	return c.list[0]
}
