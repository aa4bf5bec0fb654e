// Package adapter provides the database adapter contract used by the query
// builder, together with a registry keyed by connection-string scheme.
//
// Concrete adapter implementations are in pkg/adapters/ subdirectories and
// register themselves from init functions.
package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"
)

// DialFunc opens network connections on behalf of a driver. Workers install
// one that enforces the sandbox policy.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config describes one connection.
type Config struct {
	// URL is the connection string as configured, e.g.
	// postgres://host:5432/db or sqlite:demo.db.
	URL      string
	User     string
	Password string
	// Params holds adapter-specific settings.
	Params map[string]any
	// Dial, when set, is used by network adapters to open sockets.
	Dial DialFunc
	// Sandboxed turns off driver features that reach beyond the opened
	// database, such as attaching other files or reading remote URLs.
	Sandboxed bool
}

// Column describes a table column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// Metadata describes a table.
type Metadata struct {
	Schema   string
	Name     string
	Columns  []Column
	RowCount int64
}

// Adapter defines the interface that all database adapters must implement.
type Adapter interface {
	// Connect establishes a connection to the database using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// Exec executes a statement that doesn't return rows and reports the
	// number of affected rows.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// Query executes a statement that returns rows.
	Query(ctx context.Context, sql string, args ...any) (*sql.Rows, error)

	// Tables lists the user tables visible to the connection.
	Tables(ctx context.Context) ([]string, error)

	// GetTableMetadata retrieves metadata for a specified table.
	GetTableMetadata(ctx context.Context, table string) (*Metadata, error)

	// Dialect returns the SQL dialect of this adapter.
	Dialect() Dialect
}

// PlaceholderStyle selects how bind parameters are written.
type PlaceholderStyle int

const (
	// QuestionMark writes ? for every parameter.
	QuestionMark PlaceholderStyle = iota
	// DollarNumber writes $1, $2, ...
	DollarNumber
)

// Dialect captures the SQL syntax differences the query builder cares about.
type Dialect struct {
	Name          string
	DefaultSchema string
	Placeholder   PlaceholderStyle
}

// FormatPlaceholder returns the placeholder of the n-th (1-based) parameter.
func (d Dialect) FormatPlaceholder(n int) string {
	if d.Placeholder == DollarNumber {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// QuoteIdent quotes an identifier, splitting schema-qualified names.
func (d Dialect) QuoteIdent(name string) string {
	if name == "*" {
		return name
	}
	parts := strings.Split(name, ".")
	for i, part := range parts {
		if part == "*" {
			continue
		}
		parts[i] = `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

var dialects = map[string]Dialect{
	"postgres": {Name: "postgres", DefaultSchema: "public", Placeholder: DollarNumber},
	"duckdb":   {Name: "duckdb", DefaultSchema: "main", Placeholder: QuestionMark},
	"sqlite":   {Name: "sqlite", DefaultSchema: "main", Placeholder: QuestionMark},
}

// LookupDialect returns a known dialect by name.
func LookupDialect(name string) (Dialect, bool) {
	d, ok := dialects[name]
	return d, ok
}
