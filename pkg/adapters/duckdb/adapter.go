// Package duckdb provides the DuckDB adapter.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/leapstack-labs/leaprepl/pkg/adapter"
)

var dialect, _ = adapter.LookupDialect("duckdb")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger}}
}

// Dialect implements adapter.Adapter.
func (a *Adapter) Dialect() adapter.Dialect {
	return dialect
}

// sandboxOptions are fixed for sandboxed connections. External access
// covers file readers, COPY, ATTACH, httpfs and extension loading.
var sandboxOptions = url.Values{
	"enable_external_access":       {"false"},
	"autoinstall_known_extensions": {"false"},
	"autoload_known_extensions":    {"false"},
}

// Connect opens the database named by cfg.URL. "duckdb:" alone opens an
// in-memory database. A sandboxed connection skips extensions and locks its
// configuration once the settings are applied.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return err
	}

	dsn := dataSource(cfg.URL, params, cfg.Sandboxed)
	a.Logger.Debug("connecting to duckdb", slog.String("dsn", dsn))

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}
	// Settings and extensions are per connection.
	db.SetMaxOpenConns(1)

	a.DB = db
	a.Cfg = cfg

	if cfg.Sandboxed && len(params.Extensions) > 0 {
		a.Logger.Warn("ignoring duckdb extensions in sandbox", slog.Any("extensions", params.Extensions))
	}
	for _, stmt := range setupStatements(params, cfg.Sandboxed) {
		if _, err := a.Exec(ctx, stmt); err != nil {
			_ = a.Close()
			return fmt.Errorf("failed to configure duckdb: %w", err)
		}
	}
	return nil
}

// dataSource turns a duckdb: URL into a go-duckdb DSN.
func dataSource(raw string, p *Params, sandboxed bool) string {
	path := strings.TrimPrefix(strings.TrimPrefix(raw, "duckdb:"), "//")
	q := url.Values{}
	if p.ReadOnly && path != "" {
		q.Set("access_mode", "read_only")
	}
	if sandboxed {
		for k, v := range sandboxOptions {
			q[k] = v
		}
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func setupStatements(p *Params, sandboxed bool) []string {
	var stmts []string
	for _, ext := range p.Extensions {
		if sandboxed || !identPattern.MatchString(ext) {
			continue
		}
		stmts = append(stmts, "INSTALL "+ext, "LOAD "+ext)
	}

	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !identPattern.MatchString(k) {
			continue
		}
		value := strings.ReplaceAll(p.Settings[k], "'", "''")
		stmts = append(stmts, fmt.Sprintf("SET %s = '%s'", k, value))
	}
	if sandboxed {
		stmts = append(stmts, "SET lock_configuration = true")
	}
	return stmts
}

// Tables implements adapter.Adapter.
func (a *Adapter) Tables(ctx context.Context) ([]string, error) {
	return a.TablesCommon(ctx, dialect)
}

// GetTableMetadata retrieves metadata for a specified table.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	return a.GetTableMetadataCommon(ctx, table, dialect)
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
