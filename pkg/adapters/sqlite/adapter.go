// Package sqlite provides the SQLite adapter, built on the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/leapstack-labs/leaprepl/pkg/adapter"
)

var dialect, _ = adapter.LookupDialect("sqlite")

// Adapter implements the adapter.Adapter interface for SQLite.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new SQLite adapter instance.
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

// Connect opens the database file named by cfg.URL. Setting the read_only
// param opens it with mode=ro. A sandboxed connection cannot attach other
// databases, which also rules out VACUUM INTO.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	readOnly, _ := cfg.Params["read_only"].(bool)
	dsn := DataSource(cfg.URL, readOnly)

	a.Logger.Debug("connecting to sqlite", slog.String("dsn", dsn))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if strings.Contains(dsn, ":memory:") || cfg.Sandboxed {
		// Every connection of an in-memory database is a separate database,
		// and limits are per connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if cfg.Sandboxed {
		if err := disableAttach(ctx, db); err != nil {
			_ = db.Close()
			return err
		}
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

func disableAttach(ctx context.Context, db *sql.DB) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to restrict sqlite connection: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := sqlite.Limit(conn, sqlite3.SQLITE_LIMIT_ATTACHED, 0); err != nil {
		return fmt.Errorf("failed to restrict sqlite connection: %w", err)
	}
	return nil
}

// DataSource converts a sqlite: or file: connection string into a DSN for
// the driver.
func DataSource(url string, readOnly bool) string {
	if strings.HasPrefix(url, "file:") {
		return url
	}
	path := strings.TrimPrefix(url, "sqlite:")
	path = strings.TrimPrefix(path, "//")
	if path == "" {
		path = ":memory:"
	}
	if readOnly && path != ":memory:" {
		return "file:" + path + "?mode=ro"
	}
	return path
}

// Tables implements adapter.Adapter.
func (a *Adapter) Tables(ctx context.Context) ([]string, error) {
	if a.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	rows, err := a.DB.QueryContext(ctx, `
		SELECT name
		FROM sqlite_master
		WHERE type IN ('table', 'view')
		AND name NOT LIKE 'sqlite_%'
		AND name NOT LIKE 'goose_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// GetTableMetadata reads column information with PRAGMA table_info.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	if a.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	schema, name := adapter.ParseQualifiedName(table, dialect)
	pragma := fmt.Sprintf("PRAGMA %s.table_info(%s)", dialect.QuoteIdent(schema), dialect.QuoteIdent(name))

	rows, err := a.DB.QueryContext(ctx, pragma)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []adapter.Column
	for rows.Next() {
		var (
			cid, notNull, pk int
			colName, colType string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		columns = append(columns, adapter.Column{
			Name:     colName,
			Type:     colType,
			Nullable: notNull == 0 && pk == 0,
			Position: cid + 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	var rowCount int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s", dialect.QuoteIdent(schema+"."+name)) //nolint:gosec // Identifiers are quoted
	if err := a.DB.QueryRowContext(ctx, countQuery).Scan(&rowCount); err != nil {
		rowCount = 0
	}

	return &adapter.Metadata{Schema: schema, Name: name, Columns: columns, RowCount: rowCount}, nil
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
