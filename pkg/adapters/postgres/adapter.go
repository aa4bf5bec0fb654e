// Package postgres provides the PostgreSQL adapter, built on pgx.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/leapstack-labs/leaprepl/pkg/adapter"
)

var dialect, _ = adapter.LookupDialect("postgres")

// Adapter implements the adapter.Adapter interface for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Dialect implements adapter.Adapter.
func (a *Adapter) Dialect() adapter.Dialect {
	return dialect
}

// Connect establishes a connection to PostgreSQL.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	connCfg, err := connConfig(cfg)
	if err != nil {
		return err
	}

	a.Logger.Debug("connecting to postgres",
		slog.String("host", connCfg.Host),
		slog.Int("port", int(connCfg.Port)),
		slog.String("database", connCfg.Database))

	db := stdlib.OpenDB(*connCfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// connConfig parses the connection string and applies the credentials and
// dialer of cfg.
func connConfig(cfg adapter.Config) (*pgx.ConnConfig, error) {
	url := strings.TrimPrefix(cfg.URL, "jdbc:")
	connCfg, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection string: %w", err)
	}

	if cfg.User != "" {
		connCfg.User = cfg.User
	}
	if cfg.Password != "" {
		connCfg.Password = cfg.Password
	}
	if cfg.Dial != nil {
		connCfg.DialFunc = pgconn.DialFunc(cfg.Dial)
		// Leave host names unresolved so the dialer sees what the policy names.
		connCfg.LookupFunc = func(_ context.Context, host string) ([]string, error) {
			return []string{host}, nil
		}
	}
	return connCfg, nil
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
