package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/leaprepl/pkg/adapter"
)

func init() {
	adapter.Register("duckdb", []string{"duckdb"}, func(logger *slog.Logger) adapter.Adapter {
		return New(logger)
	})
}
