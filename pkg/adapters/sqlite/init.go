package sqlite

import (
	"log/slog"

	"github.com/leapstack-labs/leaprepl/pkg/adapter"
)

func init() {
	adapter.Register("sqlite", []string{"sqlite", "sqlite3", "file"}, func(logger *slog.Logger) adapter.Adapter {
		return New(logger)
	})
}
