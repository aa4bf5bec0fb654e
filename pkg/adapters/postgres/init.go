package postgres

import (
	"log/slog"

	"github.com/leapstack-labs/leaprepl/pkg/adapter"
)

func init() {
	adapter.Register("postgres", []string{"postgres", "postgresql"}, func(logger *slog.Logger) adapter.Adapter {
		return New(logger)
	})
}
