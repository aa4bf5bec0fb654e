// Package main provides the CLI for leaprepl.
package main

import (
	"os"

	"github.com/leapstack-labs/leaprepl/internal/cli"

	// Register database adapters
	_ "github.com/leapstack-labs/leaprepl/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leaprepl/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/leaprepl/pkg/adapters/sqlite"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
