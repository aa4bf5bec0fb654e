package duckdb

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Params holds DuckDB-specific configuration, decoded from
// adapter.Config.Params.
type Params struct {
	// Extensions to install and load (e.g. "json", "parquet").
	Extensions []string `mapstructure:"extensions"`

	// Settings applied with SET after connecting (e.g. memory_limit, threads).
	Settings map[string]string `mapstructure:"settings"`

	// ReadOnly opens the database file in read-only mode.
	ReadOnly bool `mapstructure:"read_only"`
}

func parseParams(raw map[string]any) (*Params, error) {
	p := &Params{}
	if len(raw) == 0 {
		return p, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid duckdb params: %w", err)
	}
	return p, nil
}
