package adapter

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownAdapterError_Error(t *testing.T) {
	err := &UnknownAdapterError{
		Type:      "oracle",
		Available: []string{"duckdb", "postgres"},
	}

	msg := err.Error()
	assert.Contains(t, msg, "oracle")
	assert.Contains(t, msg, "duckdb")
	assert.Contains(t, msg, "leaprepl.yaml")
}

func TestScheme(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "postgres://localhost:5432/db", want: "postgres"},
		{url: "jdbc:postgresql://localhost/db", want: "postgresql"},
		{url: "sqlite:demo.db", want: "sqlite"},
		{url: "DuckDB:", want: "duckdb"},
		{url: "demo.db", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, Scheme(tt.url))
		})
	}
}

func TestRegister(t *testing.T) {
	Register("test_adapter_internal", []string{"testdb"}, func(_ *slog.Logger) Adapter { return nil })

	assert.True(t, IsRegistered("test_adapter_internal"))
	factory, ok := Get("test_adapter_internal")
	assert.True(t, ok)
	assert.NotNil(t, factory)

	name, err := NameForURL("testdb://somewhere")
	require.NoError(t, err)
	assert.Equal(t, "test_adapter_internal", name)
	assert.Contains(t, ListAdapters(), "test_adapter_internal")
}

func TestNewAdapter_Errors(t *testing.T) {
	_, err := NewAdapter("", nil)
	assert.EqualError(t, err, "connection string not specified")

	_, err = NewAdapter("nowhere", nil)
	assert.ErrorContains(t, err, "has no scheme")

	_, err = NewAdapter("oracle://db", nil)
	var unknown *UnknownAdapterError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "oracle", unknown.Type)
}
