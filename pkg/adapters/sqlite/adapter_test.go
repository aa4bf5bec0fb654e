package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leaprepl/pkg/adapter"
)

func TestDataSource(t *testing.T) {
	tests := []struct {
		url      string
		readOnly bool
		want     string
	}{
		{url: "sqlite:", want: ":memory:"},
		{url: "sqlite::memory:", want: ":memory:"},
		{url: "sqlite:demo.db", want: "demo.db"},
		{url: "sqlite:///tmp/demo.db", want: "/tmp/demo.db"},
		{url: "sqlite:demo.db", readOnly: true, want: "file:demo.db?mode=ro"},
		{url: "file:demo.db?mode=ro", want: "file:demo.db?mode=ro"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, DataSource(tt.url, tt.readOnly))
		})
	}
}

func TestAdapter_Metadata(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)
	require.NoError(t, adp.Connect(ctx, adapter.Config{URL: "sqlite:" + filepath.Join(t.TempDir(), "t.db")}))
	defer func() { _ = adp.Close() }()

	_, err := adp.Exec(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT)")
	require.NoError(t, err)
	n, err := adp.Exec(ctx, "INSERT INTO users (name, email) VALUES (?, ?)", "ada", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tables, err := adp.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, tables)

	meta, err := adp.GetTableMetadata(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, &adapter.Metadata{
		Schema: "main",
		Name:   "users",
		Columns: []adapter.Column{
			{Name: "id", Type: "INTEGER", Nullable: false, Position: 1},
			{Name: "name", Type: "TEXT", Nullable: false, Position: 2},
			{Name: "email", Type: "TEXT", Nullable: true, Position: 3},
		},
		RowCount: 1,
	}, meta)

	_, err = adp.GetTableMetadata(ctx, "ghost")
	assert.ErrorContains(t, err, "table ghost not found")
}

func TestAdapter_InMemorySharesOneConnection(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)
	require.NoError(t, adp.Connect(ctx, adapter.Config{URL: "sqlite::memory:"}))
	defer func() { _ = adp.Close() }()

	_, err := adp.Exec(ctx, "CREATE TABLE t (x INTEGER)")
	require.NoError(t, err)
	tables, err := adp.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, tables)
}

func TestAdapter_SandboxedCannotAttach(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	other := filepath.Join(dir, "other.db")
	attach := "ATTACH DATABASE '" + other + "' AS other"

	tests := []struct {
		name      string
		sandboxed bool
		wantErr   bool
	}{
		{name: "plain", sandboxed: false, wantErr: false},
		{name: "sandboxed", sandboxed: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = os.Remove(other)
			adp := New(nil)
			require.NoError(t, adp.Connect(ctx, adapter.Config{
				URL:       "sqlite:" + filepath.Join(dir, tt.name+".db"),
				Sandboxed: tt.sandboxed,
			}))
			defer func() { _ = adp.Close() }()

			_, err := adp.Exec(ctx, attach)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			_, err = adp.Exec(ctx, "VACUUM INTO '"+other+"'")
			assert.Error(t, err)
			assert.NoFileExists(t, other)
		})
	}
}

func TestRegistered(t *testing.T) {
	a, err := adapter.NewAdapter("sqlite:demo.db", nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", a.Dialect().Name)
}
