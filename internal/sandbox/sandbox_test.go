package sandbox

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leaprepl/internal/testutil"
)

func TestForHosts(t *testing.T) {
	p := ForHosts("DB.example.com:5432", "")

	require.Len(t, p.Grants, 3)
	assert.True(t, p.Trusts(ScopeStarlark))
	assert.False(t, p.Trusts(ScopeDSL))
	assert.Equal(t, Grant{Scope: ScopeNetwork, Permission: PermissionConnect, Targets: []string{"db.example.com:5432"}}, p.Grants[2])
	require.NoError(t, p.Validate())

	assert.Len(t, ForHosts().Grants, 2)
}

func TestPolicy_CanConnect(t *testing.T) {
	p := ForHosts("db.example.com:5432", "[::1]:5433")

	tests := []struct {
		addr string
		want bool
	}{
		{"db.example.com:5432", true},
		{"DB.EXAMPLE.COM:5432", true},
		{"db.example.com:5433", false},
		{"other.example.com:5432", false},
		{"[::1]:5433", true},
		{"db.example.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.CanConnect(tt.addr), tt.addr)
	}
}

func TestPolicy_CanOpen(t *testing.T) {
	p := ForHosts("db:5432").WithDatabases("postgres://ada:secret@db:5432/app", "sqlite:/srv/demo.db", "")

	require.Len(t, p.Grants, 5)
	require.NoError(t, p.Validate())
	assert.Equal(t, []string{"postgres://db:5432/app"}, p.Grants[3].Targets)
	assert.Len(t, ForHosts().Grants, 2, "WithDatabases must not modify its receiver")

	tests := []struct {
		target string
		want   bool
	}{
		{"postgres://db:5432/app", true},
		{"postgres://grace:other@db:5432/app", true},
		{"postgres://db:5432/other", false},
		{"sqlite:/srv/demo.db", true},
		{"sqlite:/tmp/outside.db", false},
		{"duckdb:", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.CanOpen(tt.target), tt.target)
	}
	assert.False(t, ForHosts().CanOpen("sqlite::memory:"))
}

func TestPolicy_CanRead(t *testing.T) {
	p := ForHosts()
	assert.True(t, p.CanRead("LEAPREPL_REGION"))
	assert.False(t, p.CanRead("HOME"))

	trusted := Policy{Grants: []Grant{{Scope: ScopeDSL, Permission: PermissionAll}}}
	assert.True(t, trusted.CanRead("HOME"))
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr string
	}{
		{
			name:    "unknown permission",
			policy:  Policy{Grants: []Grant{{Scope: ScopeStarlark, Permission: "root"}}},
			wantErr: `unknown permission "root"`,
		},
		{
			name:    "all on network",
			policy:  Policy{Grants: []Grant{{Scope: ScopeNetwork, Permission: PermissionAll}}},
			wantErr: "cannot be granted",
		},
		{
			name:    "connect without port",
			policy:  Policy{Grants: []Grant{{Scope: ScopeNetwork, Permission: PermissionConnect, Targets: []string{"db"}}}},
			wantErr: "missing port",
		},
		{
			name:    "connect outside network",
			policy:  Policy{Grants: []Grant{{Scope: ScopeDSL, Permission: PermissionConnect, Targets: []string{"db:1"}}}},
			wantErr: "only granted",
		},
		{
			name:    "open outside database",
			policy:  Policy{Grants: []Grant{{Scope: ScopeNetwork, Permission: PermissionOpen, Targets: []string{"sqlite:x"}}}},
			wantErr: "open is only granted",
		},
		{
			name:    "empty database target",
			policy:  Policy{Grants: []Grant{{Scope: ScopeDatabase, Permission: PermissionOpen, Targets: []string{""}}}},
			wantErr: "empty database target",
		},
		{
			name:    "bad pattern",
			policy:  Policy{Grants: []Grant{{Scope: ScopeDSL, Permission: PermissionPropertyRead, Targets: []string{"["}}}},
			wantErr: "bad pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPolicy)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParse(t *testing.T) {
	want := ForHosts("db:5432")
	data, err := want.Render()
	require.NoError(t, err)
	assert.Contains(t, string(data), "scope: net")

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Parse([]byte("grants:\n  - scope: net\n    permission: connect\n    hosts: [x]\n"))
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestResolver_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver(dir, testutil.NewTestLogger(t))

	first, err := r.Resolve(ForHosts("db:5432"))
	require.NoError(t, err)

	// Age the file so a rewrite would be visible.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(first, old, old))

	second, err := r.Resolve(ForHosts("db:5432"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	info, err := os.Stat(second)
	require.NoError(t, err)
	assert.WithinDuration(t, old, info.ModTime(), time.Second)

	other, err := r.Resolve(ForHosts("db:5433"))
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestResolver_RewritesDeletedFile(t *testing.T) {
	r := NewResolver(filepath.Join(t.TempDir(), "nested"), nil)

	path, err := r.Resolve(ForHosts("db:5432"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	again, err := r.Resolve(ForHosts("db:5432"))
	require.NoError(t, err)
	assert.Equal(t, path, again)

	p, err := Load(again)
	require.NoError(t, err)
	assert.True(t, p.CanConnect("db:5432"))
}

func TestResolver_RejectsInvalidPolicy(t *testing.T) {
	r := NewResolver(t.TempDir(), nil)
	_, err := r.Resolve(Policy{Grants: []Grant{{Scope: "x", Permission: "y"}}})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestGuard_Dial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	g := NewGuard(ForHosts(ln.Addr().String()), testutil.NewTestLogger(t))

	conn, err := g.Dial(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	_ = conn.Close()

	_, err = g.Dial(context.Background(), "tcp", "127.0.0.1:1")
	var perr *PermissionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, PermissionConnect, perr.Permission)
	assert.Equal(t, "127.0.0.1:1", perr.Target)
	assert.Contains(t, err.Error(), "not granted by the sandbox policy")
}

func TestGuard_Connect(t *testing.T) {
	dir := t.TempDir()
	granted := "sqlite:" + filepath.Join(dir, "granted.db")
	g := NewGuard(ForHosts().WithDatabases(granted), testutil.NewTestLogger(t))

	require.NoError(t, g.Connect(granted))

	outside := "sqlite:" + filepath.Join(dir, "outside.db")
	err := g.Connect(outside)
	var perr *PermissionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, PermissionOpen, perr.Permission)
	assert.Equal(t, outside, perr.Target)

	err = NewGuard(ForHosts(), nil).Connect("postgres://ada:secret@db:5432/app")
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "postgres://db:5432/app", perr.Target)
	assert.NotContains(t, err.Error(), "secret")
}

func TestGuard_Lookup(t *testing.T) {
	g := NewGuard(ForHosts(), nil)
	g.lookup = func(name string) (string, bool) {
		if name == "LEAPREPL_REGION" {
			return "eu", true
		}
		return "", false
	}

	v, ok, err := g.Lookup("LEAPREPL_REGION")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "eu", v)

	_, ok, err = g.Lookup("LEAPREPL_MISSING")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = g.Lookup("HOME")
	var perr *PermissionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, PermissionPropertyRead, perr.Permission)
}
