package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
)

// PermissionError reports an operation the policy does not grant.
type PermissionError struct {
	Permission string
	Target     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("access denied: %s %q is not granted by the sandbox policy", e.Permission, e.Target)
}

// Guard enforces a policy inside a worker.
type Guard struct {
	policy Policy
	dialer net.Dialer
	lookup func(string) (string, bool)
	logger *slog.Logger
}

// NewGuard creates a guard for p. Settings are read from the process
// environment.
func NewGuard(p Policy, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Guard{policy: p, lookup: os.LookupEnv, logger: logger}
}

// Policy returns the enforced policy.
func (g *Guard) Policy() Policy {
	return g.policy
}

// Dial opens a network connection if the policy grants connecting to addr.
// Its signature fits the dial hook of database adapters.
func (g *Guard) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	if !g.policy.CanConnect(addr) {
		g.logger.Warn("connection denied", slog.String("addr", addr))
		return nil, &PermissionError{Permission: PermissionConnect, Target: addr}
	}
	return g.dialer.DialContext(ctx, network, addr)
}

// Connect approves opening the database at target. Its signature fits the
// connect hook of the query builder.
func (g *Guard) Connect(target string) error {
	if !g.policy.CanOpen(target) {
		target = stripCredentials(target)
		g.logger.Warn("database open denied", slog.String("target", target))
		return &PermissionError{Permission: PermissionOpen, Target: target}
	}
	return nil
}

// Lookup reads a setting if the policy lets the query builder read it.
func (g *Guard) Lookup(name string) (string, bool, error) {
	if !g.policy.CanRead(name) {
		return "", false, &PermissionError{Permission: PermissionPropertyRead, Target: name}
	}
	v, ok := g.lookup(name)
	return v, ok, nil
}
