package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Resolver writes policies to a directory, one file per distinct content.
type Resolver struct {
	dir    string
	logger *slog.Logger

	mu sync.Mutex
}

// NewResolver creates a resolver writing to dir. An empty dir means the
// system temporary directory.
func NewResolver(dir string, logger *slog.Logger) *Resolver {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "leaprepl-policies")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{dir: dir, logger: logger}
}

// Resolve returns the path of the file holding p. The file is named by the
// SHA-256 of its content; an existing file is returned as is and a deleted
// one is written again.
func (r *Resolver) Resolve(p Policy) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	data, err := p.Render()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	target := filepath.Join(r.dir, "policy-"+hex.EncodeToString(sum[:])+".yaml")

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create policy directory: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, "policy-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to write policy: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write policy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write policy: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("failed to write policy: %w", err)
	}

	r.logger.Debug("policy written", slog.String("path", target))
	return target, nil
}

// Load reads and validates the policy file at path.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read sandbox policy: %w", err)
	}
	return Parse(data)
}
