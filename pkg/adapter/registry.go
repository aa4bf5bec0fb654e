package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

type registration struct {
	schemes []string
	factory func(*slog.Logger) Adapter
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registration)
)

// Register adds an adapter factory to the registry under name. Connection
// strings whose scheme is one of schemes resolve to it.
// Called by adapter implementations in their init() functions.
func Register(name string, schemes []string, factory func(*slog.Logger) Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = registration{schemes: schemes, factory: factory}
}

// Get retrieves an adapter factory by name.
func Get(name string) (func(*slog.Logger) Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[name]
	return r.factory, ok
}

// Scheme returns the scheme of a connection string, ignoring a leading
// "jdbc:" as found in configurations written for JVM tools.
func Scheme(url string) string {
	url = strings.TrimPrefix(url, "jdbc:")
	scheme, _, ok := strings.Cut(url, ":")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

// NameForURL returns the name of the adapter serving url.
func NameForURL(url string) (string, error) {
	scheme := Scheme(url)
	if scheme == "" {
		return "", fmt.Errorf("connection string %q has no scheme", url)
	}

	registryMu.RLock()
	defer registryMu.RUnlock()
	for name, r := range registry {
		for _, s := range r.schemes {
			if s == scheme {
				return name, nil
			}
		}
	}
	return "", &UnknownAdapterError{Type: scheme, Available: listLocked()}
}

// NewAdapter creates a new adapter instance for a connection string.
// The logger parameter is passed to the adapter constructor (nil uses discard logger).
func NewAdapter(url string, logger *slog.Logger) (Adapter, error) {
	if url == "" {
		return nil, fmt.Errorf("connection string not specified")
	}
	name, err := NameForURL(url)
	if err != nil {
		return nil, err
	}
	factory, _ := Get(name)
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return factory(logger), nil
}

// ListAdapters returns all registered adapter names (sorted).
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return listLocked()
}

func listLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if an adapter type is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// UnknownAdapterError is returned when no adapter serves a connection string.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("no adapter for connection scheme %q\nAvailable adapters: %v\nHint: Check the url of the database in leaprepl.yaml or DATABASE_<NAME>_URL", e.Type, e.Available)
}
