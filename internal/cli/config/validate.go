package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Validate checks the configuration for values the commands cannot use.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.BodyLimit <= 0 {
		errs = append(errs, errors.New("server.body_limit must be positive"))
	}

	switch c.Worker.Isolation {
	case IsolationProcess, IsolationInProcess:
	default:
		errs = append(errs, fmt.Errorf("worker.isolation %q must be %s or %s",
			c.Worker.Isolation, IsolationProcess, IsolationInProcess))
	}
	if c.Worker.Prewarm < 0 {
		errs = append(errs, errors.New("worker.prewarm must not be negative"))
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level %q is not a level", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	names := make([]string, 0, len(c.Databases))
	for name := range c.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if c.Databases[name].URL == "" {
			errs = append(errs, fmt.Errorf("database %q: url is required", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
