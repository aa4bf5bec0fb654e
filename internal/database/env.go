package database

import (
	"strings"
)

const envPrefix = "DATABASE_"

var envFields = []string{"URL", "DESCRIPTION", "USER", "PASSWORD", "PREFIX", "SANDBOX"}

// FromEnv collects DATABASE_<NAME>_<FIELD> variables into settings keyed by
// the lower-cased name. Names may contain underscores.
func FromEnv(environ []string) map[string]Settings {
	out := make(map[string]Settings)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		rest := key[len(envPrefix):]

		for _, field := range envFields {
			name, found := strings.CutSuffix(rest, "_"+field)
			if !found || name == "" {
				continue
			}
			name = strings.ToLower(name)
			s := out[name]
			switch field {
			case "URL":
				s.URL = value
			case "DESCRIPTION":
				s.Description = value
			case "USER":
				s.User = value
			case "PASSWORD":
				s.Password = value
			case "PREFIX":
				s.Prefix = value
			case "SANDBOX":
				s.Sandbox = value
			}
			out[name] = s
			break
		}
	}
	return out
}

// Merge overlays env settings on file settings field by field.
func Merge(base, overlay map[string]Settings) map[string]Settings {
	out := make(map[string]Settings, len(base)+len(overlay))
	for name, s := range base {
		out[name] = s
	}
	for name, o := range overlay {
		s := out[name]
		if o.URL != "" {
			s.URL = o.URL
		}
		if o.Description != "" {
			s.Description = o.Description
		}
		if o.User != "" {
			s.User = o.User
		}
		if o.Password != "" {
			s.Password = o.Password
		}
		if o.Prefix != "" {
			s.Prefix = o.Prefix
		}
		if o.Sandbox != "" {
			s.Sandbox = o.Sandbox
		}
		out[name] = s
	}
	return out
}
