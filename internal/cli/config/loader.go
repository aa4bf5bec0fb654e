package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/leapstack-labs/leaprepl/internal/database"
)

// EnvPrefix prefixes the environment variables read as configuration.
const EnvPrefix = "LEAPREPL_"

// flagKeys maps flag names to the configuration keys they override. Other
// flags are not configuration.
var flagKeys = map[string]string{
	"port":       "server.port",
	"isolation":  "worker.isolation",
	"prewarm":    "worker.prewarm",
	"policy-dir": "worker.policy_dir",
	"log-level":  "log.level",
	"log-format": "log.format",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns with environment variable values.
// Unset variables are left as written.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}

// findConfigFile returns the explicit path, or leaprepl.yaml / leaprepl.yml
// in the working directory when present.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"leaprepl.yaml", "leaprepl.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// envKey turns LEAPREPL_WORKER_DRAIN_TIMEOUT into worker.drain_timeout.
// Databases are configured through DATABASE_* variables instead.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok || section == "databases" {
		return ""
	}
	return section + "." + rest
}

// Load loads configuration from defaults, the config file, the
// environment and flags, in increasing precedence.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, string, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]any{
		"server.port":          DefaultPort,
		"server.body_limit":    DefaultBodyLimit,
		"worker.isolation":     DefaultIsolation,
		"worker.prewarm":       DefaultPrewarm,
		"worker.drain_timeout": DefaultDrainTimeout.String(),
		"log.level":            DefaultLogLevel,
		"log.format":           DefaultLogFormat,
	}, "."), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, "", fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// 3. Environment. REPL_PORT is honored below LEAPREPL_SERVER_PORT.
	if port, ok := os.LookupEnv("REPL_PORT"); ok && port != "" {
		if err := k.Load(confmap.Provider(map[string]any{"server.port": port}, "."), nil); err != nil {
			return nil, "", fmt.Errorf("failed to load REPL_PORT: %w", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, "", fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, "", fmt.Errorf("unable to decode config: %w", err)
	}

	for name, s := range cfg.Databases {
		s.URL = expandEnvVars(s.URL)
		s.User = expandEnvVars(s.User)
		s.Password = expandEnvVars(s.Password)
		cfg.Databases[name] = s
	}
	cfg.Databases = database.Merge(cfg.Databases, database.FromEnv(os.Environ()))

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, used, nil
}
