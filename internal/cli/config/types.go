// Package config provides configuration management for the leaprepl CLI.
//
// Values are layered with koanf: built-in defaults, then leaprepl.yaml,
// then LEAPREPL_* environment variables, then command-line flags.
// Databases may also be declared with DATABASE_<NAME>_<FIELD> variables.
package config

import (
	"time"

	"github.com/leapstack-labs/leaprepl/internal/database"
)

// Worker isolation modes.
const (
	// IsolationProcess runs every call in a sandboxed worker process.
	IsolationProcess = "process"
	// IsolationInProcess runs calls in the serving process.
	IsolationInProcess = "in-process"
)

// Default configuration values.
const (
	DefaultPort         = 8080
	DefaultBodyLimit    = 100_000
	DefaultIsolation    = IsolationProcess
	DefaultPrewarm      = 1
	DefaultDrainTimeout = 5 * time.Second
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
)

// Config is the complete CLI configuration.
type Config struct {
	Server    ServerConfig                 `koanf:"server"`
	Worker    WorkerConfig                 `koanf:"worker"`
	Log       LogConfig                    `koanf:"log"`
	Databases map[string]database.Settings `koanf:"databases"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port      int   `koanf:"port"`
	BodyLimit int64 `koanf:"body_limit"`
	// MaxConnections caps concurrent connections; zero means no cap.
	MaxConnections int `koanf:"max_connections"`
	// SessionKey signs session cookies. A random key is used when empty.
	SessionKey string `koanf:"session_key"`
}

// WorkerConfig configures how calls are isolated.
type WorkerConfig struct {
	Isolation string `koanf:"isolation"`
	// Prewarm is the number of ready workers kept per database.
	Prewarm int `koanf:"prewarm"`
	// Executable is the worker binary; defaults to the running one.
	Executable   string        `koanf:"executable"`
	DrainTimeout time.Duration `koanf:"drain_timeout"`
	// PolicyDir holds generated sandbox policies; defaults to a directory
	// under the system temp dir.
	PolicyDir string `koanf:"policy_dir"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Catalog builds the database catalog from the configured databases.
func (c *Config) Catalog() (*database.Catalog, error) {
	return database.NewCatalog(c.Databases)
}
