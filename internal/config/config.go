// Package config loads server configuration. Values resolve from
// (lowest to highest priority): defaults, an optional YAML file, and
// GITWARD_* environment variables. Secrets (remote token, DSNs) are
// environment-only and never written to the YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds everything the server needs at startup.
type Config struct {
	// ListenAddr is the HTTP listen address, e.g. ":8443".
	ListenAddr string `yaml:"listen_addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Controller ControllerConfig `yaml:"controller"`
	Writes     WritesConfig     `yaml:"writes"`
	Remote     RemoteConfig     `yaml:"remote"`
	Workspaces WorkspacesConfig `yaml:"workspaces"`
	Command    CommandConfig    `yaml:"command"`
	Auth       AuthConfig       `yaml:"auth"`
	Events     EventsConfig     `yaml:"events"`
}

// ControllerConfig designates the one repository whose canonical branch
// the write gate protects.
type ControllerConfig struct {
	Repo            string `yaml:"repo"`
	CanonicalBranch string `yaml:"canonical_branch"`
}

// WritesConfig sets the gate's startup state. The flag itself is never
// persisted.
type WritesConfig struct {
	EnabledByDefault bool `yaml:"enabled_by_default"`
}

// RemoteConfig configures the hosted-repository client.
type RemoteConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// Token is environment-only (GITWARD_REMOTE_TOKEN).
	Token string `yaml:"-"`
}

// WorkspacesConfig configures persistent local clones.
type WorkspacesConfig struct {
	Root string `yaml:"root"`
	// IndexPath is the sqlite file tracking known workspaces across
	// restarts. Empty disables the index.
	IndexPath string `yaml:"index_path"`
}

// CommandConfig bounds command execution.
type CommandConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	MaxTimeoutSeconds     int `yaml:"max_timeout_seconds"`
	MaxOutputChars        int `yaml:"max_output_chars"`
}

// AuthConfig selects caller authentication. Mode "static" accepts tokens
// from the environment; "postgres" validates against the api_tokens table.
type AuthConfig struct {
	Mode            string `yaml:"mode"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	FailOpen        bool   `yaml:"fail_open"`
	// PostgresDSN is environment-only (GITWARD_AUTH_POSTGRES_DSN).
	PostgresDSN string `yaml:"-"`
	// StaticToken is environment-only (GITWARD_AUTH_STATIC_TOKEN).
	StaticToken string `yaml:"-"`
}

// EventsConfig configures the invocation-event sink. An empty DSN keeps
// events on the log writer.
type EventsConfig struct {
	// ClickHouseDSN is environment-only (GITWARD_EVENTS_CLICKHOUSE_DSN).
	ClickHouseDSN string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr: ":8443",
		LogLevel:   "info",
		Writes:     WritesConfig{EnabledByDefault: false},
		Remote: RemoteConfig{
			BaseURL:        "https://api.github.com",
			TimeoutSeconds: 30,
		},
		Workspaces: WorkspacesConfig{
			Root:      defaultWorkspaceRoot(),
			IndexPath: "",
		},
		Command: CommandConfig{
			DefaultTimeoutSeconds: 120,
			MaxTimeoutSeconds:     900,
			MaxOutputChars:        50_000,
		},
		Auth: AuthConfig{
			Mode:            "static",
			CacheTTLSeconds: 30,
		},
	}
}

func defaultWorkspaceRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".gitward/workspaces"
	}
	return home + "/.gitward/workspaces"
}

// Load resolves the full configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config.Load: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config.Load: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	switch c.Auth.Mode {
	case "static", "postgres":
	default:
		return fmt.Errorf("config: unknown auth.mode %q", c.Auth.Mode)
	}
	if c.Auth.Mode == "postgres" && c.Auth.PostgresDSN == "" {
		return fmt.Errorf("config: auth.mode postgres requires GITWARD_AUTH_POSTGRES_DSN")
	}
	if c.Command.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("config: command.default_timeout_seconds must be positive")
	}
	if c.Command.MaxOutputChars <= 0 {
		return fmt.Errorf("config: command.max_output_chars must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ListenAddr = envOrDefault("GITWARD_LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = envOrDefault("GITWARD_LOG_LEVEL", cfg.LogLevel)

	cfg.Controller.Repo = envOrDefault("GITWARD_CONTROLLER_REPO", cfg.Controller.Repo)
	cfg.Controller.CanonicalBranch = envOrDefault("GITWARD_CANONICAL_BRANCH", cfg.Controller.CanonicalBranch)
	cfg.Writes.EnabledByDefault = envOrDefaultBool("GITWARD_WRITES_ENABLED", cfg.Writes.EnabledByDefault)

	cfg.Remote.BaseURL = envOrDefault("GITWARD_REMOTE_BASE_URL", cfg.Remote.BaseURL)
	cfg.Remote.TimeoutSeconds = envOrDefaultInt("GITWARD_REMOTE_TIMEOUT_S", cfg.Remote.TimeoutSeconds)
	cfg.Remote.Token = envOrDefault("GITWARD_REMOTE_TOKEN", cfg.Remote.Token)

	cfg.Workspaces.Root = envOrDefault("GITWARD_WORKSPACE_ROOT", cfg.Workspaces.Root)
	cfg.Workspaces.IndexPath = envOrDefault("GITWARD_WORKSPACE_INDEX", cfg.Workspaces.IndexPath)

	cfg.Command.DefaultTimeoutSeconds = envOrDefaultInt("GITWARD_COMMAND_TIMEOUT_S", cfg.Command.DefaultTimeoutSeconds)
	cfg.Command.MaxTimeoutSeconds = envOrDefaultInt("GITWARD_COMMAND_MAX_TIMEOUT_S", cfg.Command.MaxTimeoutSeconds)
	cfg.Command.MaxOutputChars = envOrDefaultInt("GITWARD_COMMAND_MAX_OUTPUT", cfg.Command.MaxOutputChars)

	cfg.Auth.Mode = envOrDefault("GITWARD_AUTH_MODE", cfg.Auth.Mode)
	cfg.Auth.CacheTTLSeconds = envOrDefaultInt("GITWARD_AUTH_CACHE_TTL_S", cfg.Auth.CacheTTLSeconds)
	cfg.Auth.FailOpen = envOrDefaultBool("GITWARD_AUTH_FAIL_OPEN", cfg.Auth.FailOpen)
	cfg.Auth.PostgresDSN = envOrDefault("GITWARD_AUTH_POSTGRES_DSN", cfg.Auth.PostgresDSN)
	cfg.Auth.StaticToken = envOrDefault("GITWARD_AUTH_STATIC_TOKEN", cfg.Auth.StaticToken)

	cfg.Events.ClickHouseDSN = envOrDefault("GITWARD_EVENTS_CLICKHOUSE_DSN", cfg.Events.ClickHouseDSN)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	switch os.Getenv(key) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	}
	return defaultVal
}
