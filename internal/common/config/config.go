// Package config provides configuration management for agentcore.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agentcore.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Lock    LockConfig    `mapstructure:"lock"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Events  EventsConfig  `mapstructure:"events"`
	Docker  DockerConfig  `mapstructure:"docker"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// AgentConfig holds the default adapter/backend wiring for launched agents,
// bound to the §6.6 environment variables.
type AgentConfig struct {
	// RepositoryType selects the persistence backend ("sqlite" or "postgres").
	RepositoryType string `mapstructure:"repositoryType"`

	// DatabasePath is the SQLite file path (ignored for postgres).
	DatabasePath string `mapstructure:"databasePath"`

	// DatabaseDSN is the Postgres connection string (ignored for sqlite).
	DatabaseDSN string `mapstructure:"databaseDsn"`

	// ClaudeAdapter selects the default runner variant ("sdk", "python-proxy", "container").
	ClaudeAdapter string `mapstructure:"claudeAdapter"`

	// ClaudeProxyURL is the upstream endpoint for the HTTP-SSE proxy runner.
	ClaudeProxyURL string `mapstructure:"claudeProxyUrl"`

	// AnthropicAPIKey is forwarded to launched agents that need it.
	AnthropicAPIKey string `mapstructure:"anthropicApiKey"`
}

// LockConfig holds instance-lock configuration.
type LockConfig struct {
	// PIDFilePath is where the single-instance lock file is written.
	PIDFilePath string `mapstructure:"pidFilePath"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	// Namespace isolates queue-group subscribers across deployments/instances.
	// Empty value means derive from runtime data identity.
	Namespace string `mapstructure:"namespace"`
}

// DockerConfig holds Docker client configuration for the containerized
// subprocess runner variant.
type DockerConfig struct {
	// Enabled controls whether the containerized runner path is available.
	// When true and a Docker socket is reachable, agents can run inside
	// short-lived containers instead of local processes.
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
	TLSVerify  bool   `mapstructure:"tlsVerify"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTCORE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Agent defaults
	v.SetDefault("agent.repositoryType", "sqlite")
	v.SetDefault("agent.databasePath", "./agentcore.db")
	v.SetDefault("agent.databaseDsn", "")
	v.SetDefault("agent.claudeAdapter", "python-proxy")
	v.SetDefault("agent.claudeProxyUrl", "")
	v.SetDefault("agent.anthropicApiKey", "")

	// Lock defaults
	v.SetDefault("lock.pidFilePath", defaultPIDFilePath())

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "agentcore-cluster")
	v.SetDefault("nats.clientId", "agentcore-client")
	v.SetDefault("nats.maxReconnects", 10)

	// Events defaults
	v.SetDefault("events.namespace", "")

	// Docker defaults
	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.host", DefaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.tlsVerify", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// DefaultDockerHost returns the platform-appropriate Docker socket path.
// Respects DOCKER_HOST env var as override (standard Docker convention).
func DefaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

// defaultPIDFilePath returns the platform-appropriate instance lock file path.
func defaultPIDFilePath() string {
	if runtime.GOOS == "windows" {
		return "agentcore.pid"
	}
	return "/tmp/agentcore.pid"
}

// Load reads configuration from environment variables, config file, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the §6.6 environment variable names, which do
	// not follow the AGENTCORE_<SECTION>_<KEY> convention AutomaticEnv uses.
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("agent.claudeAdapter", "CLAUDE_ADAPTER")
	_ = v.BindEnv("agent.claudeProxyUrl", "CLAUDE_PROXY_URL")
	_ = v.BindEnv("agent.repositoryType", "REPOSITORY_TYPE")
	_ = v.BindEnv("agent.databasePath", "DATABASE_PATH")
	_ = v.BindEnv("agent.anthropicApiKey", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("lock.pidFilePath", "PID_FILE_PATH")
	_ = v.BindEnv("logging.level", "AGENTCORE_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "AGENTCORE_EVENTS_NAMESPACE")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentcore/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Agent.RepositoryType != "sqlite" && cfg.Agent.RepositoryType != "postgres" {
		errs = append(errs, "agent.repositoryType must be one of: sqlite, postgres")
	}
	if cfg.Agent.RepositoryType == "postgres" && cfg.Agent.DatabaseDSN == "" {
		errs = append(errs, "agent.databaseDsn is required for the postgres repository type")
	}

	if cfg.Lock.PIDFilePath == "" {
		errs = append(errs, "lock.pidFilePath must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
