// Package config provides configuration management for the fleet control
// plane: it loads raw YAML + environment overrides into a typed Config,
// validates it, and hands the nested FleetConfig section to
// internal/fleetconfig for Agent/Schedule construction at initialise.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ikido/fleetctl/internal/fleetconfig"
)

// Config holds all configuration sections for fleetd.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Events   EventsConfig   `mapstructure:"events"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Worktree WorktreeConfig `mapstructure:"worktree"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Fleet    FleetConfig    `mapstructure:"fleet"`
	// WorkSources names the concrete worksource.Source instances a
	// schedule's WorkSourceConfig.Source field can reference.
	WorkSources map[string]WorkSourceConfig `mapstructure:"workSources"`
	// StateRoot is where sessions/, chat-sessions/, jobs/, schedules/ and
	// webhooks/idempotency.json are persisted (§6.1).
	StateRoot string `mapstructure:"stateRoot"`
}

// FleetConfig is the raw, not-yet-validated shape of the fleet's agents.
// Load only unmarshals this section; validating it into immutable
// fleetconfig.Agent values and constructing the stores/managers around
// them happens at Fleet Manager initialise (internal/fleet), matching
// §1's "config loader produces a validated FleetConfig value before
// initialise, typed construction is in-core."
type FleetConfig struct {
	Agents map[string]fleetconfig.Agent `mapstructure:"agents"`
}

// ServerConfig holds HTTP server configuration (webhook ingestor + admin API).
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds the SQLite job-index connection configuration. The
// append-only job record/log itself stays file-based (§6.1); this index
// is a queryable secondary store for "list jobs" / "status" operations.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	MaxConns int    `mapstructure:"maxConns"`
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
	Namespace string `mapstructure:"namespace"`
}

// DockerConfig gates and parameterises per-agent useDocker: the
// subprocess runtime adapter shells out to the `docker` CLI (not the
// engine API) to run the agent CLI inside DefaultNetwork when an agent
// opts in, rather than as a bare host process.
type DockerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	APIVersion     string `mapstructure:"apiVersion"`
	TLSVerify      bool   `mapstructure:"tlsVerify"`
	DefaultNetwork string `mapstructure:"defaultNetwork"`
	VolumeBasePath string `mapstructure:"volumeBasePath"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// WorktreeConfig holds git worktree defaults shared across agents
// configured with workspace_strategy=git_worktree.
type WorktreeConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	BasePath        string `mapstructure:"basePath"`
	DefaultBranch   string `mapstructure:"defaultBranch"`
	CleanupOnRemove bool   `mapstructure:"cleanupOnRemove"`
}

// WebhookConfig configures the webhook ingestor's HTTP surface and
// per-provider signing secrets (env-var names, never raw secrets).
type WebhookConfig struct {
	Enabled              bool                     `mapstructure:"enabled"`
	Path                 string                   `mapstructure:"path"`
	IdempotencyTTLHours  int                      `mapstructure:"idempotencyTtlHours"`
	Providers            map[string]WebhookSource `mapstructure:"providers"`
}

// WebhookSource configures one provider's signature verification and its
// routes.
type WebhookSource struct {
	SignatureHeader string         `mapstructure:"signatureHeader"`
	SecretEnv       string         `mapstructure:"secretEnv"`
	Routes          []WebhookRoute `mapstructure:"routes"`
}

// WebhookRoute matches an inbound delivery to an agent trigger.
type WebhookRoute struct {
	Name           string            `mapstructure:"name"`
	Event          string            `mapstructure:"event"`
	Action         string            `mapstructure:"action"`
	Filters        map[string]string `mapstructure:"filters"` // dot-path -> expected value
	Agent          string            `mapstructure:"agent"`
	PromptTemplate string            `mapstructure:"promptTemplate"`
	SessionKey     string            `mapstructure:"sessionKey"` // dot-path into payload
}

// WorkSourceConfig configures one named worksource.Source instance.
// Today only the "github" Type is implemented; the name it's registered
// under (the map key in Config.WorkSources) is what a schedule's
// WorkSourceConfig.Source field references.
type WorkSourceConfig struct {
	Type     string `mapstructure:"type"`
	Owner    string `mapstructure:"owner"`
	Repo     string `mapstructure:"repo"`
	TokenEnv string `mapstructure:"tokenEnv"`
}

// ChatConfig configures the concrete chat connectors.
type ChatConfig struct {
	Discord      DiscordConfig      `mapstructure:"discord"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	IssueTracker IssueTrackerConfig `mapstructure:"issueTracker"`
}

// IssueTrackerConfig configures the issue-tracker Chat Manager variant
// (§4.9): a webhook-driven, filter-routed connector with no client SDK of
// its own wired in (concrete issue-tracker HTTP clients are out of scope;
// see DESIGN.md).
type IssueTrackerConfig struct {
	Enabled   bool                      `mapstructure:"enabled"`
	APIUserID string                    `mapstructure:"apiUserId"`
	Routes    []IssueTrackerRouteConfig `mapstructure:"routes"`
}

// IssueTrackerRouteConfig is one agent's filter-based claim on inbound
// issue events, mirroring issuetracker.AgentRoute.
type IssueTrackerRouteConfig struct {
	Agent                     string   `mapstructure:"agent"`
	Assignee                  string   `mapstructure:"assignee"`
	Team                      string   `mapstructure:"team"`
	AllowedStates             []string `mapstructure:"allowedStates"`
	ExcludeLabels             []string `mapstructure:"excludeLabels"`
	Label                     string   `mapstructure:"label"`
	Project                   string   `mapstructure:"project"`
	RequireExplicitAssignment bool     `mapstructure:"requireExplicitAssignment"`
}

// DiscordConfig configures the per-agent Discord connector shape: one bot
// token per agent.
type DiscordConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	TokenEnvByAgent map[string]string `mapstructure:"tokenEnvByAgent"`
}

// TelegramConfig configures the shared-connector Telegram shape: one bot
// identity, many agents routed by channel.
type TelegramConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	TokenEnv        string            `mapstructure:"tokenEnv"`
	ChannelToAgent  map[string]string `mapstructure:"channelToAgent"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// IdempotencyTTL returns the webhook idempotency window as a Duration.
func (w *WebhookConfig) IdempotencyTTL() time.Duration {
	if w.IdempotencyTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(w.IdempotencyTTLHours) * time.Hour
}

// detectDefaultLogFormat returns "json" for production-shaped
// environments and "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("FLEETD_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./fleetd-jobs.db")
	v.SetDefault("database.maxConns", 5)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "fleetd-cluster")
	v.SetDefault("nats.clientId", "fleetd-client")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.host", DefaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.tlsVerify", false)
	v.SetDefault("docker.defaultNetwork", "fleetd-network")
	v.SetDefault("docker.volumeBasePath", defaultDockerVolumePath())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("worktree.enabled", true)
	v.SetDefault("worktree.basePath", "~/.fleetd/worktrees")
	v.SetDefault("worktree.defaultBranch", "main")
	v.SetDefault("worktree.cleanupOnRemove", true)

	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.path", "/webhooks")
	v.SetDefault("webhook.idempotencyTtlHours", 24)

	v.SetDefault("stateRoot", "~/.fleetd/state")
}

// DefaultDockerHost returns the platform-appropriate Docker socket path.
func DefaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

// defaultDockerVolumePath returns the platform-appropriate volume base path.
func defaultDockerVolumePath() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
		return filepath.Join(localAppData, "fleetd", "volumes")
	}
	return "/var/lib/fleetd/volumes"
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the FLEETD_ prefix.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FLEETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "FLEETD_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "FLEETD_EVENTS_NAMESPACE")
	_ = v.BindEnv("stateRoot", "FLEETD_STATE_ROOT")

	v.SetConfigName("fleet")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/fleetd/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.StateRoot = expandHome(cfg.StateRoot)
	cfg.Worktree.BasePath = expandHome(cfg.Worktree.BasePath)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// validate checks that required configuration fields are set and every
// configured agent passes its own Validate.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	for name, agent := range cfg.Fleet.Agents {
		agent.Name = name
		if err := agent.WithDefaults().Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the SQLite data source name for the job index.
func (d *DatabaseConfig) DSN() string {
	return d.Path
}
