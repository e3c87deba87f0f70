package config

import "time"

// Config represents the complete runnerd configuration.
type Config struct {
	Service  ServiceConfig   `yaml:"service"`
	State    StateConfig     `yaml:"state"`
	Runners  RunnersConfig   `yaml:"runners"`
	API      APIConfig       `yaml:"api,omitempty"`
	Redis    RedisConfig     `yaml:"redis,omitempty"`
	Webhooks *WebhooksConfig `yaml:"webhooks,omitempty"`
	Include  []string        `yaml:"include,omitempty"`

	// SourcePath is the root config file; IncludedPaths the files it pulled in.
	SourcePath    string   `yaml:"-"`
	IncludedPaths []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name                string        `yaml:"name"`
	LogLevel            string        `yaml:"log_level"`
	LogFormat           string        `yaml:"log_format"`
	RefreshInterval     time.Duration `yaml:"refresh_interval"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
	JournalRetention    time.Duration `yaml:"journal_retention"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// RunnersConfig defines where runner definitions live and execution limits.
type RunnersConfig struct {
	DefinitionsDir string        `yaml:"definitions_dir"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	KillGrace      time.Duration `yaml:"kill_grace"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	// Retained is how many finished runners stay queryable in memory.
	Retained int `yaml:"retained"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the single admin bearer token. Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// RedisConfig enables mirroring runner updates to Redis pub/sub.
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password,omitempty"`
	DB            int           `yaml:"db,omitempty"`
	ChannelPrefix string        `yaml:"channel_prefix,omitempty"`
	LastTTL       time.Duration `yaml:"last_ttl,omitempty"`
}

// Enabled reports whether an address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// WebhooksConfig defines webhook listener settings.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint turns signed POSTs to Path/{runnerID} into Event.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Event           string `yaml:"event"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     string `yaml:"max_body_size"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:                "runnerd",
			LogLevel:            "info",
			LogFormat:           "json",
			RefreshInterval:     time.Second,
			ShutdownTimeout:     30 * time.Second,
			JournalRetention:    30 * 24 * time.Hour,
			MaintenanceInterval: time.Hour,
		},
		State: StateConfig{
			Path: "./data/runnerd.db",
		},
		Runners: RunnersConfig{
			DefinitionsDir: "./runners",
			KillGrace:      5 * time.Second,
			MaxOutputBytes: 64 * 1024,
			Retained:       256,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Redis: RedisConfig{
			ChannelPrefix: "runnerd:updates:",
		},
	}
}
