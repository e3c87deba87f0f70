package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, verifies, and validates configuration from a file or a
// directory containing config.yaml. Files listed under include are merged in.
func Load(configPath string) (*Config, error) {
	cfg, err := loadTree(configPath)
	if err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)

	if err := verifyAllConfigHashes(cfg.Files()); err != nil {
		return nil, err
	}

	validator := &ConfigValidator{config: cfg}
	if err := validator.ValidateCrossReferences(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ResolveFiles returns the root config file and every file it includes,
// without verifying checksums or validating values.
func ResolveFiles(configPath string) ([]string, error) {
	cfg, err := loadTree(configPath)
	if err != nil {
		return nil, err
	}
	return cfg.Files(), nil
}

// loadTree reads the root config and merges its includes.
func loadTree(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	if len(cfg.Include) > 0 {
		visited := map[string]bool{absPath: true}
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Files returns the root config file followed by every included file.
func (c *Config) Files() []string {
	files := make([]string, 0, 1+len(c.IncludedPaths))
	if c.SourcePath != "" {
		files = append(files, c.SourcePath)
	}
	return append(files, c.IncludedPaths...)
}

// DiscoverConfigDir finds the config directory by checking standard locations.
// Priority order: $RUNNERD_CONFIG_DIR, ~/.config/runnerd, /etc/runnerd, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("RUNNERD_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "runnerd")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/runnerd"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	localConfigPath := "./config.yaml"
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $RUNNERD_CONFIG_DIR, ~/.config/runnerd, /etc/runnerd, ./config.yaml)")
}

func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for _, include := range includes {
		path := include
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		path = filepath.Clean(path)

		if visited[path] {
			return fmt.Errorf("circular include detected: %s", path)
		}
		visited[path] = true

		included, err := loadConfigFile(path)
		if err != nil {
			return fmt.Errorf("failed to load include %s: %w", include, err)
		}
		cfg.IncludedPaths = append(cfg.IncludedPaths, path)

		if err := mergeConfig(cfg, included); err != nil {
			return fmt.Errorf("failed to merge include %s: %w", include, err)
		}

		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(path), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(interpolated)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// mergeConfig folds src into dst. Scalars set in src override; lists append.
func mergeConfig(dst, src *Config) error {
	if src.State.Path != "" {
		if dst.State.Path != "" && dst.State.Path != src.State.Path {
			return fmt.Errorf("state.path defined twice")
		}
		dst.State.Path = src.State.Path
	}

	if src.Runners.DefinitionsDir != "" {
		dst.Runners.DefinitionsDir = src.Runners.DefinitionsDir
	}

	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}
	dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)

	if src.Redis.Addr != "" {
		dst.Redis = src.Redis
	}

	if src.Webhooks != nil {
		if dst.Webhooks == nil {
			dst.Webhooks = &WebhooksConfig{}
		}
		if src.Webhooks.Listen != "" {
			dst.Webhooks.Listen = src.Webhooks.Listen
		}
		dst.Webhooks.Endpoints = append(dst.Webhooks.Endpoints, src.Webhooks.Endpoints...)
	}

	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.RefreshInterval == 0 {
		cfg.Service.RefreshInterval = defaults.Service.RefreshInterval
	}
	if cfg.Service.ShutdownTimeout == 0 {
		cfg.Service.ShutdownTimeout = defaults.Service.ShutdownTimeout
	}
	if cfg.Service.JournalRetention == 0 {
		cfg.Service.JournalRetention = defaults.Service.JournalRetention
	}
	if cfg.Service.MaintenanceInterval == 0 {
		cfg.Service.MaintenanceInterval = defaults.Service.MaintenanceInterval
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.Runners.DefinitionsDir == "" {
		cfg.Runners.DefinitionsDir = defaults.Runners.DefinitionsDir
	}
	if cfg.Runners.KillGrace == 0 {
		cfg.Runners.KillGrace = defaults.Runners.KillGrace
	}
	if cfg.Runners.MaxOutputBytes == 0 {
		cfg.Runners.MaxOutputBytes = defaults.Runners.MaxOutputBytes
	}
	if cfg.Runners.Retained == 0 {
		cfg.Runners.Retained = defaults.Runners.Retained
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Redis.ChannelPrefix == "" {
		cfg.Redis.ChannelPrefix = defaults.Redis.ChannelPrefix
	}

	// Relative paths are relative to the config file.
	if cfg.SourcePath != "" {
		base := filepath.Dir(cfg.SourcePath)
		if !filepath.IsAbs(cfg.Runners.DefinitionsDir) {
			cfg.Runners.DefinitionsDir = filepath.Join(base, cfg.Runners.DefinitionsDir)
		}
		if !filepath.IsAbs(cfg.State.Path) {
			cfg.State.Path = filepath.Join(base, cfg.State.Path)
		}
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

func unresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.Service.RefreshInterval <= 0 {
		return fmt.Errorf("service.refresh_interval must be positive")
	}
	if cfg.Service.ShutdownTimeout < 0 {
		return fmt.Errorf("service.shutdown_timeout must not be negative")
	}

	if strings.TrimSpace(cfg.State.Path) == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.Runners.DefaultTimeout < 0 {
		return fmt.Errorf("runners.default_timeout must not be negative")
	}
	if cfg.Runners.KillGrace < 0 {
		return fmt.Errorf("runners.kill_grace must not be negative")
	}
	if cfg.Runners.MaxOutputBytes < 0 {
		return fmt.Errorf("runners.max_output_bytes must not be negative")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth: an api_key or at least one token is required")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := unresolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	if cfg.Redis.Enabled() {
		if err := unresolved("redis.password", cfg.Redis.Password); err != nil {
			return err
		}
		if cfg.Redis.DB < 0 {
			return fmt.Errorf("redis.db must not be negative")
		}
	}

	if cfg.Webhooks != nil {
		if cfg.Webhooks.Listen == "" {
			return fmt.Errorf("webhooks.listen is required")
		}
		for i, ep := range cfg.Webhooks.Endpoints {
			if ep.Event == "" {
				return fmt.Errorf("webhooks.endpoints[%d].event is required", i)
			}
			if ep.Secret == "" {
				return fmt.Errorf("webhooks.endpoints[%d].secret is required", i)
			}
			if err := unresolved(fmt.Sprintf("webhooks.endpoints[%d].secret", i), ep.Secret); err != nil {
				return err
			}
			if ep.SignatureHeader == "" {
				return fmt.Errorf("webhooks.endpoints[%d].signature_header is required", i)
			}
		}
	}

	return nil
}
