package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
service:
  refresh_interval: 250ms
state:
  path: ./test.db
runners:
  definitions_dir: ./defs
  default_timeout: 10m
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.RefreshInterval != 250*time.Millisecond {
					t.Error("refresh_interval not parsed")
				}
				if cfg.Runners.DefaultTimeout != 10*time.Minute {
					t.Error("default_timeout not parsed")
				}
				if !filepath.IsAbs(cfg.State.Path) || filepath.Base(cfg.State.Path) != "test.db" {
					t.Errorf("state.path not resolved against config dir: %s", cfg.State.Path)
				}
				if filepath.Base(cfg.Runners.DefinitionsDir) != "defs" {
					t.Errorf("definitions_dir = %s", cfg.Runners.DefinitionsDir)
				}
				// Defaults
				if cfg.Service.LogLevel != "info" || cfg.Service.LogFormat != "json" {
					t.Error("log defaults not applied")
				}
				if cfg.Runners.KillGrace != 5*time.Second || cfg.Runners.Retained != 256 {
					t.Error("runner defaults not applied")
				}
				if cfg.Redis.ChannelPrefix != "runnerd:updates:" || cfg.Redis.Enabled() {
					t.Error("redis defaults not applied")
				}
			},
		},
		{
			name: "empty file uses defaults",
			yaml: ``,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "runnerd" {
					t.Errorf("service.name = %q", cfg.Service.Name)
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
state:
  path: ${RUNNERD_TEST_DB}
api:
  enabled: true
  listen: 127.0.0.1:0
  auth:
    api_key: ${RUNNERD_TEST_KEY}
`,
			env: map[string]string{
				"RUNNERD_TEST_DB":  "/tmp/runnerd-test.db",
				"RUNNERD_TEST_KEY": "secret123",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.State.Path != "/tmp/runnerd-test.db" {
					t.Errorf("state.path = %q", cfg.State.Path)
				}
				if cfg.API.Auth.APIKey != "secret123" {
					t.Errorf("api_key = %q", cfg.API.Auth.APIKey)
				}
			},
		},
		{
			name: "unset env var in api key",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${RUNNERD_TEST_UNSET_VAR}
`,
			wantErr: "RUNNERD_TEST_UNSET_VAR",
		},
		{
			name:    "unknown field",
			yaml:    "plugins_dir: ./plugins\n",
			wantErr: "plugins_dir",
		},
		{
			name:    "invalid log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "log_level",
		},
		{
			name:    "api enabled without credentials",
			yaml:    "api:\n  enabled: true\n",
			wantErr: "api_key or at least one token",
		},
		{
			name: "unknown token scope",
			yaml: `
api:
  enabled: true
  auth:
    tokens:
      - token: abc
        scopes: [plugin:rw]
`,
			wantErr: "unknown scope",
		},
		{
			name: "webhook missing secret",
			yaml: `
webhooks:
  listen: 127.0.0.1:9001
  endpoints:
    - path: /hooks/a
      event: push
      signature_header: X-Sig
`,
			wantErr: "secret is required",
		},
		{
			name: "duplicate webhook path",
			yaml: `
webhooks:
  listen: 127.0.0.1:9001
  endpoints:
    - {path: /hooks/a, event: push, secret: s, signature_header: X-Sig}
    - {path: /hooks/a, event: pull, secret: s, signature_header: X-Sig}
`,
			wantErr: "already used",
		},
		{
			name: "shared listener",
			yaml: `
api:
  enabled: true
  listen: 127.0.0.1:9001
  auth: {api_key: k}
webhooks:
  listen: 127.0.0.1:9001
`,
			wantErr: "must differ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, t.TempDir(), "config.yaml", tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "service:\n  name: from-dir\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.Service.Name != "from-dir" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for directory without config.yaml")
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	root := writeConfig(t, dir, "config.yaml", `
include: [conf.d/api.yaml, conf.d/hooks.yaml]
api:
  enabled: true
  listen: 127.0.0.1:0
  auth:
    tokens:
      - {token: reader, scopes: [runners:ro]}
`)
	writeConfig(t, dir, "conf.d/api.yaml", `
api:
  auth:
    tokens:
      - {token: writer, scopes: [runners:rw]}
`)
	writeConfig(t, dir, "conf.d/hooks.yaml", `
webhooks:
  listen: 127.0.0.1:9002
  endpoints:
    - {path: /hooks/gh, event: push, secret: s, signature_header: X-Hub-Signature-256}
`)

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.API.Auth.Tokens) != 2 {
		t.Errorf("tokens = %d, want 2", len(cfg.API.Auth.Tokens))
	}
	if cfg.Webhooks == nil || len(cfg.Webhooks.Endpoints) != 1 {
		t.Fatal("webhooks not merged from include")
	}
	if got := cfg.Files(); len(got) != 3 || got[0] != root {
		t.Errorf("Files() = %v", got)
	}
}

func TestLoadCircularInclude(t *testing.T) {
	dir := t.TempDir()
	root := writeConfig(t, dir, "config.yaml", "include: [a.yaml]\n")
	writeConfig(t, dir, "a.yaml", "include: [config.yaml]\n")

	_, err := Load(root)
	if err == nil || !strings.Contains(err.Error(), "circular include") {
		t.Fatalf("expected circular include error, got %v", err)
	}
}

func TestLoadVerifiesChecksums(t *testing.T) {
	dir := t.TempDir()
	root := writeConfig(t, dir, "config.yaml", "service:\n  name: locked\n")
	if _, err := LockFiles([]string{root}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(root); err != nil {
		t.Fatalf("Load() after lock: %v", err)
	}

	writeConfig(t, dir, "config.yaml", "service:\n  name: tampered\n")
	_, err := Load(root)
	if err == nil || !strings.Contains(err.Error(), "tampering") {
		t.Fatalf("expected tampering error, got %v", err)
	}
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("RUNNERD_TEST_A", "alpha")

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${RUNNERD_TEST_A}", "alpha"},
		{"x-${RUNNERD_TEST_A}-y", "x-alpha-y"},
		{"${RUNNERD_TEST_MISSING}", "${RUNNERD_TEST_MISSING}"},
		{"$RUNNERD_TEST_A", "$RUNNERD_TEST_A"},
	}
	for _, tt := range tests {
		if got := interpolateEnv(tt.in); got != tt.want {
			t.Errorf("interpolateEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDiscoverConfigDirFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RUNNERD_CONFIG_DIR", dir)

	got, err := DiscoverConfigDir()
	if err != nil {
		t.Fatalf("DiscoverConfigDir() error = %v", err)
	}
	if got != dir {
		t.Errorf("DiscoverConfigDir() = %q, want %q", got, dir)
	}
}

func TestResolveFilesSkipsVerification(t *testing.T) {
	dir := t.TempDir()
	root := writeConfig(t, dir, "config.yaml", "include: [extra.yaml]\nservice:\n  name: locked\n")
	extra := writeConfig(t, dir, "extra.yaml", "redis:\n  addr: 127.0.0.1:6379\n")
	if _, err := LockFiles([]string{root, extra}, false); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, dir, "extra.yaml", "redis:\n  addr: 127.0.0.1:6380\n")

	if _, err := Load(root); err == nil {
		t.Fatal("expected Load to reject the edited include")
	}
	files, err := ResolveFiles(dir)
	if err != nil {
		t.Fatalf("ResolveFiles() error = %v", err)
	}
	if len(files) != 2 || files[0] != root || files[1] != extra {
		t.Fatalf("ResolveFiles() = %v", files)
	}
}
