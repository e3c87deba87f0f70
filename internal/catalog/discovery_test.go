package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeDefinition(t *testing.T, root, dir, manifest string, mode os.FileMode) string {
	t.Helper()
	defDir := filepath.Join(root, dir)
	if err := os.MkdirAll(defDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(defDir, manifestFilename), []byte(manifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(defDir, "run.sh"), []byte("#!/bin/sh\necho ok\n"), mode); err != nil {
		t.Fatalf("write entrypoint: %v", err)
	}
	return defDir
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name      string
		setupFn   func(t *testing.T) string
		wantCount int
		checkFn   func(t *testing.T, reg *Registry)
	}{
		{
			name: "valid definition discovered",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writeDefinition(t, dir, "echo", `name: echo
version: 1.0.0
protocol: 1
entrypoint: run.sh
args: ["--verbose"]
env:
  GREETING: hello
timeout: 30s
kill_grace: 2s
events: [input]
`, 0755)
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, reg *Registry) {
				def, ok := reg.Get("echo")
				if !ok {
					t.Fatal("echo not found")
				}
				if def.Timeout != 30*time.Second || def.KillGrace != 2*time.Second {
					t.Errorf("durations = %v/%v", def.Timeout, def.KillGrace)
				}
				if len(def.Args) != 1 || def.Env["GREETING"] != "hello" {
					t.Errorf("unexpected args/env: %v %v", def.Args, def.Env)
				}
				if !filepath.IsAbs(def.Entrypoint) {
					t.Errorf("entrypoint should be absolute, got %s", def.Entrypoint)
				}
				if !def.AcceptsEvent("input") || def.AcceptsEvent("other") {
					t.Error("event filter mismatch")
				}
			},
		},
		{
			name: "nested definitions and sorted listing",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writeDefinition(t, dir, "b", "name: bravo\nprotocol: 1\nentrypoint: run.sh\n", 0755)
				writeDefinition(t, dir, "group/a", "name: alpha\nprotocol: 1\nentrypoint: run.sh\n", 0755)
				return dir
			},
			wantCount: 2,
			checkFn: func(t *testing.T, reg *Registry) {
				all := reg.All()
				if all[0].Name != "alpha" || all[1].Name != "bravo" {
					t.Errorf("unexpected order: %s, %s", all[0].Name, all[1].Name)
				}
			},
		},
		{
			name: "invalid definitions are skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writeDefinition(t, dir, "ok", "name: ok\nprotocol: 1\nentrypoint: run.sh\n", 0755)
				writeDefinition(t, dir, "noexec", "name: noexec\nprotocol: 1\nentrypoint: run.sh\n", 0644)
				writeDefinition(t, dir, "badproto", "name: badproto\nprotocol: 9\nentrypoint: run.sh\n", 0755)
				writeDefinition(t, dir, "broken", "name: [unclosed\n", 0755)
				return dir
			},
			wantCount: 1,
		},
		{
			name: "duplicate names keep first",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writeDefinition(t, dir, "a", "name: same\nversion: first\nprotocol: 1\nentrypoint: run.sh\n", 0755)
				writeDefinition(t, dir, "b", "name: same\nversion: second\nprotocol: 1\nentrypoint: run.sh\n", 0755)
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, reg *Registry) {
				def, _ := reg.Get("same")
				if def.Version != "first" {
					t.Errorf("kept version %q, want first", def.Version)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := tt.setupFn(t)
			reg, err := Discover([]string{root}, nil)
			if err != nil {
				t.Fatalf("Discover() error = %v", err)
			}
			if reg.Len() != tt.wantCount {
				t.Fatalf("got %d definitions, want %d", reg.Len(), tt.wantCount)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, reg)
			}
		})
	}
}

func TestDiscoverRootErrors(t *testing.T) {
	if _, err := Discover(nil, nil); err == nil {
		t.Error("expected error for no roots")
	}
	if _, err := Discover([]string{filepath.Join(t.TempDir(), "missing")}, nil); err == nil {
		t.Error("expected error for missing root")
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Discover([]string{file}, nil); err == nil {
		t.Error("expected error for non-directory root")
	}
}

func TestValidateManifest(t *testing.T) {
	tests := []struct {
		name    string
		m       Manifest
		wantErr bool
	}{
		{"valid", Manifest{Name: "x", Protocol: 1, Entrypoint: "run.sh"}, false},
		{"missing name", Manifest{Protocol: 1, Entrypoint: "run.sh"}, true},
		{"name with slash", Manifest{Name: "a/b", Protocol: 1, Entrypoint: "run.sh"}, true},
		{"missing protocol", Manifest{Name: "x", Entrypoint: "run.sh"}, true},
		{"unsupported protocol", Manifest{Name: "x", Protocol: 2, Entrypoint: "run.sh"}, true},
		{"missing entrypoint", Manifest{Name: "x", Protocol: 1}, true},
		{"path traversal", Manifest{Name: "x", Protocol: 1, Entrypoint: "../evil.sh"}, true},
		{"absolute entrypoint", Manifest{Name: "x", Protocol: 1, Entrypoint: "/bin/sh"}, true},
		{"negative timeout", Manifest{Name: "x", Protocol: 1, Entrypoint: "run.sh", Timeout: Duration(-time.Second)}, true},
		{"bad env key", Manifest{Name: "x", Protocol: 1, Entrypoint: "run.sh", Env: map[string]string{"A=B": "c"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateManifest(&tt.m)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateManifest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTrust(t *testing.T) {
	tests := []struct {
		name    string
		setupFn func(t *testing.T) (entrypoint, defPath, root string)
		wantErr bool
	}{
		{
			name: "valid executable",
			setupFn: func(t *testing.T) (string, string, string) {
				dir := t.TempDir()
				defDir := writeDefinition(t, dir, "test", "", 0755)
				return filepath.Join(defDir, "run.sh"), defDir, dir
			},
		},
		{
			name: "non-executable",
			setupFn: func(t *testing.T) (string, string, string) {
				dir := t.TempDir()
				defDir := writeDefinition(t, dir, "test", "", 0644)
				return filepath.Join(defDir, "run.sh"), defDir, dir
			},
			wantErr: true,
		},
		{
			name: "world-writable definition directory",
			setupFn: func(t *testing.T) (string, string, string) {
				dir := t.TempDir()
				defDir := writeDefinition(t, dir, "test", "", 0755)
				if err := os.Chmod(defDir, 0777); err != nil {
					t.Skip("cannot set world-writable on this filesystem")
				}
				info, _ := os.Stat(defDir)
				if info.Mode().Perm()&0002 == 0 {
					t.Skip("filesystem does not support world-writable directories")
				}
				return filepath.Join(defDir, "run.sh"), defDir, dir
			},
			wantErr: true,
		},
		{
			name: "symlink escaping the root",
			setupFn: func(t *testing.T) (string, string, string) {
				outside := t.TempDir()
				target := filepath.Join(outside, "evil.sh")
				if err := os.WriteFile(target, []byte("#!/bin/sh\n"), 0755); err != nil {
					t.Fatal(err)
				}
				dir := t.TempDir()
				defDir := writeDefinition(t, dir, "test", "", 0755)
				link := filepath.Join(defDir, "link.sh")
				if err := os.Symlink(target, link); err != nil {
					t.Skip("symlinks not supported")
				}
				return link, defDir, dir
			},
			wantErr: true,
		},
		{
			name: "nonexistent entrypoint",
			setupFn: func(t *testing.T) (string, string, string) {
				dir := t.TempDir()
				defDir := writeDefinition(t, dir, "test", "", 0755)
				return filepath.Join(defDir, "missing.sh"), defDir, dir
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entrypoint, defPath, root := tt.setupFn(t)
			err := validateTrust(entrypoint, defPath, root)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateTrust() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
