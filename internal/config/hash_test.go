package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateChecksumsWithReportDryRun(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("api:\n  enabled: false\n"), 0600); err != nil {
		t.Fatal(err)
	}

	report, err := GenerateChecksumsWithReport(tmpDir, []string{"config.yaml", "webhooks.yaml"}, true)
	if err != nil {
		t.Fatalf("GenerateChecksumsWithReport() failed: %v", err)
	}

	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}

	if len(report.Files) != 2 {
		t.Fatalf("len(report.Files) = %d, want 2", len(report.Files))
	}

	if !report.Files[0].Exists || report.Files[0].Hash == "" {
		t.Fatal("config.yaml should exist with computed hash")
	}
	if report.Files[1].Exists || report.Files[1].Hash != "" {
		t.Fatal("webhooks.yaml should be reported as missing without hash")
	}

	if _, err := os.Stat(filepath.Join(tmpDir, ".checksums")); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestGenerateChecksumsWithReportWritesChecksums(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("api:\n  enabled: false\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "webhooks.yaml"), []byte("listen: :8080\n"), 0600); err != nil {
		t.Fatal(err)
	}

	report, err := GenerateChecksumsWithReport(tmpDir, []string{"config.yaml", "webhooks.yaml"}, false)
	if err != nil {
		t.Fatalf("GenerateChecksumsWithReport() failed: %v", err)
	}

	if !report.Written {
		t.Fatal("report.Written = false, want true")
	}

	if _, err := os.Stat(filepath.Join(tmpDir, ".checksums")); err != nil {
		t.Fatalf("expected .checksums to be written: %v", err)
	}

	manifest, err := LoadChecksums(tmpDir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if len(manifest.Hashes) != 2 {
		t.Fatalf("len(manifest.Hashes) = %d, want 2", len(manifest.Hashes))
	}
}

func TestLockFilesAndVerify(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "config.yaml")
	sub := filepath.Join(tmpDir, "extra", "hooks.yaml")
	if err := os.MkdirAll(filepath.Dir(sub), 0755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{root, sub} {
		if err := os.WriteFile(p, []byte("state:\n  path: x.db\n"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	reports, err := LockFiles([]string{root, sub}, false)
	if err != nil {
		t.Fatalf("LockFiles() failed: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("len(reports) = %d, want 2 (one per directory)", len(reports))
	}

	if err := verifyAllConfigHashes([]string{root, sub}); err != nil {
		t.Fatalf("verifyAllConfigHashes() after lock: %v", err)
	}

	if err := os.WriteFile(sub, []byte("tampered: true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := verifyAllConfigHashes([]string{root, sub}); err == nil {
		t.Fatal("expected hash mismatch after tampering")
	}
}

func TestVerifySkipsUnlockedDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := verifyAllConfigHashes([]string{path}); err != nil {
		t.Fatalf("unlocked directory should pass: %v", err)
	}
}

func TestVerifyRejectsUnlistedFile(t *testing.T) {
	tmpDir := t.TempDir()
	locked := filepath.Join(tmpDir, "config.yaml")
	other := filepath.Join(tmpDir, "other.yaml")
	for _, p := range []string{locked, other} {
		if err := os.WriteFile(p, []byte("{}\n"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := LockFiles([]string{locked}, false); err != nil {
		t.Fatal(err)
	}
	if err := verifyAllConfigHashes([]string{locked, other}); err == nil {
		t.Fatal("expected error for file missing from checksums")
	}
}
