package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PROPOSALS_DATA_DIR", "")
	t.Setenv("PROPOSALS_CONFIG_FILE", "")
	t.Setenv("BACKUP_INTERVAL_SECONDS", "")

	cfg := Load()
	if cfg.DataDir != "./data" {
		t.Fatalf("DataDir = %q", cfg.DataDir)
	}
	if cfg.BackupInterval != 5*time.Minute {
		t.Fatalf("BackupInterval = %v", cfg.BackupInterval)
	}
	if !cfg.BackupEnabled {
		t.Fatal("expected backup enabled by default")
	}
	if cfg.BackupBranch != "main" {
		t.Fatalf("BackupBranch = %q", cfg.BackupBranch)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PROPOSALS_DATA_DIR", "/srv/proposals")
	t.Setenv("PROPOSALS_LENIENT_VALIDATION", "true")
	t.Setenv("BACKUP_INTERVAL_SECONDS", "60")
	t.Setenv("LOCK_TTL_SECONDS", "not-a-number")

	cfg := Load()
	if cfg.DataDir != "/srv/proposals" {
		t.Fatalf("DataDir = %q", cfg.DataDir)
	}
	if !cfg.LenientValidation {
		t.Fatal("expected lenient validation")
	}
	if cfg.BackupInterval != time.Minute {
		t.Fatalf("BackupInterval = %v", cfg.BackupInterval)
	}
	if cfg.LockTTL != 30*time.Second {
		t.Fatalf("LockTTL should fall back on bad input, got %v", cfg.LockTTL)
	}
}

func TestOverlayFileOverridesEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proposals.yaml")
	writeFile(t, path, "dataDir: /mnt/overlay\nbackupInterval: 90s\nlenientValidation: true\n")

	t.Setenv("PROPOSALS_DATA_DIR", "/srv/env")
	t.Setenv("PROPOSALS_CONFIG_FILE", path)

	cfg := Load()
	if cfg.DataDir != "/mnt/overlay" {
		t.Fatalf("DataDir = %q", cfg.DataDir)
	}
	if cfg.BackupInterval != 90*time.Second {
		t.Fatalf("BackupInterval = %v", cfg.BackupInterval)
	}
	if !cfg.LenientValidation {
		t.Fatal("expected lenient validation from overlay")
	}
}

func TestOverlayInvalidIsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proposals.yaml")
	writeFile(t, path, "backupInterval: soon\n")

	t.Setenv("PROPOSALS_DATA_DIR", "/srv/env")
	t.Setenv("PROPOSALS_CONFIG_FILE", path)

	cfg := Load()
	if cfg.DataDir != "/srv/env" {
		t.Fatalf("DataDir = %q", cfg.DataDir)
	}
}

func TestProviderReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proposals.yaml")
	writeFile(t, path, "dataDir: /first\n")
	t.Setenv("PROPOSALS_CONFIG_FILE", path)

	provider := NewProvider(Load())
	if got := provider.DataRoot(); got != "/first" {
		t.Fatalf("DataRoot() = %q", got)
	}

	writeFile(t, path, "dataDir: /second\n")
	if err := provider.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := provider.DataRoot(); got != "/second" {
		t.Fatalf("DataRoot() after reload = %q", got)
	}

	writeFile(t, path, "backupInterval: [broken\n")
	if err := provider.Reload(); err == nil {
		t.Fatal("expected reload error for broken yaml")
	}
	if got := provider.DataRoot(); got != "/second" {
		t.Fatalf("DataRoot() should keep previous value, got %q", got)
	}
}

func TestProviderWatchPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proposals.yaml")
	writeFile(t, path, "dataDir: /before\n")
	t.Setenv("PROPOSALS_CONFIG_FILE", path)

	provider := NewProvider(Load())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- provider.Watch(ctx) }()

	// give the watcher a moment to register
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "dataDir: /after\n")

	deadline := time.Now().Add(5 * time.Second)
	for provider.DataRoot() != "/after" {
		if time.Now().After(deadline) {
			t.Fatalf("DataRoot() = %q, watcher did not reload", provider.DataRoot())
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
