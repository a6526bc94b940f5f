package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Destination.Port != 22 {
		t.Errorf("Destination.Port = %d, want 22", cfg.Destination.Port)
	}
	if cfg.Destination.WakeBroadcast != "255.255.255.255:9" {
		t.Errorf("WakeBroadcast = %q", cfg.Destination.WakeBroadcast)
	}
	if cfg.Destination.AcceptUnknownHosts {
		t.Error("AcceptUnknownHosts should default to false")
	}
	if cfg.Transfer.TimeoutSeconds != 1800 || cfg.Transfer.TimeoutPerPhoto != 120 {
		t.Errorf("transfer timeouts = %d/%d, want 1800/120",
			cfg.Transfer.TimeoutSeconds, cfg.Transfer.TimeoutPerPhoto)
	}
	if cfg.Cleanup.KeepSuccessfulDays != 0 {
		t.Errorf("KeepSuccessfulDays = %d, want 0", cfg.Cleanup.KeepSuccessfulDays)
	}
	if !cfg.Cleanup.StartupCleanup {
		t.Error("StartupCleanup should default to true")
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photopipe.json")
	content := `{
  "destination": {"host": "mac-b.local", "user": "importer", "wake_mac": "aa:bb:cc:dd:ee:ff"},
  "transfer": {"timeout_per_photo": 60}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Destination.Host != "mac-b.local" {
		t.Errorf("Host = %q", cfg.Destination.Host)
	}
	if cfg.Transfer.TimeoutPerPhoto != 60 {
		t.Errorf("TimeoutPerPhoto = %d, want 60", cfg.Transfer.TimeoutPerPhoto)
	}
	// Unset fields keep their defaults.
	if cfg.Destination.Port != 22 {
		t.Errorf("Port = %d, want default 22", cfg.Destination.Port)
	}
	if cfg.Transfer.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want default 3", cfg.Transfer.RetryCount)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photopipe.yaml")
	content := `
destination:
  host: mac-b.local
  user: importer
cleanup:
  keep_failed_days: 14
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Destination.Host != "mac-b.local" {
		t.Errorf("Host = %q", cfg.Destination.Host)
	}
	if cfg.Cleanup.KeepFailedDays != 14 {
		t.Errorf("KeepFailedDays = %d, want 14", cfg.Cleanup.KeepFailedDays)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photopipe.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed config accepted")
	}
}

func TestValidateSource(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ValidateSource(); err == nil {
		t.Error("config without host should fail source validation")
	}

	cfg.Destination.Host = "mac-b.local"
	cfg.Destination.User = "importer"
	if err := cfg.ValidateSource(); err != nil {
		t.Errorf("ValidateSource error: %v", err)
	}

	cfg.Destination.KnownHostsPath = ""
	if err := cfg.ValidateSource(); err == nil {
		t.Error("missing known_hosts_path without accept_unknown_hosts should fail")
	}
	cfg.Destination.AcceptUnknownHosts = true
	if err := cfg.ValidateSource(); err != nil {
		t.Errorf("ValidateSource with accept_unknown_hosts error: %v", err)
	}
}

func TestValidateDestination(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ValidateDestination(); err == nil {
		t.Error("config without import_command should fail destination validation")
	}
	cfg.Daemon.ImportCommand = []string{"/usr/local/bin/import-photos"}
	if err := cfg.ValidateDestination(); err != nil {
		t.Errorf("ValidateDestination error: %v", err)
	}

	cfg.Cleanup.ArchiveBeforePurge = true
	cfg.Paths.ArchiveDir = ""
	if err := cfg.ValidateDestination(); err == nil {
		t.Error("archive_before_purge without archive_dir should fail")
	}
}

func TestDynamicTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transfer.TimeoutSeconds = 600
	cfg.Transfer.TimeoutPerPhoto = 120

	if got := cfg.DynamicTimeout(2); got != 240*time.Second {
		t.Errorf("DynamicTimeout(2) = %v, want 240s", got)
	}
	// Capped at timeout_seconds for large batches.
	if got := cfg.DynamicTimeout(100); got != 600*time.Second {
		t.Errorf("DynamicTimeout(100) = %v, want 600s", got)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "photopipe.json")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault error: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Transfer.Workers != DefaultConfig().Transfer.Workers {
		t.Errorf("Workers = %d, want %d", cfg.Transfer.Workers, DefaultConfig().Transfer.Workers)
	}
}
