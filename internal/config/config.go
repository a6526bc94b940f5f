// Package config loads the process-wide pipeline configuration. The
// canonical persisted format is JSON; YAML files are accepted with the
// same structure. Configuration is loaded once at startup and treated as
// immutable for the lifetime of a run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Destination DestinationConfig `json:"destination" yaml:"destination"`
	Transfer    TransferConfig    `json:"transfer" yaml:"transfer"`
	Paths       PathsConfig       `json:"paths" yaml:"paths"`
	Cleanup     CleanupConfig     `json:"cleanup" yaml:"cleanup"`
	Daemon      DaemonConfig      `json:"daemon" yaml:"daemon"`
}

// DestinationConfig describes how to reach and wake the destination machine.
type DestinationConfig struct {
	Host              string `json:"host" yaml:"host"`
	Port              int    `json:"port" yaml:"port"`
	User              string `json:"user" yaml:"user"`
	KeyPath           string `json:"ssh_key_path" yaml:"ssh_key_path"`
	WakeMAC           string `json:"wake_mac" yaml:"wake_mac"`
	WakeBroadcast     string `json:"wake_broadcast" yaml:"wake_broadcast"`
	WakeWaitSeconds   int    `json:"wake_wait_time" yaml:"wake_wait_time"`
	ConnectionTimeout int    `json:"connection_timeout" yaml:"connection_timeout"`

	// AcceptUnknownHosts enables trust-on-first-use: an unknown host key is
	// appended to the known-hosts file and trusted thereafter. The default
	// verifies against known_hosts_path and rejects unknown keys.
	AcceptUnknownHosts bool   `json:"accept_unknown_hosts" yaml:"accept_unknown_hosts"`
	KnownHostsPath     string `json:"known_hosts_path" yaml:"known_hosts_path"`
}

// TransferConfig bounds the transfer and poll phases.
type TransferConfig struct {
	TimeoutSeconds  int `json:"timeout_seconds" yaml:"timeout_seconds"`
	TimeoutPerPhoto int `json:"timeout_per_photo" yaml:"timeout_per_photo"`
	RetryCount      int `json:"retry_count" yaml:"retry_count"`
	RetryDelay      int `json:"retry_delay" yaml:"retry_delay"`
	ChunkSize       int `json:"chunk_size" yaml:"chunk_size"`
	Workers         int `json:"workers" yaml:"workers"`
	BatchSizeLimit  int `json:"batch_size_limit" yaml:"batch_size_limit"`
}

// PathsConfig holds the path roots on both sides. Remote paths may use a
// leading "~" resolved against the destination user's home directory.
type PathsConfig struct {
	StagingDir      string `json:"staging_dir" yaml:"staging_dir"`
	RemoteIncoming  string `json:"remote_incoming" yaml:"remote_incoming"`
	RemoteProcessed string `json:"remote_processed" yaml:"remote_processed"`
	RemoteReports   string `json:"remote_reports" yaml:"remote_reports"`

	// Destination-side local views of the same roots, used by the watcher,
	// reconciler, and retention sweeper running on that machine.
	IncomingDir  string `json:"incoming_dir" yaml:"incoming_dir"`
	ProcessedDir string `json:"processed_dir" yaml:"processed_dir"`
	ReportsDir   string `json:"reports_dir" yaml:"reports_dir"`
	ArchiveDir   string `json:"archive_dir" yaml:"archive_dir"`

	DBPath  string `json:"db_path" yaml:"db_path"`
	LogPath string `json:"log_path" yaml:"log_path"`
}

// CleanupConfig is the retention policy. Day/hour windows of zero mean
// immediate cleanup.
type CleanupConfig struct {
	KeepSuccessfulDays      int  `json:"keep_successful_days" yaml:"keep_successful_days"`
	KeepFailedDays          int  `json:"keep_failed_days" yaml:"keep_failed_days"`
	CleanIncomingAfterHours int  `json:"clean_incoming_after_hours" yaml:"clean_incoming_after_hours"`
	StartupCleanup          bool `json:"startup_cleanup" yaml:"startup_cleanup"`
	CleanImportLog          bool `json:"clean_import_log" yaml:"clean_import_log"`
	ArchiveBeforePurge      bool `json:"archive_before_purge" yaml:"archive_before_purge"`
}

// DaemonConfig configures the destination-side resident process.
type DaemonConfig struct {
	LockPath             string   `json:"lock_path" yaml:"lock_path"`
	MetricsListen        string   `json:"metrics_listen" yaml:"metrics_listen"`
	RescanSeconds        int      `json:"rescan_seconds" yaml:"rescan_seconds"`
	SweepSeconds         int      `json:"sweep_seconds" yaml:"sweep_seconds"`
	ImportCommand        []string `json:"import_command" yaml:"import_command"`
	ImportTimeoutSeconds int      `json:"import_timeout_seconds" yaml:"import_timeout_seconds"`
}

// DefaultConfig returns a config with sensible defaults. Host, user, and
// wake address have no useful defaults and must be set before sending.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".photopipe")

	return &Config{
		Destination: DestinationConfig{
			Port:              22,
			KeyPath:           "~/.ssh/pipeline_key",
			WakeBroadcast:     "255.255.255.255:9",
			WakeWaitSeconds:   10,
			ConnectionTimeout: 60,
			KnownHostsPath:    "~/.ssh/known_hosts",
		},
		Transfer: TransferConfig{
			TimeoutSeconds:  1800,
			TimeoutPerPhoto: 120,
			RetryCount:      3,
			RetryDelay:      5,
			ChunkSize:       32 * 1024,
			Workers:         2,
		},
		Paths: PathsConfig{
			StagingDir:      filepath.Join(dataDir, "staging"),
			RemoteIncoming:  "~/IncomingPhotos",
			RemoteProcessed: "~/ProcessedPhotos",
			RemoteReports:   "~/ImportReports",
			IncomingDir:     filepath.Join(home, "IncomingPhotos"),
			ProcessedDir:    filepath.Join(home, "ProcessedPhotos"),
			ReportsDir:      filepath.Join(home, "ImportReports"),
			ArchiveDir:      filepath.Join(home, "ProcessedPhotos", "archive"),
			DBPath:          filepath.Join(dataDir, "photopipe.db"),
			LogPath:         filepath.Join(home, "ImportReports", "import.log"),
		},
		Cleanup: CleanupConfig{
			KeepSuccessfulDays:      0,
			KeepFailedDays:          7,
			CleanIncomingAfterHours: 1,
			StartupCleanup:          true,
			CleanImportLog:          true,
		},
		Daemon: DaemonConfig{
			LockPath:             filepath.Join(dataDir, "photopipe.lock"),
			RescanSeconds:        30,
			SweepSeconds:         3600,
			ImportTimeoutSeconds: 600,
		},
	}
}

// Load reads a config file, JSON by default and YAML for .yaml/.yml
// extensions. Values not present in the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	return cfg, nil
}

// FindConfigFile searches standard locations for a config file.
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"photopipe.json",
		"photopipe.yaml",
		"/etc/photopipe/photopipe.json",
	}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "photopipe", "photopipe.json"),
			filepath.Join(home, ".config", "photopipe", "photopipe.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// WriteDefault writes a default JSON config to path for the user to edit.
func WriteDefault(path string) error {
	data, err := json.MarshalIndent(DefaultConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ValidateSource checks the settings the source side cannot run without.
// Failures here are configuration errors and fatal at startup.
func (c *Config) ValidateSource() error {
	if c.Destination.Host == "" {
		return fmt.Errorf("destination.host is required")
	}
	if c.Destination.User == "" {
		return fmt.Errorf("destination.user is required")
	}
	if c.Destination.KeyPath == "" {
		return fmt.Errorf("destination.ssh_key_path is required")
	}
	if c.Paths.StagingDir == "" {
		return fmt.Errorf("paths.staging_dir is required")
	}
	if c.Paths.RemoteIncoming == "" || c.Paths.RemoteReports == "" {
		return fmt.Errorf("paths.remote_incoming and paths.remote_reports are required")
	}
	if !c.Destination.AcceptUnknownHosts && c.Destination.KnownHostsPath == "" {
		return fmt.Errorf("destination.known_hosts_path is required unless accept_unknown_hosts is set")
	}
	return nil
}

// ValidateDestination checks the settings the watcher daemon cannot run
// without.
func (c *Config) ValidateDestination() error {
	if c.Paths.IncomingDir == "" {
		return fmt.Errorf("paths.incoming_dir is required")
	}
	if c.Paths.ProcessedDir == "" {
		return fmt.Errorf("paths.processed_dir is required")
	}
	if c.Paths.ReportsDir == "" {
		return fmt.Errorf("paths.reports_dir is required")
	}
	if len(c.Daemon.ImportCommand) == 0 {
		return fmt.Errorf("daemon.import_command is required")
	}
	if c.Cleanup.ArchiveBeforePurge && c.Paths.ArchiveDir == "" {
		return fmt.Errorf("paths.archive_dir is required when cleanup.archive_before_purge is set")
	}
	return nil
}

// WakeWait returns the post-wake settle time.
func (c *Config) WakeWait() time.Duration {
	return time.Duration(c.Destination.WakeWaitSeconds) * time.Second
}

// ConnectTimeout bounds the wake-and-connect loop.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Destination.ConnectionTimeout) * time.Second
}

// RetryWait is the fixed wait between per-file transfer attempts.
func (c *Config) RetryWait() time.Duration {
	return time.Duration(c.Transfer.RetryDelay) * time.Second
}

// DynamicTimeout bounds a batch's transfer and poll phases:
// min(timeout_seconds, timeout_per_photo x fileCount). Large batches get
// proportionally more time without losing the configured ceiling.
func (c *Config) DynamicTimeout(fileCount int) time.Duration {
	maxTimeout := time.Duration(c.Transfer.TimeoutSeconds) * time.Second
	dynamic := time.Duration(c.Transfer.TimeoutPerPhoto) * time.Second * time.Duration(fileCount)
	if dynamic <= 0 {
		return maxTimeout
	}
	if maxTimeout > 0 && dynamic > maxTimeout {
		return maxTimeout
	}
	return dynamic
}
