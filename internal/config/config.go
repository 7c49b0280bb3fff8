// Package config handles archiverd configuration loading: a single YAML
// file covering the daemon's listen address, storage locations, and the
// process-wide keys of spec.md §6 (spam handling, per-mailbox defaults,
// account scan behavior, TLS policy, and log rotation defaults).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is indirected so tests can override the search order
// without touching real config files on the developer's machine.
var searchPathsFunc = defaultSearchPaths

// DefaultSearchPaths returns the config file search order: an explicit
// path (from -config) is checked first by FindConfig; absent that,
// ./config.yaml, ~/.config/archiverd/config.yaml, the container
// convention /config/config.yaml, then /etc/archiverd/config.yaml.
func DefaultSearchPaths() []string { return searchPathsFunc() }

func defaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "archiverd", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // container convention
	paths = append(paths, "/etc/archiverd/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise searches DefaultSearchPaths and returns the first
// path that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// ListenConfig is the bind address for the external HTTP/REST
// collaborator's server process; the core itself serves nothing, but a
// runnable daemon needs somewhere to report health/status.
type ListenConfig struct {
	Address string `yaml:"address"` // bind address, "" = all interfaces
	Port    int    `yaml:"port"`
}

// Config holds archiverd's process-wide configuration: spec.md §6's
// named keys plus the nested server settings (listen address, data
// directory, storage root, log root) a runnable daemon needs.
type Config struct {
	Listen ListenConfig `yaml:"listen"`

	// DataDir holds the archive's SQLite database file.
	DataDir string `yaml:"data_dir"`
	// StorageRoot is the blob-store root for .eml bodies and attachments
	// (spec.md §6 "Blob storage layout").
	StorageRoot string `yaml:"storage_root"`
	// LogRoot holds per-routine rotated log files (spec.md §6
	// "Per-routine log file").
	LogRoot string `yaml:"log_root"`

	LogLevel string `yaml:"log_level"`

	// ThrowOutSpam: messages with X-Spam-Flag: YES are discarded by the
	// archive writer unless the target mailbox's kind is junk.
	ThrowOutSpam bool `yaml:"throw_out_spam"`
	// DefaultSaveAttachments seeds Mailbox.SaveAttachments for newly
	// created mailboxes.
	DefaultSaveAttachments bool `yaml:"default_save_attachments"`
	// DefaultSaveToEML seeds Mailbox.SaveToEML for newly created
	// mailboxes.
	DefaultSaveToEML bool `yaml:"default_save_to_eml"`
	// IgnoredMailboxesRegex: mailboxes whose name matches (case
	// insensitive) are skipped during an account scan.
	IgnoredMailboxesRegex string `yaml:"ignored_mailboxes_regex"`
	// AllowInsecureConnections: when true AND an account's own
	// allow-insecure flag is also true, TLS verification is relaxed for
	// that account's connections.
	AllowInsecureConnections bool `yaml:"allow_insecure_connections"`
	// WebDefaultPageSize is unrelated to the core (it belongs to the
	// HTTP/REST collaborator's pagination) but lives in the same config
	// store, per spec.md §6.
	WebDefaultPageSize int `yaml:"web_default_page_size"`
	// DaemonLogBackupCountDefault / DaemonLogfileSizeDefault configure
	// per-routine log rotation (lumberjack backups and max size).
	DaemonLogBackupCountDefault int   `yaml:"daemon_log_backup_count_default"`
	DaemonLogfileSizeDefault    int64 `yaml:"daemon_logfile_size_default"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${ARCHIVER_DATA_DIR}) — a
	// convenience for container deployments.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.StorageRoot == "" {
		c.StorageRoot = filepath.Join(c.DataDir, "blobs")
	}
	if c.LogRoot == "" {
		c.LogRoot = filepath.Join(c.DataDir, "logs")
	}
	if c.WebDefaultPageSize == 0 {
		c.WebDefaultPageSize = 25
	}
	if c.DaemonLogBackupCountDefault == 0 {
		c.DaemonLogBackupCountDefault = 5
	}
	if c.DaemonLogfileSizeDefault == 0 {
		c.DaemonLogfileSizeDefault = 10 * 1024 * 1024 // 10 MB
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.IgnoredMailboxesRegex != "" {
		if _, err := regexp.Compile(c.IgnoredMailboxesRegex); err != nil {
			return fmt.Errorf("ignored_mailboxes_regex: %w", err)
		}
	}
	if c.WebDefaultPageSize < 1 {
		return fmt.Errorf("web_default_page_size must be positive, got %d", c.WebDefaultPageSize)
	}
	return nil
}

// IgnoredMailboxes compiles IgnoredMailboxesRegex case-insensitively, as
// spec.md §6 requires. A blank pattern yields a matcher that never
// matches.
func (c *Config) IgnoredMailboxes() (*regexp.Regexp, error) {
	if c.IgnoredMailboxesRegex == "" {
		return regexp.MustCompile(`$^`), nil
	}
	return regexp.Compile("(?i)" + c.IgnoredMailboxesRegex)
}

// Default returns a default configuration suitable for local development.
// All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
