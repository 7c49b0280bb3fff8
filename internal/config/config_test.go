package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	// When no config exists anywhere, should error. Override
	// searchPathsFunc to avoid finding real config files on
	// developer/deploy machines (~/.config/archiverd/config.yaml, etc.).
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("data_dir: ${ARCHIVER_TEST_DATA_DIR}\n"), 0600)
	os.Setenv("ARCHIVER_TEST_DATA_DIR", "/srv/archiver")
	defer os.Unsetenv("ARCHIVER_TEST_DATA_DIR")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.DataDir != "/srv/archiver" {
		t.Errorf("data_dir = %q, want %q", cfg.DataDir, "/srv/archiver")
	}
}

func TestLoad_SpecKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(`
throw_out_spam: true
default_save_attachments: true
default_save_to_eml: true
ignored_mailboxes_regex: "^Deleted"
allow_insecure_connections: true
web_default_page_size: 50
daemon_log_backup_count_default: 3
daemon_logfile_size_default: 1048576
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !cfg.ThrowOutSpam || !cfg.DefaultSaveAttachments || !cfg.DefaultSaveToEML || !cfg.AllowInsecureConnections {
		t.Fatalf("bool keys did not load: %+v", cfg)
	}
	if cfg.IgnoredMailboxesRegex != "^Deleted" {
		t.Errorf("ignored_mailboxes_regex = %q", cfg.IgnoredMailboxesRegex)
	}
	if cfg.WebDefaultPageSize != 50 {
		t.Errorf("web_default_page_size = %d, want 50", cfg.WebDefaultPageSize)
	}
	if cfg.DaemonLogBackupCountDefault != 3 {
		t.Errorf("daemon_log_backup_count_default = %d, want 3", cfg.DaemonLogBackupCountDefault)
	}
	if cfg.DaemonLogfileSizeDefault != 1048576 {
		t.Errorf("daemon_logfile_size_default = %d, want 1048576", cfg.DaemonLogfileSizeDefault)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Listen.Port != 8080 {
		t.Errorf("listen.port default = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("data_dir default = %q, want ./data", cfg.DataDir)
	}
	if cfg.StorageRoot != filepath.Join("./data", "blobs") {
		t.Errorf("storage_root default = %q", cfg.StorageRoot)
	}
	if cfg.LogRoot != filepath.Join("./data", "logs") {
		t.Errorf("log_root default = %q", cfg.LogRoot)
	}
	if cfg.WebDefaultPageSize != 25 {
		t.Errorf("web_default_page_size default = %d, want 25", cfg.WebDefaultPageSize)
	}
	if cfg.DaemonLogBackupCountDefault != 5 {
		t.Errorf("daemon_log_backup_count_default default = %d, want 5", cfg.DaemonLogBackupCountDefault)
	}
	if cfg.DaemonLogfileSizeDefault != 10*1024*1024 {
		t.Errorf("daemon_logfile_size_default default = %d, want 10MB", cfg.DaemonLogfileSizeDefault)
	}
}

func TestValidate_PortOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Listen.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "not-a-level"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidate_BadIgnoredMailboxesRegex(t *testing.T) {
	cfg := Default()
	cfg.IgnoredMailboxesRegex = "[unclosed"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestIgnoredMailboxes_CaseInsensitive(t *testing.T) {
	cfg := Default()
	cfg.IgnoredMailboxesRegex = "^trash$"
	re, err := cfg.IgnoredMailboxes()
	if err != nil {
		t.Fatalf("IgnoredMailboxes error: %v", err)
	}
	if !re.MatchString("TRASH") {
		t.Error("expected case-insensitive match against TRASH")
	}
	if re.MatchString("Inbox") {
		t.Error("did not expect match against Inbox")
	}
}

func TestIgnoredMailboxes_EmptyNeverMatches(t *testing.T) {
	cfg := Default()
	re, err := cfg.IgnoredMailboxes()
	if err != nil {
		t.Fatalf("IgnoredMailboxes error: %v", err)
	}
	if re.MatchString("") || re.MatchString("anything") {
		t.Error("empty pattern should never match")
	}
}
