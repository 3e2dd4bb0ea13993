package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoad_AllFields verifies that all config fields are parsed correctly from TOML.
func TestLoad_AllFields(t *testing.T) {
	content := `
data_dir = "/tmp/cc"
store = "/tmp/cc/state.db"
log_level = "debug"
log_format = "json"
log_file = "/tmp/cc/client.log"
keepalive_interval = "15s"
ping_timeout = "5s"
connectivity_wait = "20s"
handshake_timeout = "4s"
write_timeout = "3s"
auth_timeout = "8s"
background_budget = "1m"
discovery_timeout = "2s"
auto_connect = false
auto_list_repos = false
log_limit = 42
tls_cert = "/tmp/cc/host.crt"
`
	tmpFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(tmpFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DataDir != "/tmp/cc" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "/tmp/cc")
	}
	store, err := cfg.ResolvedStore()
	if err != nil || store != "/tmp/cc/state.db" {
		t.Errorf("ResolvedStore() = %q, %v", store, err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.LogFile != "/tmp/cc/client.log" {
		t.Errorf("log fields not parsed: %+v", cfg)
	}
	if cfg.KeepAlive() != 15*time.Second {
		t.Errorf("KeepAlive() = %v, want 15s", cfg.KeepAlive())
	}
	if cfg.Ping() != 5*time.Second {
		t.Errorf("Ping() = %v, want 5s", cfg.Ping())
	}
	if cfg.Connectivity() != 20*time.Second {
		t.Errorf("Connectivity() = %v, want 20s", cfg.Connectivity())
	}
	if cfg.Handshake() != 4*time.Second {
		t.Errorf("Handshake() = %v, want 4s", cfg.Handshake())
	}
	if cfg.Write() != 3*time.Second {
		t.Errorf("Write() = %v, want 3s", cfg.Write())
	}
	if cfg.Auth() != 8*time.Second {
		t.Errorf("Auth() = %v, want 8s", cfg.Auth())
	}
	if cfg.Background() != time.Minute {
		t.Errorf("Background() = %v, want 1m", cfg.Background())
	}
	if cfg.Discovery() != 2*time.Second {
		t.Errorf("Discovery() = %v, want 2s", cfg.Discovery())
	}
	if cfg.AutoConnectEnabled() {
		t.Error("AutoConnectEnabled() should be false")
	}
	if cfg.AutoListReposEnabled() {
		t.Error("AutoListReposEnabled() should be false")
	}
	if cfg.Limit() != 42 {
		t.Errorf("Limit() = %d, want 42", cfg.Limit())
	}
	if cfg.TLSCert != "/tmp/cc/host.crt" {
		t.Errorf("TLSCert = %q", cfg.TLSCert)
	}
}

// TestDefaults verifies that an empty config resolves to documented defaults.
func TestDefaults(t *testing.T) {
	cfg := &Config{}

	if cfg.KeepAlive() != DefaultKeepAliveInterval {
		t.Errorf("KeepAlive() = %v, want %v", cfg.KeepAlive(), DefaultKeepAliveInterval)
	}
	if cfg.Auth() != 0 {
		t.Errorf("Auth() = %v, want 0 (disabled)", cfg.Auth())
	}
	if !cfg.AutoConnectEnabled() || !cfg.AutoListReposEnabled() {
		t.Error("auto_connect and auto_list_repos default to true")
	}
	if cfg.Limit() != DefaultLogLimit {
		t.Errorf("Limit() = %d, want %d", cfg.Limit(), DefaultLogLimit)
	}
}

// TestLoad_ExplicitMissing verifies an explicit path must exist.
func TestLoad_ExplicitMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

// TestLoad_InvalidDuration verifies bad durations are rejected at load time.
func TestLoad_InvalidDuration(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(tmpFile, []byte(`keepalive_interval = "soon"`), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(tmpFile)
	if err == nil || !strings.Contains(err.Error(), "keepalive_interval") {
		t.Fatalf("expected keepalive_interval error, got %v", err)
	}
}

// TestLoad_InvalidTOML verifies parse errors surface.
func TestLoad_InvalidTOML(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(tmpFile, []byte(`log_level = `), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(tmpFile); err == nil {
		t.Fatal("expected parse error")
	}
}

// TestWriteDefault_DoesNotOverwrite verifies existing files are left alone.
func TestWriteDefault_DoesNotOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of default file failed: %v", err)
	}
	if cfg.KeepAlive() != DefaultKeepAliveInterval {
		t.Errorf("default file keepalive = %v", cfg.KeepAlive())
	}

	if err := os.WriteFile(path, []byte(`log_level = "error"`), 0600); err != nil {
		t.Fatal(err)
	}
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() second call error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != `log_level = "error"` {
		t.Errorf("WriteDefault overwrote existing file: %q", data)
	}
}
