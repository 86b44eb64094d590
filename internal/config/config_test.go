package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netcore.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.TCPPort != DefaultTCPPort || cfg.UDPPort != DefaultUDPPort {
		t.Fatalf("default ports = %d/%d", cfg.TCPPort, cfg.UDPPort)
	}
	if cfg.Reconnect.BaseDelay != DefaultReconnectBaseDelay || cfg.Reconnect.MaxAttempts != DefaultReconnectMaxAttempts {
		t.Fatalf("default reconnect = %+v", cfg.Reconnect)
	}
	if cfg.DesyncThreshold != DefaultDesyncThreshold {
		t.Fatalf("default desync threshold = %g", cfg.DesyncThreshold)
	}
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	path := writeConfigFile(t, `
server_host = "relay.example.net"
tcp_port = 9000
player_name = "Priya"
heartbeat_interval = "4s"
desync_threshold = 12.5

[reconnect]
base_delay = "1s"
factor = 2.0
max_attempts = 3

[logging]
level = "debug"
`)
	//1.- Environment overrides beat the file for the same key.
	t.Setenv("NETCORE_TCP_PORT", "9100")
	t.Setenv("NETCORE_SILENCE_TIMEOUT", "45s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerHost != "relay.example.net" {
		t.Fatalf("server host = %q", cfg.ServerHost)
	}
	if cfg.TCPPort != 9100 {
		t.Fatalf("tcp port = %d, env should win over the file", cfg.TCPPort)
	}
	if cfg.PlayerName != "Priya" {
		t.Fatalf("player name = %q", cfg.PlayerName)
	}
	if cfg.HeartbeatInterval != 4*time.Second {
		t.Fatalf("heartbeat interval = %s", cfg.HeartbeatInterval)
	}
	if cfg.SilenceTimeout != 45*time.Second {
		t.Fatalf("silence timeout = %s", cfg.SilenceTimeout)
	}
	if cfg.Reconnect.BaseDelay != time.Second || cfg.Reconnect.Factor != 2.0 || cfg.Reconnect.MaxAttempts != 3 {
		t.Fatalf("reconnect = %+v", cfg.Reconnect)
	}
	if cfg.DesyncThreshold != 12.5 {
		t.Fatalf("desync threshold = %g", cfg.DesyncThreshold)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Logging.Level)
	}
	//2.- Untouched keys keep their defaults.
	if cfg.UDPPort != DefaultUDPPort {
		t.Fatalf("udp port = %d, want default", cfg.UDPPort)
	}
}

func TestLoadAggregatesValidationProblems(t *testing.T) {
	path := writeConfigFile(t, `
server_host = ""
tcp_port = 99999
encryption_key = "zz"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("invalid config must be rejected")
	}
	//1.- Every problem shows up in one error, not just the first.
	for _, want := range []string{"server_host", "tcp_port", "encryption_key"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing mention of %s", err, want)
		}
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	path := writeConfigFile(t, `
connect_timeout = "soon"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "connect_timeout") {
		t.Fatalf("malformed duration should be rejected, got %v", err)
	}
}

func TestEncryptionKeyBytes(t *testing.T) {
	cfg := Default()
	if got := cfg.EncryptionKeyBytes(); got != nil {
		t.Fatalf("empty key should decode to nil, got %x", got)
	}
	cfg.EncryptionKey = "000102030405060708090a0b0c0d0e0f"
	key := cfg.EncryptionKeyBytes()
	if len(key) != 16 || key[1] != 0x01 {
		t.Fatalf("key = %x", key)
	}
}

func TestLoadRejectsTraceWithoutDir(t *testing.T) {
	path := writeConfigFile(t, `
[trace]
enabled = true
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "trace dir") {
		t.Fatalf("trace without dir should be rejected, got %v", err)
	}
}
