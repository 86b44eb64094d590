package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultTCPPort is the relay's reliable control-plane port.
	DefaultTCPPort = 7777
	// DefaultUDPPort is the relay's unreliable game-data port.
	DefaultUDPPort = 7778

	// DefaultConnectTimeout bounds the TCP dial plus TLS handshake.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultRegisterTimeout bounds the wait for the relay's registration ack.
	DefaultRegisterTimeout = 5 * time.Second
	// DefaultHeartbeatInterval keeps the client inside the relay's 60s staleness window.
	DefaultHeartbeatInterval = 10 * time.Second
	// DefaultPingInterval controls latency sampling cadence.
	DefaultPingInterval = 2 * time.Second
	// DefaultSilenceTimeout treats a quiet connection as a silent disconnect.
	DefaultSilenceTimeout = 20 * time.Second

	// DefaultReconnectBaseDelay seeds the reconnect backoff schedule.
	DefaultReconnectBaseDelay = 2 * time.Second
	// DefaultReconnectFactor multiplies the delay after each failed attempt.
	DefaultReconnectFactor = 1.5
	// DefaultReconnectMaxDelay caps the backoff schedule.
	DefaultReconnectMaxDelay = 10 * time.Second
	// DefaultReconnectMaxAttempts bounds automatic reconnection.
	DefaultReconnectMaxAttempts = 5

	// DefaultListThrottle is the minimum spacing between room list refreshes.
	DefaultListThrottle = 2 * time.Second
	// DefaultDesyncThreshold is the positional drift beyond which remote cars snap.
	DefaultDesyncThreshold = 8.0
	// DefaultDrainBudget caps dispatch queue items processed per tick.
	DefaultDrainBudget = 64
	// DefaultLatencyWindow sizes the rolling ping sample buffer.
	DefaultLatencyWindow = 16

	// DefaultLogLevel controls verbosity for client logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "netcore.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 50
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 5
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7

	// DefaultDiagAddr binds the diagnostics viewer to localhost only.
	DefaultDiagAddr = "127.0.0.1:7780"
)

// Config captures all runtime tunables for the networking core.
type Config struct {
	ServerHost   string `toml:"server_host"`
	TCPPort      int    `toml:"tcp_port"`
	UDPPort      int    `toml:"udp_port"`
	LocalUDPPort int    `toml:"local_udp_port"`
	PlayerName   string `toml:"player_name"`

	UseTLS          bool   `toml:"use_tls"`
	AllowSelfSigned bool   `toml:"allow_self_signed"`
	EncryptionKey   string `toml:"encryption_key"`

	ConnectTimeout    time.Duration `toml:"-"`
	RegisterTimeout   time.Duration `toml:"-"`
	HeartbeatInterval time.Duration `toml:"-"`
	PingInterval      time.Duration `toml:"-"`
	SilenceTimeout    time.Duration `toml:"-"`

	Reconnect ReconnectConfig `toml:"reconnect"`

	ListThrottle    time.Duration `toml:"-"`
	DesyncThreshold float64       `toml:"desync_threshold"`
	DrainBudget     int           `toml:"drain_budget"`
	LatencyWindow   int           `toml:"latency_window"`

	Logging LoggingConfig `toml:"logging"`
	Trace   TraceConfig   `toml:"trace"`
	Diag    DiagConfig    `toml:"diag"`
}

// ReconnectConfig shapes the exponential backoff schedule after a failure.
type ReconnectConfig struct {
	BaseDelay   time.Duration `toml:"-"`
	Factor      float64       `toml:"factor"`
	MaxDelay    time.Duration `toml:"-"`
	MaxAttempts int           `toml:"max_attempts"`
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string `toml:"level"`
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// TraceConfig controls the diagnostic wire capture.
type TraceConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// DiagConfig controls the local diagnostics viewer endpoint.
type DiagConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// fileConfig mirrors Config for TOML decoding with duration strings.
type fileConfig struct {
	ServerHost   *string `toml:"server_host"`
	TCPPort      *int    `toml:"tcp_port"`
	UDPPort      *int    `toml:"udp_port"`
	LocalUDPPort *int    `toml:"local_udp_port"`
	PlayerName   *string `toml:"player_name"`

	UseTLS          *bool   `toml:"use_tls"`
	AllowSelfSigned *bool   `toml:"allow_self_signed"`
	EncryptionKey   *string `toml:"encryption_key"`

	ConnectTimeout    *string `toml:"connect_timeout"`
	RegisterTimeout   *string `toml:"register_timeout"`
	HeartbeatInterval *string `toml:"heartbeat_interval"`
	PingInterval      *string `toml:"ping_interval"`
	SilenceTimeout    *string `toml:"silence_timeout"`
	ListThrottle      *string `toml:"list_throttle"`

	DesyncThreshold *float64 `toml:"desync_threshold"`
	DrainBudget     *int     `toml:"drain_budget"`
	LatencyWindow   *int     `toml:"latency_window"`

	Reconnect struct {
		BaseDelay   *string  `toml:"base_delay"`
		Factor      *float64 `toml:"factor"`
		MaxDelay    *string  `toml:"max_delay"`
		MaxAttempts *int     `toml:"max_attempts"`
	} `toml:"reconnect"`

	Logging struct {
		Level      *string `toml:"level"`
		Path       *string `toml:"path"`
		MaxSizeMB  *int    `toml:"max_size_mb"`
		MaxBackups *int    `toml:"max_backups"`
		MaxAgeDays *int    `toml:"max_age_days"`
		Compress   *bool   `toml:"compress"`
	} `toml:"logging"`

	Trace struct {
		Enabled *bool   `toml:"enabled"`
		Dir     *string `toml:"dir"`
	} `toml:"trace"`

	Diag struct {
		Enabled *bool   `toml:"enabled"`
		Addr    *string `toml:"addr"`
	} `toml:"diag"`
}

// Default returns the built-in configuration before file or env overrides.
func Default() *Config {
	return &Config{
		ServerHost:        "127.0.0.1",
		TCPPort:           DefaultTCPPort,
		UDPPort:           DefaultUDPPort,
		ConnectTimeout:    DefaultConnectTimeout,
		RegisterTimeout:   DefaultRegisterTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		PingInterval:      DefaultPingInterval,
		SilenceTimeout:    DefaultSilenceTimeout,
		Reconnect: ReconnectConfig{
			BaseDelay:   DefaultReconnectBaseDelay,
			Factor:      DefaultReconnectFactor,
			MaxDelay:    DefaultReconnectMaxDelay,
			MaxAttempts: DefaultReconnectMaxAttempts,
		},
		ListThrottle:    DefaultListThrottle,
		DesyncThreshold: DefaultDesyncThreshold,
		DrainBudget:     DefaultDrainBudget,
		LatencyWindow:   DefaultLatencyWindow,
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   true,
		},
		Diag: DiagConfig{Addr: DefaultDiagAddr},
	}
}

// Load builds the configuration from defaults, an optional TOML file, and
// NETCORE_* environment overrides, returning descriptive errors for invalid values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("NETCORE_CONFIG"))
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	var problems []string
	applyEnv(cfg, &problems)

	//1.- Validate the assembled configuration regardless of its source.
	if strings.TrimSpace(cfg.ServerHost) == "" {
		problems = append(problems, "server_host must not be empty")
	}
	if cfg.TCPPort <= 0 || cfg.TCPPort > 65535 {
		problems = append(problems, fmt.Sprintf("tcp_port must be in 1..65535, got %d", cfg.TCPPort))
	}
	if cfg.UDPPort <= 0 || cfg.UDPPort > 65535 {
		problems = append(problems, fmt.Sprintf("udp_port must be in 1..65535, got %d", cfg.UDPPort))
	}
	if cfg.LocalUDPPort < 0 || cfg.LocalUDPPort > 65535 {
		problems = append(problems, fmt.Sprintf("local_udp_port must be in 0..65535, got %d", cfg.LocalUDPPort))
	}
	if cfg.Reconnect.Factor < 1.0 {
		problems = append(problems, fmt.Sprintf("reconnect factor must be >= 1.0, got %g", cfg.Reconnect.Factor))
	}
	if cfg.Reconnect.MaxAttempts <= 0 {
		problems = append(problems, fmt.Sprintf("reconnect max_attempts must be positive, got %d", cfg.Reconnect.MaxAttempts))
	}
	if cfg.DesyncThreshold <= 0 {
		problems = append(problems, fmt.Sprintf("desync_threshold must be positive, got %g", cfg.DesyncThreshold))
	}
	if cfg.DrainBudget <= 0 {
		problems = append(problems, fmt.Sprintf("drain_budget must be positive, got %d", cfg.DrainBudget))
	}
	if cfg.LatencyWindow <= 0 {
		problems = append(problems, fmt.Sprintf("latency_window must be positive, got %d", cfg.LatencyWindow))
	}
	if key := strings.TrimSpace(cfg.EncryptionKey); key != "" {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			problems = append(problems, "encryption_key must be hex encoded")
		} else if len(decoded) != 16 && len(decoded) != 32 {
			problems = append(problems, fmt.Sprintf("encryption_key must decode to 16 or 32 bytes, got %d", len(decoded)))
		}
	}
	if cfg.Trace.Enabled && strings.TrimSpace(cfg.Trace.Dir) == "" {
		problems = append(problems, "trace dir must be set when tracing is enabled")
	}
	if cfg.Diag.Enabled && strings.TrimSpace(cfg.Diag.Addr) == "" {
		problems = append(problems, "diag addr must be set when the viewer is enabled")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

// EncryptionKeyBytes decodes the configured datagram key, nil when disabled.
func (c *Config) EncryptionKeyBytes() []byte {
	if c == nil {
		return nil
	}
	key := strings.TrimSpace(c.EncryptionKey)
	if key == "" {
		return nil
	}
	decoded, err := hex.DecodeString(key)
	if err != nil {
		return nil
	}
	return decoded
}

func applyFile(cfg *Config, path string) error {
	var file fileConfig
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	//1.- Copy the plain scalar overrides when present.
	setString(&cfg.ServerHost, file.ServerHost)
	setInt(&cfg.TCPPort, file.TCPPort)
	setInt(&cfg.UDPPort, file.UDPPort)
	setInt(&cfg.LocalUDPPort, file.LocalUDPPort)
	setString(&cfg.PlayerName, file.PlayerName)
	setBool(&cfg.UseTLS, file.UseTLS)
	setBool(&cfg.AllowSelfSigned, file.AllowSelfSigned)
	setString(&cfg.EncryptionKey, file.EncryptionKey)
	setFloat(&cfg.DesyncThreshold, file.DesyncThreshold)
	setInt(&cfg.DrainBudget, file.DrainBudget)
	setInt(&cfg.LatencyWindow, file.LatencyWindow)

	//2.- Durations travel as strings in the file so humans can write "10s".
	problems := make([]string, 0)
	setDuration(&cfg.ConnectTimeout, file.ConnectTimeout, "connect_timeout", &problems)
	setDuration(&cfg.RegisterTimeout, file.RegisterTimeout, "register_timeout", &problems)
	setDuration(&cfg.HeartbeatInterval, file.HeartbeatInterval, "heartbeat_interval", &problems)
	setDuration(&cfg.PingInterval, file.PingInterval, "ping_interval", &problems)
	setDuration(&cfg.SilenceTimeout, file.SilenceTimeout, "silence_timeout", &problems)
	setDuration(&cfg.ListThrottle, file.ListThrottle, "list_throttle", &problems)
	setDuration(&cfg.Reconnect.BaseDelay, file.Reconnect.BaseDelay, "reconnect.base_delay", &problems)
	setDuration(&cfg.Reconnect.MaxDelay, file.Reconnect.MaxDelay, "reconnect.max_delay", &problems)
	setFloat(&cfg.Reconnect.Factor, file.Reconnect.Factor)
	setInt(&cfg.Reconnect.MaxAttempts, file.Reconnect.MaxAttempts)

	setString(&cfg.Logging.Level, file.Logging.Level)
	setString(&cfg.Logging.Path, file.Logging.Path)
	setInt(&cfg.Logging.MaxSizeMB, file.Logging.MaxSizeMB)
	setInt(&cfg.Logging.MaxBackups, file.Logging.MaxBackups)
	setInt(&cfg.Logging.MaxAgeDays, file.Logging.MaxAgeDays)
	setBool(&cfg.Logging.Compress, file.Logging.Compress)

	setBool(&cfg.Trace.Enabled, file.Trace.Enabled)
	setString(&cfg.Trace.Dir, file.Trace.Dir)
	setBool(&cfg.Diag.Enabled, file.Diag.Enabled)
	setString(&cfg.Diag.Addr, file.Diag.Addr)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func applyEnv(cfg *Config, problems *[]string) {
	envString(&cfg.ServerHost, "NETCORE_SERVER_HOST")
	envInt(&cfg.TCPPort, "NETCORE_TCP_PORT", problems)
	envInt(&cfg.UDPPort, "NETCORE_UDP_PORT", problems)
	envInt(&cfg.LocalUDPPort, "NETCORE_LOCAL_UDP_PORT", problems)
	envString(&cfg.PlayerName, "NETCORE_PLAYER_NAME")
	envBool(&cfg.UseTLS, "NETCORE_USE_TLS", problems)
	envBool(&cfg.AllowSelfSigned, "NETCORE_ALLOW_SELF_SIGNED", problems)
	envString(&cfg.EncryptionKey, "NETCORE_ENCRYPTION_KEY")
	envDuration(&cfg.ConnectTimeout, "NETCORE_CONNECT_TIMEOUT", problems)
	envDuration(&cfg.RegisterTimeout, "NETCORE_REGISTER_TIMEOUT", problems)
	envDuration(&cfg.HeartbeatInterval, "NETCORE_HEARTBEAT_INTERVAL", problems)
	envDuration(&cfg.PingInterval, "NETCORE_PING_INTERVAL", problems)
	envDuration(&cfg.SilenceTimeout, "NETCORE_SILENCE_TIMEOUT", problems)
	envDuration(&cfg.ListThrottle, "NETCORE_LIST_THROTTLE", problems)
	envDuration(&cfg.Reconnect.BaseDelay, "NETCORE_RECONNECT_BASE_DELAY", problems)
	envDuration(&cfg.Reconnect.MaxDelay, "NETCORE_RECONNECT_MAX_DELAY", problems)
	envInt(&cfg.Reconnect.MaxAttempts, "NETCORE_RECONNECT_MAX_ATTEMPTS", problems)
	envString(&cfg.Logging.Level, "NETCORE_LOG_LEVEL")
	envString(&cfg.Logging.Path, "NETCORE_LOG_PATH")
	envBool(&cfg.Trace.Enabled, "NETCORE_TRACE_ENABLED", problems)
	envString(&cfg.Trace.Dir, "NETCORE_TRACE_DIR")
	envBool(&cfg.Diag.Enabled, "NETCORE_DIAG_ENABLED", problems)
	envString(&cfg.Diag.Addr, "NETCORE_DIAG_ADDR")
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, name string, problems *[]string) {
	if src == nil {
		return
	}
	duration, err := time.ParseDuration(strings.TrimSpace(*src))
	if err != nil || duration <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", name, *src))
		return
	}
	*dst = duration
}

func envString(dst *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func envInt(dst *int, key string, problems *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s must be an integer, got %q", key, raw))
		return
	}
	*dst = value
}

func envBool(dst *bool, key string, problems *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s must be a boolean value, got %q", key, raw))
		return
	}
	*dst = value
}

func envDuration(dst *time.Duration, key string, problems *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*dst = duration
}
