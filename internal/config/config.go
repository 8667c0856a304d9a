package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the per-project config file looked up from the working
// directory upward.
const FileName = ".banjo.yaml"

type Config struct {
	Daemon      DaemonConfig      `yaml:"daemon"`
	Agents      AgentsConfig      `yaml:"agents"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Client      ClientConfig      `yaml:"client"`
	Terminal    TerminalConfig    `yaml:"terminal"`
}

type DaemonConfig struct {
	// Port 0 picks an ephemeral port.
	Port        int    `yaml:"port"`
	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`
	StopGraceMs int    `yaml:"stop_grace_ms"`
	PingMs      int    `yaml:"ping_interval_ms"`
}

type AgentsConfig struct {
	Default string      `yaml:"default"`
	Claude  AgentConfig `yaml:"claude"`
	Codex   AgentConfig `yaml:"codex"`
}

type AgentConfig struct {
	Bin   string   `yaml:"bin"`
	Args  []string `yaml:"args"`
	Model string   `yaml:"model"`
	Mode  string   `yaml:"mode"`
}

type PermissionsConfig struct {
	SocketPath string `yaml:"socket_path"`
	// HookCommand is the command Claude runs for PermissionRequest hooks.
	HookCommand   string `yaml:"hook_command"`
	HookTimeoutMs int    `yaml:"hook_timeout_ms"`
}

type ClientConfig struct {
	DaemonBin          string   `yaml:"daemon_bin"`
	DaemonArgs         []string `yaml:"daemon_args"`
	ReadyTimeoutMs     int      `yaml:"ready_timeout_ms"`
	ReconnectBackoffMs []int    `yaml:"reconnect_backoff_ms"`
	RequestTimeoutMs   int      `yaml:"request_timeout_ms"`
}

type TerminalConfig struct {
	Shell           string `yaml:"shell"`
	OutputByteLimit int    `yaml:"output_byte_limit"`
	DefaultCols     int    `yaml:"default_cols"`
	DefaultRows     int    `yaml:"default_rows"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Find returns the config path to load: explicit if set, else the nearest
// .banjo.yaml above dir, else the user config file. It returns "" when none
// exists.
func Find(explicit, dir string) string {
	if explicit != "" {
		return explicit
	}
	for d := dir; d != ""; {
		p := filepath.Join(d, FileName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	if home, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(home, "banjo", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load finds and loads the config for dir, falling back to defaults.
func Load(explicit, dir string) (*Config, error) {
	path := Find(explicit, dir)
	if path == "" {
		return Default(), nil
	}
	return LoadConfig(path)
}

func (c *Config) applyDefaults() {
	if c.Daemon.LogLevel == "" {
		c.Daemon.LogLevel = "info"
	}
	if c.Daemon.StopGraceMs == 0 {
		c.Daemon.StopGraceMs = 3000
	}
	if c.Daemon.PingMs == 0 {
		c.Daemon.PingMs = 30000
	}
	if c.Agents.Default == "" {
		c.Agents.Default = "claude"
	}
	if c.Agents.Claude.Bin == "" {
		c.Agents.Claude.Bin = "claude"
	}
	if c.Agents.Codex.Bin == "" {
		c.Agents.Codex.Bin = "codex"
	}
	if c.Permissions.SocketPath == "" {
		c.Permissions.SocketPath = filepath.Join(os.TempDir(), fmt.Sprintf("banjo-%d.sock", os.Getuid()))
	}
	if c.Permissions.HookCommand == "" {
		c.Permissions.HookCommand = "banjo permission-hook"
	}
	if c.Permissions.HookTimeoutMs == 0 {
		c.Permissions.HookTimeoutMs = 60000
	}
	if c.Client.DaemonBin == "" {
		c.Client.DaemonBin = "banjo"
	}
	if len(c.Client.DaemonArgs) == 0 {
		c.Client.DaemonArgs = []string{"daemon"}
	}
	if c.Client.ReadyTimeoutMs == 0 {
		c.Client.ReadyTimeoutMs = 10000
	}
	if len(c.Client.ReconnectBackoffMs) == 0 {
		c.Client.ReconnectBackoffMs = []int{250, 500, 1000, 2000, 5000}
	}
	if c.Client.RequestTimeoutMs == 0 {
		c.Client.RequestTimeoutMs = 30000
	}
	if c.Terminal.Shell == "" {
		c.Terminal.Shell = "/bin/sh"
	}
	if c.Terminal.OutputByteLimit == 0 {
		c.Terminal.OutputByteLimit = 1 << 20
	}
	if c.Terminal.DefaultCols == 0 {
		c.Terminal.DefaultCols = 120
	}
	if c.Terminal.DefaultRows == 0 {
		c.Terminal.DefaultRows = 40
	}
}

// Environment overrides. Only scalar settings are overridable.
func (c *Config) applyEnv() {
	if v := os.Getenv("BANJO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Daemon.Port = port
		}
	}
	if v := os.Getenv("BANJO_LOG_FILE"); v != "" {
		c.Daemon.LogFile = v
	}
	if v := os.Getenv("BANJO_LOG_LEVEL"); v != "" {
		c.Daemon.LogLevel = v
	}
	if v := os.Getenv("BANJO_ENGINE"); v != "" {
		c.Agents.Default = v
	}
	if v := os.Getenv("BANJO_CLAUDE_BIN"); v != "" {
		c.Agents.Claude.Bin = v
	}
	if v := os.Getenv("BANJO_CODEX_BIN"); v != "" {
		c.Agents.Codex.Bin = v
	}
	if v := os.Getenv("BANJO_DAEMON_BIN"); v != "" {
		c.Client.DaemonBin = v
	}
	if v := os.Getenv("BANJO_PERMISSION_SOCKET_PATH"); v != "" {
		c.Permissions.SocketPath = v
	}
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Daemon.Port < 0 || c.Daemon.Port > 65535 {
		errs = append(errs, fmt.Errorf("daemon.port %d out of range", c.Daemon.Port))
	}
	switch strings.ToLower(c.Agents.Default) {
	case "claude", "codex":
	default:
		errs = append(errs, fmt.Errorf("agents.default %q is not claude or codex", c.Agents.Default))
	}
	for _, ms := range c.Client.ReconnectBackoffMs {
		if ms <= 0 {
			errs = append(errs, fmt.Errorf("client.reconnect_backoff_ms contains %d", ms))
			break
		}
	}
	return errors.Join(errs...)
}

func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Daemon.StopGraceMs) * time.Millisecond
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Daemon.PingMs) * time.Millisecond
}

func (c *Config) HookTimeout() time.Duration {
	return time.Duration(c.Permissions.HookTimeoutMs) * time.Millisecond
}

func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.Client.ReadyTimeoutMs) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Client.RequestTimeoutMs) * time.Millisecond
}

// Backoff returns the reconnect delays in order.
func (c *Config) Backoff() []time.Duration {
	out := make([]time.Duration, len(c.Client.ReconnectBackoffMs))
	for i, ms := range c.Client.ReconnectBackoffMs {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}

// Agent returns the settings for an engine name.
func (c *Config) Agent(engine string) AgentConfig {
	if engine == "codex" {
		return c.Agents.Codex
	}
	return c.Agents.Claude
}
