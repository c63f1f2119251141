// Package policy holds the server configuration and the defaults applied to it.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

const (
	defaultHTTPPort             = 3000
	defaultIdleAfterSeconds     = 60
	defaultOfflineAfterSeconds  = 300
	defaultSweepIntervalSeconds = 10
	defaultWatchDebounceMs      = 100
	defaultWatchPollIntervalMs  = 2000
	defaultTransitionLogMax     = 500
	defaultMessageLogMax        = 200
	defaultSendMessageTool      = "SendMessage"
)

// DefaultPalette is the display color palette, claimed one slot per agent type.
var DefaultPalette = []string{
	"#f5a623", "#4a90d9", "#50e3c2", "#7b68ee", "#ff6b6b",
	"#4cd964", "#b8b8b8", "#e6a8d7", "#ff9f43", "#00d2d3",
	"#6c5ce7", "#fd79a8", "#00cec9", "#e17055", "#74b9ff",
}

// GlobalStateDir returns the default state directory (~/.config/agentshq).
func GlobalStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "agentshq")
}

// LivenessConfig controls the idle/offline sweep.
type LivenessConfig struct {
	IdleAfterSeconds     int `yaml:"idle_after_seconds"`
	OfflineAfterSeconds  int `yaml:"offline_after_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// WatchConfig controls the state directory watcher.
type WatchConfig struct {
	Enabled        *bool `yaml:"enabled"`          // default true
	DebounceMs     int   `yaml:"debounce_ms"`      // per-file coalescing window
	PollIntervalMs int   `yaml:"poll_interval_ms"` // full resync interval; also the only source for sqlite
}

// HistoryConfig bounds the in-memory logs.
type HistoryConfig struct {
	TransitionLogMax int `yaml:"transition_log_max"`
	MessageLogMax    int `yaml:"message_log_max"`
}

// Config holds the server configuration.
type Config struct {
	HTTPPort int    `yaml:"http_port"`
	BaseURL  string `yaml:"base_url"` // advertised to reporters; derived from the port when empty

	StateDir  string `yaml:"state_dir"`
	Store     string `yaml:"store"`      // "file" (default) or "sqlite"
	StateFile string `yaml:"state_file"` // sqlite database path
	LogFile   string `yaml:"log_file"`

	Liveness LivenessConfig `yaml:"liveness"`
	Watch    WatchConfig    `yaml:"watch"`
	History  HistoryConfig  `yaml:"history"`

	SendMessageTool string   `yaml:"send_message_tool"`
	Palette         []string `yaml:"palette"`
	EnabledTools    []string `yaml:"enabled_tools"` // MCP tools
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTPPort: defaultHTTPPort,
		Store:    StoreFile,
		Liveness: LivenessConfig{
			IdleAfterSeconds:     defaultIdleAfterSeconds,
			OfflineAfterSeconds:  defaultOfflineAfterSeconds,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
		},
		Watch: WatchConfig{
			DebounceMs:     defaultWatchDebounceMs,
			PollIntervalMs: defaultWatchPollIntervalMs,
		},
		History: HistoryConfig{
			TransitionLogMax: defaultTransitionLogMax,
			MessageLogMax:    defaultMessageLogMax,
		},
		SendMessageTool: defaultSendMessageTool,
		EnabledTools:    []string{"*"},
	}
}

// LoadConfig loads configuration from a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides config values from the environment (PORT,
// AGENTSHQ_BASE_URL, AGENTSHQ_STATE_DIR, AGENTSHQ_STORE).
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("invalid PORT %q", v)
		}
		cfg.HTTPPort = port
	}
	if v := getenv("AGENTSHQ_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := getenv("AGENTSHQ_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := getenv("AGENTSHQ_STORE"); v != "" {
		cfg.Store = v
	}
	return cfg.Validate()
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store) {
	case "", StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("unknown store %q (want %q or %q)", c.Store, StoreFile, StoreSQLite)
	}
	if c.Liveness.IdleAfterSeconds > 0 && c.Liveness.OfflineAfterSeconds > 0 &&
		c.Liveness.OfflineAfterSeconds < c.Liveness.IdleAfterSeconds {
		return fmt.Errorf("liveness.offline_after_seconds (%d) must not be shorter than idle_after_seconds (%d)",
			c.Liveness.OfflineAfterSeconds, c.Liveness.IdleAfterSeconds)
	}
	return nil
}

// Policy exposes the configuration with defaults resolved.
type Policy struct {
	config *Config
	mu     sync.RWMutex // protects baseURL, which is only known once the listener is bound
}

// New creates a Policy over cfg.
func New(cfg *Config) *Policy {
	return &Policy{config: cfg}
}

// HTTPPort returns the configured listen port (0 = pick a free port).
func (p *Policy) HTTPPort() int {
	return p.config.HTTPPort
}

// BaseURL returns the URL reporters should post to.
func (p *Policy) BaseURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.config.BaseURL != "" {
		return strings.TrimRight(p.config.BaseURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", p.config.HTTPPort)
}

// SetBaseURL records the advertised URL once the actual port is known.
func (p *Policy) SetBaseURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.config.BaseURL == "" {
		p.config.BaseURL = url
	}
}

// StateDir returns the state directory. Defaults to ~/.config/agentshq/state.
func (p *Policy) StateDir() string {
	if p.config.StateDir == "" {
		return filepath.Join(GlobalStateDir(), "state")
	}
	return p.config.StateDir
}

// AgentsDir is the directory holding one JSON document per agent.
func (p *Policy) AgentsDir() string {
	return filepath.Join(p.StateDir(), "agents")
}

// TransitionsFile is the JSON document holding the transition log.
func (p *Policy) TransitionsFile() string {
	return filepath.Join(p.StateDir(), "transitions.json")
}

// StoreBackend returns "file" or "sqlite".
func (p *Policy) StoreBackend() string {
	if p.config.Store == "" {
		return StoreFile
	}
	return strings.ToLower(p.config.Store)
}

// StateFile returns the sqlite database path (used by the sqlite backend only).
func (p *Policy) StateFile() string {
	sf := p.config.StateFile
	if sf == "" {
		return filepath.Join(p.StateDir(), "agentshq.sqlite")
	}
	if filepath.IsAbs(sf) {
		return sf
	}
	return filepath.Join(p.StateDir(), sf)
}

// LogFile returns the log file path. "none" or "off" disables file logging.
func (p *Policy) LogFile() string {
	if p.config.LogFile == "" {
		return filepath.Join(GlobalStateDir(), "agentshq.log")
	}
	return p.config.LogFile
}

// IdleAfter is how long without activity before an active agent turns idle.
func (p *Policy) IdleAfter() time.Duration {
	return seconds(p.config.Liveness.IdleAfterSeconds, defaultIdleAfterSeconds)
}

// OfflineAfter is how long without activity before an agent turns offline.
func (p *Policy) OfflineAfter() time.Duration {
	return seconds(p.config.Liveness.OfflineAfterSeconds, defaultOfflineAfterSeconds)
}

// SweepInterval is how often the liveness sweep runs.
func (p *Policy) SweepInterval() time.Duration {
	return seconds(p.config.Liveness.SweepIntervalSeconds, defaultSweepIntervalSeconds)
}

// WatchEnabled reports whether the state watcher should run.
func (p *Policy) WatchEnabled() bool {
	return p.config.Watch.Enabled == nil || *p.config.Watch.Enabled
}

// WatchDebounce is the per-file coalescing window of the watcher.
func (p *Policy) WatchDebounce() time.Duration {
	return millis(p.config.Watch.DebounceMs, defaultWatchDebounceMs)
}

// WatchPollInterval is the watcher's full resync interval.
func (p *Policy) WatchPollInterval() time.Duration {
	return millis(p.config.Watch.PollIntervalMs, defaultWatchPollIntervalMs)
}

// TransitionLogMax bounds the transition log.
func (p *Policy) TransitionLogMax() int {
	if p.config.History.TransitionLogMax > 0 {
		return p.config.History.TransitionLogMax
	}
	return defaultTransitionLogMax
}

// MessageLogMax bounds the inter-agent message log.
func (p *Policy) MessageLogMax() int {
	if p.config.History.MessageLogMax > 0 {
		return p.config.History.MessageLogMax
	}
	return defaultMessageLogMax
}

// SendMessageTool is the tool whose invocations are recorded as inter-agent messages.
func (p *Policy) SendMessageTool() string {
	if p.config.SendMessageTool == "" {
		return defaultSendMessageTool
	}
	return p.config.SendMessageTool
}

// Palette returns the display color palette.
func (p *Policy) Palette() []string {
	if len(p.config.Palette) > 0 {
		return p.config.Palette
	}
	return DefaultPalette
}

// IsToolEnabled checks if an MCP tool is enabled.
func (p *Policy) IsToolEnabled(name string) bool {
	for _, t := range p.config.EnabledTools {
		if t == "*" || t == name {
			return true
		}
	}
	return false
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func millis(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Millisecond
}
