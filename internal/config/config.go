// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigrun-chat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Backend    BackendConfig    `toml:"backend" json:"backend"`
	Timeouts   TimeoutConfig    `toml:"timeouts" json:"timeouts"`
	Recall     RecallConfig     `toml:"recall" json:"recall"`
	Transcript TranscriptConfig `toml:"transcript" json:"transcript"`
	UI         UIConfig         `toml:"ui" json:"ui"`
	Log        LogConfig        `toml:"log" json:"log"`
}

// BackendConfig selects the model server.
type BackendConfig struct {
	// Provider is "ollama" or "openai" (any OpenAI-compatible server).
	Provider string `toml:"provider" json:"provider"`
	URL      string `toml:"url" json:"url"`
	Model    string `toml:"model" json:"model"`
	APIKey   string `toml:"api_key,omitempty" json:"api_key,omitempty"`
	// KeepAlive is passed to Ollama (e.g. "5m", "-1").
	KeepAlive string `toml:"keep_alive,omitempty" json:"keep_alive,omitempty"`
}

// TimeoutConfig bounds the network waits of a turn.
type TimeoutConfig struct {
	HealthCheckSecs int `toml:"health_check_timeout_secs" json:"health_check_timeout_secs"`
	StreamIdleSecs  int `toml:"stream_idle_timeout_secs" json:"stream_idle_timeout_secs"`
	// TurnSecs bounds a whole turn; 0 means unlimited.
	TurnSecs int `toml:"turn_timeout_secs" json:"turn_timeout_secs"`
	// RequestSecs bounds non-streaming requests such as model listing.
	RequestSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
}

// RecallConfig controls input recall.
type RecallConfig struct {
	// Mode is "single" (only the last input) or "stack".
	Mode       string `toml:"mode" json:"mode"`
	MaxEntries int    `toml:"max_entries" json:"max_entries"`
}

// TranscriptConfig holds the transcript section labels.
type TranscriptConfig struct {
	UserLabel      string `toml:"user_label" json:"user_label"`
	AssistantLabel string `toml:"assistant_label" json:"assistant_label"`
	SystemLabel    string `toml:"system_label" json:"system_label"`
}

// UIConfig holds terminal UI settings.
type UIConfig struct {
	Theme          string `toml:"theme" json:"theme"` // "dark", "light", "auto"
	RenderMarkdown bool   `toml:"render_markdown" json:"render_markdown"`
	ShowStatusBar  bool   `toml:"show_status_bar" json:"show_status_bar"`
}

// LogConfig controls the structured log.
type LogConfig struct {
	Level string `toml:"level" json:"level"` // debug, info, warn, error
	// File is the log path for the TUI; empty means <config dir>/chat.log.
	File string `toml:"file" json:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	CurrentVersion = "1"

	DefaultProvider  = "ollama"
	DefaultOllamaURL = "http://127.0.0.1:11434"
	DefaultModel     = "llama3"
)

// Default returns a configuration with all defaults set.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Backend: BackendConfig{
			Provider: DefaultProvider,
			URL:      DefaultOllamaURL,
			Model:    DefaultModel,
		},
		Timeouts: TimeoutConfig{
			HealthCheckSecs: 5,
			StreamIdleSecs:  120,
			TurnSecs:        0,
			RequestSecs:     30,
		},
		Recall: RecallConfig{
			Mode:       "single",
			MaxEntries: 50,
		},
		Transcript: TranscriptConfig{
			UserLabel:      "USER",
			AssistantLabel: "LLM",
			SystemLabel:    "SYSTEM",
		},
		UI: UIConfig{
			Theme:          "auto",
			RenderMarkdown: true,
			ShowStatusBar:  true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// HealthCheckTimeout returns the liveness probe timeout.
func (c *Config) HealthCheckTimeout() time.Duration {
	return time.Duration(c.Timeouts.HealthCheckSecs) * time.Second
}

// StreamIdleTimeout returns the maximum wait between stream chunks.
func (c *Config) StreamIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.StreamIdleSecs) * time.Second
}

// TurnTimeout returns the whole-turn timeout, 0 when unlimited.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.Timeouts.TurnSecs) * time.Second
}

// RequestTimeout returns the timeout for non-streaming requests.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeouts.RequestSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigrun-chat configuration directory path.
// RIGRUN_CHAT_HOME replaces ~/.rigrun-chat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RIGRUN_CHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-chat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// LogPath returns the configured log file, or the default under ConfigDir.
func (c *Config) LogPath() (string, error) {
	if c.Log.File != "" {
		return c.Log.File, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chat.log"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions narrows a config file to 0600; it may hold an API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.rigrun-chat/config.toml when present, then a .env file in the
// working directory, then RIGRUN_CHAT_* environment variables.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return load(path, false)
}

// LoadFromPath loads configuration from a specific TOML file, which must
// exist.
func LoadFromPath(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, required bool) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if required || !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Unknown keys are rejected so typos
// surface instead of silently falling back to defaults.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		slog.Warn("could not ensure secure permissions on config", "path", path, "error", err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// loadDotEnv loads KEY=VALUE pairs from path without overriding variables
// already set in the environment. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Backend.Provider == "" {
		c.Backend.Provider = d.Backend.Provider
	}
	c.Backend.Provider = strings.ToLower(strings.TrimSpace(c.Backend.Provider))
	if c.Backend.URL == "" && c.Backend.Provider == DefaultProvider {
		c.Backend.URL = d.Backend.URL
	}
	if c.Backend.Model == "" && c.Backend.Provider == DefaultProvider {
		c.Backend.Model = d.Backend.Model
	}

	if c.Timeouts.HealthCheckSecs == 0 {
		c.Timeouts.HealthCheckSecs = d.Timeouts.HealthCheckSecs
	}
	if c.Timeouts.StreamIdleSecs == 0 {
		c.Timeouts.StreamIdleSecs = d.Timeouts.StreamIdleSecs
	}
	if c.Timeouts.RequestSecs == 0 {
		c.Timeouts.RequestSecs = d.Timeouts.RequestSecs
	}

	if c.Recall.Mode == "" {
		c.Recall.Mode = d.Recall.Mode
	}
	if c.Recall.MaxEntries == 0 {
		c.Recall.MaxEntries = d.Recall.MaxEntries
	}

	if c.Transcript.UserLabel == "" {
		c.Transcript.UserLabel = d.Transcript.UserLabel
	}
	if c.Transcript.AssistantLabel == "" {
		c.Transcript.AssistantLabel = d.Transcript.AssistantLabel
	}
	if c.Transcript.SystemLabel == "" {
		c.Transcript.SystemLabel = d.Transcript.SystemLabel
	}

	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# rigrun-chat configuration file")
	fmt.Fprintln(&buf, "# Environment variables RIGRUN_CHAT_* override these values.")
	fmt.Fprintln(&buf)

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and returns all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Backend.Provider {
	case "ollama", "openai":
	default:
		add("backend.provider", "invalid provider '%s', must be one of: ollama, openai", c.Backend.Provider)
	}
	if c.Backend.URL != "" {
		u, err := url.Parse(c.Backend.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			add("backend.url", "'%s' is not an http(s) URL", c.Backend.URL)
		}
	}

	if c.Timeouts.HealthCheckSecs < 1 || c.Timeouts.HealthCheckSecs > 300 {
		add("timeouts.health_check_timeout_secs", "must be between 1 and 300, got %d", c.Timeouts.HealthCheckSecs)
	}
	if c.Timeouts.StreamIdleSecs < 1 || c.Timeouts.StreamIdleSecs > 3600 {
		add("timeouts.stream_idle_timeout_secs", "must be between 1 and 3600, got %d", c.Timeouts.StreamIdleSecs)
	}
	if c.Timeouts.TurnSecs < 0 {
		add("timeouts.turn_timeout_secs", "must not be negative, got %d", c.Timeouts.TurnSecs)
	}
	if c.Timeouts.RequestSecs < 1 {
		add("timeouts.request_timeout_secs", "must be positive, got %d", c.Timeouts.RequestSecs)
	}

	switch strings.ToLower(c.Recall.Mode) {
	case "single", "stack":
	default:
		add("recall.mode", "invalid mode '%s', must be one of: single, stack", c.Recall.Mode)
	}
	if c.Recall.MaxEntries < 1 || c.Recall.MaxEntries > 10000 {
		add("recall.max_entries", "must be between 1 and 10000, got %d", c.Recall.MaxEntries)
	}

	for field, label := range map[string]string{
		"transcript.user_label":      c.Transcript.UserLabel,
		"transcript.assistant_label": c.Transcript.AssistantLabel,
		"transcript.system_label":    c.Transcript.SystemLabel,
	} {
		if strings.ContainsAny(label, "\r\n") {
			add(field, "must be a single line")
		}
	}

	switch strings.ToLower(c.UI.Theme) {
	case "dark", "light", "auto":
	default:
		add("ui.theme", "invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid level '%s', must be one of: debug, info, warn, error", name)
	}
	return lvl, nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - RIGRUN_CHAT_PROVIDER: overrides backend.provider
//   - RIGRUN_CHAT_URL: overrides backend.url
//   - RIGRUN_CHAT_MODEL: overrides backend.model
//   - RIGRUN_CHAT_API_KEY: overrides backend.api_key
//   - RIGRUN_CHAT_HEALTH_TIMEOUT: overrides timeouts.health_check_timeout_secs
//   - RIGRUN_CHAT_IDLE_TIMEOUT: overrides timeouts.stream_idle_timeout_secs
//   - RIGRUN_CHAT_RECALL_MODE: overrides recall.mode
//   - RIGRUN_CHAT_LOG_LEVEL: overrides log.level
//   - OLLAMA_HOST: overrides backend.url for the ollama provider when
//     RIGRUN_CHAT_URL is unset
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGRUN_CHAT_PROVIDER"); v != "" {
		c.Backend.Provider = v
	}
	if v := os.Getenv("RIGRUN_CHAT_URL"); v != "" {
		c.Backend.URL = v
	} else if v := os.Getenv("OLLAMA_HOST"); v != "" && strings.EqualFold(c.Backend.Provider, "ollama") {
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		c.Backend.URL = v
	}
	if v := os.Getenv("RIGRUN_CHAT_MODEL"); v != "" {
		c.Backend.Model = v
	}
	if v := os.Getenv("RIGRUN_CHAT_API_KEY"); v != "" {
		c.Backend.APIKey = v
	}
	if v, ok := envInt("RIGRUN_CHAT_HEALTH_TIMEOUT"); ok {
		c.Timeouts.HealthCheckSecs = v
	}
	if v, ok := envInt("RIGRUN_CHAT_IDLE_TIMEOUT"); ok {
		c.Timeouts.StreamIdleSecs = v
	}
	if v := os.Getenv("RIGRUN_CHAT_RECALL_MODE"); v != "" {
		c.Recall.Mode = v
	}
	if v := os.Getenv("RIGRUN_CHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("ignoring non-numeric environment override", "key", key, "value", v)
		return 0, false
	}
	return n, true
}

// =============================================================================
// COPY / DISPLAY
// =============================================================================

// Clone creates a copy of the configuration. Config holds no reference types.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as TOML with the API key redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Backend.APIKey != "" {
		safe.Backend.APIKey = "[REDACTED]"
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}
