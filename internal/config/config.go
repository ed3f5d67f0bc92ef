// Package config handles configuration and session cookie management for quillchat.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
)

// EnvPrefix prefixes every environment override, e.g. QUILLCHAT_LOG_LEVEL.
const EnvPrefix = "QUILLCHAT"

// backendURLEnv lists the variables consulted for the backend URL, in order.
// BACKEND_API_URL is the client-side name and BACKEND_URL the server-side one.
var backendURLEnv = []string{"QUILLCHAT_BACKEND_URL", "BACKEND_API_URL", "BACKEND_URL"}

// MarkdownConfig configures markdown rendering options
type MarkdownConfig struct {
	Style            string `json:"style"`             // "dark", "light", "auto" or path to JSON theme
	Width            int    `json:"width"`             // 0 uses the terminal width
	EnableEmoji      bool   `json:"enable_emoji"`      // Convert :emoji: to unicode
	PreserveNewLines bool   `json:"preserve_newlines"` // Preserve original line breaks
}

// Config represents the user configuration
type Config struct {
	BackendURL string `json:"backend_url,omitempty"`
	// Transport selects "websocket" (path /ws) or "socketio" (path /socket.io/).
	Transport        string   `json:"transport"`
	ReconnectDelay   Duration `json:"reconnect_delay"`
	HandshakeTimeout Duration `json:"handshake_timeout"`
	PrimeTimeout     Duration `json:"prime_timeout"`
	// RefreshInterval enables periodic session refresh; 0 disables it.
	RefreshInterval Duration `json:"refresh_interval"`

	ListenAddr      string   `json:"listen_addr"`
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`
	SSEPingInterval Duration `json:"sse_ping_interval"`

	QualityProfile  string         `json:"quality_profile"`
	LogLevel        string         `json:"log_level"`
	LogPretty       bool           `json:"log_pretty"`
	SaveHistory     bool           `json:"save_history"`
	CopyToClipboard bool           `json:"copy_to_clipboard"`
	TUITheme        string         `json:"tui_theme,omitempty"`
	Markdown        MarkdownConfig `json:"markdown"`
}

// DefaultMarkdownConfig returns the default markdown configuration
func DefaultMarkdownConfig() MarkdownConfig {
	return MarkdownConfig{
		Style:            "dark",
		EnableEmoji:      true,
		PreserveNewLines: true,
	}
}

// DefaultConfig returns the default configuration. It has no backend URL.
func DefaultConfig() Config {
	return Config{
		Transport:        string(models.TransportWebSocket),
		ReconnectDelay:   Duration(models.DefaultReconnectDelay),
		HandshakeTimeout: Duration(models.DefaultHandshakeTimeout),
		PrimeTimeout:     Duration(models.DefaultPrimeTimeout),
		ListenAddr:       ":3000",
		SSEPingInterval:  Duration(models.DefaultSSEPingInterval),
		QualityProfile:   models.DefaultQualityProfile,
		LogLevel:         "info",
		SaveHistory:      true,
		TUITheme:         "tokyonight",
		Markdown:         DefaultMarkdownConfig(),
	}
}

// RequireBackendURL validates and returns the backend base URL. A missing
// value is a deployment error and is reported, never defaulted.
func (c Config) RequireBackendURL() (*url.URL, error) {
	raw := strings.TrimSpace(c.BackendURL)
	if raw == "" {
		return nil, apierrors.NewConfigError("backend_url",
			"set "+strings.Join(backendURLEnv, " or ")+", or backend_url in the config file",
			apierrors.ErrMissingBackendURL)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apierrors.NewConfigError("backend_url",
			fmt.Sprintf("%q is not an absolute http(s) URL", raw), err)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// TransportMode returns the parsed transport setting.
func (c Config) TransportMode() models.TransportMode {
	return models.ParseTransportMode(c.Transport)
}

// GetConfigDir returns the configuration directory path.
// QUILLCHAT_CONFIG_DIR overrides the default ~/.quillchat.
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".quillchat"), nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist
func EnsureConfigDir() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}

	// 0o700: the directory holds the session cookie
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.json"), nil
}

// GetCookiesPath returns the path to the cookies file
func GetCookiesPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "cookies.json"), nil
}

// GetHistoryDir returns the directory of the local conversation store
func GetHistoryDir() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "history"), nil
}

// LoadConfig loads the configuration from the default path
func LoadConfig() (Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}
	return Load(path)
}

// Load layers defaults, the JSON file at path (optional) and environment
// variables, in increasing precedence.
func Load(path string) (Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return fromViper(v), nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(append([]string{"backend_url"}, backendURLEnv...)...)

	d := DefaultConfig()
	v.SetDefault("backend_url", d.BackendURL)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("reconnect_delay", d.ReconnectDelay.String())
	v.SetDefault("handshake_timeout", d.HandshakeTimeout.String())
	v.SetDefault("prime_timeout", d.PrimeTimeout.String())
	v.SetDefault("refresh_interval", d.RefreshInterval.String())
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("allowed_origins", d.AllowedOrigins)
	v.SetDefault("sse_ping_interval", d.SSEPingInterval.String())
	v.SetDefault("quality_profile", d.QualityProfile)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
	v.SetDefault("save_history", d.SaveHistory)
	v.SetDefault("copy_to_clipboard", d.CopyToClipboard)
	v.SetDefault("tui_theme", d.TUITheme)
	v.SetDefault("markdown.style", d.Markdown.Style)
	v.SetDefault("markdown.width", d.Markdown.Width)
	v.SetDefault("markdown.enable_emoji", d.Markdown.EnableEmoji)
	v.SetDefault("markdown.preserve_newlines", d.Markdown.PreserveNewLines)
	return v
}

func fromViper(v *viper.Viper) Config {
	return Config{
		BackendURL:       strings.TrimSpace(v.GetString("backend_url")),
		Transport:        v.GetString("transport"),
		ReconnectDelay:   Duration(v.GetDuration("reconnect_delay")),
		HandshakeTimeout: Duration(v.GetDuration("handshake_timeout")),
		PrimeTimeout:     Duration(v.GetDuration("prime_timeout")),
		RefreshInterval:  Duration(v.GetDuration("refresh_interval")),
		ListenAddr:       v.GetString("listen_addr"),
		AllowedOrigins:   v.GetStringSlice("allowed_origins"),
		SSEPingInterval:  Duration(v.GetDuration("sse_ping_interval")),
		QualityProfile:   v.GetString("quality_profile"),
		LogLevel:         v.GetString("log_level"),
		LogPretty:        v.GetBool("log_pretty"),
		SaveHistory:      v.GetBool("save_history"),
		CopyToClipboard:  v.GetBool("copy_to_clipboard"),
		TUITheme:         v.GetString("tui_theme"),
		Markdown: MarkdownConfig{
			Style:            v.GetString("markdown.style"),
			Width:            v.GetInt("markdown.width"),
			EnableEmoji:      v.GetBool("markdown.enable_emoji"),
			PreserveNewLines: v.GetBool("markdown.preserve_newlines"),
		},
	}
}

// SaveConfigTo writes cfg as indented JSON with owner-only permissions
func SaveConfigTo(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Keys lists the settable configuration keys.
func Keys() []string {
	return []string{
		"backend_url", "transport", "reconnect_delay", "handshake_timeout", "prime_timeout",
		"refresh_interval", "listen_addr", "allowed_origins", "sse_ping_interval",
		"quality_profile", "log_level", "log_pretty", "save_history", "copy_to_clipboard",
		"tui_theme", "markdown.style", "markdown.width", "markdown.enable_emoji",
		"markdown.preserve_newlines",
	}
}

// SetValue parses value and assigns it to key.
func (c *Config) SetValue(key, value string) error {
	value = strings.TrimSpace(value)
	var err error
	switch key {
	case "backend_url":
		c.BackendURL = value
		if value != "" {
			_, err = c.RequireBackendURL()
		}
	case "transport":
		switch value {
		case "websocket", "socketio", "socket.io", "sio":
			c.Transport = string(models.ParseTransportMode(value))
		default:
			return fmt.Errorf("transport must be %q or %q", models.TransportWebSocket, models.TransportSocketIO)
		}
	case "reconnect_delay":
		err = c.ReconnectDelay.Set(value)
	case "handshake_timeout":
		err = c.HandshakeTimeout.Set(value)
	case "prime_timeout":
		err = c.PrimeTimeout.Set(value)
	case "refresh_interval":
		err = c.RefreshInterval.Set(value)
	case "sse_ping_interval":
		err = c.SSEPingInterval.Set(value)
	case "listen_addr":
		c.ListenAddr = value
	case "allowed_origins":
		c.AllowedOrigins = splitList(value)
	case "quality_profile":
		c.QualityProfile = value
	case "log_level":
		c.LogLevel = value
	case "log_pretty":
		c.LogPretty, err = strconv.ParseBool(value)
	case "save_history":
		c.SaveHistory, err = strconv.ParseBool(value)
	case "copy_to_clipboard":
		c.CopyToClipboard, err = strconv.ParseBool(value)
	case "tui_theme":
		c.TUITheme = value
	case "markdown.style":
		c.Markdown.Style = value
	case "markdown.width":
		c.Markdown.Width, err = strconv.Atoi(value)
	case "markdown.enable_emoji":
		c.Markdown.EnableEmoji, err = strconv.ParseBool(value)
	case "markdown.preserve_newlines":
		c.Markdown.PreserveNewLines, err = strconv.ParseBool(value)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

// Duration is a time.Duration that reads and writes as "3s" in JSON.
type Duration time.Duration

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Set parses a Go duration string, or a bare number of seconds.
func (d *Duration) Set(s string) error {
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.Set(s)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string like \"3s\": %w", err)
	}
	*d = Duration(time.Duration(n))
	return nil
}
