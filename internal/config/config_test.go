package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
)

// isolateEnv points the config dir at a temp dir and clears backend overrides.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("QUILLCHAT_CONFIG_DIR", dir)
	for _, name := range backendURLEnv {
		t.Setenv(name, "")
	}
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BackendURL != "" {
		t.Errorf("Expected no default backend URL, got %q", cfg.BackendURL)
	}
	if cfg.TransportMode() != models.TransportWebSocket {
		t.Errorf("Expected websocket transport, got %q", cfg.Transport)
	}
	if cfg.ReconnectDelay.Std() != 3*time.Second {
		t.Errorf("Expected 3s reconnect delay, got %s", cfg.ReconnectDelay)
	}
	if cfg.SSEPingInterval.Std() != 15*time.Second {
		t.Errorf("Expected 15s ping interval, got %s", cfg.SSEPingInterval)
	}
	if cfg.ListenAddr != ":3000" {
		t.Errorf("Expected listen addr :3000, got %q", cfg.ListenAddr)
	}
	if !cfg.SaveHistory {
		t.Error("Expected SaveHistory to default to true")
	}
}

func TestGetConfigDir_Override(t *testing.T) {
	dir := isolateEnv(t)

	got, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() returned error: %v", err)
	}
	if got != dir {
		t.Errorf("GetConfigDir() = %q, want %q", got, dir)
	}

	path, _ := GetConfigPath()
	if path != filepath.Join(dir, "config.json") {
		t.Errorf("GetConfigPath() = %q", path)
	}
	hist, _ := GetHistoryDir()
	if hist != filepath.Join(dir, "history") {
		t.Errorf("GetHistoryDir() = %q", hist)
	}
}

func TestLoadConfig_FileNotExists(t *testing.T) {
	isolateEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() returned error: %v", err)
	}
	if cfg.Transport != DefaultConfig().Transport {
		t.Errorf("Expected default transport, got %q", cfg.Transport)
	}
	if cfg.ReconnectDelay != DefaultConfig().ReconnectDelay {
		t.Errorf("Expected default reconnect delay, got %s", cfg.ReconnectDelay)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "config.json")
	content := `{
  "backend_url": "https://api.example.com/",
  "transport": "socketio",
  "reconnect_delay": "5s",
  "allowed_origins": ["https://app.example.com"],
  "markdown": {"style": "light", "width": 100}
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.BackendURL != "https://api.example.com/" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.TransportMode() != models.TransportSocketIO {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if cfg.ReconnectDelay.Std() != 5*time.Second {
		t.Errorf("ReconnectDelay = %s", cfg.ReconnectDelay)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.Markdown.Style != "light" || cfg.Markdown.Width != 100 {
		t.Errorf("Markdown = %+v", cfg.Markdown)
	}
	// Untouched keys keep their defaults
	if cfg.PrimeTimeout != DefaultConfig().PrimeTimeout {
		t.Errorf("PrimeTimeout = %s", cfg.PrimeTimeout)
	}
	if !cfg.Markdown.EnableEmoji {
		t.Error("Expected markdown.enable_emoji default to survive")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed config file")
	}
}

func TestLoad_BackendURLPrecedence(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"server-side name", map[string]string{"BACKEND_URL": "http://server:8000"}, "http://server:8000"},
		{"client-side name wins over server-side", map[string]string{
			"BACKEND_URL":     "http://server:8000",
			"BACKEND_API_URL": "http://client:8000",
		}, "http://client:8000"},
		{"prefixed name wins", map[string]string{
			"BACKEND_URL":           "http://server:8000",
			"BACKEND_API_URL":       "http://client:8000",
			"QUILLCHAT_BACKEND_URL": "http://prefixed:8000",
		}, "http://prefixed:8000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolateEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(filepath.Join(dir, "config.json"))
			if err != nil {
				t.Fatalf("Load() returned error: %v", err)
			}
			if cfg.BackendURL != tt.want {
				t.Errorf("BackendURL = %q, want %q", cfg.BackendURL, tt.want)
			}
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"log_level":"warn"}`), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("QUILLCHAT_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestRequireBackendURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		missing bool
		wantErr bool
	}{
		{name: "empty", raw: "", missing: true, wantErr: true},
		{name: "whitespace", raw: "   ", missing: true, wantErr: true},
		{name: "relative", raw: "api.example.com", wantErr: true},
		{name: "wrong scheme", raw: "ftp://api.example.com", wantErr: true},
		{name: "trailing slash", raw: "https://api.example.com/", want: "https://api.example.com"},
		{name: "with path", raw: "http://localhost:8000/backend/?x=1", want: "http://localhost:8000/backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{BackendURL: tt.raw}
			u, err := cfg.RequireBackendURL()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %q", tt.raw)
				}
				var cfgErr *apierrors.ConfigError
				if !errors.As(err, &cfgErr) {
					t.Errorf("Expected ConfigError, got %T", err)
				}
				if tt.missing && !errors.Is(err, apierrors.ErrMissingBackendURL) {
					t.Errorf("Expected ErrMissingBackendURL, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if u.String() != tt.want {
				t.Errorf("RequireBackendURL() = %q, want %q", u.String(), tt.want)
			}
		})
	}
}

func TestSaveConfigTo_RoundTrip(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg.BackendURL = "https://api.example.com"
	cfg.ReconnectDelay = Duration(7 * time.Second)
	cfg.AllowedOrigins = []string{"https://a.example", "https://b.example"}

	if err := SaveConfigTo(path, cfg); err != nil {
		t.Fatalf("SaveConfigTo() returned error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() returned error: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected 0600 permissions, got %o", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if loaded.BackendURL != cfg.BackendURL {
		t.Errorf("BackendURL = %q", loaded.BackendURL)
	}
	if loaded.ReconnectDelay != cfg.ReconnectDelay {
		t.Errorf("ReconnectDelay = %s", loaded.ReconnectDelay)
	}
	if len(loaded.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v", loaded.AllowedOrigins)
	}
}

func TestSetValue(t *testing.T) {
	cfg := DefaultConfig()

	valid := map[string]string{
		"transport":         "socket.io",
		"reconnect_delay":   "10",
		"prime_timeout":     "1m",
		"allowed_origins":   "https://a.example, https://b.example",
		"log_pretty":        "true",
		"markdown.width":    "120",
		"backend_url":       "http://localhost:8000",
		"sse_ping_interval": "30s",
	}
	for k, v := range valid {
		if err := cfg.SetValue(k, v); err != nil {
			t.Errorf("SetValue(%q, %q) returned error: %v", k, v, err)
		}
	}

	if cfg.TransportMode() != models.TransportSocketIO {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if cfg.ReconnectDelay.Std() != 10*time.Second {
		t.Errorf("ReconnectDelay = %s", cfg.ReconnectDelay)
	}
	if cfg.PrimeTimeout.Std() != time.Minute {
		t.Errorf("PrimeTimeout = %s", cfg.PrimeTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if !cfg.LogPretty || cfg.Markdown.Width != 120 {
		t.Errorf("LogPretty=%v Width=%d", cfg.LogPretty, cfg.Markdown.Width)
	}

	invalid := map[string]string{
		"transport":       "carrier-pigeon",
		"reconnect_delay": "soon",
		"log_pretty":      "maybe",
		"backend_url":     "not a url",
		"no_such_key":     "x",
	}
	for k, v := range invalid {
		if err := cfg.SetValue(k, v); err == nil {
			t.Errorf("SetValue(%q, %q) expected error", k, v)
		}
	}
}

func TestDuration_JSON(t *testing.T) {
	var holder struct {
		D Duration `json:"d"`
	}

	if err := json.Unmarshal([]byte(`{"d":"250ms"}`), &holder); err != nil {
		t.Fatalf("Unmarshal string: %v", err)
	}
	if holder.D.Std() != 250*time.Millisecond {
		t.Errorf("D = %s", holder.D)
	}

	if err := json.Unmarshal([]byte(`{"d":1000000000}`), &holder); err != nil {
		t.Fatalf("Unmarshal number: %v", err)
	}
	if holder.D.Std() != time.Second {
		t.Errorf("D = %s", holder.D)
	}

	data, err := json.Marshal(holder)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"d":"1s"}` {
		t.Errorf("Marshal = %s", data)
	}

	if err := json.Unmarshal([]byte(`{"d":true}`), &holder); err == nil {
		t.Error("Expected error for boolean duration")
	}
}

func TestKeysAreSettable(t *testing.T) {
	for _, key := range Keys() {
		cfg := DefaultConfig()
		err := cfg.SetValue(key, "")
		// Empty values may fail validation, but never as an unknown key
		if err != nil && err.Error() == `unknown config key "`+key+`"` {
			t.Errorf("Key %q listed but not settable", key)
		}
	}
}
