package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
)

// Cookies holds the backend session cookies. auth_token is required; any
// other cookie the backend sets is carried along.
type Cookies struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewCookies creates a cookie set from name/value pairs
func NewCookies(values map[string]string) *Cookies {
	c := &Cookies{values: make(map[string]string, len(values))}
	for k, v := range values {
		c.values[k] = v
	}
	return c
}

// AuthToken returns the session cookie value
func (c *Cookies) AuthToken() string {
	return c.Get(models.AuthCookieName)
}

// Get returns one cookie value in a thread-safe manner
func (c *Cookies) Get(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[name]
}

// Set stores one cookie; an empty value deletes it
func (c *Cookies) Set(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]string)
	}
	if value == "" {
		delete(c.values, name)
		return
	}
	c.values[name] = value
}

// Replace swaps the whole set atomically
func (c *Cookies) Replace(values map[string]string) {
	fresh := make(map[string]string, len(values))
	for k, v := range values {
		fresh[k] = v
	}
	c.mu.Lock()
	c.values = fresh
	c.mu.Unlock()
}

// Snapshot returns a copy of all cookies
func (c *Cookies) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Len returns the number of cookies
func (c *Cookies) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Header renders the set as a Cookie request header value, sorted by name
func (c *Cookies) Header() string {
	snap := c.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+snap[name])
	}
	return strings.Join(parts, "; ")
}

// CookieListItem represents a cookie in browser export format
type CookieListItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LoadCookies loads cookies from the default cookies file
func LoadCookies() (*Cookies, error) {
	cookiesPath, err := GetCookiesPath()
	if err != nil {
		return nil, err
	}
	return LoadCookiesFrom(cookiesPath)
}

// LoadCookiesFrom loads cookies from path
func LoadCookiesFrom(path string) (*Cookies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w. Please log in or import cookies first:\n  quillchat login --email <email>\n  quillchat import-cookies <path-to-cookies.json>", apierrors.ErrNoCookies)
		}
		return nil, fmt.Errorf("failed to read cookies file: %w", err)
	}
	return parseCookies(data)
}

// parseCookies parses cookies from JSON data
// Supports both list format [{name, value}] and dict format {name: value}
func parseCookies(data []byte) (*Cookies, error) {
	var dictFormat map[string]string
	if err := json.Unmarshal(data, &dictFormat); err == nil {
		cookies := NewCookies(dictFormat)
		return cookies, ValidateCookies(cookies)
	}

	var listFormat []CookieListItem
	if err := json.Unmarshal(data, &listFormat); err == nil {
		values := make(map[string]string, len(listFormat))
		for _, item := range listFormat {
			if item.Name != "" {
				values[item.Name] = item.Value
			}
		}
		cookies := NewCookies(values)
		return cookies, ValidateCookies(cookies)
	}

	return nil, fmt.Errorf("invalid cookies format: expected list [{name, value}] or dict {name: value}")
}

// SaveCookies saves cookies to the default cookies file
func SaveCookies(cookies *Cookies) error {
	configDir, err := EnsureConfigDir()
	if err != nil {
		return err
	}
	return SaveCookiesTo(filepath.Join(configDir, "cookies.json"), cookies)
}

// SaveCookiesTo writes cookies in list format with owner-only permissions
func SaveCookiesTo(path string, cookies *Cookies) error {
	snap := cookies.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	listFormat := make([]CookieListItem, 0, len(names))
	for _, name := range names {
		listFormat = append(listFormat, CookieListItem{Name: name, Value: snap[name]})
	}

	data, err := json.MarshalIndent(listFormat, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}

	// Write then rename so a concurrent watcher never reads a partial file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookies file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write cookies file: %w", err)
	}
	return nil
}

// ImportCookies imports cookies from a source file
func ImportCookies(sourcePath string) error {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source file not found: %s", sourcePath)
		}
		return fmt.Errorf("could not read file: %w", err)
	}

	cookies, err := parseCookies(data)
	if err != nil {
		return err
	}

	return SaveCookies(cookies)
}

// ValidateCookies checks that the session cookie is present
func ValidateCookies(cookies *Cookies) error {
	if cookies == nil {
		return fmt.Errorf("cookies are nil")
	}
	if cookies.AuthToken() == "" {
		return fmt.Errorf("%w: missing required cookie: %s", apierrors.ErrNoCookies, models.AuthCookieName)
	}
	return nil
}

// WatchCookies reloads cookies whenever the file at path is rewritten, so a
// re-import is picked up by the next credential priming. It blocks until ctx
// is done.
func WatchCookies(ctx context.Context, path string, cookies *Cookies, logger zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create cookie watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: the file is replaced by rename on save.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			fresh, err := LoadCookiesFrom(path)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("ignoring unreadable cookies file")
				continue
			}
			cookies.Replace(fresh.Snapshot())
			logger.Info().Str("path", path).Msg("session cookies reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("cookie watcher error")
		}
	}
}
