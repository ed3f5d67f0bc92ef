// Package browser extracts backend session cookies from installed web browsers.
package browser

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/chrome"
	_ "github.com/browserutils/kooky/browser/chromium"
	_ "github.com/browserutils/kooky/browser/edge"
	_ "github.com/browserutils/kooky/browser/firefox"
	_ "github.com/browserutils/kooky/browser/opera"
	"golang.org/x/net/publicsuffix"

	"github.com/diogo/quillchat/internal/config"
	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
)

// SupportedBrowser represents a supported browser type
type SupportedBrowser string

const (
	BrowserAuto     SupportedBrowser = "auto"
	BrowserChrome   SupportedBrowser = "chrome"
	BrowserChromium SupportedBrowser = "chromium"
	BrowserFirefox  SupportedBrowser = "firefox"
	BrowserEdge     SupportedBrowser = "edge"
	BrowserOpera    SupportedBrowser = "opera"
)

// AllSupportedBrowsers returns the browsers tried by auto detection, in order
func AllSupportedBrowsers() []SupportedBrowser {
	return []SupportedBrowser{
		BrowserChrome,
		BrowserFirefox,
		BrowserEdge,
		BrowserChromium,
		BrowserOpera,
	}
}

func (b SupportedBrowser) String() string {
	return string(b)
}

// ParseBrowser parses a browser string into a SupportedBrowser
func ParseBrowser(s string) (SupportedBrowser, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return BrowserAuto, nil
	case "chrome", "google-chrome":
		return BrowserChrome, nil
	case "chromium":
		return BrowserChromium, nil
	case "firefox", "mozilla", "mozilla-firefox":
		return BrowserFirefox, nil
	case "edge", "microsoft-edge", "msedge":
		return BrowserEdge, nil
	case "opera":
		return BrowserOpera, nil
	default:
		return "", fmt.Errorf("unsupported browser: %s. Supported: chrome, chromium, firefox, edge, opera", s)
	}
}

// ExtractResult contains the result of cookie extraction
type ExtractResult struct {
	Cookies     *config.Cookies
	BrowserName string
}

// ExtractSessionCookies reads the cookies a browser holds for the backend
// host. The result always contains the auth_token cookie.
func ExtractSessionCookies(ctx context.Context, browser SupportedBrowser, backend *url.URL) (*ExtractResult, error) {
	host := backend.Hostname()
	if host == "" {
		return nil, apierrors.NewConfigError("backend_url", "backend URL has no host", apierrors.ErrMissingBackendURL)
	}

	if browser != BrowserAuto {
		return extractFromBrowser(ctx, browser, host)
	}

	var lastErr error
	for _, b := range AllSupportedBrowsers() {
		result, err := extractFromBrowser(ctx, b, host)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("could not find a %s cookie for %s in any browser: %w", models.AuthCookieName, host, lastErr)
}

// extractFromBrowser tries every profile of one browser
func extractFromBrowser(ctx context.Context, browser SupportedBrowser, host string) (*ExtractResult, error) {
	var matching []kooky.CookieStore
	for _, store := range kooky.FindAllCookieStores(ctx) {
		if matchesBrowser(store.Browser(), browser) {
			matching = append(matching, store)
		} else {
			_ = store.Close()
		}
	}
	defer func() {
		for _, s := range matching {
			_ = s.Close()
		}
	}()

	if len(matching) == 0 {
		return nil, fmt.Errorf("browser %s not found or no cookie store available", browser)
	}

	var lastErr error
	for _, store := range matching {
		result, err := extractFromStore(ctx, store, host)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// matchesBrowser checks if a browser name matches the target browser
func matchesBrowser(browserName string, target SupportedBrowser) bool {
	name := strings.ToLower(browserName)

	switch target {
	case BrowserChrome:
		return strings.Contains(name, "chrome") && !strings.Contains(name, "chromium")
	case BrowserChromium:
		return strings.Contains(name, "chromium")
	case BrowserFirefox:
		return strings.Contains(name, "firefox")
	case BrowserEdge:
		return strings.Contains(name, "edge")
	case BrowserOpera:
		return strings.Contains(name, "opera")
	default:
		return false
	}
}

func extractFromStore(ctx context.Context, store kooky.CookieStore, host string) (*ExtractResult, error) {
	var found []storedCookie
	for cookie := range store.TraverseCookies(kooky.Valid, kooky.DomainContains(cookieScope(host))).OnlyCookies() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found = append(found, storedCookie{Name: cookie.Name, Value: cookie.Value, Domain: cookie.Domain})
	}

	name := store.Browser()
	if profile := store.Profile(); profile != "" {
		name = fmt.Sprintf("%s (profile: %s)", name, profile)
	}

	values := pickCookies(found, host)
	if values[models.AuthCookieName] == "" {
		return nil, fmt.Errorf("cookie %s for %s not found in %s. Please log in to the web app first",
			models.AuthCookieName, host, name)
	}

	return &ExtractResult{Cookies: config.NewCookies(values), BrowserName: name}, nil
}

type storedCookie struct {
	Name   string
	Value  string
	Domain string
}

// cookieScope returns the registrable domain of host, which bounds the
// cookies a browser could send to it
func cookieScope(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	if scope, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return scope
	}
	return host
}

// pickCookies keeps the cookies a browser would send to host. A cookie set
// on the exact host wins over one set on a parent domain.
func pickCookies(cookies []storedCookie, host string) map[string]string {
	host = strings.ToLower(host)
	out := make(map[string]string)
	exact := make(map[string]bool)

	for _, c := range cookies {
		domain := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
		isExact := domain == host
		if !isExact && !strings.HasSuffix(host, "."+domain) {
			continue
		}
		if _, seen := out[c.Name]; seen && (exact[c.Name] || !isExact) {
			continue
		}
		out[c.Name] = c.Value
		exact[c.Name] = isExact
	}
	return out
}

// ListAvailableBrowsers returns the browsers that have cookie stores
func ListAvailableBrowsers(ctx context.Context) []string {
	var browsers []string
	seen := make(map[string]bool)
	for _, store := range kooky.FindAllCookieStores(ctx) {
		if name := store.Browser(); !seen[name] {
			browsers = append(browsers, name)
			seen[name] = true
		}
		_ = store.Close()
	}
	return browsers
}
