// Package api provides the HTTP client for the Quillium chat backend.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/rs/zerolog"

	"github.com/diogo/quillchat/internal/config"
	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
)

// HTTPDoer executes a request. tls_client.HttpClient satisfies it.
type HTTPDoer interface {
	Do(req *fhttp.Request) (*fhttp.Response, error)
}

// ClientInterface defines the backend operations used by commands and the TUI
type ClientInterface interface {
	Init(ctx context.Context) error
	Close()
	Prime(ctx context.Context) (http.Header, error)
	UserInfo(ctx context.Context) (models.UserInfo, error)
	RefreshSession(ctx context.Context) error
	Login(ctx context.Context, creds models.LoginRequest) error
	Logout(ctx context.Context) error
	ListChats(ctx context.Context) ([]models.ChatSummary, error)
	GetChat(ctx context.Context, id string) (models.ChatTranscript, error)
	SendChat(ctx context.Context, req models.ChatRequest) (SendResult, error)
	StreamChat(ctx context.Context, chatID string, fn func(models.Envelope) error) error
	Health(ctx context.Context) error
}

var _ ClientInterface = (*Client)(nil)

// Client talks to the backend REST and event-stream endpoints
type Client struct {
	baseURL      *url.URL
	httpClient   HTTPDoer
	streamClient HTTPDoer
	cookies      *config.Cookies
	saveCookies  func(*config.Cookies) error
	logger       zerolog.Logger

	refreshInterval time.Duration
	refresher       *SessionRefresher

	mu     sync.RWMutex
	closed bool
}

// ClientOption is a function that configures the client
type ClientOption func(*Client)

// WithHTTPClient replaces both the request and the streaming HTTP clients
func WithHTTPClient(doer HTTPDoer) ClientOption {
	return func(c *Client) {
		c.httpClient = doer
		c.streamClient = doer
	}
}

// WithLogger sets the client logger
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithRefreshInterval enables periodic session refresh after Init
func WithRefreshInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.refreshInterval = interval
	}
}

// WithCookieSaver persists the cookie store whenever the backend rotates it
func WithCookieSaver(save func(*config.Cookies) error) ClientOption {
	return func(c *Client) {
		c.saveCookies = save
	}
}

// NewClient creates a client for the backend at baseURL. cookies may be nil
// when the client only forwards requests on behalf of browsers.
func NewClient(baseURL *url.URL, cookies *config.Cookies, opts ...ClientOption) (*Client, error) {
	if baseURL == nil {
		return nil, apierrors.NewConfigError("backend_url", "required by the API client", apierrors.ErrMissingBackendURL)
	}
	if cookies == nil {
		cookies = config.NewCookies(nil)
	}

	client := &Client{
		baseURL: baseURL,
		cookies: cookies,
		logger:  zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.httpClient == nil {
		httpClient, err := newTLSClient(60)
		if err != nil {
			return nil, err
		}
		client.httpClient = httpClient
	}
	if client.streamClient == nil {
		// Event streams stay open for the whole reply
		streamClient, err := newTLSClient(0)
		if err != nil {
			return nil, err
		}
		client.streamClient = streamClient
	}

	return client, nil
}

func newTLSClient(timeoutSeconds int) (tls_client.HttpClient, error) {
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(timeoutSeconds),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithNotFollowRedirects(),
	}

	httpClient, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return httpClient, nil
}

// Init verifies the session cookie and starts the refresher when enabled
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return apierrors.ErrClosed
	}

	if _, err := c.UserInfo(ctx); err != nil {
		return err
	}

	if c.refreshInterval > 0 && c.refresher == nil {
		c.refresher = NewSessionRefresher(c, c.refreshInterval, c.logger)
		c.refresher.Start()
	}

	return nil
}

// Close shuts down the client and stops background tasks
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true

	if c.refresher != nil {
		c.refresher.Stop()
	}
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Cookies returns the live cookie store
func (c *Client) Cookies() *config.Cookies {
	return c.cookies
}

// BaseURL returns a copy of the backend base URL
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}
