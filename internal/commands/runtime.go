package commands

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/diogo/quillchat/internal/api"
	"github.com/diogo/quillchat/internal/chat"
	"github.com/diogo/quillchat/internal/config"
	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/history"
	"github.com/diogo/quillchat/internal/logging"
	"github.com/diogo/quillchat/internal/models"
	"github.com/diogo/quillchat/internal/transport"
)

// Delivery paths for a chat turn
const (
	viaChannel = "channel"
	viaSSE     = "sse"
)

const logFileName = "quillchat.log"

// extraClientOptions are appended to every backend client the commands build
var extraClientOptions []api.ClientOption

// Runtime is a connected chat session and the resources behind it
type Runtime struct {
	Session *chat.Session
	Client  *api.Client
	Backend *url.URL
	Logger  zerolog.Logger

	closers []func()
}

// Close tears down the session, then everything it depended on
func (r *Runtime) Close() {
	if r.Session != nil {
		_ = r.Session.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Connect verifies the session cookie, builds the transport selected by via
// and starts a chat session on it. Logs go to the log file in the config
// directory so they never tear the terminal output.
func Connect(ctx context.Context, cfg config.Config, via string, opts ...chat.SessionOption) (*Runtime, error) {
	logger, closeLog := newFileLogger(cfg)
	rt := &Runtime{Logger: logger, closers: []func(){closeLog}}

	client, err := newBackendClient(cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Client = client
	rt.Backend = client.BaseURL()
	rt.closers = append(rt.closers, client.Close)

	if err := client.Init(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	tr, err := newTransport(cfg, client, via, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	rt.closers = append(rt.closers, stopWatch)
	if path, err := config.GetCookiesPath(); err == nil {
		go func() {
			if err := config.WatchCookies(watchCtx, path, client.Cookies(), logging.Component(logger, "cookies")); err != nil {
				logger.Debug().Err(err).Msg("cookie watcher stopped")
			}
		}()
	}

	sessionOpts := append([]chat.SessionOption{
		chat.WithChatOptions(models.ChatOptions{QualityProfile: cfg.QualityProfile}),
		chat.WithSessionLogger(logging.Component(logger, "chat")),
	}, opts...)
	rt.Session = chat.NewSession(tr, sessionOpts...)
	rt.Session.Start(ctx)

	return rt, nil
}

func newBackendClient(cfg config.Config, logger zerolog.Logger) (*api.Client, error) {
	backend, err := cfg.RequireBackendURL()
	if err != nil {
		return nil, err
	}

	cookies, err := config.LoadCookies()
	if err != nil {
		return nil, err
	}

	opts := []api.ClientOption{
		api.WithLogger(logging.Component(logger, "api")),
		api.WithRefreshInterval(cfg.RefreshInterval.Std()),
		api.WithCookieSaver(config.SaveCookies),
	}
	return api.NewClient(backend, cookies, append(opts, extraClientOptions...)...)
}

func newTransport(cfg config.Config, client *api.Client, via string, logger zerolog.Logger) (chat.Transport, error) {
	switch via {
	case viaSSE:
		return api.NewRESTTransport(client, cfg.ReconnectDelay.Std(), logging.Component(logger, "rest")), nil
	case viaChannel, "":
		return transport.New(transport.Config{
			BaseURL:          client.BaseURL(),
			Mode:             cfg.TransportMode(),
			ReconnectDelay:   cfg.ReconnectDelay.Std(),
			HandshakeTimeout: cfg.HandshakeTimeout.Std(),
			PrimeTimeout:     cfg.PrimeTimeout.Std(),
		},
			transport.WithPrimer(client),
			transport.WithLogger(logging.Component(logger, "transport")),
		)
	default:
		return nil, apierrors.NewConfigError("via", fmt.Sprintf("unknown delivery path %q (use %s or %s)", via, viaChannel, viaSSE), nil)
	}
}

// newFileLogger appends JSON logs to the log file. When the file cannot be
// opened logging is disabled.
func newFileLogger(cfg config.Config) (zerolog.Logger, func()) {
	dir, err := config.EnsureConfigDir()
	if err != nil {
		return zerolog.Nop(), func() {}
	}
	f, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Nop(), func() {}
	}
	return newLogger(cfg, f, false), func() { _ = f.Close() }
}

func newLogger(cfg config.Config, out io.Writer, pretty bool) zerolog.Logger {
	return logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: pretty,
		Output: out,
	})
}

// newHistoryRecorder opens the history store when saving is enabled
func newHistoryRecorder(cfg config.Config) (*history.Store, *history.Recorder, error) {
	store, err := openHistoryStore()
	if err != nil {
		return nil, nil, err
	}
	return store, history.NewRecorder(store, cfg.QualityProfile), nil
}

func openHistoryStore() (*history.Store, error) {
	dir, err := config.EnsureConfigDir()
	if err != nil {
		return nil, err
	}
	store, err := history.NewStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

// waitConnected blocks until the session reports a connected channel
func waitConnected(ctx context.Context, session *chat.Session) error {
	if session.Snapshot().Connected() {
		return nil
	}
	for {
		select {
		case snap, ok := <-session.Updates():
			if !ok {
				return apierrors.ErrClosed
			}
			if snap.Connected() {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("%w: gave up waiting for the channel", apierrors.ErrNotConnected)
		}
	}
}
