// Package relay serves the browser-facing proxy in front of the chat backend:
// JSON pass-through routes, the event-stream re-emitter and the duplex bridge.
package relay

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/diogo/quillchat/internal/api"
	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
	"github.com/diogo/quillchat/internal/transport"
)

// Backend performs requests on behalf of browsers. *api.Client implements it.
type Backend interface {
	Forward(ctx context.Context, method, endpoint, rawQuery string, header http.Header, body []byte) (*api.Response, error)
	OpenStream(ctx context.Context, endpoint string, query url.Values, header http.Header) (*api.Stream, error)
}

var _ Backend = (*api.Client)(nil)

// Options configures a Server
type Options struct {
	// BackendURL is the backend base URL; the bridge dials its /ws endpoint.
	BackendURL     *url.URL
	AllowedOrigins []string
	PingInterval   time.Duration
	// Dialer opens bridge connections. Defaults to transport.WebSocketDialer.
	Dialer transport.Dialer
	Logger zerolog.Logger
}

// Server is the relay HTTP server
type Server struct {
	backend   Backend
	dialer    transport.Dialer
	bridgeURL string
	origins   []string
	ping      time.Duration
	logger    zerolog.Logger
	router    *mux.Router
}

// New builds the relay and its routes
func New(backend Backend, opts Options) (*Server, error) {
	if opts.BackendURL == nil {
		return nil, apierrors.NewConfigError("backend_url", "required by the relay", apierrors.ErrMissingBackendURL)
	}
	bridgeURL, err := transport.EndpointURL(opts.BackendURL, models.TransportWebSocket)
	if err != nil {
		return nil, apierrors.NewConfigError("backend_url", err.Error(), err)
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = models.DefaultSSEPingInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = transport.WebSocketDialer{HandshakeTimeout: models.DefaultHandshakeTimeout}
	}

	s := &Server{
		backend:   backend,
		dialer:    opts.Dialer,
		bridgeURL: bridgeURL,
		origins:   opts.AllowedOrigins,
		ping:      opts.PingInterval,
		logger:    opts.Logger,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(s.recovery)

	r.HandleFunc(models.EndpointHealthz, s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc(models.EndpointUserInfo,
		s.handleSession(sessionRoute{withCookie: true, mapUnauthorized: true})).Methods(http.MethodGet)
	r.HandleFunc(models.EndpointAuthRefresh,
		s.handleSession(sessionRoute{withCookie: true})).Methods(http.MethodPost)
	r.HandleFunc(models.EndpointAuthLogin,
		s.handleSession(sessionRoute{withBody: true, errorKey: "message"})).Methods(http.MethodPost)
	r.HandleFunc(models.EndpointAuthLogout,
		s.handleSession(sessionRoute{withCookie: true})).Methods(http.MethodPost)
	// POST is kept for older clients
	r.HandleFunc(models.EndpointUserUpdate,
		s.handleSession(sessionRoute{withBody: true, withCookie: true})).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc(models.EndpointUserDelete,
		s.handleSession(sessionRoute{withCookie: true})).Methods(http.MethodDelete)
	r.HandleFunc(models.EndpointUserChats, s.handleChats).Methods(http.MethodGet)
	r.HandleFunc(models.EndpointUserChat+"{id}", s.handleChat).Methods(http.MethodGet)
	r.HandleFunc(models.EndpointChatSend, s.handleSend).Methods(http.MethodPost)
	r.HandleFunc(models.EndpointChatStream, s.handleStream).Methods(http.MethodGet)
	r.HandleFunc(models.EndpointWebSocket, s.handleBridge).Methods(http.MethodGet)
	r.Handle(models.EndpointMetrics, promhttp.Handler()).Methods(http.MethodGet)

	return r
}

// Router returns the route table without CORS
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped with CORS handling for the configured
// origins. With none configured the relay is same-origin only and no CORS
// headers are sent.
func (s *Server) Handler() http.Handler {
	if len(s.origins) == 0 {
		return s.router
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Content-Type", "Authorization", models.RequestIDHeader},
		ExposedHeaders:   []string{models.RequestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: event streams stay open for the whole reply
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Str("backend", s.bridgeURL).Msg("relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("relay forced to shut down")
		return err
	}
	return nil
}
