package commands

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/diogo/quillchat/internal/api"
	"github.com/diogo/quillchat/internal/logging"
	"github.com/diogo/quillchat/internal/relay"
)

var (
	listenFlag  string
	originsFlag []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Long: `Run an HTTP relay in front of the backend.

Browsers reach the backend through the relay's proxy routes: session info
and refresh, chat history, REST send, the /api/chat/stream event stream and
a /ws bridge to the backend's duplex channel. Prometheus metrics are served
at /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenFlag, "listen", "", "Listen address (default from listen_addr)")
	serveCmd.Flags().StringSliceVar(&originsFlag, "origin", nil, "Allowed CORS origin (repeatable, default from allowed_origins)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	if listenFlag != "" {
		cfg.ListenAddr = listenFlag
	}
	if len(originsFlag) > 0 {
		cfg.AllowedOrigins = originsFlag
	}

	logger := newLogger(cfg, os.Stderr, cfg.LogPretty || term.IsTerminal(int(os.Stderr.Fd())))

	backend, err := cfg.RequireBackendURL()
	if err != nil {
		return err
	}

	// The relay forwards each browser's own cookie, so the client holds none
	client, err := api.NewClient(backend, nil, api.WithLogger(logging.Component(logger, "api")))
	if err != nil {
		return err
	}
	defer client.Close()

	srv, err := relay.New(client, relay.Options{
		BackendURL:     backend,
		AllowedOrigins: cfg.AllowedOrigins,
		PingInterval:   cfg.SSEPingInterval.Std(),
		Logger:         logging.Component(logger, "relay"),
	})
	if err != nil {
		return err
	}

	return srv.ListenAndServe(commandContext(cmd), cfg.ListenAddr)
}
