// Package commands provides CLI commands for quillchat.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/diogo/quillchat/internal/config"
)

var (
	// Global flags
	backendURLFlag string
	transportFlag  string
	logLevelFlag   string
	configFlag     string

	// Ask flags
	outputFlag string
	fileFlag   string
	copyFlag   bool
	viaFlag    string

	// Version info (set at build time)
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "quillchat [prompt]",
	Short: "Terminal client and relay for the Quillium chat backend",
	Long: `quillchat talks to a Quillium chat backend over its real-time channel.
It streams replies, keeps a local history and can run a relay that serves
browsers the same proxy routes as the web app.

Examples:
  quillchat chat                             Start interactive chat
  quillchat login --email ada@example.com    Sign in and save the session
  quillchat import-cookies ~/cookies.json    Import the session cookie
  quillchat import-cookies --browser firefox Read it from a browser
  quillchat "What is Go?"                    Send a single question
  quillchat -f prompt.md                     Read prompt from file
  cat prompt.md | quillchat                  Read prompt from stdin
  quillchat "Hello" -o reply.md              Save the reply to a file
  quillchat serve                            Run the relay server`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("quillchat %s (built %s)\n", Version, BuildTime)
			return nil
		}

		prompt, ok, err := readPrompt(args, fileFlag, os.Stdin)
		if err != nil {
			return err
		}
		if !ok {
			return cmd.Help()
		}

		return runQuery(commandContext(cmd), prompt, !isStdoutTTY())
	},
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, formatErrorMessage(err, "Error"))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendURLFlag, "backend-url", "", "Backend base URL (overrides config and environment)")
	rootCmd.PersistentFlags().StringVar(&transportFlag, "transport", "", "Duplex transport: websocket or socketio")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to the config file")

	rootCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Save the reply to file")
	rootCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Read prompt from file")
	rootCmd.Flags().BoolVar(&copyFlag, "copy", false, "Copy the reply to the clipboard")
	rootCmd.Flags().StringVar(&viaFlag, "via", viaChannel, "Delivery path: channel (duplex) or sse (REST send + event stream)")
	rootCmd.Flags().BoolP("version", "v", false, "Show version and exit")

	deps := NewDependencies()
	rootCmd.AddCommand(NewChatCmd(deps))
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(importCookiesCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(chatsCmd)
}

// readPrompt picks the prompt from --file, then piped stdin, then the
// positional argument. ok is false when there is no input at all.
func readPrompt(args []string, file string, stdin *os.File) (string, bool, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", false, fmt.Errorf("failed to read file: %w", err)
		}
		return string(data), true, nil
	}

	if stdin != nil {
		if stat, err := stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice == 0 {
			data, err := io.ReadAll(stdin)
			if err != nil {
				return "", false, fmt.Errorf("failed to read stdin: %w", err)
			}
			if len(data) > 0 {
				return string(data), true, nil
			}
		}
	}

	if len(args) > 0 {
		return args[0], true, nil
	}
	return "", false, nil
}

// loadSettings loads the config file and applies the global flag overrides
func loadSettings() (config.Config, error) {
	path := configFlag
	if path == "" {
		var err error
		path, err = config.GetConfigPath()
		if err != nil {
			return config.DefaultConfig(), err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	if backendURLFlag != "" {
		cfg.BackendURL = backendURLFlag
	}
	if transportFlag != "" {
		if err := cfg.SetValue("transport", transportFlag); err != nil {
			return cfg, err
		}
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	return cfg, nil
}

// commandContext returns the command context, or Background when RunE is
// invoked outside Execute
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
