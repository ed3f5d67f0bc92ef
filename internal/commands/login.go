package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/diogo/quillchat/internal/api"
	"github.com/diogo/quillchat/internal/config"
	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/logging"
	"github.com/diogo/quillchat/internal/models"
)

var (
	loginEmailFlag    string
	loginRememberFlag bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password and save the session cookie",
	Long: `Sign in to the backend and save the session cookie it issues.

The password is prompted for on a terminal, otherwise the first line of
stdin is used:

  quillchat login --email ada@example.com
  echo "$PASSWORD" | quillchat login --email ada@example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogin(cmd)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and remove the saved session cookie",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogout(cmd)
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmailFlag, "email", "e", "", "Account email")
	loginCmd.Flags().BoolVar(&loginRememberFlag, "remember", false, "Ask the backend for a long-lived session")
}

func runLogin(cmd *cobra.Command) error {
	email := strings.TrimSpace(loginEmailFlag)
	if email == "" {
		return fmt.Errorf("--email is required")
	}

	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	backend, err := cfg.RequireBackendURL()
	if err != nil {
		return err
	}

	password, err := readPassword(cmd)
	if err != nil {
		return err
	}

	logger, closeLog := newFileLogger(cfg)
	defer closeLog()

	cookies := config.NewCookies(nil)
	opts := append([]api.ClientOption{api.WithLogger(logging.Component(logger, "api"))}, extraClientOptions...)
	client, err := api.NewClient(backend, cookies, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	creds := models.LoginRequest{Email: email, Password: password, RememberMe: loginRememberFlag}
	if err := client.Login(commandContext(cmd), creds); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := config.SaveCookies(cookies); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}

	cookiesPath, _ := config.GetCookiesPath()
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s. Session saved to %s\n", email, cookiesPath)
	return nil
}

func runLogout(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	cookies, err := config.LoadCookies()
	if errors.Is(err, apierrors.ErrNoCookies) {
		fmt.Fprintln(out, "Not logged in.")
		return nil
	}
	if err != nil {
		return err
	}

	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	if backend, err := cfg.RequireBackendURL(); err == nil {
		logger, closeLog := newFileLogger(cfg)
		defer closeLog()

		opts := append([]api.ClientOption{api.WithLogger(logging.Component(logger, "api"))}, extraClientOptions...)
		client, err := api.NewClient(backend, cookies, opts...)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Logout(commandContext(cmd)); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: backend logout failed: %v\n", err)
		}
	}

	cookies.Set(models.AuthCookieName, "")
	if err := config.SaveCookies(cookies); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	fmt.Fprintln(out, "Logged out.")
	return nil
}

// readPassword prompts without echo on a terminal and otherwise reads one
// line from stdin
func readPassword(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(data), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("no password given on stdin")
	}
	return password, nil
}
