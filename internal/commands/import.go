package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diogo/quillchat/internal/browser"
	"github.com/diogo/quillchat/internal/config"
)

var importBrowserFlag string

var importCookiesCmd = &cobra.Command{
	Use:   "import-cookies [path]",
	Short: "Import the session cookie from a file or a browser",
	Long: `Import the backend session cookie.

From a JSON file containing either:
1. A list of objects: [{"name": "auth_token", "value": "..."}]
2. A simple dictionary: {"auth_token": "..."}

Or, with --browser, straight from a local browser profile where you are
signed in to the web app (` + strings.Join(browserNames(), ", ") + `, or auto).

Required cookie: auth_token`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch {
		case len(args) == 1 && importBrowserFlag != "":
			return fmt.Errorf("give either a file or --browser, not both")
		case len(args) == 1:
			return runImportCookies(cmd, args[0])
		case importBrowserFlag != "":
			return runImportFromBrowser(cmd, importBrowserFlag)
		default:
			return cmd.Help()
		}
	},
}

func init() {
	importCookiesCmd.Flags().StringVarP(&importBrowserFlag, "browser", "b", "", "Read the cookie from a browser (auto, chrome, firefox, edge, chromium, opera)")
}

func runImportCookies(cmd *cobra.Command, sourcePath string) error {
	if err := config.ImportCookies(sourcePath); err != nil {
		return fmt.Errorf("failed to import cookies: %w", err)
	}

	cookiesPath, _ := config.GetCookiesPath()
	fmt.Fprintf(cmd.OutOrStdout(), "Cookies imported successfully to %s\n", cookiesPath)
	return nil
}

func runImportFromBrowser(cmd *cobra.Command, name string) error {
	target, err := browser.ParseBrowser(name)
	if err != nil {
		return err
	}

	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	backend, err := cfg.RequireBackendURL()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	result, err := browser.ExtractSessionCookies(ctx, target, backend)
	if err != nil {
		if available := browser.ListAvailableBrowsers(ctx); len(available) > 0 {
			return fmt.Errorf("%w (browsers with cookie stores: %s)", err, strings.Join(available, ", "))
		}
		return err
	}

	if err := config.SaveCookies(result.Cookies); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}

	cookiesPath, _ := config.GetCookiesPath()
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d cookies from %s to %s\n", result.Cookies.Len(), result.BrowserName, cookiesPath)
	return nil
}

func browserNames() []string {
	all := browser.AllSupportedBrowsers()
	names := make([]string, len(all))
	for i, b := range all {
		names[i] = b.String()
	}
	return names
}
