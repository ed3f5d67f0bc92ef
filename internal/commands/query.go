package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/diogo/quillchat/internal/chat"
	"github.com/diogo/quillchat/internal/config"
	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
	"github.com/diogo/quillchat/internal/render"
)

// connectTimeout bounds how long a one-shot question waits for the channel
const connectTimeout = 30 * time.Second

// Gradient colors for animation
var gradientColors = []lipgloss.Color{
	lipgloss.Color("#ff6b6b"),
	lipgloss.Color("#feca57"),
	lipgloss.Color("#48dbfb"),
	lipgloss.Color("#ff9ff3"),
	lipgloss.Color("#54a0ff"),
	lipgloss.Color("#1dd1a1"),
}

var (
	colorText     = lipgloss.Color("#c0caf5")
	colorTextDim  = lipgloss.Color("#565f89")
	colorTextMute = lipgloss.Color("#3b4261")
	colorSuccess  = lipgloss.Color("#9ece6a")
	colorPrimary  = lipgloss.Color("#7aa2f7")
	colorError    = lipgloss.Color("#f7768e")
)

// Styles matching the chat TUI
var (
	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(colorPrimary).
				Bold(true)

	assistantBubbleStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(colorPrimary).
				Foreground(colorText).
				Padding(0, 1).
				MarginTop(1).
				MarginBottom(1)
)

// spinner handles the animated loading indicator
type spinner struct {
	message string
	out     io.Writer
	stop    chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	frame   int
	stopped bool
}

// newSpinner creates a new animated spinner on stderr
func newSpinner(message string) *spinner {
	return &spinner{
		message: message,
		out:     os.Stderr,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// start begins the animation
func (s *spinner) start() {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		fmt.Fprint(s.out, "\033[?25l")

		for {
			select {
			case <-s.stop:
				fmt.Fprint(s.out, "\r\033[K\033[?25h")
				return
			case <-ticker.C:
				s.mu.Lock()
				s.render()
				s.frame++
				s.mu.Unlock()
			}
		}
	}()
}

// render draws the current animation frame
func (s *spinner) render() {
	chars := []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

	spinColor := gradientColors[s.frame%len(gradientColors)]
	spinnerChar := lipgloss.NewStyle().Foreground(spinColor).Bold(true).Render(chars[s.frame%len(chars)])

	var dots strings.Builder
	numDots := (s.frame / 3) % 4
	for i := 0; i < 3; i++ {
		if i < numDots {
			dotColor := gradientColors[(s.frame+i)%len(gradientColors)]
			dots.WriteString(lipgloss.NewStyle().Foreground(dotColor).Render("●"))
		} else {
			dots.WriteString(lipgloss.NewStyle().Foreground(colorTextMute).Render("○"))
		}
	}

	msg := lipgloss.NewStyle().Foreground(colorText).Render(s.message)
	fmt.Fprintf(s.out, "\r\033[K%s %s %s", spinnerChar, msg, dots.String())
}

// stopOnce safely closes the stop channel only once
func (s *spinner) stopOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		close(s.stop)
		s.stopped = true
	}
}

// stopWithSuccess stops the spinner and shows success message
func (s *spinner) stopWithSuccess(message string) {
	s.stopOnce()
	<-s.done

	checkmark := lipgloss.NewStyle().Foreground(colorSuccess).Bold(true).Render("✓")
	msg := lipgloss.NewStyle().Foreground(colorSuccess).Render(message)
	fmt.Fprintf(s.out, "%s %s\n", checkmark, msg)
}

// stopWithError stops the spinner and shows error
func (s *spinner) stopWithError() {
	s.stopOnce()
	<-s.done
}

// progress wraps an optional spinner so raw output mode stays silent
type progress struct {
	enabled bool
	spin    *spinner
}

func (p *progress) begin(message string) {
	if !p.enabled {
		return
	}
	p.spin = newSpinner(message)
	p.spin.start()
}

func (p *progress) succeed(message string) {
	if p.spin != nil {
		p.spin.stopWithSuccess(message)
		p.spin = nil
	}
}

func (p *progress) fail() {
	if p.spin != nil {
		p.spin.stopWithError()
		p.spin = nil
	}
}

// runQuery asks a single question and outputs the reply.
// If rawOutput is true, only the reply markdown is printed without decoration.
func runQuery(ctx context.Context, prompt string, rawOutput bool) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Errorf("prompt cannot be empty")
	}

	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	var opts []chat.SessionOption
	if cfg.SaveHistory {
		if _, rec, err := newHistoryRecorder(cfg); err == nil {
			opts = append(opts, chat.WithRecorder(rec))
		}
	}

	p := &progress{enabled: !rawOutput}
	p.begin("Connecting to Quillium")

	rt, err := Connect(ctx, cfg, viaFlag, opts...)
	if err != nil {
		p.fail()
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer rt.Close()

	reply, err := ask(ctx, rt.Session, prompt, p)
	if err != nil {
		return err
	}

	return writeReply(reply, cfg, rawOutput)
}

// ask waits for the channel, sends prompt and waits for the finished reply
func ask(ctx context.Context, session *chat.Session, prompt string, p *progress) (models.ChatMessage, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err := waitConnected(connectCtx, session)
	cancel()
	if err != nil {
		p.fail()
		return models.ChatMessage{}, err
	}
	p.succeed("Connected")

	p.begin("Waiting for the reply")
	if err := session.Ask(prompt); err != nil {
		p.fail()
		return models.ChatMessage{}, fmt.Errorf("failed to send: %w", err)
	}

	reply, err := session.WaitReply(ctx)
	if err != nil {
		p.fail()
		return models.ChatMessage{}, fmt.Errorf("no reply: %w", err)
	}
	if reply.Role == models.RoleSystem {
		p.fail()
		return models.ChatMessage{}, apierrors.NewAPIError(0, models.EndpointWebSocket, reply.Content)
	}
	p.succeed("Done")
	return reply, nil
}

// writeReply prints or saves the reply and copies it when asked to
func writeReply(reply models.ChatMessage, cfg config.Config, rawOutput bool) error {
	text := render.ReplyMarkdown(reply)

	if rawOutput {
		if outputFlag != "" {
			return writeOutputFile(outputFlag, text)
		}
		fmt.Print(text)
		return nil
	}

	fmt.Fprintln(os.Stderr)

	if copyFlag || cfg.CopyToClipboard {
		if err := clipboard.WriteAll(reply.Content); err != nil {
			warn := lipgloss.NewStyle().Foreground(colorError).Render(
				fmt.Sprintf("⚠ Failed to copy to clipboard: %v", err),
			)
			fmt.Fprintln(os.Stderr, warn)
		} else {
			fmt.Fprintln(os.Stderr, lipgloss.NewStyle().Foreground(colorSuccess).Render("✓ Copied to clipboard"))
		}
	}

	if outputFlag != "" {
		if err := writeOutputFile(outputFlag, text); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, lipgloss.NewStyle().Foreground(colorSuccess).Render(
			fmt.Sprintf("✓ Reply saved to %s", outputFlag),
		))
		return nil
	}

	bubbleWidth := min(max(getTerminalWidth()-4, 40), 120)
	contentWidth := bubbleWidth - 4

	fmt.Println(assistantLabelStyle.Render("✦ Quillium"))

	opts := render.FromConfig(cfg.Markdown).WithWidth(contentWidth)
	rendered, err := render.Reply(reply, opts)
	if err != nil {
		rendered = text
	}
	rendered = strings.TrimRight(rendered, "\n")

	fmt.Println(assistantBubbleStyle.Width(bubbleWidth).Render(rendered))
	return nil
}

func writeOutputFile(path, text string) error {
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// getTerminalWidth returns the terminal width or a default value
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

// isStdoutTTY returns true if stdout is connected to a terminal
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// formatErrorMessage formats an error with additional context from structured errors
func formatErrorMessage(err error, context string) string {
	if err == nil {
		return ""
	}

	errorStyle := lipgloss.NewStyle().Foreground(colorError)
	dimStyle := lipgloss.NewStyle().Foreground(colorTextDim)

	var sb strings.Builder
	sb.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s: %v", context, err)))

	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode > 0 {
			sb.WriteString(dimStyle.Render(fmt.Sprintf("\n  HTTP Status: %d", apiErr.StatusCode)))
		}
		if apiErr.Endpoint != "" {
			sb.WriteString(dimStyle.Render(fmt.Sprintf("\n  Endpoint: %s", apiErr.Endpoint)))
		}
	}

	if hint := errorHint(err); hint != "" {
		sb.WriteString(dimStyle.Render("\n  Hint: " + hint))
	}

	return sb.String()
}

func errorHint(err error) string {
	var netErr *apierrors.NetworkError
	var cfgErr *apierrors.ConfigError
	switch {
	case errors.Is(err, apierrors.ErrMissingBackendURL):
		return "Set it with 'quillchat config set backend_url <url>' or QUILLCHAT_BACKEND_URL"
	case errors.Is(err, apierrors.ErrNoCookies), errors.Is(err, apierrors.ErrAuthFailed):
		return "Run 'quillchat login' or 'quillchat import-cookies' to refresh your session cookie"
	case errors.Is(err, apierrors.ErrNotConnected):
		return "Check backend_url and the transport setting; the channel never opened"
	case errors.As(err, &netErr):
		return "Check that the backend is reachable"
	case errors.As(err, &cfgErr):
		return "Run 'quillchat config show' to review your settings"
	}
	return ""
}
