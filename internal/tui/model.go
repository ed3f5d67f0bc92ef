// Package tui implements the interactive terminal chat.
package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/diogo/quillchat/internal/chat"
	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
	"github.com/diogo/quillchat/internal/render"
)

// ChatSession is the part of chat.Session the TUI drives
type ChatSession interface {
	Ask(text string) error
	NewChat()
	Snapshot() chat.Snapshot
	Updates() <-chan chat.Snapshot
}

var _ ChatSession = (*chat.Session)(nil)

// Options configures the chat screen
type Options struct {
	// Backend is shown in the header, usually the backend host
	Backend string
	Render  render.Options
	// OnNewChat runs after /new resets the session
	OnNewChat func()
}

type (
	snapshotMsg       chat.Snapshot
	updatesClosedMsg  struct{}
	errNoRelated      struct{ n int }
	errNotReadyToSend struct{ status models.ConnectionStatus }
)

func (e errNoRelated) Error() string {
	return fmt.Sprintf("no related question /%d for the last reply", e.n)
}

func (e errNotReadyToSend) Error() string {
	return fmt.Sprintf("cannot send while %s", e.status)
}

// Model represents the TUI state
type Model struct {
	session ChatSession
	opts    Options

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	snap  chat.Snapshot
	ready bool
	err   error

	width  int
	height int
}

// NewChatModel creates the chat model over a started session
func NewChatModel(session ChatSession, opts Options) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask anything..."
	ta.CharLimit = 4000
	ta.ShowLineNumbers = false
	ta.SetHeight(2)
	ta.Focus()

	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Base = lipgloss.NewStyle().Foreground(colorText)
	ta.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(colorTextDim)
	ta.BlurredStyle = ta.FocusedStyle

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = loadingStyle

	if opts.Render.Width == 0 {
		opts.Render = render.DefaultOptions()
	}

	return Model{
		session:  session,
		opts:     opts,
		textarea: ta,
		spinner:  s,
		snap:     session.Snapshot(),
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		waitForSnapshot(m.session.Updates()),
	)
}

// waitForSnapshot delivers the next session update as a message
func waitForSnapshot(updates <-chan chat.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return updatesClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m.submit()
		}

	case snapshotMsg:
		wasLoading := m.snap.Loading
		m.snap = chat.Snapshot(msg)
		m.updateViewport()
		m.viewport.GotoBottom()
		cmds = append(cmds, waitForSnapshot(m.session.Updates()))
		if m.snap.Loading && !wasLoading {
			cmds = append(cmds, m.spinner.Tick)
		}

	case updatesClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		if m.snap.Loading {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	// only keys reach the textarea so escape sequences never leak into it
	if _, ok := msg.(tea.KeyMsg); ok && !m.snap.Loading {
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	// header 3, input 5, status 1, error 1
	vpHeight := max(height-10-2, 5)
	contentWidth := width - 4

	if !m.ready {
		m.viewport = viewport.New(contentWidth, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = contentWidth
		m.viewport.Height = vpHeight
	}
	m.textarea.SetWidth(contentWidth - 4)
	m.updateViewport()
}

// submit handles the enter key
func (m Model) submit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textarea.Value())
	if input == "" {
		return m, nil
	}

	switch input {
	case "exit", "quit", "/exit", "/quit":
		return m, tea.Quit
	case "/new":
		m.session.NewChat()
		if m.opts.OnNewChat != nil {
			m.opts.OnNewChat()
		}
		m.err = nil
		m.textarea.Reset()
		return m, nil
	}

	text, err := m.resolveShortcut(input)
	if err == nil {
		err = m.canSend()
	}
	if err == nil {
		err = m.session.Ask(text)
	}
	if err != nil {
		// keep the input so it can be retried
		m.err = err
		return m, nil
	}

	m.err = nil
	m.textarea.Reset()
	return m, nil
}

// resolveShortcut expands /1, /2 and /3 to the related questions of the
// newest reply
func (m Model) resolveShortcut(input string) (string, error) {
	if len(input) != 2 || input[0] != '/' {
		return input, nil
	}
	n, err := strconv.Atoi(input[1:])
	if err != nil || n < 1 || n > render.MaxRelatedQuestions {
		return input, nil
	}
	reply, ok := m.snap.LastReply()
	if !ok {
		return "", errNoRelated{n}
	}
	related := render.RelatedQuestions(reply)
	if n > len(related) {
		return "", errNoRelated{n}
	}
	return related[n-1], nil
}

func (m Model) canSend() error {
	if m.snap.Loading {
		return apierrors.ErrReplyPending
	}
	if m.snap.Status != models.StatusConnected {
		return errNotReadyToSend{m.snap.Status}
	}
	return nil
}

// View renders the TUI
func (m Model) View() string {
	if !m.ready {
		return loadingStyle.Render("  Initializing...")
	}

	contentWidth := m.width - 4
	sections := []string{m.renderHeader(contentWidth)}

	messages := m.viewport.View()
	if len(m.snap.Messages) == 0 {
		messages = m.renderWelcome()
	}
	sections = append(sections, messagesAreaStyle.
		Width(contentWidth).
		Height(m.viewport.Height).
		Render(messages))

	var input string
	switch {
	case m.snap.Loading:
		input = m.spinner.View() + loadingStyle.Render(" Thinking...")
	case m.snap.Status != models.StatusConnected:
		input = hintStyle.Render("Waiting for the connection...") + "\n" + m.textarea.View()
	default:
		input = lipgloss.JoinVertical(lipgloss.Left, inputLabelStyle.Render("You"), m.textarea.View())
	}
	sections = append(sections,
		inputPanelStyle.Width(contentWidth).Render(input),
		m.renderStatusBar(contentWidth))

	if m.err != nil {
		sections = append(sections, formatError(m.err))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader(width int) string {
	parts := []string{titleStyle.Render("✦ Quillium")}
	if m.opts.Backend != "" {
		parts = append(parts, hintStyle.Render("  •  "), subtitleStyle.Render(m.opts.Backend))
	}
	parts = append(parts, hintStyle.Render("  •  "), statusIndicator(m.snap.Status))
	return headerStyle.Width(width).Render(lipgloss.JoinHorizontal(lipgloss.Center, parts...))
}

func statusIndicator(st models.ConnectionStatus) string {
	switch st {
	case models.StatusConnected:
		return connectedStyle.Render("● connected")
	case models.StatusConnecting:
		return connectingStyle.Render("◌ connecting")
	default:
		return disconnectedStyle.Render("○ disconnected")
	}
}

func (m Model) renderWelcome() string {
	width := m.viewport.Width - 4
	content := lipgloss.JoinVertical(lipgloss.Center,
		welcomeIconStyle.Width(width).Render("✦"),
		"",
		welcomeTitleStyle.Width(width).Render("Ask Quillium anything"),
		"",
		hintStyle.Width(width).Align(lipgloss.Center).Render("Answers stream in with their sources"),
	)
	top := max((m.viewport.Height-lipgloss.Height(content))/2, 0)
	return strings.Repeat("\n", top) + content
}

func (m Model) renderStatusBar(width int) string {
	shortcuts := []struct {
		key  string
		desc string
	}{
		{"Enter", "Send"},
		{"/1-/3", "Follow up"},
		{"/new", "New chat"},
		{"Esc", "Quit"},
	}

	items := make([]string, len(shortcuts))
	for i, s := range shortcuts {
		items[i] = statusKeyStyle.Render(s.key) + statusDescStyle.Render(" "+s.desc)
	}
	return statusBarStyle.Width(width).Align(lipgloss.Center).Render(strings.Join(items, "  │  "))
}

// updateViewport refreshes the viewport with the conversation
func (m *Model) updateViewport() {
	if !m.ready {
		return
	}
	var content strings.Builder
	bubbleWidth := max(m.viewport.Width-6, 20)

	for i, msg := range m.snap.Messages {
		if i > 0 {
			content.WriteString("\n")
		}
		switch msg.Role {
		case models.RoleUser:
			content.WriteString(userLabelStyle.Render("⬤ You") + "\n")
			content.WriteString(userBubbleStyle.Width(bubbleWidth).Render(msg.Content))
		case models.RoleSystem:
			content.WriteString(systemStyle.Width(bubbleWidth).Render("⚠ " + msg.Content))
		default:
			content.WriteString(assistantLabelStyle.Render("✦ Quillium") + "\n")
			content.WriteString(assistantBubbleStyle.Width(bubbleWidth).Render(m.renderReply(msg, bubbleWidth-4)))
		}
		content.WriteString("\n")
	}

	m.viewport.SetContent(content.String())
}

// renderReply renders finished replies as markdown. A reply still streaming
// is shown as plain text.
func (m Model) renderReply(msg models.ChatMessage, width int) string {
	if !msg.Final {
		return msg.Content + "▍"
	}
	out, err := render.Reply(msg, m.opts.Render.WithWidth(width))
	if err != nil {
		return render.ReplyMarkdown(msg)
	}
	return strings.TrimRight(out, "\n")
}

// formatError formats an error with a hint when one applies
func formatError(err error) string {
	var sb strings.Builder
	sb.WriteString(errorStyle.Render(fmt.Sprintf("⚠ %v", err)))

	hint := ""
	var netErr *apierrors.NetworkError
	var notReady errNotReadyToSend
	switch {
	case errors.Is(err, apierrors.ErrAuthFailed):
		hint = "Run 'quillchat import-cookies' to refresh your session"
	case errors.Is(err, apierrors.ErrReplyPending):
		hint = "Wait for the current reply to finish"
	case errors.As(err, &notReady), errors.Is(err, apierrors.ErrNotConnected):
		hint = "The connection is retried automatically"
	case errors.As(err, &netErr):
		hint = "Check that the backend is reachable"
	}
	if hint != "" {
		sb.WriteString("\n")
		sb.WriteString(lipgloss.NewStyle().Foreground(colorPrimary).PaddingLeft(2).Render(hint))
	}
	return sb.String()
}

// RunChat runs the chat TUI until the user quits
func RunChat(session ChatSession, opts Options) error {
	p := tea.NewProgram(NewChatModel(session, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
