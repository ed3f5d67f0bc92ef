package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/diogo/quillchat/internal/history"
)

// HistoryStore lists stored conversations for the selector
type HistoryStore interface {
	ListConversations() ([]*history.Conversation, error)
}

type historyLoadedMsg struct {
	conversations []*history.Conversation
	err           error
}

// HistorySelectorModel lets the user pick a stored conversation to resume.
// Index 0 is always "New conversation".
type HistorySelectorModel struct {
	store HistoryStore

	conversations []*history.Conversation
	cursor        int

	loading   bool
	err       error
	confirmed bool
	selected  *history.Conversation

	width  int
	height int
	ready  bool
}

// NewHistorySelectorModel creates a new history selector model
func NewHistorySelectorModel(store HistoryStore) HistorySelectorModel {
	return HistorySelectorModel{store: store, loading: true}
}

// Init starts loading conversations
func (m HistorySelectorModel) Init() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		conversations, err := store.ListConversations()
		return historyLoadedMsg{conversations: conversations, err: err}
	}
}

// Update handles messages and updates the model
func (m HistorySelectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case historyLoadedMsg:
		m.loading = false
		m.err = msg.err
		m.conversations = msg.conversations

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.loading {
			return m, nil
		}

		last := len(m.conversations)
		switch msg.String() {
		case "esc", "q":
			return m, tea.Quit
		case "up", "k":
			m.cursor--
			if m.cursor < 0 {
				m.cursor = last
			}
		case "down", "j":
			m.cursor++
			if m.cursor > last {
				m.cursor = 0
			}
		case "home", "g":
			m.cursor = 0
		case "end", "G":
			m.cursor = last
		case "enter":
			m.confirmed = true
			if m.cursor > 0 {
				m.selected = m.conversations[m.cursor-1]
			}
			return m, tea.Quit
		}
	}

	return m, nil
}

// View renders the selector
func (m HistorySelectorModel) View() string {
	switch {
	case !m.ready:
		return loadingStyle.Render("  Initializing...")
	case m.loading:
		return loadingStyle.Render("  Loading conversations...")
	case m.err != nil:
		return errorStyle.Render(fmt.Sprintf("  Error: %v", m.err))
	}

	width := max(m.width-4, 40)
	items := []string{m.renderItem(0, "+ New conversation", "")}
	if len(m.conversations) == 0 {
		items = append(items, hintStyle.Render("  No saved conversations"))
	}

	visible := max(5, m.height-10)
	offset := 0
	if m.cursor >= visible {
		offset = m.cursor - visible + 1
	}
	end := min(offset+visible, len(m.conversations)+1)
	for i := max(offset, 1); i < end; i++ {
		conv := m.conversations[i-1]
		items = append(items, m.renderItem(i, conv.Title, history.FormatRelativeTime(conv.UpdatedAt)))
	}
	if end < len(m.conversations)+1 {
		items = append(items, hintStyle.Render("  ..."))
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{listHeaderStyle.Render("Resume a conversation")}, items...)...)

	help := statusKeyStyle.Render("↑↓") + statusDescStyle.Render(" Navigate") + "  │  " +
		statusKeyStyle.Render("Enter") + statusDescStyle.Render(" Select") + "  │  " +
		statusKeyStyle.Render("Esc") + statusDescStyle.Render(" Quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		listPanelStyle.Width(width).Render(body),
		statusBarStyle.Width(width).Align(lipgloss.Center).Render(help))
}

func (m HistorySelectorModel) renderItem(index int, title, when string) string {
	cursor := "  "
	style := listItemStyle
	if index == m.cursor {
		cursor = listCursorStyle.Render("> ")
		style = listSelectedStyle
	}
	line := cursor + style.Render(strings.TrimSpace(title))
	if when != "" {
		line += listTimeStyle.Render(" - " + when)
	}
	return line
}

// HistorySelectorResult is the outcome of the selector
type HistorySelectorResult struct {
	Conversation *history.Conversation // nil for a new conversation
	Confirmed    bool
}

// Result returns the selection
func (m HistorySelectorModel) Result() HistorySelectorResult {
	return HistorySelectorResult{Conversation: m.selected, Confirmed: m.confirmed}
}

// RunHistorySelector runs the selector and returns the choice
func RunHistorySelector(store HistoryStore) (HistorySelectorResult, error) {
	final, err := tea.NewProgram(NewHistorySelectorModel(store), tea.WithAltScreen()).Run()
	if err != nil {
		return HistorySelectorResult{}, err
	}
	if hm, ok := final.(HistorySelectorModel); ok {
		return hm.Result(), nil
	}
	return HistorySelectorResult{}, nil
}
