package commands

import (
	"context"

	"github.com/diogo/quillchat/internal/chat"
	"github.com/diogo/quillchat/internal/config"
	"github.com/diogo/quillchat/internal/tui"
)

// TUIInterface defines the methods required from the TUI package.
type TUIInterface interface {
	RunChat(session tui.ChatSession, opts tui.Options) error
	RunHistorySelector(store tui.HistoryStore) (tui.HistorySelectorResult, error)
}

// Dependencies holds the external dependencies for the commands.
// This allows for dependency injection and easier testing.
type Dependencies struct {
	// TUI is the terminal user interface.
	TUI TUIInterface

	// Connect builds a started chat session against the backend.
	Connect func(ctx context.Context, cfg config.Config, via string, opts ...chat.SessionOption) (*Runtime, error)
}

// DefaultTUI is the production implementation of TUIInterface.
type DefaultTUI struct{}

func (d *DefaultTUI) RunChat(session tui.ChatSession, opts tui.Options) error {
	return tui.RunChat(session, opts)
}

func (d *DefaultTUI) RunHistorySelector(store tui.HistoryStore) (tui.HistorySelectorResult, error) {
	return tui.RunHistorySelector(store)
}

// NewDependencies creates a new Dependencies struct with default implementations.
func NewDependencies() *Dependencies {
	return &Dependencies{
		TUI:     &DefaultTUI{},
		Connect: Connect,
	}
}
