package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diogo/quillchat/internal/chat"
	"github.com/diogo/quillchat/internal/history"
	"github.com/diogo/quillchat/internal/render"
	"github.com/diogo/quillchat/internal/tui"
)

// NewChatCmd creates the interactive chat command
func NewChatCmd(deps *Dependencies) *cobra.Command {
	var (
		resumeRef string
		pick      bool
		via       string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session with Quillium.

The chat keeps the conversation context across messages and is saved to
the local history. Type /1, /2 or /3 to ask a suggested related question,
/new to start over, and 'exit', 'quit' or Ctrl+C to end the session.

Resume a stored conversation with --resume <ref> or pick one
interactively with --pick.

` + history.ListAliases(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, deps, resumeRef, pick, via)
		},
	}

	cmd.Flags().StringVarP(&resumeRef, "resume", "r", "", "Resume a stored conversation")
	cmd.Flags().BoolVarP(&pick, "pick", "p", false, "Pick a stored conversation to resume")
	cmd.Flags().StringVar(&via, "via", viaChannel, "Delivery path: channel (duplex) or sse (REST send + event stream)")
	return cmd
}

func runChat(cmd *cobra.Command, deps *Dependencies, resumeRef string, pick bool, via string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	if cfg.TUITheme != "" {
		render.SetTUITheme(cfg.TUITheme)
		tui.UpdateTheme()
	}

	var (
		store    *history.Store
		recorder *history.Recorder
		resume   *history.Conversation
	)
	if cfg.SaveHistory || resumeRef != "" || pick {
		store, recorder, err = newHistoryRecorder(cfg)
		if err != nil {
			return err
		}
	}

	switch {
	case resumeRef != "":
		resume, err = history.NewResolver(store).ResolveWithInfo(resumeRef)
		if err != nil {
			return fmt.Errorf("failed to resume: %w", err)
		}
	case pick:
		result, err := deps.TUI.RunHistorySelector(store)
		if err != nil {
			return fmt.Errorf("history selector failed: %w", err)
		}
		if !result.Confirmed {
			return nil
		}
		resume = result.Conversation
	}

	var opts []chat.SessionOption
	if cfg.SaveHistory && recorder != nil {
		opts = append(opts, chat.WithRecorder(recorder))
	}

	spin := newSpinner("Connecting to Quillium")
	spin.start()
	rt, err := deps.Connect(commandContext(cmd), cfg, via, opts...)
	if err != nil {
		spin.stopWithError()
		return fmt.Errorf("failed to connect: %w", err)
	}
	spin.stopWithSuccess("Ready")
	defer rt.Close()

	if resume != nil {
		rt.Session.Resume(resume.ChatID, resume.ChatMessages(), resume.Sources)
		if recorder != nil {
			recorder.Attach(resume)
		}
	}

	tuiOpts := tui.Options{
		Render: render.FromConfig(cfg.Markdown),
	}
	if rt.Backend != nil {
		tuiOpts.Backend = rt.Backend.Host
	}
	if recorder != nil {
		tuiOpts.OnNewChat = recorder.Reset
	}

	return deps.TUI.RunChat(rt.Session, tuiOpts)
}
