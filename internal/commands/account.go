package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/diogo/quillchat/internal/api"
	"github.com/diogo/quillchat/internal/models"
	"github.com/diogo/quillchat/internal/render"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the account behind the session cookie",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(commandContext(cmd), func(ctx context.Context, client api.ClientInterface) error {
			info, err := client.UserInfo(ctx)
			if err != nil {
				return err
			}
			printUserInfo(os.Stdout, info)
			return nil
		})
	},
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Browse chats stored on the backend",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List server-side chats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(commandContext(cmd), func(ctx context.Context, client api.ClientInterface) error {
			chats, err := client.ListChats(ctx)
			if err != nil {
				return fmt.Errorf("failed to list chats: %w", err)
			}
			return printChatList(os.Stdout, chats)
		})
	},
}

var chatsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a server-side chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(commandContext(cmd), func(ctx context.Context, client api.ClientInterface) error {
			transcript, err := client.GetChat(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load chat: %w", err)
			}
			printTranscript(os.Stdout, transcript)
			return nil
		})
	},
}

func init() {
	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsShowCmd)
}

// withClient runs fn with a backend client built from the settings
func withClient(ctx context.Context, fn func(context.Context, api.ClientInterface) error) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	logger, closeLog := newFileLogger(cfg)
	defer closeLog()

	client, err := newBackendClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(ctx, client)
}

func printUserInfo(w io.Writer, info models.UserInfo) {
	fmt.Fprintf(w, "ID:    %s\n", info.ID)
	if info.Name != "" {
		fmt.Fprintf(w, "Name:  %s\n", info.Name)
	}
	if info.Email != "" {
		fmt.Fprintf(w, "Email: %s\n", info.Email)
	}
	if info.IsAdmin {
		fmt.Fprintln(w, "Role:  admin")
	}
}

func printChatList(w io.Writer, chats []models.ChatSummary) error {
	if len(chats) == 0 {
		fmt.Fprintln(w, "No chats found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTITLE\tUPDATED")
	for _, c := range chats {
		updated := "-"
		if !c.UpdatedAt.IsZero() {
			updated = c.UpdatedAt.Local().Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, truncate(c.Title, 50), updated)
	}
	return tw.Flush()
}

func printTranscript(w io.Writer, t models.ChatTranscript) {
	title := t.Title
	if title == "" {
		title = t.ID
	}
	fmt.Fprintf(w, "# %s\n\n", title)

	for _, msg := range t.Messages {
		switch msg.Role {
		case models.RoleUser:
			fmt.Fprintf(w, "## You\n\n%s\n\n", strings.TrimSpace(msg.Content))
		case models.RoleAssistant:
			if len(msg.Sources) == 0 {
				msg.Sources = sourcesFor(t.Sources, msg.MsgNum)
			}
			fmt.Fprintf(w, "## Quillium\n\n%s\n\n", strings.TrimSpace(render.ReplyMarkdown(msg)))
		default:
			fmt.Fprintf(w, "> %s\n\n", strings.TrimSpace(msg.Content))
		}
	}
}

// sourcesFor picks the chat-level sources that back message msgNum
func sourcesFor(sources []models.Source, msgNum int) []models.Source {
	var out []models.Source
	for _, s := range sources {
		if s.MsgNum == msgNum {
			out = append(out, s)
		}
	}
	return out
}

// truncate shortens s to maxLen runes, adding an ellipsis
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
