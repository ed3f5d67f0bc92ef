package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/diogo/quillchat/internal/history"
	"github.com/diogo/quillchat/internal/models"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage conversation history",
	Long:  "View and manage your local conversation history.\n\n" + history.ListAliases(),
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all conversations",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <ref>",
	Short: "Show a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <ref>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all conversations",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

var historyRenameCmd = &cobra.Command{
	Use:   "rename <ref> <title>",
	Short: "Rename a conversation",
	Args:  cobra.ExactArgs(2),
	RunE:  runHistoryRename,
}

var historyFavoriteCmd = &cobra.Command{
	Use:   "favorite <ref>",
	Short: "Toggle the favorite mark of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryFavorite,
}

var historyExportCmd = &cobra.Command{
	Use:   "export <ref>",
	Short: "Export a conversation as markdown, JSON or YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryExport,
}

var historySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search conversations by title or content",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistorySearch,
}

var (
	exportFormatFlag string
	exportOutputFlag string
	exportNoSources  bool
	exportMetadata   bool
	searchContent    bool
	clearForce       bool
)

func init() {
	historyExportCmd.Flags().StringVar(&exportFormatFlag, "format", "md", "Export format: md, json or yaml")
	historyExportCmd.Flags().StringVarP(&exportOutputFlag, "output", "o", "", "Write to file instead of stdout")
	historyExportCmd.Flags().BoolVar(&exportNoSources, "no-sources", false, "Leave out sources and related questions")
	historyExportCmd.Flags().BoolVar(&exportMetadata, "metadata", false, "Include the server chat id")
	historySearchCmd.Flags().BoolVarP(&searchContent, "content", "c", false, "Also search message content")
	historyClearCmd.Flags().BoolVarP(&clearForce, "force", "y", false, "Do not ask for confirmation")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	historyCmd.AddCommand(historyClearCmd)
	historyCmd.AddCommand(historyRenameCmd)
	historyCmd.AddCommand(historyFavoriteCmd)
	historyCmd.AddCommand(historyExportCmd)
	historyCmd.AddCommand(historySearchCmd)
}

// resolveConversation opens the store and resolves ref to a conversation
func resolveConversation(ref string) (*history.Store, *history.Conversation, error) {
	store, err := openHistoryStore()
	if err != nil {
		return nil, nil, err
	}
	conv, err := history.NewResolver(store).ResolveWithInfo(ref)
	if err != nil {
		return nil, nil, err
	}
	return store, conv, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistoryStore()
	if err != nil {
		return err
	}

	conversations, err := store.ListConversations()
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	return printConversationList(cmd.OutOrStdout(), store, conversations)
}

func printConversationList(w io.Writer, store *history.Store, conversations []*history.Conversation) error {
	if len(conversations) == 0 {
		fmt.Fprintln(w, "No conversations found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "#\tID\tTITLE\tMESSAGES\tUPDATED")
	for i, conv := range conversations {
		title := truncate(conv.Title, 40)
		if fav, _ := store.IsFavorite(conv.ID); fav {
			title = "★ " + title
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
			i+1, conv.ID, title, len(conv.Messages), history.FormatRelativeTime(conv.UpdatedAt))
	}
	return tw.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	_, conv, err := resolveConversation(args[0])
	if err != nil {
		return err
	}
	printConversation(cmd.OutOrStdout(), conv)
	return nil
}

func printConversation(w io.Writer, conv *history.Conversation) {
	fmt.Fprintf(w, "ID: %s\n", conv.ID)
	fmt.Fprintf(w, "Title: %s\n", conv.Title)
	if conv.QualityProfile != "" {
		fmt.Fprintf(w, "Profile: %s\n", conv.QualityProfile)
	}
	if conv.ChatID != "" {
		fmt.Fprintf(w, "Chat: %s\n", conv.ChatID)
	}
	fmt.Fprintf(w, "Created: %s\n", conv.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Updated: %s\n", conv.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Messages: %d\n", len(conv.Messages))
	fmt.Fprintln(w)

	for i, msg := range conv.Messages {
		role := "You"
		switch msg.Role {
		case models.RoleAssistant:
			role = "Quillium"
		case models.RoleSystem:
			role = "System"
		}
		fmt.Fprintf(w, "[%d] %s (%s):\n", i+1, role, msg.Timestamp.Format("15:04"))
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(truncate(msg.Content, 500), "\n", "\n  "))
		for j, src := range msg.Sources {
			fmt.Fprintf(w, "  [%d] %s <%s>\n", j+1, src.Title, src.URL)
		}
		fmt.Fprintln(w)
	}
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	store, conv, err := resolveConversation(args[0])
	if err != nil {
		return err
	}

	if err := store.DeleteConversation(conv.ID); err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation: %s\n", conv.Title)
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	if !clearForce && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Delete all conversations?") {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return nil
	}

	store, err := openHistoryStore()
	if err != nil {
		return err
	}

	if err := store.ClearAll(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "All conversations deleted.")
	return nil
}

func runHistoryRename(cmd *cobra.Command, args []string) error {
	store, conv, err := resolveConversation(args[0])
	if err != nil {
		return err
	}

	title := strings.TrimSpace(args[1])
	if title == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if err := store.UpdateTitle(conv.ID, title); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Renamed to: %s\n", title)
	return nil
}

func runHistoryFavorite(cmd *cobra.Command, args []string) error {
	store, conv, err := resolveConversation(args[0])
	if err != nil {
		return err
	}

	fav, err := store.ToggleFavorite(conv.ID)
	if err != nil {
		return fmt.Errorf("failed to toggle favorite: %w", err)
	}

	if fav {
		fmt.Fprintf(cmd.OutOrStdout(), "★ Marked as favorite: %s\n", conv.Title)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Removed from favorites: %s\n", conv.Title)
	}
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	format, err := history.ParseExportFormat(exportFormatFlag)
	if err != nil {
		return err
	}

	store, conv, err := resolveConversation(args[0])
	if err != nil {
		return err
	}

	data, err := store.Export(conv.ID, history.ExportOptions{
		Format:          format,
		IncludeMetadata: exportMetadata,
		IncludeSources:  !exportNoSources,
	})
	if err != nil {
		return err
	}

	if exportOutputFlag == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	path := exportOutputFlag
	if filepath.Ext(path) == "" {
		path += format.Extension()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %q to %s\n", conv.Title, path)
	return nil
}

func runHistorySearch(cmd *cobra.Command, args []string) error {
	store, err := openHistoryStore()
	if err != nil {
		return err
	}

	results, err := store.SearchConversations(args[0], searchContent)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(w, "No matching conversations.")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(w, "%s  %s (%s)\n", r.Conversation.ID, r.Conversation.Title,
			history.FormatRelativeTime(r.Conversation.UpdatedAt))
		if r.MatchField == "content" {
			fmt.Fprintf(w, "    %s\n", r.MatchSnippet)
		}
	}
	return nil
}

// confirm asks a yes/no question on in/out
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	var answer string
	if _, err := fmt.Fscanln(in, &answer); err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
