package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/diogo/quillchat/internal/models"
)

// ExportFormat represents the format for exporting conversations
type ExportFormat string

const (
	ExportFormatMarkdown ExportFormat = "markdown"
	ExportFormatJSON     ExportFormat = "json"
	ExportFormatYAML     ExportFormat = "yaml"
)

// ParseExportFormat maps a user-supplied name to a format
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", "markdown":
		return ExportFormatMarkdown, nil
	case "json":
		return ExportFormatJSON, nil
	case "yaml", "yml":
		return ExportFormatYAML, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// Extension returns the file extension used for the format
func (f ExportFormat) Extension() string {
	switch f {
	case ExportFormatJSON:
		return ".json"
	case ExportFormatYAML:
		return ".yaml"
	default:
		return ".md"
	}
}

// ExportOptions configures how conversations are exported
type ExportOptions struct {
	Format          ExportFormat
	IncludeMetadata bool // Include the server chat id
	IncludeSources  bool
}

// DefaultExportOptions returns the defaults used by the CLI
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		Format:         ExportFormatMarkdown,
		IncludeSources: true,
	}
}

type exportMessage struct {
	Role             models.Role     `json:"role" yaml:"role"`
	Content          string          `json:"content" yaml:"content"`
	Sources          []models.Source `json:"sources,omitempty" yaml:"sources,omitempty"`
	RelatedQuestions []string        `json:"related_questions,omitempty" yaml:"related_questions,omitempty"`
	Timestamp        time.Time       `json:"timestamp" yaml:"timestamp"`
}

type exportConversation struct {
	ID             string          `json:"id" yaml:"id"`
	Title          string          `json:"title" yaml:"title"`
	QualityProfile string          `json:"quality_profile,omitempty" yaml:"quality_profile,omitempty"`
	CreatedAt      time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" yaml:"updated_at"`
	ChatID         string          `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	Messages       []exportMessage `json:"messages" yaml:"messages"`
}

// Export renders a conversation in the requested format
func (s *Store) Export(id string, opts ExportOptions) ([]byte, error) {
	conv, err := s.GetConversation(id)
	if err != nil {
		return nil, err
	}

	switch opts.Format {
	case ExportFormatJSON:
		return json.MarshalIndent(toExport(conv, opts), "", "  ")
	case ExportFormatYAML:
		return yaml.Marshal(toExport(conv, opts))
	case ExportFormatMarkdown, "":
		return []byte(renderMarkdown(conv, opts)), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", opts.Format)
	}
}

// ExportToMarkdown exports a conversation to Markdown format
func (s *Store) ExportToMarkdown(id string) (string, error) {
	data, err := s.Export(id, DefaultExportOptions())
	return string(data), err
}

func toExport(conv *Conversation, opts ExportOptions) exportConversation {
	out := exportConversation{
		ID:             conv.ID,
		Title:          conv.Title,
		QualityProfile: conv.QualityProfile,
		CreatedAt:      conv.CreatedAt,
		UpdatedAt:      conv.UpdatedAt,
		Messages:       make([]exportMessage, len(conv.Messages)),
	}
	if opts.IncludeMetadata {
		out.ChatID = conv.ChatID
	}
	for i, msg := range conv.Messages {
		out.Messages[i] = exportMessage{
			Role:             msg.Role,
			Content:          msg.Content,
			RelatedQuestions: msg.RelatedQuestions,
			Timestamp:        msg.Timestamp,
		}
		if opts.IncludeSources {
			out.Messages[i].Sources = msg.Sources
		}
	}
	return out
}

func renderMarkdown(conv *Conversation, opts ExportOptions) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", conv.Title)
	if conv.QualityProfile != "" {
		fmt.Fprintf(&sb, "**Profile:** %s\n", conv.QualityProfile)
	}
	if opts.IncludeMetadata && conv.ChatID != "" {
		fmt.Fprintf(&sb, "**Chat:** %s\n", conv.ChatID)
	}
	fmt.Fprintf(&sb, "**Created:** %s\n", conv.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "**Updated:** %s\n", conv.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "**Messages:** %d\n\n---\n\n", len(conv.Messages))

	for i, msg := range conv.Messages {
		sb.WriteString("## ")
		sb.WriteString(roleTitle(msg.Role))
		if !msg.Timestamp.IsZero() {
			fmt.Fprintf(&sb, " (%s)", msg.Timestamp.Format("15:04:05"))
		}
		sb.WriteString("\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")

		if opts.IncludeSources && len(msg.Sources) > 0 {
			sb.WriteString("\n**Sources**\n\n")
			for n, src := range msg.Sources {
				fmt.Fprintf(&sb, "%d. [%s](%s)\n", n+1, src.Title, src.URL)
			}
		}
		if len(msg.RelatedQuestions) > 0 {
			sb.WriteString("\n**Related**\n\n")
			for _, q := range msg.RelatedQuestions {
				fmt.Fprintf(&sb, "- %s\n", q)
			}
		}

		if i < len(conv.Messages)-1 {
			sb.WriteString("\n---\n\n")
		}
	}

	return sb.String()
}

func roleTitle(r models.Role) string {
	switch r {
	case models.RoleAssistant:
		return "Assistant"
	case models.RoleSystem:
		return "System"
	default:
		return "User"
	}
}

// SearchResult represents a search match in conversations
type SearchResult struct {
	Conversation *Conversation
	MatchSnippet string // Snippet where the term was found
	MatchField   string // "title" or "content"
	MatchIndex   int    // Message index if MatchField is "content", -1 for title
}

// SearchConversations searches titles and, optionally, message content.
// Each conversation is reported at most once.
func (s *Store) SearchConversations(query string, searchContent bool) ([]*SearchResult, error) {
	conversations, err := s.ListConversations()
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(query)
	var results []*SearchResult

	for _, conv := range conversations {
		if strings.Contains(strings.ToLower(conv.Title), queryLower) {
			results = append(results, &SearchResult{
				Conversation: conv,
				MatchSnippet: conv.Title,
				MatchField:   "title",
				MatchIndex:   -1,
			})
			continue
		}
		if !searchContent {
			continue
		}
		for i, msg := range conv.Messages {
			if strings.Contains(strings.ToLower(msg.Content), queryLower) {
				results = append(results, &SearchResult{
					Conversation: conv,
					MatchSnippet: extractSnippet(msg.Content, query, 100),
					MatchField:   "content",
					MatchIndex:   i,
				})
				break
			}
		}
	}

	return results, nil
}

// extractSnippet returns up to maxLen runes around the first occurrence of
// query, with ellipses where the content was cut
func extractSnippet(content, query string, maxLen int) string {
	runes := []rune(content)
	lower := []rune(strings.ToLower(content))
	q := []rune(strings.ToLower(query))

	idx := indexRunes(lower, q)
	if idx == -1 {
		if len(runes) > maxLen {
			return string(runes[:maxLen]) + "..."
		}
		return content
	}

	half := maxLen / 2
	start := idx - half
	end := idx + len(q) + half
	if start < 0 {
		start = 0
		end = maxLen
	}
	if end > len(runes) {
		end = len(runes)
		start = max(end-maxLen, 0)
	}

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet += "..."
	}
	return snippet
}

func indexRunes(s, sub []rune) int {
	if len(sub) == 0 {
		return 0
	}
outer:
	for i := 0; i+len(sub) <= len(s); i++ {
		for j := range sub {
			if s[i+j] != sub[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

// FormatRelativeTime formats a time as a relative string like "2h ago"
func FormatRelativeTime(t time.Time) string {
	return formatRelative(time.Now(), t)
}

func formatRelative(now, t time.Time) string {
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d min ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 48*time.Hour:
		return "yesterday"
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	case diff < 30*24*time.Hour:
		weeks := int(diff.Hours() / 24 / 7)
		if weeks == 1 {
			return "1 week ago"
		}
		return fmt.Sprintf("%d weeks ago", weeks)
	default:
		months := int(diff.Hours() / 24 / 30)
		if months == 1 {
			return "1 month ago"
		}
		if months < 12 {
			return fmt.Sprintf("%d months ago", months)
		}
		return t.Format("2006-01-02")
	}
}
