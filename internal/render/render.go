package render

import (
	"fmt"
	"strings"

	"github.com/diogo/quillchat/internal/models"
)

// MaxRelatedQuestions is how many follow-ups are offered as /1, /2, /3.
const MaxRelatedQuestions = 3

// Markdown renders markdown content for terminal display.
func Markdown(content string, opts Options) (string, error) {
	renderer, err := globalPool.get(opts)
	if err != nil {
		return "", err
	}
	defer globalPool.put(opts, renderer)

	return renderer.Render(content)
}

// ReplyMarkdown turns an assistant reply into markdown with a numbered
// sources list and the related questions as shortcuts.
func ReplyMarkdown(msg models.ChatMessage) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(msg.Content))
	sb.WriteString("\n")

	if len(msg.Sources) > 0 {
		sb.WriteString("\n**Sources**\n\n")
		for i, src := range msg.Sources {
			title := src.Title
			if title == "" {
				title = src.URL
			}
			fmt.Fprintf(&sb, "%d. [%s](%s)\n", i+1, escapeLinkText(title), src.URL)
		}
	}

	if qs := RelatedQuestions(msg); len(qs) > 0 {
		sb.WriteString("\n**Related**\n\n")
		for i, q := range qs {
			fmt.Fprintf(&sb, "- `/%d` %s\n", i+1, q)
		}
	}
	return sb.String()
}

// Reply renders an assistant reply for the terminal.
func Reply(msg models.ChatMessage, opts Options) (string, error) {
	return Markdown(ReplyMarkdown(msg), opts)
}

// RelatedQuestions returns at most MaxRelatedQuestions non-empty follow-ups.
func RelatedQuestions(msg models.ChatMessage) []string {
	var out []string
	for _, q := range msg.RelatedQuestions {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
		if len(out) == MaxRelatedQuestions {
			break
		}
	}
	return out
}

func escapeLinkText(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}
