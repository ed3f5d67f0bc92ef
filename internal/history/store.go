// Package history provides local conversation history storage.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
)

// titleLimit bounds a title derived from the first user message
const titleLimit = 50

// Message represents a single message in a conversation
type Message struct {
	Role             models.Role     `json:"role"`
	Content          string          `json:"content"`
	MsgNum           int             `json:"msg_num"`
	Sources          []models.Source `json:"sources,omitempty"`
	RelatedQuestions []string        `json:"related_questions,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Conversation represents a complete chat conversation
type Conversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	QualityProfile string    `json:"quality_profile,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Messages       []Message `json:"messages"`

	// ChatID is the server-side chat id, used to resume the conversation
	ChatID  string          `json:"chat_id,omitempty"`
	Sources []models.Source `json:"sources,omitempty"`
}

// ChatMessages converts the stored messages back to chat messages
func (c *Conversation) ChatMessages() []models.ChatMessage {
	out := make([]models.ChatMessage, len(c.Messages))
	for i, m := range c.Messages {
		out[i] = models.ChatMessage{
			Role:             m.Role,
			Content:          m.Content,
			MsgNum:           m.MsgNum,
			Sources:          m.Sources,
			RelatedQuestions: m.RelatedQuestions,
			Final:            true,
		}
	}
	return out
}

// Store manages conversation history persistence
type Store struct {
	baseDir string
	mu      sync.RWMutex
	now     func() time.Time
}

// NewStore creates a new history store under baseDir/history
func NewStore(baseDir string) (*Store, error) {
	historyDir := filepath.Join(baseDir, "history")
	if err := os.MkdirAll(historyDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	return &Store{
		baseDir: historyDir,
		now:     time.Now,
	}, nil
}

// CreateConversation creates a new, empty conversation
func (s *Store) CreateConversation(qualityProfile string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	conv := &Conversation{
		ID:             uuid.NewString(),
		Title:          fmt.Sprintf("Chat %s", now.Format("2006-01-02 15:04")),
		QualityProfile: qualityProfile,
		CreatedAt:      now,
		UpdatedAt:      now,
		Messages:       []Message{},
	}

	if err := s.saveConversation(conv); err != nil {
		return nil, err
	}

	return conv, nil
}

// GetConversation retrieves a conversation by ID
func (s *Store) GetConversation(id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadConversation(id)
}

// ListConversations returns all conversations, favorites first, then by
// most recent update
func (s *Store) ListConversations() ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var conversations []*Conversation
	existing := make(map[string]bool)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || name == metaFileName {
			continue
		}

		conv, err := s.loadConversation(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue // Skip corrupted files
		}
		conversations = append(conversations, conv)
		existing[conv.ID] = true
	}

	meta, err := s.loadMeta()
	if err != nil {
		return nil, err
	}
	if s.cleanOrphanedMeta(meta, existing) {
		_ = s.saveMeta(meta)
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		fi, fj := meta.isFavorite(conversations[i].ID), meta.isFavorite(conversations[j].ID)
		if fi != fj {
			return fi
		}
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})

	return conversations, nil
}

// AddMessage appends a message to a conversation. The first user message
// becomes the title.
func (s *Store) AddMessage(id string, msg models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.loadConversation(id)
	if err != nil {
		return err
	}

	conv.Messages = append(conv.Messages, s.toMessage(msg))
	conv.UpdatedAt = s.now()
	if msg.Role == models.RoleUser && len(conv.Messages) == 1 {
		conv.Title = deriveTitle(msg.Content)
	}

	return s.saveConversation(conv)
}

// ReplaceMessages stores the full message list of a conversation along with
// the server chat id and sources. Timestamps of unchanged messages are kept.
func (s *Store) ReplaceMessages(id, chatID string, msgs []models.ChatMessage, sources []models.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.loadConversation(id)
	if err != nil {
		return err
	}

	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = s.toMessage(m)
		if i < len(conv.Messages) && conv.Messages[i].Content == m.Content && conv.Messages[i].Role == m.Role {
			out[i].Timestamp = conv.Messages[i].Timestamp
		}
	}
	if len(conv.Messages) == 0 {
		for _, m := range msgs {
			if m.Role == models.RoleUser {
				conv.Title = deriveTitle(m.Content)
				break
			}
		}
	}

	conv.Messages = out
	if chatID != "" {
		conv.ChatID = chatID
	}
	conv.Sources = append([]models.Source(nil), sources...)
	conv.UpdatedAt = s.now()

	if err := s.saveConversation(conv); err != nil {
		return err
	}
	return s.updateTitleInMeta(id, conv.Title)
}

// DeleteConversation removes a conversation
func (s *Store) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.conversationPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(id)
		}
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	return s.removeFromMeta(id)
}

// UpdateTitle updates the title of a conversation
func (s *Store) UpdateTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.loadConversation(id)
	if err != nil {
		return err
	}

	conv.Title = title
	conv.UpdatedAt = s.now()

	if err := s.saveConversation(conv); err != nil {
		return err
	}
	return s.updateTitleInMeta(id, title)
}

// ClearAll deletes all conversations
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to read history directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(s.baseDir, entry.Name())
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", entry.Name(), err)
		}
	}

	return nil
}

// Internal methods

func (s *Store) toMessage(m models.ChatMessage) Message {
	return Message{
		Role:             m.Role,
		Content:          m.Content,
		MsgNum:           m.MsgNum,
		Sources:          m.Sources,
		RelatedQuestions: m.RelatedQuestions,
		Timestamp:        s.now(),
	}
}

func deriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if r := []rune(title); len(r) > titleLimit {
		title = string(r[:titleLimit]) + "..."
	}
	return title
}

func notFound(id string) error {
	return fmt.Errorf("conversation %s: %w", id, apierrors.ErrNotFound)
}

func (s *Store) conversationPath(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

func (s *Store) loadConversation(id string) (*Conversation, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, notFound(id)
	}

	data, err := os.ReadFile(s.conversationPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to parse conversation: %w", err)
	}

	return &conv, nil
}

func (s *Store) saveConversation(conv *Conversation) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	return writeFileAtomic(s.conversationPath(conv.ID), data)
}

// writeFileAtomic writes through a temp file so readers never see a torn file
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
