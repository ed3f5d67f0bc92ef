package history

import (
	"sync"

	"github.com/diogo/quillchat/internal/chat"
)

// Recorder persists a chat session's conversation after every completed
// turn. A conversation file is created on the first turn; a new one is
// started when the session is reset.
type Recorder struct {
	store          *Store
	qualityProfile string

	mu     sync.Mutex
	convID string
	first  string
	count  int
}

var _ chat.Recorder = (*Recorder)(nil)

// NewRecorder creates a recorder writing to store
func NewRecorder(store *Store, qualityProfile string) *Recorder {
	return &Recorder{store: store, qualityProfile: qualityProfile}
}

// Attach continues an existing stored conversation
func (r *Recorder) Attach(conv *Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convID = conv.ID
	r.count = len(conv.Messages)
	r.first = ""
	if r.count > 0 {
		r.first = conv.Messages[0].Content
	}
}

// Reset makes the next turn start a new conversation
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convID, r.first, r.count = "", "", 0
}

// ConversationID returns the id of the conversation being written, if any
func (r *Recorder) ConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.convID
}

// RecordTurn implements chat.Recorder
func (r *Recorder) RecordTurn(snap chat.Snapshot) error {
	if len(snap.Messages) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// the session started over without telling us
	first := snap.Messages[0].Content
	if r.convID != "" && (len(snap.Messages) < r.count || (r.first != "" && first != r.first)) {
		r.convID = ""
	}

	if r.convID == "" {
		conv, err := r.store.CreateConversation(r.qualityProfile)
		if err != nil {
			return err
		}
		r.convID = conv.ID
	}

	if err := r.store.ReplaceMessages(r.convID, snap.ChatID, snap.Messages, snap.Sources); err != nil {
		return err
	}
	r.first = first
	r.count = len(snap.Messages)
	return nil
}
