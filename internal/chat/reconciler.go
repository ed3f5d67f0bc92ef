// Package chat folds real-time frames into a conversation and owns the
// session that ties a transport channel to that conversation.
package chat

import (
	"strings"

	"github.com/diogo/quillchat/internal/models"
	"github.com/diogo/quillchat/internal/related"
)

// Extractor derives follow-up questions from a finished reply.
type Extractor func(content string) []string

// Reconciler turns inbound envelopes into the authoritative message list.
//
// It is not safe for concurrent use; Session serialises access. At most one
// assistant message is in progress at a time, and message numbers only grow.
type Reconciler struct {
	messages   []models.ChatMessage
	sources    []models.Source
	chatID     string
	loading    bool
	inProgress int  // index into messages, -1 when no reply is streaming
	freshSrc   bool // sources were replaced during the current reply
	lastMsgNum int
	extract    Extractor
}

// ReconcilerOption configures a Reconciler
type ReconcilerOption func(*Reconciler)

// WithExtractor replaces the related-question extractor.
func WithExtractor(fn Extractor) ReconcilerOption {
	return func(r *Reconciler) {
		r.extract = fn
	}
}

// NewReconciler creates an empty reconciler.
func NewReconciler(opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{inProgress: -1, extract: related.Extract}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddUserMessage appends a user turn and marks a reply as pending.
func (r *Reconciler) AddUserMessage(text string) models.ChatMessage {
	msg := models.ChatMessage{
		Role:    models.RoleUser,
		Content: text,
		MsgNum:  r.nextMsgNum(0, false),
		Final:   true,
	}
	r.messages = append(r.messages, msg)
	r.loading = true
	return msg
}

// Request builds the outbound chat_request for text against the current
// history, as if text had already been appended.
func (r *Reconciler) Request(text string, opts models.ChatOptions) models.ChatRequest {
	history := make([]models.ChatMessage, 0, len(r.messages)+1)
	for _, m := range r.messages {
		history = append(history, models.ChatMessage{Role: m.Role, Content: m.Content, MsgNum: m.MsgNum})
	}
	history = append(history, models.ChatMessage{Role: models.RoleUser, Content: text, MsgNum: r.lastMsgNum + 1})
	return models.ChatRequest{
		Messages: history,
		Message:  text,
		ChatID:   r.chatID,
		Options:  opts,
	}
}

// Apply folds one envelope into the state and reports whether anything changed.
func (r *Reconciler) Apply(env models.Envelope) bool {
	switch e := env.(type) {
	case models.ChatStream:
		r.applyStream(e)
		return true
	case models.ChatResponse:
		r.applyResponse(e)
		return true
	case models.ErrorFrame:
		r.applyError(e)
		return true
	default:
		// chat_request is outbound only
		return false
	}
}

func (r *Reconciler) applyStream(chunk models.ChatStream) {
	if r.inProgress >= 0 {
		r.messages[r.inProgress].Content += chunk.Content
	} else {
		r.messages = append(r.messages, models.ChatMessage{
			Role:    models.RoleAssistant,
			Content: chunk.Content,
			MsgNum:  r.nextMsgNum(chunk.MsgNum, chunk.HasMsgNum),
		})
		r.inProgress = len(r.messages) - 1
		r.freshSrc = false
	}

	if chunk.Sources != nil {
		r.setSources(chunk.Sources)
	}
	r.adoptChatID(chunk.ChatID)

	if chunk.Done {
		r.finalize(nil)
	}
}

func (r *Reconciler) applyResponse(resp models.ChatResponse) {
	// A complete reply supersedes whatever was streaming.
	r.abandon()

	r.freshSrc = false
	if resp.Sources != nil {
		r.setSources(resp.Sources)
	}
	r.adoptChatID(resp.ChatID)

	if resp.HasMessage {
		r.messages = append(r.messages, models.ChatMessage{
			Role:    models.RoleAssistant,
			Content: resp.Content,
			MsgNum:  r.nextMsgNum(resp.MsgNum, resp.HasMsgNum),
		})
		r.inProgress = len(r.messages) - 1
		r.finalize(resp.RelatedQuestions)
	}
	r.loading = false
}

func (r *Reconciler) applyError(e models.ErrorFrame) {
	r.abandon()
	text := strings.TrimSpace(e.Error)
	if text == "" {
		text = "unknown error"
	}
	r.messages = append(r.messages, models.ChatMessage{
		Role:    models.RoleSystem,
		Content: "Error: " + text,
		MsgNum:  r.nextMsgNum(0, false),
		Final:   true,
	})
	r.loading = false
}

// finalize locks the in-progress reply, attaches sources and computes related
// questions unless precomputed ones are given.
func (r *Reconciler) finalize(precomputed []string) {
	if r.inProgress < 0 {
		return
	}
	msg := &r.messages[r.inProgress]
	msg.Final = true
	if r.freshSrc && len(r.sources) > 0 {
		msg.Sources = append([]models.Source(nil), r.sources...)
	}
	switch {
	case precomputed != nil:
		msg.RelatedQuestions = append([]string(nil), precomputed...)
	case r.extract != nil:
		msg.RelatedQuestions = r.extract(msg.Content)
	}
	r.inProgress = -1
	r.freshSrc = false
	r.loading = false
}

func (r *Reconciler) setSources(src []models.Source) {
	r.sources = append([]models.Source{}, src...)
	r.freshSrc = true
}

// abandon closes an interrupted reply as-is, without derived content.
func (r *Reconciler) abandon() {
	if r.inProgress < 0 {
		return
	}
	r.messages[r.inProgress].Final = true
	r.inProgress = -1
}

func (r *Reconciler) adoptChatID(id string) {
	if r.chatID == "" && id != "" {
		r.chatID = id
	}
}

// nextMsgNum honours a server-supplied number when it keeps the sequence
// strictly increasing, and otherwise continues from the last one.
func (r *Reconciler) nextMsgNum(suggested int, ok bool) int {
	n := r.lastMsgNum + 1
	if ok && suggested > r.lastMsgNum {
		n = suggested
	}
	if fallback := len(r.messages) + 1; !ok && fallback > n {
		n = fallback
	}
	r.lastMsgNum = n
	return n
}

// Messages returns a deep copy of the message list.
func (r *Reconciler) Messages() []models.ChatMessage {
	out := make([]models.ChatMessage, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Clone()
	}
	return out
}

// Sources returns the current session source list.
func (r *Reconciler) Sources() []models.Source {
	return append([]models.Source{}, r.sources...)
}

// ChatID returns the adopted server chat id, or "" before one is known.
func (r *Reconciler) ChatID() string {
	return r.chatID
}

// SetChatID seeds the chat id when resuming a server-side chat.
func (r *Reconciler) SetChatID(id string) {
	r.adoptChatID(id)
}

// Loading reports whether a reply is awaited.
func (r *Reconciler) Loading() bool {
	return r.loading
}

// InProgress returns the streaming assistant message, if any.
func (r *Reconciler) InProgress() (models.ChatMessage, bool) {
	if r.inProgress < 0 {
		return models.ChatMessage{}, false
	}
	return r.messages[r.inProgress].Clone(), true
}

// Load replaces the state with a stored transcript.
func (r *Reconciler) Load(chatID string, messages []models.ChatMessage, sources []models.Source) {
	r.Reset()
	r.chatID = chatID
	for _, m := range messages {
		m = m.Clone()
		m.Final = true
		if m.MsgNum <= r.lastMsgNum {
			m.MsgNum = r.lastMsgNum + 1
		}
		r.lastMsgNum = m.MsgNum
		r.messages = append(r.messages, m)
	}
	r.sources = append([]models.Source(nil), sources...)
}

// Reset discards the conversation, as when a new chat is started.
func (r *Reconciler) Reset() {
	r.messages = nil
	r.sources = nil
	r.chatID = ""
	r.loading = false
	r.inProgress = -1
	r.freshSrc = false
	r.lastMsgNum = 0
}
