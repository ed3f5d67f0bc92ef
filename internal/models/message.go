package models

import "time"

// Role identifies who authored a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Source is a citation record attached to an assistant reply.
// MsgNum refers back to the message it supports.
type Source struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MsgNum      int    `json:"msgNum,omitempty"`
}

// ChatMessage is one entry in a conversation.
type ChatMessage struct {
	Role             Role     `json:"role"`
	Content          string   `json:"content"`
	MsgNum           int      `json:"msgNum"`
	Sources          []Source `json:"sources,omitempty"`
	RelatedQuestions []string `json:"relatedQuestions,omitempty"`
	// Final is false only for an assistant reply still being streamed.
	Final bool `json:"-"`
}

// Clone returns a deep copy of the message.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	if m.Sources != nil {
		out.Sources = append([]Source(nil), m.Sources...)
	}
	if m.RelatedQuestions != nil {
		out.RelatedQuestions = append([]string(nil), m.RelatedQuestions...)
	}
	return out
}

// ChatOptions are forwarded verbatim to the backend with each request
type ChatOptions struct {
	QualityProfile string `json:"qualityProfile,omitempty"`
	Model          string `json:"model,omitempty"`
}

// UserInfo is the response of the user-info endpoint used for credential priming
type UserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
}

// LoginRequest is the body of the login endpoint
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// ChatSummary is one entry of the user's server-side chat list
type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// ChatTranscript is a full server-side chat
type ChatTranscript struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Messages []ChatMessage `json:"messages"`
	Sources  []Source      `json:"sources,omitempty"`
}
