package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/diogo/quillchat/internal/models"
)

type wireEnvelope struct {
	Type    models.FrameKind `json:"type"`
	Content any              `json:"content"`
}

type wireMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
	MsgNum  int         `json:"msgNum"`
}

type wireRequest struct {
	Messages []wireMessage      `json:"messages"`
	Message  string             `json:"message"`
	ChatID   *string            `json:"chatId"`
	Options  models.ChatOptions `json:"options"`
}

type wireResponse struct {
	Message          *wireReply      `json:"message,omitempty"`
	Sources          []models.Source `json:"sources,omitempty"`
	ChatID           string          `json:"chatId,omitempty"`
	RelatedQuestions []string        `json:"relatedQuestions,omitempty"`
}

type wireReply struct {
	Content string `json:"content"`
	MsgNum  *int   `json:"msgNum,omitempty"`
}

type wireStream struct {
	Content string          `json:"content"`
	MsgNum  *int            `json:"msgNum,omitempty"`
	Done    bool            `json:"done"`
	ChatID  string          `json:"chatId,omitempty"`
	Sources []models.Source `json:"sources,omitempty"`
}

type wireError struct {
	Error string `json:"error"`
}

// Encode renders an envelope as {"type": ..., "content": {...}}.
func Encode(env models.Envelope) ([]byte, error) {
	var body any
	switch e := env.(type) {
	case models.ChatRequest:
		body = encodeRequest(e)
	case models.ChatResponse:
		r := wireResponse{Sources: e.Sources, ChatID: e.ChatID, RelatedQuestions: e.RelatedQuestions}
		if e.HasMessage {
			r.Message = &wireReply{Content: e.Content, MsgNum: optInt(e.MsgNum, e.HasMsgNum)}
		}
		body = r
	case models.ChatStream:
		body = wireStream{
			Content: e.Content,
			MsgNum:  optInt(e.MsgNum, e.HasMsgNum),
			Done:    e.Done,
			ChatID:  e.ChatID,
			Sources: e.Sources,
		}
	case models.ErrorFrame:
		body = wireError{Error: e.Error}
	case nil:
		return nil, fmt.Errorf("encode: nil envelope")
	default:
		return nil, fmt.Errorf("encode: unsupported envelope %T", env)
	}
	return json.Marshal(wireEnvelope{Type: env.Kind(), Content: body})
}

func encodeRequest(r models.ChatRequest) wireRequest {
	out := wireRequest{
		Messages: make([]wireMessage, 0, len(r.Messages)),
		Message:  r.Message,
		Options:  r.Options,
	}
	for _, m := range r.Messages {
		out.Messages = append(out.Messages, wireMessage{Role: m.Role, Content: m.Content, MsgNum: m.MsgNum})
	}
	if r.ChatID != "" {
		id := r.ChatID
		out.ChatID = &id
	}
	return out
}

func optInt(v int, ok bool) *int {
	if !ok {
		return nil
	}
	return &v
}
