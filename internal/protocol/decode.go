// Package protocol converts between wire frames and model envelopes.
//
// The backend has been seen to vary field casing between releases, so the
// decoder accepts a fixed set of aliases for identifier and flag fields and
// reads the payload from either "payload" or "content". Flat frames, where
// the payload fields sit next to "type", are accepted as well.
package protocol

import (
	"strings"

	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
)

var (
	payloadKeys = []string{"payload", "content", "data"}
	msgNumKeys  = []string{"msgNum", "msg_num", "MsgNum", "msgnum"}
	chatIDKeys  = []string{"chatId", "chat_id", "ChatID", "chatID", "ChatId"}
	doneKeys    = []string{"done", "Done", "isDone", "is_done"}
	sourceKeys  = []string{"sources", "Sources"}
	relatedKeys = []string{"relatedQuestions", "related_questions", "RelatedQuestions"}
	contentKeys = []string{"content", "Content"}
	adminKeys   = []string{"isAdmin", "is_admin", "IsAdmin"}
)

// Decode classifies a raw frame into one of the four envelope kinds.
// It returns a *errors.ProtocolError for anything else.
func Decode(data []byte) (models.Envelope, error) {
	if !gjson.ValidBytes(data) {
		return nil, apierrors.NewMalformedFrameError("invalid JSON", data)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, apierrors.NewMalformedFrameError("frame is not an object", data)
	}
	typ := root.Get("type")
	if typ.Type != gjson.String {
		return nil, apierrors.NewMalformedFrameError("missing type", data)
	}

	body := payloadOf(root)
	switch models.FrameKind(typ.Str) {
	case models.KindChatStream:
		return DecodeStream(body), nil
	case models.KindChatResponse:
		return decodeResponse(body), nil
	case models.KindError:
		return decodeError(root, body), nil
	case models.KindChatRequest:
		return decodeRequest(body), nil
	default:
		return nil, apierrors.NewUnknownTypeError(typ.Str, data)
	}
}

// DecodeStream reads a chat_stream payload. It is also used for the flat
// frames of the SSE endpoint.
func DecodeStream(body gjson.Result) models.ChatStream {
	var out models.ChatStream
	if c := first(body, contentKeys...); c.Type == gjson.String {
		out.Content = c.Str
	}
	if n := first(body, msgNumKeys...); n.Type == gjson.Number {
		out.MsgNum = int(n.Int())
		out.HasMsgNum = true
	}
	out.Done = first(body, doneKeys...).Bool()
	out.ChatID = IDString(first(body, chatIDKeys...))
	if s := first(body, sourceKeys...); s.IsArray() {
		out.Sources = DecodeSources(s)
	}
	return out
}

// DecodeSources reads an array of source objects. The result is never nil
// for an array input, so "present but empty" stays distinguishable.
func DecodeSources(arr gjson.Result) []models.Source {
	out := make([]models.Source, 0, len(arr.Array()))
	arr.ForEach(func(_, s gjson.Result) bool {
		if !s.IsObject() {
			return true
		}
		out = append(out, models.Source{
			Title:       first(s, "title", "Title", "name").String(),
			URL:         first(s, "url", "URL", "Url", "link").String(),
			Description: first(s, "description", "snippet", "Description", "Snippet").String(),
			MsgNum:      int(first(s, msgNumKeys...).Int()),
		})
		return true
	})
	return out
}

// DecodeUserInfo reads the user-info response.
func DecodeUserInfo(data []byte) (models.UserInfo, error) {
	if !gjson.ValidBytes(data) {
		return models.UserInfo{}, apierrors.NewParseError("invalid JSON", models.EndpointUserInfo)
	}
	root := gjson.ParseBytes(data)
	if u := root.Get("user"); u.IsObject() {
		root = u
	}
	return models.UserInfo{
		ID:      IDString(first(root, "id", "ID", "Id", "userId", "user_id")),
		Email:   first(root, "email", "Email").String(),
		Name:    first(root, "name", "Name", "username").String(),
		IsAdmin: first(root, adminKeys...).Bool(),
	}, nil
}

// DecodeChatList reads the user's chat list.
func DecodeChatList(data []byte) ([]models.ChatSummary, error) {
	if !gjson.ValidBytes(data) {
		return nil, apierrors.NewParseError("invalid JSON", models.EndpointUserChats)
	}
	root := gjson.ParseBytes(data)
	if c := root.Get("chats"); c.IsArray() {
		root = c
	}
	if !root.IsArray() {
		return nil, apierrors.NewParseError("expected array", models.EndpointUserChats)
	}
	out := make([]models.ChatSummary, 0, len(root.Array()))
	root.ForEach(func(_, c gjson.Result) bool {
		out = append(out, models.ChatSummary{
			ID:        IDString(first(c, "id", "ID", "Id")),
			Title:     first(c, "title", "Title").String(),
			UpdatedAt: first(c, "updatedAt", "updated_at", "UpdatedAt").Time(),
		})
		return true
	})
	return out, nil
}

// DecodeTranscript reads one server-side chat.
func DecodeTranscript(data []byte) (models.ChatTranscript, error) {
	if !gjson.ValidBytes(data) {
		return models.ChatTranscript{}, apierrors.NewParseError("invalid JSON", models.EndpointUserChat)
	}
	root := gjson.ParseBytes(data)
	if c := root.Get("chat"); c.IsObject() {
		root = c
	}
	out := models.ChatTranscript{
		ID:    IDString(first(root, "id", "ID", "Id")),
		Title: first(root, "title", "Title").String(),
	}
	first(root, "messages", "Messages").ForEach(func(_, m gjson.Result) bool {
		out.Messages = append(out.Messages, decodeMessage(m))
		return true
	})
	if s := first(root, sourceKeys...); s.IsArray() {
		out.Sources = DecodeSources(s)
	}
	return out, nil
}

// IDString renders an identifier that may arrive as a JSON number or string.
func IDString(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return v.Raw
	default:
		return ""
	}
}

func decodeResponse(body gjson.Result) models.ChatResponse {
	var out models.ChatResponse
	msg := first(body, "message", "Message")
	switch {
	case msg.IsObject():
		if c := first(msg, contentKeys...); c.Type == gjson.String {
			out.Content = c.Str
			out.HasMessage = true
		}
		if n := first(msg, msgNumKeys...); n.Type == gjson.Number {
			out.MsgNum = int(n.Int())
			out.HasMsgNum = true
		}
	case msg.Type == gjson.String:
		out.Content = msg.Str
		out.HasMessage = true
	}
	if s := first(body, sourceKeys...); s.IsArray() {
		out.Sources = DecodeSources(s)
	}
	out.ChatID = IDString(first(body, chatIDKeys...))
	if rq := first(body, relatedKeys...); rq.IsArray() {
		out.RelatedQuestions = make([]string, 0, len(rq.Array()))
		rq.ForEach(func(_, q gjson.Result) bool {
			if q.Type == gjson.String && strings.TrimSpace(q.Str) != "" {
				out.RelatedQuestions = append(out.RelatedQuestions, q.Str)
			}
			return true
		})
	}
	return out
}

func decodeError(root, body gjson.Result) models.ErrorFrame {
	for _, r := range []gjson.Result{body, root} {
		e := first(r, "error", "Error", "message")
		if e.IsObject() {
			e = first(e, "message", "error")
		}
		if e.Type == gjson.String && e.Str != "" {
			return models.ErrorFrame{Error: e.Str}
		}
	}
	// {"type":"error","content":"..."}
	if c := first(root, payloadKeys...); c.Type == gjson.String && c.Str != "" {
		return models.ErrorFrame{Error: c.Str}
	}
	return models.ErrorFrame{Error: "unknown error"}
}

func decodeRequest(body gjson.Result) models.ChatRequest {
	out := models.ChatRequest{
		Message: first(body, "message", "Message").String(),
		ChatID:  IDString(first(body, chatIDKeys...)),
	}
	first(body, "messages", "Messages").ForEach(func(_, m gjson.Result) bool {
		out.Messages = append(out.Messages, decodeMessage(m))
		return true
	})
	opts := first(body, "options", "Options")
	out.Options = models.ChatOptions{
		QualityProfile: first(opts, "qualityProfile", "quality_profile", "QualityProfile").String(),
		Model:          first(opts, "model", "Model").String(),
	}
	if out.Options.QualityProfile == "" {
		out.Options.QualityProfile = first(body, "qualityProfile", "quality_profile").String()
	}
	return out
}

func decodeMessage(m gjson.Result) models.ChatMessage {
	msg := models.ChatMessage{
		Role:    models.Role(first(m, "role", "Role").String()),
		Content: first(m, contentKeys...).String(),
		MsgNum:  int(first(m, msgNumKeys...).Int()),
		Final:   true,
	}
	if s := first(m, sourceKeys...); s.IsArray() {
		msg.Sources = DecodeSources(s)
	}
	return msg
}

func payloadOf(root gjson.Result) gjson.Result {
	for _, key := range payloadKeys {
		if v := root.Get(key); v.IsObject() {
			return v
		}
	}
	return root
}

// first returns the first present field among keys.
func first(r gjson.Result, keys ...string) gjson.Result {
	if !r.IsObject() {
		return gjson.Result{}
	}
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
