package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
)

func TestDecodeChatStreamVariants(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  models.ChatStream
	}{
		{
			name:  "payload key",
			frame: `{"type":"chat_stream","payload":{"content":"Rust","msgNum":2,"done":false}}`,
			want:  models.ChatStream{Content: "Rust", MsgNum: 2, HasMsgNum: true},
		},
		{
			name:  "content key with backend casing",
			frame: `{"type":"chat_stream","content":{"content":" is","Done":true,"chat_id":42}}`,
			want:  models.ChatStream{Content: " is", Done: true, ChatID: "42"},
		},
		{
			name:  "flat frame",
			frame: `{"type":"chat_stream","content":"tail","done":true,"chatId":"abc"}`,
			want:  models.ChatStream{Content: "tail", Done: true, ChatID: "abc"},
		},
		{
			name:  "missing content",
			frame: `{"type":"chat_stream","payload":{"done":true}}`,
			want:  models.ChatStream{Done: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			got, ok := env.(models.ChatStream)
			require.True(t, ok, "got %T", env)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeStreamSourcesPresence(t *testing.T) {
	env, err := Decode([]byte(`{"type":"chat_stream","payload":{"content":"x"}}`))
	require.NoError(t, err)
	assert.Nil(t, env.(models.ChatStream).Sources)

	env, err = Decode([]byte(`{"type":"chat_stream","payload":{"content":"x","sources":[]}}`))
	require.NoError(t, err)
	assert.NotNil(t, env.(models.ChatStream).Sources)
	assert.Empty(t, env.(models.ChatStream).Sources)

	env, err = Decode([]byte(`{"type":"chat_stream","payload":{"done":true,"sources":[
		{"title":"Rust Book","url":"https://doc.rust-lang.org/book/","msgNum":2},
		{"Title":"Blog","link":"https://blog.example","snippet":"about rust","msg_num":2},
		"junk"]}}`))
	require.NoError(t, err)
	assert.Equal(t, []models.Source{
		{Title: "Rust Book", URL: "https://doc.rust-lang.org/book/", MsgNum: 2},
		{Title: "Blog", URL: "https://blog.example", Description: "about rust", MsgNum: 2},
	}, env.(models.ChatStream).Sources)
}

func TestDecodeChatResponse(t *testing.T) {
	env, err := Decode([]byte(`{"type":"chat_response","payload":{"message":{"content":"Hi","msgNum":1}}}`))
	require.NoError(t, err)
	resp := env.(models.ChatResponse)
	assert.True(t, resp.HasMessage)
	assert.Equal(t, "Hi", resp.Content)
	assert.Equal(t, 1, resp.MsgNum)
	assert.Nil(t, resp.Sources)
	assert.Nil(t, resp.RelatedQuestions)

	env, err = Decode([]byte(`{"type":"chat_response","content":{"message":{"content":"Yo","MsgNum":3},
		"chatId":"c1","related_questions":["How?","", 7]}}`))
	require.NoError(t, err)
	resp = env.(models.ChatResponse)
	assert.Equal(t, "c1", resp.ChatID)
	assert.Equal(t, []string{"How?"}, resp.RelatedQuestions)

	env, err = Decode([]byte(`{"type":"chat_response","payload":{"message":{"msgNum":3}}}`))
	require.NoError(t, err)
	assert.False(t, env.(models.ChatResponse).HasMessage)
}

func TestDecodeErrorFrame(t *testing.T) {
	tests := []struct {
		frame string
		want  string
	}{
		{`{"type":"error","payload":{"error":"rate limited"}}`, "rate limited"},
		{`{"type":"error","content":{"error":"Failed to process message"}}`, "Failed to process message"},
		{`{"type":"error","error":"flat"}`, "flat"},
		{`{"type":"error","content":"as string"}`, "as string"},
		{`{"type":"error","payload":{"error":{"message":"nested"}}}`, "nested"},
		{`{"type":"error"}`, "unknown error"},
	}
	for _, tt := range tests {
		env, err := Decode([]byte(tt.frame))
		require.NoError(t, err, tt.frame)
		assert.Equal(t, models.ErrorFrame{Error: tt.want}, env, tt.frame)
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	tests := []struct {
		frame string
		kind  error
	}{
		{`not json`, apierrors.ErrMalformedFrame},
		{`[1,2,3]`, apierrors.ErrMalformedFrame},
		{`"chat_stream"`, apierrors.ErrMalformedFrame},
		{`{"payload":{"content":"x"}}`, apierrors.ErrMalformedFrame},
		{`{"type":7}`, apierrors.ErrMalformedFrame},
		{`{"type":"presence","payload":{}}`, apierrors.ErrUnknownFrameType},
		{``, apierrors.ErrMalformedFrame},
	}
	for _, tt := range tests {
		env, err := Decode([]byte(tt.frame))
		assert.Nil(t, env, tt.frame)
		require.Error(t, err, tt.frame)
		assert.True(t, errors.Is(err, tt.kind), "%q: %v", tt.frame, err)
	}
}

func TestEncodeChatRequest(t *testing.T) {
	data, err := Encode(models.ChatRequest{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "What is Rust?", MsgNum: 1}},
		Message:  "What is Rust?",
		Options:  models.ChatOptions{QualityProfile: "balanced"},
	})
	require.NoError(t, err)

	root := gjson.ParseBytes(data)
	assert.Equal(t, "chat_request", root.Get("type").String())
	assert.Equal(t, gjson.Null, root.Get("content.chatId").Type)
	assert.Equal(t, "What is Rust?", root.Get("content.message").String())
	assert.Equal(t, "user", root.Get("content.messages.0.role").String())
	assert.Equal(t, int64(1), root.Get("content.messages.0.msgNum").Int())
	assert.Equal(t, "balanced", root.Get("content.options.qualityProfile").String())

	data, err = Encode(models.ChatRequest{Message: "again", ChatID: "42"})
	require.NoError(t, err)
	assert.Equal(t, "42", gjson.GetBytes(data, "content.chatId").String())
	assert.True(t, gjson.GetBytes(data, "content.messages").IsArray())
}

func TestEncodeDecodeServerFrames(t *testing.T) {
	frames := []models.Envelope{
		models.ChatStream{Content: "a", Done: true, ChatID: "9", Sources: []models.Source{{Title: "t", URL: "u", MsgNum: 2}}},
		models.ChatResponse{Content: "Hi", MsgNum: 1, HasMessage: true, HasMsgNum: true},
		models.ErrorFrame{Error: "boom"},
	}
	for _, f := range frames {
		data, err := Encode(f)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

func TestEncodeNil(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
}

func TestDecodeUserInfoAliases(t *testing.T) {
	for _, body := range []string{
		`{"id":1,"email":"a@b.c","isAdmin":true}`,
		`{"user":{"id":"1","email":"a@b.c","is_admin":true}}`,
		`{"ID":1,"Email":"a@b.c","IsAdmin":true}`,
	} {
		info, err := DecodeUserInfo([]byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, "1", info.ID, body)
		assert.Equal(t, "a@b.c", info.Email, body)
		assert.True(t, info.IsAdmin, body)
	}

	_, err := DecodeUserInfo([]byte("<html>"))
	assert.ErrorIs(t, err, apierrors.ErrInvalidResponse)
}

func TestDecodeChatList(t *testing.T) {
	chats, err := DecodeChatList([]byte(`[{"id":3,"title":"Rust"},{"id":"4","title":"Go","updated_at":"2026-01-02T03:04:05Z"}]`))
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "3", chats[0].ID)
	assert.Equal(t, "Go", chats[1].Title)
	assert.Equal(t, 2026, chats[1].UpdatedAt.Year())

	chats, err = DecodeChatList([]byte(`{"chats":[]}`))
	require.NoError(t, err)
	assert.Empty(t, chats)

	_, err = DecodeChatList([]byte(`{"error":"nope"}`))
	assert.Error(t, err)
}

func TestDecodeTranscript(t *testing.T) {
	tr, err := DecodeTranscript([]byte(`{"id":7,"title":"Rust","messages":[
		{"role":"user","content":"What is Rust?","msg_num":1},
		{"role":"assistant","content":"A language.","msgNum":2,"sources":[{"title":"Book","url":"https://b"}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, "7", tr.ID)
	require.Len(t, tr.Messages, 2)
	assert.Equal(t, models.RoleUser, tr.Messages[0].Role)
	assert.Equal(t, 1, tr.Messages[0].MsgNum)
	assert.Len(t, tr.Messages[1].Sources, 1)
}
