package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	fhttp "github.com/bogdanfinn/fhttp"
	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
	"github.com/diogo/quillchat/internal/protocol"
)

// Prime validates the session against /api/user/info and returns the
// headers for the duplex upgrade request. Cookies rotated by the backend
// during the call are included.
func (c *Client) Prime(ctx context.Context) (http.Header, error) {
	if _, err := c.getJSON(ctx, models.EndpointUserInfo, ""); err != nil {
		return nil, err
	}
	header := http.Header{}
	if cookie := c.cookies.Header(); cookie != "" {
		header.Set("Cookie", cookie)
	}
	return header, nil
}

// UserInfo returns the authenticated user
func (c *Client) UserInfo(ctx context.Context) (models.UserInfo, error) {
	body, err := c.getJSON(ctx, models.EndpointUserInfo, "")
	if err != nil {
		return models.UserInfo{}, err
	}
	return protocol.DecodeUserInfo(body)
}

// RefreshSession asks the backend to rotate the session cookie
func (c *Client) RefreshSession(ctx context.Context) error {
	_, err := c.postJSON(ctx, models.EndpointAuthRefresh, nil)
	return err
}

// Login exchanges credentials for a session. The cookies the backend issues
// are stored on the client and persisted by the cookie saver.
func (c *Client) Login(ctx context.Context, creds models.LoginRequest) error {
	payload, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode login request: %w", err)
	}
	req, err := c.newBareRequest(ctx, fhttp.MethodPost, models.EndpointAuthLogin, "", payload)
	if err != nil {
		return err
	}
	resp, err := c.do(req, models.EndpointAuthLogin)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = "wrong email or password"
		}
		return apierrors.NewAuthError(msg)
	default:
		return statusError(resp, models.EndpointAuthLogin)
	}

	if c.cookies.AuthToken() == "" {
		return apierrors.NewAuthError("login response did not set " + models.AuthCookieName)
	}
	return nil
}

// Logout ends the session on the backend. The local session cookie is
// dropped even when the backend call fails.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.postJSON(ctx, models.EndpointAuthLogout, nil)
	c.cookies.Set(models.AuthCookieName, "")
	return err
}

// ListChats returns the user's saved conversations
func (c *Client) ListChats(ctx context.Context) ([]models.ChatSummary, error) {
	body, err := c.getJSON(ctx, models.EndpointUserChats, "")
	if err != nil {
		return nil, err
	}
	return protocol.DecodeChatList(body)
}

// GetChat returns one saved conversation
func (c *Client) GetChat(ctx context.Context, id string) (models.ChatTranscript, error) {
	body, err := c.getJSON(ctx, models.EndpointUserChat+url.PathEscape(id), "")
	if err != nil {
		return models.ChatTranscript{}, err
	}
	transcript, err := protocol.DecodeTranscript(body)
	if err != nil {
		return models.ChatTranscript{}, err
	}
	if transcript.ID == "" {
		transcript.ID = id
	}
	return transcript, nil
}

// SendResult is the backend's answer to a REST send.
type SendResult struct {
	// Response holds a complete reply when Streaming is false.
	Response models.ChatResponse
	// Streaming reports that the reply must be read from the event stream.
	Streaming bool
	ChatID    string
}

// SendChat posts a chat request. The backend either answers in full or
// flags the reply as streaming, to be read with StreamChat.
func (c *Client) SendChat(ctx context.Context, req models.ChatRequest) (SendResult, error) {
	payload, err := protocol.Encode(req)
	if err != nil {
		return SendResult{}, err
	}

	body, err := c.postJSON(ctx, models.EndpointChatSend, payload)
	if err != nil {
		return SendResult{}, err
	}
	if !gjson.ValidBytes(body) {
		return SendResult{}, apierrors.NewParseError("send response is not JSON", models.EndpointChatSend)
	}

	root := gjson.ParseBytes(body)
	chatID := protocol.IDString(root.Get(`chatId`))
	if chatID == "" {
		chatID = protocol.IDString(root.Get(`chat_id`))
	}
	if chatID == "" {
		chatID = req.ChatID
	}

	if root.Get("streaming").Bool() {
		return SendResult{Streaming: true, ChatID: chatID}, nil
	}

	env, err := protocol.Decode(wrapEnvelope(models.KindChatResponse, body))
	if err != nil {
		return SendResult{}, err
	}
	resp, ok := env.(models.ChatResponse)
	if !ok {
		return SendResult{}, apierrors.ErrInvalidResponse
	}
	if resp.ChatID == "" {
		resp.ChatID = chatID
	}
	return SendResult{Response: resp, ChatID: resp.ChatID}, nil
}

// Health checks backend liveness
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newBareRequest(ctx, fhttp.MethodGet, models.EndpointHealthz, "", nil)
	if err != nil {
		return err
	}
	_, err = c.expectOK(req, models.EndpointHealthz)
	return err
}

// wrapEnvelope frames a bare payload object as an envelope of kind
func wrapEnvelope(kind models.FrameKind, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+32)
	out = append(out, `{"type":"`...)
	out = append(out, kind...)
	out = append(out, `","payload":`...)
	out = append(out, payload...)
	return append(out, '}')
}
