package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	fhttp "github.com/bogdanfinn/fhttp"
	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
	"github.com/diogo/quillchat/internal/protocol"
)

// maxEventLine bounds one event-stream line
const maxEventLine = 1 << 20

// ErrStopStream ends ScanEvents without an error
var ErrStopStream = errors.New("stop stream")

// Stream is an open event-stream response. Close releases the connection.
type Stream struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Close closes the response body
func (s *Stream) Close() error {
	if s == nil || s.Body == nil {
		return nil
	}
	return s.Body.Close()
}

// ScanEvents calls fn with the payload of each "data:" line. Comment lines
// (": ping") and other fields are skipped. Returning ErrStopStream from fn
// ends the scan cleanly.
func ScanEvents(r io.Reader, fn func(data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 || line[0] == ':' {
			continue
		}
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		if err := fn(bytes.TrimSpace(data)); err != nil {
			if errors.Is(err, ErrStopStream) {
				return nil
			}
			return err
		}
	}
	return scanner.Err()
}

// OpenStream issues an event-stream GET with the given forwarded headers.
// The caller owns the returned Stream and must close it. Non-200 statuses
// are returned as a Stream, not an error, so relays can report them.
func (c *Client) OpenStream(ctx context.Context, endpoint string, query url.Values, header http.Header) (*Stream, error) {
	req, err := c.newBareRequest(ctx, fhttp.MethodGet, endpoint, query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	copyForwarded(req.Header, header)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, apierrors.NewNetworkError("stream", endpoint, err)
	}
	return &Stream{StatusCode: resp.StatusCode, Header: toStdHeader(resp.Header), Body: resp.Body}, nil
}

// StreamChat reads the reply stream of chatID with the client's own session
// and calls fn with every envelope until a done frame, an error frame or EOF.
func (c *Client) StreamChat(ctx context.Context, chatID string, fn func(models.Envelope) error) error {
	req, err := c.newRequest(ctx, fhttp.MethodGet, models.EndpointChatStream, url.Values{"chatId": {chatID}}.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.doWith(c.streamClient, req, models.EndpointChatStream)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp, models.EndpointChatStream)
	}

	return ScanEvents(resp.Body, func(data []byte) error {
		env, err := decodeStreamEvent(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("skipping undecodable stream event")
			return nil
		}
		if err := fn(env); err != nil {
			return err
		}
		switch e := env.(type) {
		case models.ChatStream:
			if e.Done {
				return ErrStopStream
			}
		case models.ErrorFrame, models.ChatResponse:
			return ErrStopStream
		}
		return nil
	})
}

// decodeStreamEvent accepts typed envelopes and bare stream chunks.
// Relay wrappers {"type":"raw"} carry nothing decodable.
func decodeStreamEvent(data []byte) (models.Envelope, error) {
	if !gjson.ValidBytes(data) {
		return nil, apierrors.NewMalformedFrameError("invalid JSON", data)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, apierrors.NewMalformedFrameError("not an object", data)
	}
	if root.Get("type").Exists() {
		return protocol.Decode(data)
	}
	return protocol.DecodeStream(root), nil
}

func copyForwarded(dst fhttp.Header, src http.Header) {
	for _, name := range forwardedHeaders {
		values := src.Values(name)
		if len(values) > 0 {
			dst.Del(name)
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
