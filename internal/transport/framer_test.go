package transport

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diogo/quillchat/internal/models"
)

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		base string
		mode models.TransportMode
		want string
	}{
		{"http://localhost:8000", models.TransportWebSocket, "ws://localhost:8000/ws"},
		{"https://api.example.com/", models.TransportWebSocket, "wss://api.example.com/ws"},
		{"https://api.example.com/backend", models.TransportWebSocket, "wss://api.example.com/backend/ws"},
		{"http://localhost:8000", models.TransportSocketIO, "ws://localhost:8000/socket.io/?EIO=4&transport=websocket"},
		{"https://api.example.com?x=1", models.TransportSocketIO, "wss://api.example.com/socket.io/?EIO=4&transport=websocket"},
	}

	for _, tt := range tests {
		t.Run(tt.base+"/"+string(tt.mode), func(t *testing.T) {
			base, err := url.Parse(tt.base)
			require.NoError(t, err)
			got, err := EndpointURL(base, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	ftp, _ := url.Parse("ftp://example.com")
	_, err := EndpointURL(ftp, models.TransportWebSocket)
	assert.Error(t, err)

	_, err = EndpointURL(nil, models.TransportWebSocket)
	assert.Error(t, err)
}

func TestRawFramerIsIdentity(t *testing.T) {
	f := newFramer(models.TransportWebSocket)
	frame := []byte(`{"type":"chat_stream"}`)

	in, err := f.decode(frame)
	require.NoError(t, err)
	assert.Equal(t, frame, in.payload)
	assert.Nil(t, in.reply)
	assert.Equal(t, frame, f.encode(frame))
}

func TestSocketIOFramerDecode(t *testing.T) {
	f := newFramer(models.TransportSocketIO)

	tests := []struct {
		name    string
		frame   string
		payload string
		reply   string
		closed  bool
		wantErr bool
	}{
		{name: "ping", frame: "2", reply: "3"},
		{name: "pong", frame: "3"},
		{name: "noop", frame: "6"},
		{name: "engine close", frame: "1", closed: true},
		{name: "namespace disconnect", frame: "41", closed: true},
		{name: "connect ack", frame: `40{"sid":"x"}`},
		{name: "object event", frame: `42["message",{"type":"error","content":{"error":"x"}}]`, payload: `{"type":"error","content":{"error":"x"}}`},
		{name: "string event", frame: `42["message","{\"type\":\"error\"}"]`, payload: `{"type":"error"}`},
		{name: "other event", frame: `42["typing",{}]`, wantErr: true},
		{name: "event without payload", frame: `42["message"]`, wantErr: true},
		{name: "not an array", frame: `42{"a":1}`, wantErr: true},
		{name: "unknown packet", frame: "9", wantErr: true},
		{name: "empty", frame: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := f.decode([]byte(tt.frame))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.payload, string(in.payload))
			assert.Equal(t, tt.reply, string(in.reply))
			assert.Equal(t, tt.closed, in.closed)
		})
	}
}

func TestSocketIOFramerEncode(t *testing.T) {
	f := newFramer(models.TransportSocketIO)
	got := f.encode([]byte(`{"type":"chat_request"}`))
	assert.Equal(t, `42["message",{"type":"chat_request"}]`, string(got))
}
