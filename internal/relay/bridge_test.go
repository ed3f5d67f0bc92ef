package relay

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diogo/quillchat/internal/models"
)

func dialRelay(t *testing.T, front string, header http.Header) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(front, "http") + models.EndpointWebSocket
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestBridgePipesBothWays(t *testing.T) {
	cookies := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != models.EndpointWebSocket {
			http.NotFound(w, r)
			return
		}
		cookies <- r.Header.Get("Cookie")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			// a non-JSON frame first, which the bridge drops
			_ = conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	}), Options{})

	conn := dialRelay(t, front, http.Header{"Cookie": {"auth_token=browser"}})
	assert.Equal(t, "auth_token=browser", <-cookies)

	frame := `{"type":"chat_request","content":{"message":"hi"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, frame, string(data))
}

func TestBridgeClosesWhenBackendCloses(t *testing.T) {
	upgrader := websocket.Upgrader{}
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat_stream","content":{"done":true}}`))
		conn.Close()
	}), Options{})

	conn := dialRelay(t, front, nil)
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "chat_stream")

	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestBridgeBackendUnavailable(t *testing.T) {
	conn := dialRelay(t, deadRelay(t), nil)

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":"Failed to connect to backend"}`, string(data))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}

func TestBridgeRejectsForeignOrigin(t *testing.T) {
	_, front := newRelay(t, http.NotFoundHandler(), Options{AllowedOrigins: []string{"https://app.example"}})

	wsURL := "ws" + strings.TrimPrefix(front, "http") + models.EndpointWebSocket
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBridgeDefaultsToSameOrigin(t *testing.T) {
	dialed := make(chan string, 2)
	upgrader := websocket.Upgrader{}
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dialed <- r.Header.Get("Cookie")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}), Options{})

	wsURL := "ws" + strings.TrimPrefix(front, "http") + models.EndpointWebSocket

	t.Run("foreign origin", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{
			"Origin": {"https://evil.example"},
			"Cookie": {"auth_token=victim"},
		})
		require.Error(t, err)
		require.NotNil(t, resp)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		select {
		case cookie := <-dialed:
			t.Fatalf("backend dialed with %q for a foreign origin", cookie)
		default:
		}
	})

	t.Run("own host", func(t *testing.T) {
		dialRelay(t, front, http.Header{
			"Origin": {front},
			"Cookie": {"auth_token=browser"},
		})
		assert.Equal(t, "auth_token=browser", <-dialed)
	})
}
