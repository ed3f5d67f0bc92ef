package relay

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diogo/quillchat/internal/models"
)

func openStream(t *testing.T, front, chatID string, header http.Header) *http.Response {
	t.Helper()
	target := front + models.EndpointChatStream
	if chatID != "" {
		target += "?chatId=" + chatID
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStreamRequiresChatID(t *testing.T) {
	_, front := newRelay(t, http.NotFoundHandler(), Options{})

	resp := openStream(t, front, "", nil)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Chat ID is required"}`, string(body))
}

func TestStreamRelaysEvents(t *testing.T) {
	var gotCookie, gotChatID string
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotChatID = r.URL.Query().Get("chatId")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "data: { \"content\" : \"Hel\", \"msgNum\": 2 }\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "event: message\n")
		fmt.Fprint(w, "data: {\"content\":\"lo\",\"msgNum\":2}\n\n")
		fmt.Fprint(w, "data: {\"done\":true,\"msgNum\":2}\n\n")
		fmt.Fprint(w, "data: {\"content\":\"never relayed\"}\n\n")
	}), Options{})

	resp := openStream(t, front, "c1", http.Header{"Cookie": {"auth_token=t"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	events := readEvents(t, resp.Body)
	assert.Equal(t, []string{
		`data: {"content":"Hel","msgNum":2}`,
		`data: {"type":"raw","content":"not json"}`,
		`data: {"content":"lo","msgNum":2}`,
		`data: {"done":true,"msgNum":2}`,
	}, events)
	assert.Equal(t, "auth_token=t", gotCookie)
	assert.Equal(t, "c1", gotChatID)
}

func TestStreamEndsAtBackendEOF(t *testing.T) {
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"content\":\"partial\"}\n\n")
	}), Options{})

	events := readEvents(t, openStream(t, front, "c1", nil).Body)
	assert.Equal(t, []string{`data: {"content":"partial"}`}, events)
}

func TestStreamBackendError(t *testing.T) {
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "chat belongs to another user\n")
	}), Options{})

	resp := openStream(t, front, "c1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	events := readEvents(t, resp.Body)
	assert.Equal(t, []string{
		`data: {"type":"error","error":"Backend API error: 403 chat belongs to another user"}`,
	}, events)
}

func TestStreamBackendUnreachable(t *testing.T) {
	events := readEvents(t, openStream(t, deadRelay(t), "c1", nil).Body)
	assert.Equal(t, []string{
		`data: {"type":"error","error":"Error connecting to backend stream service"}`,
	}, events)
}

func TestStreamPings(t *testing.T) {
	release := make(chan struct{})
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, "data: {\"done\":true}\n\n")
	}), Options{PingInterval: 10 * time.Millisecond})

	resp := openStream(t, front, "c1", nil)
	time.Sleep(60 * time.Millisecond)
	close(release)

	events := readEvents(t, resp.Body)
	require.NotEmpty(t, events)
	assert.Equal(t, ": ping", events[0])
	assert.Equal(t, `data: {"done":true}`, events[len(events)-1])
	for _, e := range events[:len(events)-1] {
		assert.True(t, strings.HasPrefix(e, ": ping"), "unexpected event %q", e)
	}
}
