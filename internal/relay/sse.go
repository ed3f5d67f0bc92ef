package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/diogo/quillchat/internal/api"
	"github.com/diogo/quillchat/internal/metrics"
	"github.com/diogo/quillchat/internal/models"
)

const msgStreamFailed = "Error connecting to backend stream service"

type rawFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// eventWriter serializes writes from the relay loop and the ping ticker
type eventWriter struct {
	mu sync.Mutex
	w  io.Writer
	rc *http.ResponseController
}

func (e *eventWriter) write(kind string, chunk []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(chunk); err != nil {
		return err
	}
	metrics.RelayFramesTotal.WithLabelValues(kind).Inc()
	return e.rc.Flush()
}

func (e *eventWriter) data(kind string, payload []byte) error {
	var buf bytes.Buffer
	buf.Grow(len(payload) + 8)
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return e.write(kind, buf.Bytes())
}

func (e *eventWriter) json(kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.data(kind, payload)
}

func (e *eventWriter) ping() error {
	return e.write("ping", []byte(": ping\n\n"))
}

// handleStream re-emits the backend event stream of one chat. Every data
// line is normalized to compact JSON; unparsable lines are wrapped as raw
// frames. The response ends after a done frame, at backend EOF or when the
// browser goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chatId")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "Chat ID is required")
		return
	}

	ctx := r.Context()
	logger := zerolog.Ctx(ctx).With().Str("chat_id", chatID).Logger()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ew := &eventWriter{w: w, rc: http.NewResponseController(w)}
	_ = ew.rc.Flush()

	metrics.SSEStreamsActive.Inc()
	defer metrics.SSEStreamsActive.Dec()
	logger.Debug().Msg("event stream opened")
	defer logger.Debug().Msg("event stream closed")

	stop := make(chan struct{})
	var pingers sync.WaitGroup
	pingers.Add(1)
	go func() {
		defer pingers.Done()
		ticker := time.NewTicker(s.ping)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ew.ping(); err != nil {
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() {
		close(stop)
		pingers.Wait()
	}()

	stream, err := s.backend.OpenStream(ctx, models.EndpointChatStream, url.Values{"chatId": {chatID}}, browserHeader(r))
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn().Err(err).Msg("error streaming from backend")
			_ = ew.json("error", errorFrame{Type: "error", Error: msgStreamFailed})
		}
		return
	}
	defer stream.Close()

	if stream.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(stream.Body, 2048))
		_ = ew.json("error", errorFrame{
			Type:  "error",
			Error: fmt.Sprintf("Backend API error: %d %s", stream.StatusCode, strings.TrimSpace(string(text))),
		})
		return
	}

	err = api.ScanEvents(stream.Body, func(data []byte) error {
		if !gjson.ValidBytes(data) {
			logger.Debug().Str("line", string(data)).Msg("forwarding unparsable event as raw")
			return ew.json("raw", rawFrame{Type: "raw", Content: string(data)})
		}

		var compact bytes.Buffer
		if err := json.Compact(&compact, data); err != nil {
			return ew.json("raw", rawFrame{Type: "raw", Content: string(data)})
		}
		if err := ew.data("event", compact.Bytes()); err != nil {
			return err
		}
		if gjson.GetBytes(data, "done").Bool() {
			return api.ErrStopStream
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("event stream interrupted")
		_ = ew.json("error", errorFrame{Type: "error", Error: msgStreamFailed})
	}
}
