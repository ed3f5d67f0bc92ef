package relay

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/diogo/quillchat/internal/metrics"
)

const bridgeUnavailable = `{"type":"error","error":"Failed to connect to backend"}`

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin accepts requests without an Origin and any configured origin.
// With no origins configured only an Origin naming the relay's own host
// passes.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.origins) == 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleBridge upgrades the browser connection and pipes it to the backend
// duplex endpoint with the browser's own cookie. Either side closing tears
// down both.
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())
	header := browserHeader(r)

	up := s.upgrader()
	client, err := up.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer client.Close()

	backend, err := s.dialer.Dial(r.Context(), s.bridgeURL, header)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to connect to backend websocket")
		_ = client.WriteMessage(websocket.TextMessage, []byte(bridgeUnavailable))
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "backend unavailable"),
			time.Now().Add(time.Second))
		return
	}
	defer backend.Close()

	metrics.WebSocketBridgesActive.Inc()
	defer metrics.WebSocketBridgesActive.Dec()
	logger.Debug().Msg("bridge opened")

	g, ctx := errgroup.WithContext(context.WithoutCancel(r.Context()))

	// backend -> browser; frames that are not JSON are dropped
	g.Go(func() error {
		for {
			_, data, err := backend.ReadMessage()
			if err != nil {
				return err
			}
			if !gjson.ValidBytes(data) {
				logger.Debug().Int("bytes", len(data)).Msg("dropping non-JSON backend frame")
				metrics.RelayFramesTotal.WithLabelValues("dropped").Inc()
				continue
			}
			if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
			metrics.RelayFramesTotal.WithLabelValues("bridged").Inc()
		}
	})

	// browser -> backend
	g.Go(func() error {
		for {
			mt, data, err := client.ReadMessage()
			if err != nil {
				return err
			}
			if err := backend.WriteMessage(mt, data); err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = client.Close()
		_ = backend.Close()
		return nil
	})

	err = g.Wait()
	logger.Debug().Err(err).Msg("bridge closed")
}
