package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
	"github.com/diogo/quillchat/internal/transport"
)

// restBackend is the subset of Client the REST transport drives
type restBackend interface {
	SendChat(ctx context.Context, req models.ChatRequest) (SendResult, error)
	StreamChat(ctx context.Context, chatID string, fn func(models.Envelope) error) error
	Health(ctx context.Context) error
}

// RESTTransport delivers chat turns over REST send plus the event stream.
// It satisfies the same contract as transport.Channel, so a chat.Session can
// run on either.
type RESTTransport struct {
	backend    restBackend
	hub        *transport.Hub
	logger     zerolog.Logger
	retryDelay time.Duration

	mu      sync.Mutex
	started bool
	polling bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRESTTransport creates a transport over backend. A zero retryDelay uses
// the default reconnect delay.
func NewRESTTransport(backend restBackend, retryDelay time.Duration, logger zerolog.Logger) *RESTTransport {
	if retryDelay <= 0 {
		retryDelay = models.DefaultReconnectDelay
	}
	return &RESTTransport{
		backend:    backend,
		hub:        transport.NewHub(),
		logger:     logger,
		retryDelay: retryDelay,
	}
}

// Start polls backend health until it answers, then reports connected
func (t *RESTTransport) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.closed {
		return
	}
	t.started = true
	t.polling = true
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.hub.SetStatus(models.StatusConnecting)

	t.wg.Add(1)
	go t.pollHealth(t.ctx)
}

func (t *RESTTransport) pollHealth(ctx context.Context) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		t.polling = false
		t.mu.Unlock()
	}()
	for {
		err := t.backend.Health(ctx)
		if err == nil {
			t.mu.Lock()
			t.polling = false
			if !t.closed {
				t.hub.SetStatus(models.StatusConnected)
			}
			t.mu.Unlock()
			t.logger.Info().Msg("backend reachable")
			return
		}
		if ctx.Err() != nil {
			return
		}
		t.hub.SetStatus(models.StatusDisconnected)
		t.logger.Warn().Err(err).Dur("delay", t.retryDelay).Msg("health check failed, retrying")

		select {
		case <-time.After(t.retryDelay):
		case <-ctx.Done():
			return
		}
		t.hub.SetStatus(models.StatusConnecting)
	}
}

// Send posts a chat request. The reply arrives on Subscribe, either as one
// chat_response or as a sequence of chat_stream frames ending with done.
func (t *RESTTransport) Send(env models.Envelope) error {
	req, ok := env.(models.ChatRequest)
	if !ok {
		return fmt.Errorf("rest transport cannot send %s frames", env.Kind())
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return apierrors.ErrClosed
	}
	if t.hub.Status() != models.StatusConnected {
		t.logger.Warn().Str("type", string(env.Kind())).Msg("send while not connected, frame dropped")
		return apierrors.ErrNotConnected
	}

	t.wg.Add(1)
	go t.exchange(t.ctx, req)
	return nil
}

func (t *RESTTransport) exchange(ctx context.Context, req models.ChatRequest) {
	defer t.wg.Done()

	result, err := t.backend.SendChat(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn().Err(err).Msg("chat send failed")
			t.hub.Publish(models.ErrorFrame{Error: err.Error()})
			t.checkReachable(err)
		}
		return
	}
	if !result.Streaming {
		t.hub.Publish(result.Response)
		return
	}
	if result.ChatID == "" {
		t.hub.Publish(models.ErrorFrame{Error: "Chat ID is required"})
		return
	}

	t.logger.Debug().Str("chat_id", result.ChatID).Msg("reading reply stream")
	terminal := false
	err = t.backend.StreamChat(ctx, result.ChatID, func(env models.Envelope) error {
		switch e := env.(type) {
		case models.ChatStream:
			terminal = e.Done
		case models.ChatResponse, models.ErrorFrame:
			terminal = true
		}
		t.hub.Publish(env)
		return nil
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		t.logger.Warn().Err(err).Str("chat_id", result.ChatID).Msg("reply stream failed")
		t.hub.Publish(models.ErrorFrame{Error: err.Error()})
		t.checkReachable(err)
		return
	}
	if !terminal {
		// EOF without a done frame still ends the reply
		t.hub.Publish(models.ChatStream{Done: true, ChatID: result.ChatID})
	}
}

// checkReachable drops to disconnected and polls health again when err
// shows the backend could not be reached
func (t *RESTTransport) checkReachable(err error) {
	var netErr *apierrors.NetworkError
	if !errors.As(err, &netErr) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.polling {
		return
	}
	t.polling = true
	t.hub.SetStatus(models.StatusDisconnected)
	t.logger.Warn().Err(err).Msg("backend unreachable, polling health")

	t.wg.Add(1)
	go t.pollHealth(t.ctx)
}

// Subscribe registers a consumer of reply frames
func (t *RESTTransport) Subscribe() (<-chan models.Envelope, func()) {
	return t.hub.Subscribe()
}

// SubscribeStatus delivers reachability changes
func (t *RESTTransport) SubscribeStatus() (<-chan models.ConnectionStatus, func()) {
	return t.hub.SubscribeStatus()
}

// Status returns the current reachability status
func (t *RESTTransport) Status() models.ConnectionStatus {
	return t.hub.Status()
}

// Close cancels in-flight exchanges and closes every subscription
func (t *RESTTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	t.hub.SetStatus(models.StatusDisconnected)
	t.hub.Close()
	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	return nil
}
