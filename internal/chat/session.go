package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
)

// Transport is the duplex channel a Session drives.
type Transport interface {
	Start(ctx context.Context)
	Send(env models.Envelope) error
	Subscribe() (<-chan models.Envelope, func())
	SubscribeStatus() (<-chan models.ConnectionStatus, func())
	Status() models.ConnectionStatus
	Close() error
}

// Recorder persists a conversation after each completed turn.
type Recorder interface {
	RecordTurn(snap Snapshot) error
}

// Snapshot is an immutable view of the conversation for renderers.
type Snapshot struct {
	Messages []models.ChatMessage
	Sources  []models.Source
	ChatID   string
	Loading  bool
	Status   models.ConnectionStatus
}

// LastReply returns the newest assistant or system message.
func (s Snapshot) LastReply() (models.ChatMessage, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role != models.RoleUser {
			return s.Messages[i], true
		}
	}
	return models.ChatMessage{}, false
}

// Connected reports whether sending is currently possible.
func (s Snapshot) Connected() bool {
	return s.Status == models.StatusConnected
}

// Session is the composition root of one chat: it owns the reconciler,
// drives the transport and publishes snapshots. Create one per conversation
// and Close it when the consumer goes away.
type Session struct {
	transport Transport
	rec       *Reconciler
	options   models.ChatOptions
	recorder  Recorder
	logger    zerolog.Logger

	mu      sync.Mutex
	status  models.ConnectionStatus
	idle    chan struct{} // closed while no reply is pending
	updates chan Snapshot
	closed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithChatOptions sets the options sent with every request.
func WithChatOptions(opts models.ChatOptions) SessionOption {
	return func(s *Session) {
		s.options = opts
	}
}

// WithRecorder persists completed turns.
func WithRecorder(r Recorder) SessionOption {
	return func(s *Session) {
		s.recorder = r
	}
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(l zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

// WithReconciler replaces the default reconciler.
func WithReconciler(r *Reconciler) SessionOption {
	return func(s *Session) {
		s.rec = r
	}
}

// NewSession creates a session over transport. Call Start to connect.
func NewSession(transport Transport, opts ...SessionOption) *Session {
	s := &Session{
		transport: transport,
		logger:    zerolog.Nop(),
		updates:   make(chan Snapshot, 1),
		idle:      make(chan struct{}),
	}
	close(s.idle)
	for _, opt := range opts {
		opt(s)
	}
	if s.rec == nil {
		s.rec = NewReconciler()
	}
	return s
}

// Start subscribes to the transport and begins connecting.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	frames, unsubFrames := s.transport.Subscribe()
	statuses, unsubStatus := s.transport.SubscribeStatus()

	s.mu.Lock()
	s.cancel = cancel
	s.status = s.transport.Status()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubFrames()
		defer unsubStatus()
		s.run(ctx, frames, statuses)
	}()

	s.transport.Start(ctx)
}

func (s *Session) run(ctx context.Context, frames <-chan models.Envelope, statuses <-chan models.ConnectionStatus) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-frames:
			if !ok {
				return
			}
			s.apply(env)
		case st, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			s.setStatus(st)
		}
	}
}

func (s *Session) apply(env models.Envelope) {
	s.mu.Lock()
	if s.closed || !s.rec.Apply(env) {
		s.mu.Unlock()
		return
	}
	turnDone := !s.rec.Loading() && completesTurn(env)
	if !s.rec.Loading() {
		s.markIdleLocked()
	}
	snap := s.snapshotLocked()
	s.publishLocked(snap)
	s.mu.Unlock()

	if turnDone && s.recorder != nil {
		if err := s.recorder.RecordTurn(snap); err != nil {
			s.logger.Warn().Err(err).Msg("failed to record conversation")
		}
	}
}

func completesTurn(env models.Envelope) bool {
	switch e := env.(type) {
	case models.ChatStream:
		return e.Done
	case models.ChatResponse, models.ErrorFrame:
		return true
	default:
		return false
	}
}

func (s *Session) setStatus(st models.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.status == st {
		return
	}
	s.status = st
	s.publishLocked(s.snapshotLocked())
}

// Ask appends a user turn and sends it with the full history.
// It fails without side effects when the text is empty, a reply is still
// pending, or the channel is not connected.
func (s *Session) Ask(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return apierrors.ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apierrors.ErrClosed
	}
	if s.rec.Loading() {
		return apierrors.ErrReplyPending
	}
	if err := s.transport.Send(s.rec.Request(text, s.options)); err != nil {
		return err
	}

	s.rec.AddUserMessage(text)
	s.idle = make(chan struct{})
	s.publishLocked(s.snapshotLocked())
	return nil
}

// WaitReply blocks until no reply is pending and returns the newest reply.
func (s *Session) WaitReply(ctx context.Context) (models.ChatMessage, error) {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return models.ChatMessage{}, ctx.Err()
	}

	reply, ok := s.Snapshot().LastReply()
	if !ok {
		return models.ChatMessage{}, apierrors.ErrInvalidResponse
	}
	return reply, nil
}

// NewChat discards the conversation and starts over on the same channel.
func (s *Session) NewChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Reset()
	s.markIdleLocked()
	s.publishLocked(s.snapshotLocked())
}

// Resume loads a stored conversation so the next Ask continues it.
func (s *Session) Resume(chatID string, messages []models.ChatMessage, sources []models.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Load(chatID, messages, sources)
	s.markIdleLocked()
	s.publishLocked(s.snapshotLocked())
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Updates delivers the latest snapshot after every change. Intermediate
// snapshots are dropped when the consumer falls behind. The channel is
// closed by Close.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// Close tears down the transport and stops delivering updates.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.markIdleLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := s.transport.Close()
	s.wg.Wait()

	s.mu.Lock()
	close(s.updates)
	s.mu.Unlock()
	return err
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Messages: s.rec.Messages(),
		Sources:  s.rec.Sources(),
		ChatID:   s.rec.ChatID(),
		Loading:  s.rec.Loading(),
		Status:   s.status,
	}
}

// publishLocked replaces any unread snapshot with snap.
func (s *Session) publishLocked(snap Snapshot) {
	if s.closed {
		return
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}

func (s *Session) markIdleLocked() {
	select {
	case <-s.idle:
	default:
		close(s.idle)
	}
}
