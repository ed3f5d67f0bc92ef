package transport

import (
	"sync"

	"github.com/diogo/quillchat/internal/models"
)

const subscriberBuffer = 64

// Hub fans envelopes and status changes out to subscribers. Envelopes are
// delivered to every subscriber in publish order; status subscribers only
// ever see the latest unread status.
type Hub struct {
	done      chan struct{}
	closeOnce sync.Once

	subMu  sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool

	statusMu     sync.Mutex
	status       models.ConnectionStatus
	statusSubs   map[int]chan models.ConnectionStatus
	nextStatusID int
}

// subscriber is one envelope consumer. gone is closed first so a publisher
// blocked on a full buffer lets go before ch is closed.
type subscriber struct {
	ch   chan models.Envelope
	gone chan struct{}
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

// deliver sends env unless the subscriber leaves or the hub closes. It
// returns false once the hub is closed.
func (s *subscriber) deliver(env models.Envelope, done <-chan struct{}) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- env:
		return true
	case <-s.gone:
		return true
	case <-done:
		return false
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.gone)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// NewHub creates an open hub in the disconnected state
func NewHub() *Hub {
	return &Hub{
		done:       make(chan struct{}),
		subs:       make(map[int]*subscriber),
		statusSubs: make(map[int]chan models.ConnectionStatus),
	}
}

// Done is closed by Close
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Subscribe registers an envelope consumer. The channel is closed by Close
// or by the returned cancel func. Cancelling never waits on a publisher.
func (h *Hub) Subscribe() (<-chan models.Envelope, func()) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	sub := &subscriber{
		ch:   make(chan models.Envelope, subscriberBuffer),
		gone: make(chan struct{}),
	}
	if h.closed {
		sub.close()
		return sub.ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	return sub.ch, func() {
		h.subMu.Lock()
		delete(h.subs, id)
		h.subMu.Unlock()
		sub.close()
	}
}

// Publish delivers env to every subscriber, blocking on slow consumers
// until they unsubscribe or the hub is closed. Subscribers are read under
// the lock and sent to outside it.
func (h *Hub) Publish(env models.Envelope) {
	h.subMu.RLock()
	if h.closed {
		h.subMu.RUnlock()
		return
	}
	subs := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subMu.RUnlock()

	for _, sub := range subs {
		if !sub.deliver(env, h.done) {
			return
		}
	}
}

// SubscribeStatus registers a status consumer. The current status is
// delivered immediately.
func (h *Hub) SubscribeStatus() (<-chan models.ConnectionStatus, func()) {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()

	ch := make(chan models.ConnectionStatus, 1)
	select {
	case <-h.done:
		close(ch)
		return ch, func() {}
	default:
	}

	ch <- h.status
	id := h.nextStatusID
	h.nextStatusID++
	h.statusSubs[id] = ch
	return ch, func() {
		h.statusMu.Lock()
		defer h.statusMu.Unlock()
		if s, ok := h.statusSubs[id]; ok {
			delete(h.statusSubs, id)
			close(s)
		}
	}
}

// Status returns the last status set
func (h *Hub) Status() models.ConnectionStatus {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	return h.status
}

// SetStatus records st and notifies subscribers. It reports whether the
// status changed.
func (h *Hub) SetStatus(st models.ConnectionStatus) bool {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	if h.status == st {
		return false
	}
	h.status = st
	for _, ch := range h.statusSubs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
	return true
}

// Close unblocks publishers and closes every subscription. It is idempotent.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)

		h.subMu.Lock()
		h.closed = true
		subs := h.subs
		h.subs = make(map[int]*subscriber)
		h.subMu.Unlock()
		for _, sub := range subs {
			sub.close()
		}

		h.statusMu.Lock()
		for id, ch := range h.statusSubs {
			delete(h.statusSubs, id)
			close(ch)
		}
		h.statusMu.Unlock()
	})
}
