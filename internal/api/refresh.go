package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// minRefreshGap rate-limits refresh calls (1 call per minute max)
const minRefreshGap = time.Minute

// sessionRefresher is the subset of Client the refresher drives
type sessionRefresher interface {
	RefreshSession(ctx context.Context) error
}

// SessionRefresher keeps the backend session alive by calling
// /api/auth/refresh on an interval
type SessionRefresher struct {
	client   sessionRefresher
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	lastCall time.Time
}

// NewSessionRefresher creates a refresher; call Start to begin
func NewSessionRefresher(client sessionRefresher, interval time.Duration, logger zerolog.Logger) *SessionRefresher {
	return &SessionRefresher{
		client:   client,
		interval: interval,
		logger:   logger,
	}
}

// RefreshNow refreshes immediately unless the last call was under a minute ago.
// It reports whether a call was made.
func (r *SessionRefresher) RefreshNow(ctx context.Context) (bool, error) {
	r.mu.Lock()
	if !r.lastCall.IsZero() && time.Since(r.lastCall) < minRefreshGap {
		r.mu.Unlock()
		return false, nil
	}
	r.lastCall = time.Now()
	r.mu.Unlock()

	return true, r.client.RefreshSession(ctx)
}

// Start begins background refresh
func (r *SessionRefresher) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := r.RefreshNow(ctx); err != nil {
					r.logger.Warn().Err(err).Msg("session refresh failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts background refresh and waits for an in-flight call to end
func (r *SessionRefresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done
}

// IsRunning reports whether the background loop is active
func (r *SessionRefresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
