package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	apierrors "github.com/diogo/quillchat/internal/errors"
)

// Conn is the subset of *websocket.Conn the channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens the duplex connection.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Primer obtains the credentials sent with the upgrade request. It runs
// before every connection attempt so the session cookie is fresh.
type Primer interface {
	Prime(ctx context.Context) (http.Header, error)
}

// PrimerFunc adapts a function to Primer.
type PrimerFunc func(ctx context.Context) (http.Header, error)

// Prime calls f.
func (f PrimerFunc) Prime(ctx context.Context) (http.Header, error) { return f(ctx) }

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial performs the upgrade. A non-101 response is reported with its status.
func (d WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, apierrors.NewNetworkError("dial", url,
				fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode))
		}
		return nil, apierrors.NewNetworkError("dial", url, err)
	}
	return conn, nil
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func setWriteDeadline(conn Conn, d time.Duration) {
	if wd, ok := conn.(writeDeadliner); ok {
		_ = wd.SetWriteDeadline(time.Now().Add(d))
	}
}
