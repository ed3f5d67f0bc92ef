package transport

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/diogo/quillchat/internal/models"
)

// inbound is the result of unwrapping one transport frame.
type inbound struct {
	payload []byte // envelope JSON, nil for control frames
	reply   []byte // frame to write back, e.g. a pong
	closed  bool   // the peer ended the session
}

// framer adapts envelope JSON to the wire format of a transport mode.
type framer interface {
	// path is the endpoint path, with an optional query, below the backend URL
	path() string
	handshake(conn Conn) error
	decode(data []byte) (inbound, error)
	encode(payload []byte) []byte
}

func newFramer(mode models.TransportMode) framer {
	if mode == models.TransportSocketIO {
		return socketIOFramer{}
	}
	return rawFramer{}
}

// EndpointURL derives the duplex endpoint from the backend base URL.
// http becomes ws and https becomes wss.
func EndpointURL(base *url.URL, mode models.TransportMode) (string, error) {
	if base == nil {
		return "", fmt.Errorf("backend URL is nil")
	}
	u := *base
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported backend scheme %q", base.Scheme)
	}

	p, query, _ := strings.Cut(newFramer(mode).path(), "?")
	u.Path = strings.TrimRight(u.Path, "/") + p
	u.RawPath = ""
	u.RawQuery = query
	u.Fragment = ""
	return u.String(), nil
}

// rawFramer sends each envelope as one text message.
type rawFramer struct{}

func (rawFramer) path() string           { return models.EndpointWebSocket }
func (rawFramer) handshake(Conn) error   { return nil }
func (rawFramer) encode(p []byte) []byte { return p }

func (rawFramer) decode(data []byte) (inbound, error) {
	return inbound{payload: data}, nil
}

// Engine.IO v4 packet types and Socket.IO packet prefixes
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'

	sioConnect      = "40"
	sioDisconnect   = "41"
	sioEvent        = "42"
	sioConnectError = "44"

	sioEventName = "message"
)

// socketIOFramer speaks Socket.IO over the Engine.IO v4 websocket transport.
// Envelopes travel as the argument of a "message" event.
type socketIOFramer struct{}

func (socketIOFramer) path() string {
	return models.EndpointSocketIO + "?" + models.SocketIOQuery
}

func (socketIOFramer) handshake(conn Conn) error {
	_, open, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read engine.io open packet: %w", err)
	}
	if len(open) == 0 || open[0] != eioOpen {
		return fmt.Errorf("unexpected engine.io open packet %q", truncate(open))
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(sioConnect)); err != nil {
		return fmt.Errorf("send socket.io connect: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await socket.io connect: %w", err)
		}
		switch {
		case bytes.HasPrefix(data, []byte(sioConnect)):
			return nil
		case bytes.HasPrefix(data, []byte(sioConnectError)):
			msg := gjson.GetBytes(data[len(sioConnectError):], "message").String()
			if msg == "" {
				msg = string(data[len(sioConnectError):])
			}
			return fmt.Errorf("socket.io connect refused: %s", msg)
		case len(data) == 1 && data[0] == eioPing:
			if err := conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				return fmt.Errorf("answer engine.io ping: %w", err)
			}
		}
	}
}

func (socketIOFramer) decode(data []byte) (inbound, error) {
	if len(data) == 0 {
		return inbound{}, fmt.Errorf("empty engine.io packet")
	}

	switch data[0] {
	case eioPing:
		return inbound{reply: []byte{eioPong}}, nil
	case eioPong, eioNoop:
		return inbound{}, nil
	case eioClose:
		return inbound{closed: true}, nil
	case eioMessage:
	default:
		return inbound{}, fmt.Errorf("unknown engine.io packet type %q", data[0])
	}

	switch {
	case bytes.HasPrefix(data, []byte(sioDisconnect)):
		return inbound{closed: true}, nil
	case bytes.HasPrefix(data, []byte(sioEvent)):
	default:
		// Connect acks and binary events carry no envelope
		return inbound{}, nil
	}

	args := gjson.ParseBytes(data[len(sioEvent):])
	if !args.IsArray() {
		return inbound{}, fmt.Errorf("socket.io event is not an array: %q", truncate(data))
	}
	if name := args.Get("0").String(); name != sioEventName {
		return inbound{}, fmt.Errorf("unexpected socket.io event %q", name)
	}

	arg := args.Get("1")
	switch arg.Type {
	case gjson.String:
		// Some servers emit the envelope pre-serialized
		return inbound{payload: []byte(arg.Str)}, nil
	case gjson.JSON:
		return inbound{payload: []byte(arg.Raw)}, nil
	default:
		return inbound{}, fmt.Errorf("socket.io event without payload: %q", truncate(data))
	}
}

func (socketIOFramer) encode(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(sioEvent)+len(sioEventName)+6)
	out = append(out, sioEvent...)
	out = append(out, `["`+sioEventName+`",`...)
	out = append(out, payload...)
	return append(out, ']')
}

func truncate(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
