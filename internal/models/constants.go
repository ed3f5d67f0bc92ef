// Package models contains data types and constants shared by the quillchat client and relay.
package models

import "time"

// Backend endpoints, relative to the configured backend URL
const (
	EndpointWebSocket     = "/ws"
	EndpointSocketIO      = "/socket.io/"
	EndpointUserInfo      = "/api/user/info"
	EndpointAuthRefresh   = "/api/auth/refresh"
	EndpointAuthLogin     = "/api/auth/login"
	EndpointAuthLogout    = "/api/auth/logout"
	EndpointUserUpdate    = "/api/user/update"
	EndpointUserDelete    = "/api/user/delete"
	EndpointChatSend      = "/api/chat/send"
	EndpointChatStream    = "/api/chat/stream"
	EndpointUserChats     = "/api/user/chats"
	EndpointUserChat      = "/api/user/chat/"
	EndpointHealthz       = "/api/healthz"
	EndpointMetrics       = "/metrics"
	SocketIOQuery         = "EIO=4&transport=websocket"
	AuthCookieName        = "auth_token"
	RequestIDHeader       = "X-Request-ID"
	DefaultQualityProfile = "balanced"
)

// Timing defaults
const (
	DefaultReconnectDelay   = 3 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPrimeTimeout     = 10 * time.Second
	DefaultSSEPingInterval  = 15 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

// TransportMode selects how envelopes are framed on the duplex channel
type TransportMode string

const (
	TransportWebSocket TransportMode = "websocket"
	TransportSocketIO  TransportMode = "socketio"
)

// ParseTransportMode converts a config string to a TransportMode.
// Unknown values fall back to raw WebSocket framing.
func ParseTransportMode(s string) TransportMode {
	switch s {
	case "socketio", "socket.io", "sio":
		return TransportSocketIO
	default:
		return TransportWebSocket
	}
}

// ConnectionStatus is the lifecycle state of the duplex channel
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}
