package models

// FrameKind is the type tag of an envelope on the wire
type FrameKind string

const (
	KindChatRequest  FrameKind = "chat_request"
	KindChatResponse FrameKind = "chat_response"
	KindChatStream   FrameKind = "chat_stream"
	KindError        FrameKind = "error"
)

// Envelope is one real-time frame. The set of implementations is closed:
// ChatRequest, ChatResponse, ChatStream and ErrorFrame.
type Envelope interface {
	Kind() FrameKind
	sealed()
}

// ChatRequest carries the full history plus the new user turn.
// ChatID is empty for a chat the server has not assigned an id to yet.
type ChatRequest struct {
	Messages []ChatMessage
	Message  string
	ChatID   string
	Options  ChatOptions
}

// ChatResponse is a complete, non-streamed reply.
// HasMessage is false when the payload carried no usable message object.
type ChatResponse struct {
	Content          string
	MsgNum           int
	HasMessage       bool
	HasMsgNum        bool
	Sources          []Source
	ChatID           string
	RelatedQuestions []string
}

// ChatStream is one increment of a streamed reply.
// A nil Sources means the chunk did not carry sources at all.
type ChatStream struct {
	Content   string
	MsgNum    int
	HasMsgNum bool
	Done      bool
	ChatID    string
	Sources   []Source
}

// ErrorFrame is a failure reported by the backend
type ErrorFrame struct {
	Error string
}

func (ChatRequest) Kind() FrameKind  { return KindChatRequest }
func (ChatResponse) Kind() FrameKind { return KindChatResponse }
func (ChatStream) Kind() FrameKind   { return KindChatStream }
func (ErrorFrame) Kind() FrameKind   { return KindError }

func (ChatRequest) sealed()  {}
func (ChatResponse) sealed() {}
func (ChatStream) sealed()   {}
func (ErrorFrame) sealed()   {}
