package commands

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/diogo/quillchat/internal/models"
	"github.com/diogo/quillchat/internal/transport"
)

// setupConfigDir points the config directory at a temp dir and resets the
// global flags
func setupConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("QUILLCHAT_CONFIG_DIR", dir)
	t.Setenv("QUILLCHAT_BACKEND_URL", "")
	t.Setenv("BACKEND_API_URL", "")
	t.Setenv("BACKEND_URL", "")

	resetFlags()
	t.Cleanup(resetFlags)
	return dir
}

func resetFlags() {
	backendURLFlag, transportFlag, logLevelFlag, configFlag = "", "", "", ""
	outputFlag, fileFlag, copyFlag, viaFlag = "", "", false, viaChannel
	exportFormatFlag, exportOutputFlag, exportNoSources, exportMetadata = "md", "", false, false
	searchContent, clearForce = false, false
	importBrowserFlag = ""
	loginEmailFlag, loginRememberFlag = "", false
}

// runCLI executes the root command with args and returns its stdout
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// stubTransport connects on Start and answers every request with reply
type stubTransport struct {
	hub     *transport.Hub
	reply   func(models.ChatRequest) []models.Envelope
	offline bool

	mu   sync.Mutex
	sent []models.ChatRequest
}

func newStubTransport(reply func(models.ChatRequest) []models.Envelope) *stubTransport {
	return &stubTransport{hub: transport.NewHub(), reply: reply}
}

func (s *stubTransport) Start(ctx context.Context) {
	if !s.offline {
		s.hub.SetStatus(models.StatusConnected)
	}
}

func (s *stubTransport) Send(env models.Envelope) error {
	req, ok := env.(models.ChatRequest)
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()
	if s.reply != nil {
		for _, e := range s.reply(req) {
			s.hub.Publish(e)
		}
	}
	return nil
}

func (s *stubTransport) Subscribe() (<-chan models.Envelope, func()) { return s.hub.Subscribe() }

func (s *stubTransport) SubscribeStatus() (<-chan models.ConnectionStatus, func()) {
	return s.hub.SubscribeStatus()
}

func (s *stubTransport) Status() models.ConnectionStatus { return s.hub.Status() }

func (s *stubTransport) Close() error {
	s.hub.Close()
	return nil
}

func (s *stubTransport) requests() []models.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatRequest(nil), s.sent...)
}

// streamedReply answers with a two-chunk streamed reply
func streamedReply(req models.ChatRequest) []models.Envelope {
	return []models.Envelope{
		models.ChatStream{Content: "Echo: ", MsgNum: 2, HasMsgNum: true, ChatID: "chat-1"},
		models.ChatStream{Content: req.Message, MsgNum: 2, HasMsgNum: true, Done: true,
			Sources: []models.Source{{Title: "Docs", URL: "https://docs.example", MsgNum: 2}}},
	}
}
