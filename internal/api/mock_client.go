package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/diogo/quillchat/internal/models"
)

// MockClient is a mock implementation of ClientInterface for testing
type MockClient struct {
	// Mock return values
	InitErr       error
	PrimeHeader   http.Header
	PrimeErr      error
	UserInfoVal   models.UserInfo
	UserInfoErr   error
	RefreshErr    error
	LoginErr      error
	LogoutErr     error
	ChatsVal      []models.ChatSummary
	ChatsErr      error
	ChatVal       models.ChatTranscript
	ChatErr       error
	SendResultVal SendResult
	SendErr       error
	StreamFrames  []models.Envelope
	StreamErr     error
	HealthErr     error

	// Call counters/recorders
	mu           sync.Mutex
	InitCalled   bool
	CloseCalled  bool
	PrimeCalls   int
	RefreshCalls int
	HealthCalls  int
	LastRequest  models.ChatRequest
	LastLogin    models.LoginRequest
	LogoutCalled bool
	LastChatID   string
}

// Ensure MockClient implements ClientInterface
var _ ClientInterface = (*MockClient)(nil)

func (m *MockClient) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitCalled = true
	return m.InitErr
}

func (m *MockClient) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalled = true
}

func (m *MockClient) Prime(ctx context.Context) (http.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PrimeCalls++
	return m.PrimeHeader.Clone(), m.PrimeErr
}

func (m *MockClient) UserInfo(ctx context.Context) (models.UserInfo, error) {
	return m.UserInfoVal, m.UserInfoErr
}

func (m *MockClient) RefreshSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefreshCalls++
	return m.RefreshErr
}

func (m *MockClient) Login(ctx context.Context, creds models.LoginRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastLogin = creds
	return m.LoginErr
}

func (m *MockClient) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LogoutCalled = true
	return m.LogoutErr
}

func (m *MockClient) ListChats(ctx context.Context) ([]models.ChatSummary, error) {
	return m.ChatsVal, m.ChatsErr
}

func (m *MockClient) GetChat(ctx context.Context, id string) (models.ChatTranscript, error) {
	m.mu.Lock()
	m.LastChatID = id
	m.mu.Unlock()
	return m.ChatVal, m.ChatErr
}

func (m *MockClient) SendChat(ctx context.Context, req models.ChatRequest) (SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRequest = req
	return m.SendResultVal, m.SendErr
}

// StreamChat replays StreamFrames, then returns StreamErr
func (m *MockClient) StreamChat(ctx context.Context, chatID string, fn func(models.Envelope) error) error {
	m.mu.Lock()
	m.LastChatID = chatID
	frames := m.StreamFrames
	m.mu.Unlock()

	for _, env := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
	return m.StreamErr
}

func (m *MockClient) Health(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HealthCalls++
	return m.HealthErr
}

// SetHealthErr changes the Health result while the mock is in use
func (m *MockClient) SetHealthErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HealthErr = err
}

// Calls returns a copy of the recorded request and call counts
func (m *MockClient) Calls() (req models.ChatRequest, primes, refreshes, health int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastRequest, m.PrimeCalls, m.RefreshCalls, m.HealthCalls
}
