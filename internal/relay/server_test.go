package relay

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diogo/quillchat/internal/api"
	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
)

// httpBackend implements Backend with net/http against a test upstream
type httpBackend struct {
	base string
}

func (b httpBackend) target(endpoint, rawQuery string) string {
	u := b.base + endpoint
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

func (b httpBackend) Forward(ctx context.Context, method, endpoint, rawQuery string, header http.Header, body []byte) (*api.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.target(endpoint, rawQuery), reader)
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, apierrors.NewNetworkError(method, endpoint, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &api.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (b httpBackend) OpenStream(ctx context.Context, endpoint string, query url.Values, header http.Header) (*api.Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.target(endpoint, query.Encode()), nil)
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, apierrors.NewNetworkError("stream", endpoint, err)
	}
	return &api.Stream{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// newRelay starts a relay in front of upstream and returns its base URL
func newRelay(t *testing.T, upstream http.Handler, opts Options) (*Server, string) {
	t.Helper()
	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	base, err := url.Parse(up.URL)
	require.NoError(t, err)
	opts.BackendURL = base
	if opts.PingInterval == 0 {
		opts.PingInterval = time.Hour
	}

	s, err := New(httpBackend{base: up.URL}, opts)
	require.NoError(t, err)

	front := httptest.NewServer(s.Handler())
	t.Cleanup(front.Close)
	return s, front.URL
}

// deadRelay points a relay at a backend that refuses connections
func deadRelay(t *testing.T) string {
	t.Helper()
	up := httptest.NewServer(http.NotFoundHandler())
	upURL := up.URL
	up.Close()

	base, err := url.Parse(upURL)
	require.NoError(t, err)
	s, err := New(httpBackend{base: upURL}, Options{BackendURL: base})
	require.NoError(t, err)

	front := httptest.NewServer(s.Handler())
	t.Cleanup(front.Close)
	return front.URL
}

func do(t *testing.T, method, target string, body io.Reader, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, target, body)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, strings.TrimSpace(string(data))
}

func TestNewRequiresBackendURL(t *testing.T) {
	_, err := New(httpBackend{}, Options{})
	assert.ErrorIs(t, err, apierrors.ErrMissingBackendURL)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantStatus int
		wantBody   string
	}{
		{"ok", http.StatusOK, http.StatusOK, `{"status":"ok"}`},
		{"backend unhealthy", http.StatusServiceUnavailable, http.StatusServiceUnavailable,
			`{"status":"error","message":"Backend health check failed"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, models.EndpointHealthz, r.URL.Path)
				w.WriteHeader(tt.status)
			}), Options{})

			resp, body := do(t, http.MethodGet, front+models.EndpointHealthz, nil, nil)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.JSONEq(t, tt.wantBody, body)
		})
	}

	t.Run("backend unreachable", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, deadRelay(t)+models.EndpointHealthz, nil, nil)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.JSONEq(t, `{"status":"error","message":"Cannot connect to backend server"}`, body)
	})
}

func TestUserInfo(t *testing.T) {
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Cookie") {
		case "auth_token=good":
			http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: "rotated", HttpOnly: true})
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"id":1,"email":"a@b.c"}`)
		case "auth_token=garbled":
			_, _ = io.WriteString(w, "<html>")
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"token expired"}`)
		}
	}), Options{})

	t.Run("authenticated", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, front+models.EndpointUserInfo, nil, http.Header{"Cookie": {"auth_token=good"}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"id":1,"email":"a@b.c"}`, body)
		require.Len(t, resp.Header.Values("Set-Cookie"), 1)
		assert.Contains(t, resp.Header.Get("Set-Cookie"), "auth_token=rotated")
	})

	t.Run("unauthenticated", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, front+models.EndpointUserInfo, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.JSONEq(t, `{"error":"Not authenticated"}`, body)
	})

	t.Run("non JSON body", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, front+models.EndpointUserInfo, nil, http.Header{"Cookie": {"auth_token=garbled"}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "{}", body)
	})

	t.Run("backend unreachable", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, deadRelay(t)+models.EndpointUserInfo, nil, nil)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.JSONEq(t, `{"error":"Network error: Cannot connect to the server."}`, body)
	})
}

func TestAuthRefresh(t *testing.T) {
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: "fresh"})
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "r2"})
		_, _ = io.WriteString(w, `{"message":"refreshed"}`)
	}), Options{})

	resp, body := do(t, http.MethodPost, front+models.EndpointAuthRefresh, nil, http.Header{"Cookie": {"auth_token=old"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"refreshed"}`, body)
	assert.Len(t, resp.Header.Values("Set-Cookie"), 2)

	resp, body = do(t, http.MethodGet, front+models.EndpointAuthRefresh, nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Method not allowed"}`, body)
}

func TestLoginLogout(t *testing.T) {
	type seen struct {
		method, path, cookie, body string
	}
	requests := make(chan seen, 1)
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		requests <- seen{r.Method, r.URL.Path, r.Header.Get("Cookie"), string(data)}
		switch r.URL.Path {
		case models.EndpointAuthLogin:
			if !strings.Contains(string(data), `"password":"right"`) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"message":"Wrong email or password."}`)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: "issued", HttpOnly: true})
			http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "r1", HttpOnly: true})
			_, _ = io.WriteString(w, `{"message":"Login successful"}`)
		case models.EndpointAuthLogout:
			http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: "", MaxAge: -1})
			_, _ = io.WriteString(w, `{"message":"Logged out"}`)
		default:
			http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: "rotated"})
		}
	}), Options{})

	t.Run("login", func(t *testing.T) {
		creds := `{"email":"a@b.c","password":"right","remember_me":true}`
		resp, body := do(t, http.MethodPost, front+models.EndpointAuthLogin, strings.NewReader(creds),
			http.Header{"Cookie": {"auth_token=stale"}, "Content-Type": {"application/json"}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"message":"Login successful"}`, body)
		assert.Len(t, resp.Header.Values("Set-Cookie"), 2)
		assert.Contains(t, resp.Header.Get("Set-Cookie"), "auth_token=issued")

		got := <-requests
		assert.Equal(t, creds, got.body)
		assert.Empty(t, got.cookie, "login must not forward the browser cookie")
	})

	t.Run("wrong password", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, front+models.EndpointAuthLogin,
			strings.NewReader(`{"email":"a@b.c","password":"wrong"}`), nil)
		<-requests
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.JSONEq(t, `{"message":"Wrong email or password."}`, body)
		assert.Empty(t, resp.Header.Values("Set-Cookie"))
	})

	t.Run("invalid body", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, front+models.EndpointAuthLogin, strings.NewReader(`{broken`), nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.JSONEq(t, `{"error":"Invalid request body"}`, body)
	})

	t.Run("logout", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, front+models.EndpointAuthLogout, nil,
			http.Header{"Cookie": {"auth_token=issued"}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"message":"Logged out"}`, body)
		assert.Contains(t, resp.Header.Get("Set-Cookie"), "Max-Age=0")
		assert.Equal(t, "auth_token=issued", (<-requests).cookie)
	})

	t.Run("update accepts PUT and POST", func(t *testing.T) {
		for _, method := range []string{http.MethodPut, http.MethodPost} {
			resp, body := do(t, method, front+models.EndpointUserUpdate, strings.NewReader(`{"name":"Ada"}`),
				http.Header{"Cookie": {"auth_token=issued"}})
			got := <-requests
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "{}", body)
			assert.Equal(t, method, got.method)
			assert.Equal(t, `{"name":"Ada"}`, got.body)
			assert.Equal(t, "auth_token=issued", got.cookie)
			assert.Contains(t, resp.Header.Get("Set-Cookie"), "auth_token=rotated")
		}
	})

	t.Run("delete", func(t *testing.T) {
		resp, _ := do(t, http.MethodDelete, front+models.EndpointUserDelete, nil,
			http.Header{"Cookie": {"auth_token=issued"}})
		got := <-requests
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, http.MethodDelete, got.method)
		assert.Equal(t, models.EndpointUserDelete, got.path)

		resp, _ = do(t, http.MethodGet, front+models.EndpointUserDelete, nil, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("backend unreachable", func(t *testing.T) {
		dead := deadRelay(t)
		resp, body := do(t, http.MethodPost, dead+models.EndpointAuthLogin, strings.NewReader(`{}`), nil)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.JSONEq(t, `{"message":"Network error: Cannot connect to the server."}`, body)

		resp, body = do(t, http.MethodPost, dead+models.EndpointAuthLogout, nil, nil)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.JSONEq(t, `{"error":"Network error: Cannot connect to the server."}`, body)
	})
}

func TestChats(t *testing.T) {
	var gotPath string
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.URL.Path == models.EndpointUserChats {
			_, _ = io.WriteString(w, "not json")
			return
		}
		_, _ = io.WriteString(w, `{"id":"42","messages":[]}`)
	}), Options{})

	resp, body := do(t, http.MethodGet, front+models.EndpointUserChats, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", body)

	resp, body = do(t, http.MethodGet, front+models.EndpointUserChat+"42", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":"42","messages":[]}`, body)
	assert.Equal(t, "/api/user/chat/42", gotPath)
}

func TestSend(t *testing.T) {
	var gotBody, gotCookie string
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotCookie = r.Header.Get("Cookie")
		switch {
		case strings.Contains(gotBody, "reject"):
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"message too long"}`)
		case strings.Contains(gotBody, "crash"):
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `oops`)
		default:
			_, _ = io.WriteString(w, `{"streaming":true,"chatId":"c1"}`)
		}
	}), Options{})

	envelope := `{"type":"chat_request","payload":{"message":"hi"}}`
	resp, body := do(t, http.MethodPost, front+models.EndpointChatSend, strings.NewReader(envelope),
		http.Header{"Cookie": {"auth_token=t"}, "Content-Type": {"application/json"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"streaming":true,"chatId":"c1"}`, body)
	assert.Equal(t, envelope, gotBody)
	assert.Equal(t, "auth_token=t", gotCookie)

	resp, body = do(t, http.MethodPost, front+models.EndpointChatSend, strings.NewReader(`{"message":"reject"}`), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"message too long"}`, body)

	resp, body = do(t, http.MethodPost, front+models.EndpointChatSend, strings.NewReader(`{"message":"crash"}`), nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Failed to send chat message to backend"}`, body)

	resp, body = do(t, http.MethodPost, front+models.EndpointChatSend, strings.NewReader(`{broken`), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Invalid request body"}`, body)

	resp, _ = do(t, http.MethodGet, front+models.EndpointChatSend, nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRequestID(t *testing.T) {
	var forwarded string
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = r.Header.Get(models.RequestIDHeader)
		_, _ = io.WriteString(w, `{}`)
	}), Options{})

	resp, _ := do(t, http.MethodGet, front+models.EndpointUserInfo, nil, nil)
	generated := resp.Header.Get(models.RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, forwarded)

	resp, _ = do(t, http.MethodGet, front+models.EndpointUserInfo, nil, http.Header{models.RequestIDHeader: {"abc"}})
	assert.Equal(t, "abc", resp.Header.Get(models.RequestIDHeader))
	assert.Equal(t, "abc", forwarded)
}

func TestAccessLogAndRecovery(t *testing.T) {
	var logs bytes.Buffer
	s, _ := newRelay(t, http.NotFoundHandler(), Options{Logger: zerolog.New(&logs)})
	s.Router().HandleFunc("/boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
	assert.Contains(t, logs.String(), `"panic":"kaboom"`)
	assert.Contains(t, logs.String(), `"status":500`)
	assert.Contains(t, logs.String(), `"request_id"`)
}

func TestCORS(t *testing.T) {
	_, front := newRelay(t, http.NotFoundHandler(), Options{AllowedOrigins: []string{"https://app.example"}})

	req, err := http.NewRequest(http.MethodOptions, front+models.EndpointChatSend, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestDefaultIsSameOrigin(t *testing.T) {
	_, front := newRelay(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":1}`)
	}), Options{})

	req, err := http.NewRequest(http.MethodOptions, front+models.EndpointUserInfo, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))

	resp, _ = do(t, http.MethodGet, front+models.EndpointUserInfo, nil, http.Header{
		"Origin": {"https://evil.example"},
		"Cookie": {"auth_token=victim"},
	})
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	_, front := newRelay(t, http.NotFoundHandler(), Options{})

	// one relayed request so the counters have samples
	do(t, http.MethodGet, front+models.EndpointHealthz, nil, nil)

	resp, body := do(t, http.MethodGet, front+models.EndpointMetrics, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "quillchat_relay_requests_total")
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s, _ := newRelay(t, http.NotFoundHandler(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}

// readEvents reads an event stream until EOF and returns its blocks
func readEvents(t *testing.T, r io.Reader) []string {
	t.Helper()
	var events []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			events = append(events, line)
		}
	}
	return events
}
