package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	fhttp "github.com/bogdanfinn/fhttp"

	"github.com/diogo/quillchat/internal/config"
)

// MockResponseBody is a ReadCloser that simulates reading response data
type MockResponseBody struct {
	data   []byte
	pos    int
	closed bool
}

// NewMockResponseBody creates a new MockResponseBody with the given data
func NewMockResponseBody(data []byte) *MockResponseBody {
	return &MockResponseBody{data: data, pos: 0}
}

// Read implements the io.Reader interface
func (m *MockResponseBody) Read(p []byte) (n int, err error) {
	if m.pos >= len(m.data) {
		return 0, io.EOF
	}
	n = copy(p, m.data[m.pos:])
	m.pos += n
	return n, nil
}

// Close implements the io.Closer interface
func (m *MockResponseBody) Close() error {
	m.closed = true
	return nil
}

// MockHttpClient returns a canned response and records the last request
type MockHttpClient struct {
	Response *fhttp.Response
	Err      error
	LastReq  *fhttp.Request
}

// Do implements HTTPDoer
func (m *MockHttpClient) Do(req *fhttp.Request) (*fhttp.Response, error) {
	m.LastReq = req
	return m.Response, m.Err
}

// NewMockHttpClient creates a new MockHttpClient with a successful response
func NewMockHttpClient(body []byte, statusCode int) *MockHttpClient {
	return &MockHttpClient{
		Response: &fhttp.Response{
			StatusCode: statusCode,
			Body:       NewMockResponseBody(body),
			Header:     make(fhttp.Header),
		},
	}
}

// NewMockHttpClientWithError creates a new MockHttpClient that returns an error
func NewMockHttpClientWithError(err error) *MockHttpClient {
	return &MockHttpClient{
		Response: nil,
		Err:      err,
	}
}

// stdDoer sends fhttp requests through net/http so tests can target httptest servers
type stdDoer struct {
	client *http.Client
}

func (d stdDoer) Do(req *fhttp.Request) (*fhttp.Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = req.Body
	}
	out, err := http.NewRequestWithContext(req.Context(), req.Method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	out.Header = http.Header(req.Header).Clone()

	resp, err := d.client.Do(out)
	if err != nil {
		return nil, err
	}
	return &fhttp.Response{
		Status:     resp.Status,
		StatusCode: resp.StatusCode,
		Header:     fhttp.Header(resp.Header),
		Body:       resp.Body,
		Request:    req,
	}, nil
}

// newTestClient points a Client at an httptest server
func newTestClient(t *testing.T, handler http.Handler, cookies map[string]string, opts ...ClientOption) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	opts = append([]ClientOption{WithHTTPClient(stdDoer{client: srv.Client()})}, opts...)
	client, err := NewClient(base, config.NewCookies(cookies), opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(client.Close)
	return client, srv
}
