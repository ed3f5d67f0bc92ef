package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	fhttp "github.com/bogdanfinn/fhttp"

	apierrors "github.com/diogo/quillchat/internal/errors"
	"github.com/diogo/quillchat/internal/models"
)

// maxErrorBody bounds how much of a failed response is kept for diagnostics
const maxErrorBody = 2048

// forwardedHeaders are copied from a browser request to the backend
var forwardedHeaders = []string{"Accept", "Content-Type", "Cookie", "Authorization", models.RequestIDHeader}

func (c *Client) endpointURL(endpoint, rawQuery string) string {
	u := *c.baseURL
	raw := strings.TrimRight(u.EscapedPath(), "/") + endpoint
	path, err := url.PathUnescape(raw)
	if err != nil {
		path = raw
	}
	u.Path = path
	u.RawPath = raw
	u.RawQuery = rawQuery
	u.Fragment = ""
	return u.String()
}

// newRequest builds a request carrying the client's own session cookies
func (c *Client) newRequest(ctx context.Context, method, endpoint, rawQuery string, body []byte) (*fhttp.Request, error) {
	req, err := c.newBareRequest(ctx, method, endpoint, rawQuery, body)
	if err != nil {
		return nil, err
	}

	snap := c.cookies.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		req.AddCookie(&fhttp.Cookie{Name: name, Value: snap[name]})
	}
	return req, nil
}

func (c *Client) newBareRequest(ctx context.Context, method, endpoint, rawQuery string, body []byte) (*fhttp.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := fhttp.NewRequestWithContext(ctx, method, c.endpointURL(endpoint, rawQuery), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do executes req with the own-session client and applies rotated cookies
func (c *Client) do(req *fhttp.Request, endpoint string) (*fhttp.Response, error) {
	return c.doWith(c.httpClient, req, endpoint)
}

func (c *Client) doWith(doer HTTPDoer, req *fhttp.Request, endpoint string) (*fhttp.Response, error) {
	resp, err := doer.Do(req)
	if err != nil {
		return nil, apierrors.NewNetworkError(req.Method, endpoint, err)
	}
	c.applySetCookies(resp)
	return resp, nil
}

// applySetCookies stores cookies the backend rotated on our own session
func (c *Client) applySetCookies(resp *fhttp.Response) {
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return
	}
	for _, ck := range cookies {
		if ck.MaxAge < 0 {
			c.cookies.Set(ck.Name, "")
			continue
		}
		c.cookies.Set(ck.Name, ck.Value)
	}
	c.logger.Debug().Int("count", len(cookies)).Msg("session cookies updated by backend")
	if c.saveCookies != nil && c.cookies.AuthToken() != "" {
		if err := c.saveCookies(c.cookies); err != nil {
			c.logger.Warn().Err(err).Msg("failed to persist rotated cookies")
		}
	}
}

// getJSON performs an authenticated GET and returns the body of a 200 response
func (c *Client) getJSON(ctx context.Context, endpoint, rawQuery string) ([]byte, error) {
	req, err := c.newRequest(ctx, fhttp.MethodGet, endpoint, rawQuery, nil)
	if err != nil {
		return nil, err
	}
	return c.expectOK(req, endpoint)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, fhttp.MethodPost, endpoint, "", body)
	if err != nil {
		return nil, err
	}
	return c.expectOK(req, endpoint)
}

func (c *Client) expectOK(req *fhttp.Request, endpoint string) ([]byte, error) {
	resp, err := c.do(req, endpoint)
	if err != nil {
		return nil, err
	}
	defer func() {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierrors.NewNetworkError("read", endpoint, err)
	}
	return body, nil
}

// statusError converts a non-200 response into a typed error
func statusError(resp *fhttp.Response, endpoint string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if resp.StatusCode == http.StatusUnauthorized {
		return apierrors.NewAuthError(fmt.Sprintf("%s returned 401", endpoint))
	}
	return apierrors.NewAPIError(resp.StatusCode, endpoint, msg)
}

// toStdHeader converts a response header for net/http consumers
func toStdHeader(h fhttp.Header) http.Header {
	return http.Header(h).Clone()
}
