package api

import (
	"context"
	"io"
	"net/http"

	apierrors "github.com/diogo/quillchat/internal/errors"
)

// maxForwardBody bounds a relayed JSON response
const maxForwardBody = 8 << 20

// Response is a buffered backend response relayed to a browser
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// SetCookies returns the Set-Cookie headers of the response
func (r *Response) SetCookies() []string {
	return r.Header.Values("Set-Cookie")
}

// Forward relays a browser request to the backend. Only the browser's own
// credentials travel; the client's session cookies are never attached.
func (c *Client) Forward(ctx context.Context, method, endpoint, rawQuery string, header http.Header, body []byte) (*Response, error) {
	req, err := c.newBareRequest(ctx, method, endpoint, rawQuery, body)
	if err != nil {
		return nil, err
	}
	copyForwarded(req.Header, header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierrors.NewNetworkError(method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxForwardBody))
	if err != nil {
		return nil, apierrors.NewNetworkError("read", endpoint, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     toStdHeader(resp.Header),
		Body:       data,
	}, nil
}
