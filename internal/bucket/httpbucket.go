package bucket

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPTransport implements Transport with plain HTTP PUT/GET requests,
// the concrete wire transport named by spec.md §6 ("HTTP client
// (consumed)").
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a Transport backed by client. A nil client
// falls back to http.DefaultClient.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{Client: client}
}

// Put streams body to uri via HTTP PUT. The request fails if the server
// responds with anything outside the 2xx range.
func (t *HTTPTransport) Put(ctx context.Context, uri string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, body)
	if err != nil {
		return fmt.Errorf("bucket: build PUT request for %s: %w", uri, err)
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("bucket: PUT %s: %w", uri, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("bucket: PUT %s: unexpected status %s", uri, resp.Status)
	}
	return nil
}

// Get issues an HTTP GET against uri and returns the response body
// unread; the caller owns closing it.
func (t *HTTPTransport) Get(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("bucket: build GET request for %s: %w", uri, err)
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bucket: GET %s: %w", uri, err)
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("bucket: GET %s: unexpected status %s", uri, resp.Status)
	}
	return resp.Body, nil
}
