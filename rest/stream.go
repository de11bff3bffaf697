package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Stream opens a long-lived GET on path, for example a server-sent events
// endpoint, and returns the response body. The client timeout does not
// apply; the stream ends when ctx is cancelled or the server closes it.
// The caller must close the body.
func (c *Client) Stream(ctx context.Context, path string, query url.Values, accept string) (io.ReadCloser, error) {
	fullURL := c.URL(path)
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if token := c.Token(); token != "" && c.underRoot(fullURL) {
		req.Header.Set(c.tokenHeader, token)
	}

	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, c.fail(Request{}, &RequestError{Method: http.MethodGet, URL: fullURL, Err: err})
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, c.fail(Request{}, newResponseError(http.MethodGet, fullURL, resp.StatusCode, resp.Status, data))
	}
	c.logger.Debug("rest stream opened", "url", fullURL)
	return resp.Body, nil
}
