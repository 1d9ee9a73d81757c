// Package httputil holds the JSON response helpers shared by the API server
// and a small JSON client used by tools that talk to it.
package httputil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPClient abstracts HTTP operations for testability. *http.Client
// satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	// Message is the "error" field of a JSON error body, or the raw body.
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// JSONClient issues JSON requests against a base URL.
type JSONClient struct {
	BaseURL string
	Client  HTTPClient
}

// NewJSONClient returns a client for baseURL. A nil c uses http.DefaultClient.
func NewJSONClient(baseURL string, c HTTPClient) *JSONClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &JSONClient{BaseURL: strings.TrimRight(baseURL, "/"), Client: c}
}

// Get decodes the JSON response of GET path into out.
func (c *JSONClient) Get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, out)
}

// Post sends body as JSON and decodes the response into out. Either may be nil.
func (c *JSONClient) Post(path string, body, out interface{}) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *JSONClient) do(method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			se.Message = body.Error
		}
		return se
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
