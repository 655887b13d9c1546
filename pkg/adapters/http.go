// Package adapters implements the three typed External Adapters (C5): LLM,
// Vector Index, and Document-Generation. Each is a thin net/http JSON
// client with timeout and error-kind classification; retry is left to the
// caller (the Worker Pool and Pipeline Driver own policy).
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/coderead/pkg/errkind"
)

// httpClient is the shared request/response plumbing the three adapters
// build on: a thin typed-client wrapper over HTTP, since these
// collaborators are out-of-process HTTP services.
type httpClient struct {
	base   string
	apiKey string
	client *http.Client
}

func newHTTPClient(base, apiKey string, timeout time.Duration) *httpClient {
	return &httpClient{
		base:   base,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *httpClient) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errkind.New(errkind.Fatal, op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errkind.New(errkind.Fatal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errkind.New(errkind.Transient, op, fmt.Errorf("request cancelled: %w", ctx.Err()))
		}
		return errkind.New(errkind.Transient, op, err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return errkind.New(errkind.Transient, op, readErr)
	}

	if err := classifyStatus(op, resp); err != nil {
		return err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errkind.New(errkind.Fatal, op, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func classifyStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &errkind.Error{Kind: errkind.RateLimited, Op: op}
	case resp.StatusCode == http.StatusNotFound:
		return errkind.Wrapf(errkind.NotFound, op, "not found (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusConflict:
		return errkind.Wrapf(errkind.Conflict, op, "conflict (status %d)", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return errkind.Wrapf(errkind.Input, op, "client error (status %d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return errkind.Wrapf(errkind.Transient, op, "server error (status %d)", resp.StatusCode)
	default:
		return errkind.Wrapf(errkind.Fatal, op, "unexpected status %d", resp.StatusCode)
	}
}
