package adapters

import (
	"context"
	"time"
)

// Message is one turn of a chat-style LLM request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the LLM Adapter's input.
type CompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

// Usage reports token accounting for billing/telemetry.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// CompletionResponse is the LLM Adapter's output.
type CompletionResponse struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// LLMAdapter is the typed client to the LLM provider.
type LLMAdapter struct {
	http        *httpClient
	hardTimeout time.Duration
}

// NewLLMAdapter builds an LLM Adapter; requestTimeout bounds a single HTTP
// call, hardTimeout bounds the adapter-level context the caller should use
// across any soft-timeout retry.
func NewLLMAdapter(baseURL, apiKey string, requestTimeout, hardTimeout time.Duration) *LLMAdapter {
	return &LLMAdapter{
		http:        newHTTPClient(baseURL, apiKey, requestTimeout),
		hardTimeout: hardTimeout,
	}
}

// Complete runs one LLM call. Errors are classified by the shared HTTP
// plumbing; callers branch on errkind.Of(err).
func (a *LLMAdapter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.hardTimeout)
	defer cancel()

	var resp CompletionResponse
	if err := a.http.doJSON(ctx, "LLMAdapter.Complete", "POST", "/v1/completions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
