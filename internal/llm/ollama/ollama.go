// Package ollama is the Querier implementation for a local or cloud
// Ollama server.
package ollama

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"ai-paper-trader/internal/interfaces"
	"ai-paper-trader/internal/trace"
)

// Client talks to the Ollama HTTP API.
type Client struct {
	http *resty.Client
}

// Compile-time interface check
var _ interfaces.Querier = (*Client)(nil)

// New creates a client for the given base URL, e.g. http://localhost:11434.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

type chatMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Think    bool          `json:"think"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error"`
}

// QueryWithThinking posts a chat request with extended reasoning enabled
// and returns both the final content and the thinking trace.
func (c *Client) QueryWithThinking(ctx context.Context, prompt, system, model string) (string, string, error) {
	ctx, span := trace.StartSpan(ctx, "ollama.chat")
	defer span.End()

	var messages []chatMessage
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:    model,
			Messages: messages,
			Stream:   false,
			Think:    true,
		}).
		SetResult(&out).
		Post("/api/chat")
	if err != nil {
		return "", "", fmt.Errorf("ollama chat request for %s: %w", model, err)
	}
	if resp.IsError() {
		return "", "", fmt.Errorf("ollama chat for %s: http %d: %s", model, resp.StatusCode(), resp.String())
	}
	if out.Error != "" {
		return "", "", fmt.Errorf("ollama chat for %s: %s", model, out.Error)
	}
	return out.Message.Content, out.Message.Thinking, nil
}

// Available probes the server's tag list with a short deadline.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := c.http.R().SetContext(ctx).Get("/api/tags")
	return err == nil && resp.IsSuccess()
}
