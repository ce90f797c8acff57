// Package groq talks to Groq's OpenAI-compatible chat completions API with
// a vision-capable model.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vbonduro/medlens/internal/media"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

// extractInstruction precedes the image in the first user message.
const extractInstruction = "You are a helpful assistant who helps in extract name from image."

type request struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

// message.Content is either a string or a []contentPart.
type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type GroqClient struct {
	apiKey  string
	model   string
	client  *http.Client
	baseURL string
}

func NewGroqClient(apiKey, model string) *GroqClient {
	return &GroqClient{
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
		baseURL: defaultBaseURL,
	}
}

func (c *GroqClient) Name() string {
	return "groq"
}

// Identify sends the image in one user message and the prompt in a second.
func (c *GroqClient) Identify(ctx context.Context, img media.Payload, prompt string) (string, error) {
	return c.complete(ctx, []message{
		{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: extractInstruction},
				{Type: "image_url", ImageURL: &imageURL{URL: img.DataURL()}},
			},
		},
		{Role: "user", Content: prompt},
	})
}

func (c *GroqClient) Chat(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, []message{{Role: "user", Content: prompt}})
}

func (c *GroqClient) complete(ctx context.Context, messages []message) (string, error) {
	payload, err := json.Marshal(request{Model: c.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call groq: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close groq response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		var apiErr errorResponse
		if json.Unmarshal(errBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("groq returned status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("groq returned status %d: %s", resp.StatusCode, errBody)
	}

	var respBody response
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(respBody.Choices) == 0 {
		return "", fmt.Errorf("groq returned no choices")
	}
	return respBody.Choices[0].Message.Content, nil
}
