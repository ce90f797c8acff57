package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/medlens/internal/media"
)

// maxTokens leaves room for a full medicine description in Tamil script,
// which tokenizes far less densely than English.
const maxTokens = 2048

type ClaudeClient struct {
	client *anthropic.Client
	model  string
}

// NewClaudeClient builds a client for the Anthropic Messages API. A non-empty
// baseURL overrides the API endpoint.
func NewClaudeClient(apiKey, model, baseURL string) *ClaudeClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &ClaudeClient{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (c *ClaudeClient) Name() string {
	return "claude"
}

func (c *ClaudeClient) Identify(ctx context.Context, img media.Payload, prompt string) (string, error) {
	return c.send(ctx, anthropic.Message{
		Role: anthropic.RoleUser,
		Content: []anthropic.MessageContent{
			anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
				anthropic.MessagesContentSourceTypeBase64,
				normaliseMIME(img.MimeType),
				img.Base64(),
			)),
			anthropic.NewTextMessageContent(prompt),
		},
	})
}

func (c *ClaudeClient) Chat(ctx context.Context, prompt string) (string, error) {
	return c.send(ctx, anthropic.NewUserTextMessage(prompt))
}

func (c *ClaudeClient) send(ctx context.Context, msg anthropic.Message) (string, error) {
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		Messages:  []anthropic.Message{msg},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to call claude: %w", err)
	}

	var sb strings.Builder
	for _, blk := range resp.Content {
		if blk.Type == anthropic.MessagesContentTypeText {
			sb.WriteString(blk.GetText())
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("claude returned no text (stop reason %q)", resp.StopReason)
	}
	return sb.String(), nil
}

// normaliseMIME maps MIME types to the values the Anthropic API accepts.
// Unknown types are coerced to jpeg as the most widely supported fallback.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
