// Package claude adapts the Anthropic Messages API to a plain text generator.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-5"

	defaultMaxTokens = 2048
)

// ErrEmptyResponse is returned when the response carries no text blocks.
var ErrEmptyResponse = errors.New("claude: empty response")

type messagesAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Client generates text with a Claude model.
type Client struct {
	messages  messagesAPI
	model     string
	maxTokens int64
}

// New creates a Claude client. Extra request options (base URL, retries,
// HTTP client) are passed through to the SDK.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &Client{
		messages:  &client.Messages,
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

// Generate sends a single-turn request and returns the concatenated text.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	msg, err := c.messages.New(ctx, c.buildParams(system, prompt))
	if err != nil {
		return "", fmt.Errorf("claude: messages.new: %w", err)
	}
	text := responseText(msg)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (c *Client) buildParams(system, prompt string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func responseText(msg *anthropic.Message) string {
	if msg == nil {
		return ""
	}
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
