// Package telegram talks to the Telegram Bot API: it sends and edits
// operator prompts, publishes filed items into forum topics, and reads
// updates by long polling or from a webhook.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

const (
	// DefaultBaseURL is the public Bot API endpoint.
	DefaultBaseURL = "https://api.telegram.org"

	// ParseModeMarkdown is the legacy Markdown mode the cards are written for.
	ParseModeMarkdown = "Markdown"

	httpTimeout = 30 * time.Second
	maxTextLen  = 4096
)

// allowedUpdates limits delivery to the update kinds the bot handles.
var allowedUpdates = []string{"message", "callback_query"}

// APIError is a Bot API call that returned ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s returned %d: %s", e.Method, e.Code, e.Description)
}

// Unwrap maps entity parse failures onto triage.ErrFormatRejected so callers
// can retry with plain text.
func (e *APIError) Unwrap() error {
	if e.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Description), "can't parse entities") {
		return triage.ErrFormatRejected
	}
	return nil
}

// notModified reports an edit that would leave the message unchanged.
func notModified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified")
}

// Client is a minimal Bot API client.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a Bot API client for token.
func New(token string, logger log.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		client:  &http.Client{},
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SendMessage sends a message and returns it as delivered.
func (c *Client) SendMessage(ctx context.Context, p SendMessageParams) (*Message, error) {
	p.Text = clip(p.Text)
	var msg Message
	if err := c.call(ctx, "sendMessage", p, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessageText replaces the text and inline keyboard of a message. An
// edit that changes nothing is not an error.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text, parseMode string, markup *InlineKeyboardMarkup) error {
	err := c.call(ctx, "editMessageText", editMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        clip(text),
		ParseMode:   parseMode,
		ReplyMarkup: markup,
	}, nil)
	if notModified(err) {
		return nil
	}
	return err
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", deleteMessageParams{ChatID: chatID, MessageID: messageID}, nil)
}

// AnswerCallbackQuery acknowledges a button press, optionally with a toast
// or, with alert set, a modal notice.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string, alert bool) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackParams{CallbackQueryID: id, Text: text, ShowAlert: alert}, nil)
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.callTimeout(ctx, timeout+httpTimeout, "getUpdates", getUpdatesParams{
		Offset:         offset,
		Timeout:        int(timeout.Seconds()),
		AllowedUpdates: allowedUpdates,
	}, &updates)
	return updates, err
}

// SetMyCommands publishes the command menu.
func (c *Client) SetMyCommands(ctx context.Context, cmds []BotCommand) error {
	return c.call(ctx, "setMyCommands", setMyCommandsParams{Commands: cmds}, nil)
}

// SetWebhook registers url as the update endpoint. Telegram echoes secret in
// the X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	return c.call(ctx, "setWebhook", setWebhookParams{URL: url, SecretToken: secret, AllowedUpdates: allowedUpdates}, nil)
}

// DeleteWebhook removes any webhook so getUpdates can be used.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", struct{}{}, nil)
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	return c.callTimeout(ctx, httpTimeout, method, params, out)
}

// callTimeout bounds one request by d on top of ctx.
func (c *Client) callTimeout(ctx context.Context, d time.Duration, method string, params, out any) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	url := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req) //nolint:gosec // G704: base URL is from trusted config
	if err != nil {
		// the token is part of the URL; never surface it
		return fmt.Errorf("telegram: %s: %w", method, redact(err, c.token))
	}
	defer func() { _ = resp.Body.Close() }()

	var ar apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&ar); err != nil {
		return fmt.Errorf("telegram: %s returned %d: decode: %w", method, resp.StatusCode, err)
	}
	if !ar.OK {
		code := ar.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Method: method, Code: code, Description: ar.Description}
	}
	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<token>"))
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxTextLen {
		return s
	}
	return string(r[:maxTextLen-3]) + "..."
}
