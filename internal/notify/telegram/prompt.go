package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

// FormatHandle encodes a message location as a prompt handle.
func FormatHandle(chatID, messageID int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(messageID, 10)
}

// ParseHandle decodes a handle produced by FormatHandle.
func ParseHandle(h string) (chatID, messageID int64, err error) {
	chat, msg, ok := strings.Cut(h, ":")
	if !ok {
		return 0, 0, fmt.Errorf("telegram: malformed handle %q", h)
	}
	if chatID, err = strconv.ParseInt(chat, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("telegram: malformed handle %q: %w", h, err)
	}
	if messageID, err = strconv.ParseInt(msg, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("telegram: malformed handle %q: %w", h, err)
	}
	return chatID, messageID, nil
}

// ParseMode returns the Bot API parse mode for a card format.
func ParseMode(f triage.Format) string {
	if f == triage.FormatMarkdown {
		return ParseModeMarkdown
	}
	return ""
}

// Keyboard converts card buttons to an inline keyboard, or nil if there are none.
func Keyboard(rows [][]triage.Button) *InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := &InlineKeyboardMarkup{InlineKeyboard: make([][]InlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		out := make([]InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			out = append(out, InlineKeyboardButton{Text: b.Label, CallbackData: b.Payload, URL: b.URL})
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, out)
	}
	return kb
}

// SendCard sends card to a chat, optionally inside a forum topic.
func (c *Client) SendCard(ctx context.Context, chatID, threadID int64, card triage.Card) (*Message, error) {
	p := SendMessageParams{
		ChatID:          chatID,
		MessageThreadID: threadID,
		Text:            card.Text,
		ParseMode:       ParseMode(card.Format),
		DisablePreview:  true,
	}
	if kb := Keyboard(card.Buttons); kb != nil {
		p.ReplyMarkup = kb
	}
	return c.SendMessage(ctx, p)
}

// Prompter delivers triage prompts to the operator's private chat.
type Prompter struct {
	client *Client
	chatID int64
}

// NewPrompter returns a Prompter for the operator chat.
func NewPrompter(client *Client, chatID int64) *Prompter {
	return &Prompter{client: client, chatID: chatID}
}

// Prompt sends card and returns its handle.
func (p *Prompter) Prompt(ctx context.Context, card triage.Card) (string, error) {
	msg, err := p.client.SendCard(ctx, p.chatID, 0, card)
	if err != nil {
		return "", err
	}
	return FormatHandle(msg.Chat.ID, msg.MessageID), nil
}

// Replace edits the prompt in place. Edits keep the message id, so the
// handle is unchanged.
func (p *Prompter) Replace(ctx context.Context, handle string, card triage.Card) (string, error) {
	chatID, msgID, err := ParseHandle(handle)
	if err != nil {
		return "", err
	}
	kb := Keyboard(card.Buttons)
	if kb == nil {
		// an empty keyboard clears the previous buttons
		kb = &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{}}
	}
	if err := p.client.EditMessageText(ctx, chatID, msgID, card.Text, ParseMode(card.Format), kb); err != nil {
		return "", err
	}
	return handle, nil
}

// Remove deletes the prompt.
func (p *Prompter) Remove(ctx context.Context, handle string) error {
	chatID, msgID, err := ParseHandle(handle)
	if err != nil {
		return err
	}
	return p.client.DeleteMessage(ctx, chatID, msgID)
}

// Publisher posts filed items into forum topics of the library group.
type Publisher struct {
	client  *Client
	groupID int64
}

// NewPublisher returns a Publisher for the library group. With groupID 0
// every publish is skipped.
func NewPublisher(client *Client, groupID int64) *Publisher {
	return &Publisher{client: client, groupID: groupID}
}

// Publish posts card into the bucket's topic. Buckets without a thread id
// are skipped.
func (p *Publisher) Publish(ctx context.Context, bucket triage.Bucket, card triage.Card) error {
	if p.groupID == 0 || bucket.ThreadID == 0 {
		return nil
	}
	_, err := p.client.SendCard(ctx, p.groupID, bucket.ThreadID, card)
	return err
}

// Configured reports whether the publisher has a destination group.
func (p *Publisher) Configured() bool {
	return p.groupID != 0
}
