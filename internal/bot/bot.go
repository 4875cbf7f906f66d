// Package bot turns operator updates from the chat transport into triage,
// feed and analyst operations, and renders the replies.
package bot

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"golang.org/x/sync/errgroup"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/feed"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/notify/telegram"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

const (
	// DefaultConcurrency bounds updates handled at once.
	DefaultConcurrency = 4

	// DefaultPollTimeout is the getUpdates long-poll timeout.
	DefaultPollTimeout = 50 * time.Second

	updateTimeout = 5 * time.Minute
	retryDelay    = 3 * time.Second

	deniedMessage = "Access denied."
)

var urlRe = regexp.MustCompile(`^https?://\S+`)

// Messenger is the subset of the Bot API the bot replies through.
type Messenger interface {
	SendMessage(ctx context.Context, p telegram.SendMessageParams) (*telegram.Message, error)
	AnswerCallbackQuery(ctx context.Context, id, text string, alert bool) error
}

// UpdateSource long-polls for updates.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// Triage is the triage service as seen by the bot.
type Triage interface {
	Seen(ctx context.Context, locator string) (bool, error)
	Ingest(ctx context.Context, c triage.Candidate) (*triage.IngestResult, error)
	HandleTrigger(ctx context.Context, handle string, tr triage.Trigger) (*triage.Outcome, error)
	List(ctx context.Context, status triage.Status, limit int) ([]*triage.Item, error)
	Relist(ctx context.Context, limit int) (int, error)
	Totals(ctx context.Context) (*triage.Totals, error)
	DailyStats(ctx context.Context) (*triage.DailyStats, error)
	WeeklyFiledItems(ctx context.Context) ([]*triage.Item, error)
	Catalog() *triage.Catalog
}

// Analyst answers chat messages and writes the weekly narrative.
type Analyst interface {
	Chat(ctx context.Context, user int64, message string) string
	Reset(ctx context.Context, user int64) error
	WeeklyReport(ctx context.Context, items []*triage.Item) (string, error)
}

// FeedReader fetches headlines for the news commands. Failing sources are
// reported in the error alongside the entries that did arrive.
type FeedReader interface {
	Collect(ctx context.Context, sources []feed.Source, perFeed int) ([]feed.Entry, error)
}

// Bot dispatches operator updates.
type Bot struct {
	msgr      Messenger
	triage    Triage
	analyst   Analyst
	feeds     FeedReader
	publisher triage.Publisher
	guard     triage.Guard
	sources   []feed.Source
	logger    log.Logger
	now       func() time.Time

	group errgroup.Group
}

// Option configures a Bot.
type Option func(*Bot)

// WithAnalyst enables chat and the weekly narrative.
func WithAnalyst(a Analyst) Option {
	return func(b *Bot) { b.analyst = a }
}

// WithFeeds enables the news commands over sources.
func WithFeeds(r FeedReader, sources []feed.Source) Option {
	return func(b *Bot) {
		b.feeds = r
		b.sources = sources
	}
}

// WithPublisher posts digests into the library topics.
func WithPublisher(p triage.Publisher) Option {
	return func(b *Bot) { b.publisher = p }
}

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(b *Bot) {
		if n > 0 {
			b.group.SetLimit(n)
		}
	}
}

// WithClock overrides the time source used in report headers.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

// New creates a Bot admitting only the guard's operator.
func New(msgr Messenger, tri Triage, guard triage.Guard, logger log.Logger, opts ...Option) *Bot {
	if logger == nil {
		logger = log.Nop()
	}
	b := &Bot{
		msgr:   msgr,
		triage: tri,
		guard:  guard,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	b.group.SetLimit(DefaultConcurrency)
	for _, o := range opts {
		o(b)
	}
	return b
}

// Dispatch handles u in the background. It blocks while the concurrency
// limit is reached. Handling outlives ctx cancellation so a submitted link
// or a button press is never abandoned halfway.
func (b *Bot) Dispatch(ctx context.Context, u *telegram.Update) {
	ctx = context.WithoutCancel(ctx)
	b.group.Go(func() error {
		ctx, cancel := context.WithTimeout(ctx, updateTimeout)
		defer cancel()
		if err := b.HandleUpdate(ctx, u); err != nil {
			b.logger.Error(ctx, err, "update handling failed", "update_id", u.UpdateID)
		}
		return nil
	})
}

// Wait blocks until dispatched updates finish.
func (b *Bot) Wait() {
	_ = b.group.Wait()
}

// Run long-polls src until ctx is cancelled, then waits for in-flight updates.
func (b *Bot) Run(ctx context.Context, src UpdateSource, pollTimeout time.Duration) error {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	defer b.Wait()

	var offset int64
	for {
		updates, err := src.GetUpdates(ctx, offset, pollTimeout)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			b.logger.Warn(ctx, "getUpdates failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}
		for i := range updates {
			offset = updates[i].UpdateID + 1
			b.Dispatch(ctx, &updates[i])
		}
	}
}

// HandleUpdate routes one update. Updates from anyone but the operator are
// answered with a denial and otherwise ignored.
func (b *Bot) HandleUpdate(ctx context.Context, u *telegram.Update) error {
	switch {
	case u.CallbackQuery != nil:
		return b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		return b.handleMessage(ctx, u.Message)
	}
	return nil
}

func (b *Bot) handleCallback(ctx context.Context, q *telegram.CallbackQuery) error {
	L := b.logger.With("callback_id", q.ID, "user_id", q.From.ID)

	if err := b.guard.Authorize(q.From.ID); err != nil {
		L.Warn(ctx, "unauthorized callback")
		return b.msgr.AnswerCallbackQuery(ctx, q.ID, deniedMessage, true)
	}

	tr, err := triage.ParseTrigger(q.Data)
	if err != nil || q.Message == nil {
		L.Warn(ctx, "unusable callback", "data", q.Data)
		return b.msgr.AnswerCallbackQuery(ctx, q.ID, "Unrecognized action.", false)
	}

	handle := telegram.FormatHandle(q.Message.Chat.ID, q.Message.MessageID)
	out, err := b.triage.HandleTrigger(ctx, handle, tr)
	if err != nil {
		answerErr := b.msgr.AnswerCallbackQuery(ctx, q.ID, "⚠️ Something went wrong. Try again.", false)
		return errors.Join(err, answerErr)
	}
	return b.msgr.AnswerCallbackQuery(ctx, q.ID, out.Message, false)
}

func (b *Bot) handleMessage(ctx context.Context, m *telegram.Message) error {
	if m.From == nil {
		return nil
	}
	chatID := m.Chat.ID
	L := b.logger.With("chat_id", chatID, "user_id", m.From.ID)

	if err := b.guard.Authorize(m.From.ID); err != nil {
		L.Warn(ctx, "unauthorized message")
		return b.plain(ctx, chatID, deniedMessage)
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		return nil
	}

	if cmd, args, ok := parseCommand(text); ok {
		return b.command(ctx, chatID, m.From.ID, cmd, args)
	}
	if cmd, ok := keyboardCommands[text]; ok {
		return b.command(ctx, chatID, m.From.ID, cmd, "")
	}
	if loc := urlRe.FindString(text); loc != "" {
		return b.submit(ctx, chatID, loc)
	}
	return b.chat(ctx, chatID, m.From.ID, text)
}

// parseCommand splits "/cmd@bot args" into its command and arguments.
func parseCommand(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// reply sends a Markdown message, falling back to plain text if rejected.
func (b *Bot) reply(ctx context.Context, chatID int64, render func(triage.Format) string, markup any) error {
	return triage.Deliver(
		func(f triage.Format) triage.Card { return triage.Notice(render(f), f) },
		func(c triage.Card) error {
			_, err := b.msgr.SendMessage(ctx, telegram.SendMessageParams{
				ChatID:         chatID,
				Text:           c.Text,
				ParseMode:      telegram.ParseMode(c.Format),
				ReplyMarkup:    markup,
				DisablePreview: true,
			})
			return err
		},
	)
}

func (b *Bot) plain(ctx context.Context, chatID int64, text string) error {
	_, err := b.msgr.SendMessage(ctx, telegram.SendMessageParams{ChatID: chatID, Text: text})
	return err
}

// markdown sends text as-is in Markdown, or stripped of markup if rejected.
func (b *Bot) markdown(ctx context.Context, chatID int64, text string) error {
	return b.reply(ctx, chatID, func(f triage.Format) string { return marked(text, f) }, nil)
}

// marked strips the Markdown emphasis characters for plain rendering.
func marked(text string, f triage.Format) string {
	if f == triage.FormatMarkdown {
		return text
	}
	return strings.NewReplacer("*", "", "_", "").Replace(text)
}
