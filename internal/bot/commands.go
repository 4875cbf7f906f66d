package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/feed"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/notify/telegram"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/scrape"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

const (
	pendingLimit  = 10
	newsPerFeed   = 8
	newsTotal     = 10
	shortcutLimit = 5

	duplicateMessage = "ℹ️ This URL has already been processed."
	rule             = "━━━━━━━━━━━━━━━━━━━━"
)

// keyboardCommands maps persistent keyboard buttons to commands.
var keyboardCommands = map[string]string{
	"📰 Latest News": "news",
	"🔥 Trending":    "news",
	"🔎 Scout":       "scout",
	"📊 Stats":       "stats",
}

// Keyboard is the persistent reply keyboard shown after /start.
func Keyboard() *telegram.ReplyKeyboardMarkup {
	return &telegram.ReplyKeyboardMarkup{
		Keyboard: [][]telegram.KeyboardButton{
			{{Text: "📰 Latest News"}, {Text: "🔥 Trending"}},
			{{Text: "🔎 Scout"}, {Text: "📊 Stats"}},
		},
		ResizeKeyboard: true,
		IsPersistent:   true,
	}
}

// Commands returns the command menu, including one shortcut per feed that
// declares a command.
func Commands(sources []feed.Source) []telegram.BotCommand {
	cmds := []telegram.BotCommand{
		{Command: "start", Description: "Launch bot + show keyboard"},
		{Command: "news", Description: "Latest industry headlines"},
	}
	for _, s := range sources {
		if s.Command != "" {
			cmds = append(cmds, telegram.BotCommand{Command: s.Command, Description: s.Name + " feed"})
		}
	}
	return append(cmds,
		telegram.BotCommand{Command: "scout", Description: "Investigate a topic"},
		telegram.BotCommand{Command: "analyze", Description: "Analyze a deal/article"},
		telegram.BotCommand{Command: "stats", Description: "Filing statistics"},
		telegram.BotCommand{Command: "pending", Description: "Show pending items"},
		telegram.BotCommand{Command: "clear", Description: "Clear chat history"},
		telegram.BotCommand{Command: "help", Description: "Show all commands"},
	)
}

func (b *Bot) command(ctx context.Context, chatID, user int64, cmd, args string) error {
	switch cmd {
	case "start":
		return b.reply(ctx, chatID, b.welcome, Keyboard())
	case "help":
		return b.reply(ctx, chatID, b.help, nil)
	case "news":
		return b.news(ctx, chatID, b.sources, newsPerFeed, newsTotal, "Latest Intel")
	case "scout", "analyze":
		if args != "" {
			return b.chat(ctx, chatID, user, args)
		}
		if cmd == "scout" {
			return b.markdown(ctx, chatID, scoutText)
		}
		return b.markdown(ctx, chatID, analyzeText)
	case "stats":
		return b.stats(ctx, chatID)
	case "pending":
		return b.pending(ctx, chatID)
	case "clear":
		return b.clear(ctx, chatID, user)
	}

	if src, ok := feed.Lookup(b.sources, cmd); ok {
		return b.news(ctx, chatID, []feed.Source{src}, shortcutLimit, shortcutLimit, src.Name)
	}
	if args != "" {
		// unknown commands with text read as a chat message
		return b.chat(ctx, chatID, user, args)
	}
	return b.plain(ctx, chatID, "Unknown command. Try /help.")
}

func (b *Bot) welcome(f triage.Format) string {
	names := make([]string, 0, len(b.sources))
	for _, s := range b.sources {
		names = append(names, s.Name)
	}
	feeds := strings.Join(names, ", ")
	if feeds == "" {
		feeds = "none configured"
	}
	return fmt.Sprintf("🎬 %s 🎬\n%s\n\n"+
		"📰 %s %s\n"+
		"📸 %s Paste any IG link for analysis\n"+
		"🔗 %s Paste any article link for analysis\n\n"+
		"%s\n%s",
		bold(f, "PROJECT WATCHTOWER ACTIVE"), rule,
		bold(f, "Live feeds:"), feeds,
		bold(f, "Instagram:"),
		bold(f, "URLs:"),
		rule,
		italic(f, "Items arrive automatically. Triage with the buttons."),
	)
}

func (b *Bot) help(f triage.Format) string {
	var news strings.Builder
	news.WriteString("/news - Latest headlines\n")
	for _, s := range b.sources {
		if s.Command != "" {
			fmt.Fprintf(&news, "/%s - %s feed\n", s.Command, s.Name)
		}
	}
	return fmt.Sprintf("❓ %s\n%s\n\n"+
		"%s\n%s\n"+
		"%s\n/scout - Investigate a topic\n/analyze - Analyze a deal\n\n"+
		"%s\n/stats - Filing statistics\n/pending - Show pending items\n\n"+
		"%s\n/start - Show the keyboard\n/clear - Clear chat history\n/help - This message\n\n"+
		"%s\n%s",
		bold(f, "ALL COMMANDS"), rule,
		bold(f, "📰 NEWS"), news.String(),
		bold(f, "🔍 ANALYSIS"),
		bold(f, "📊 INFO"),
		bold(f, "⚙️ SYSTEM"),
		rule, italic(f, "Or paste any URL / IG link for instant analysis!"),
	)
}

const scoutText = `🔎 *SCOUT MODE*
━━━━━━━━━━━━━━━

Send me a topic to investigate:

• Company: _"Analyze A24's strategy"_
• Person: _"Jason Blum's deal structures"_
• Trend: _"Streaming licensing changes"_
• Deal: _"Apple TV+ sports rights"_

_Just type your query._`

const analyzeText = `🔍 *ANALYZE MODE*
━━━━━━━━━━━━━━━

Paste any of the following for deep analysis:

• Deal announcement
• Trade article URL
• Press release
• Financing memo
• Instagram post link

_I'll break down what's real vs spin._`

func (b *Bot) news(ctx context.Context, chatID int64, sources []feed.Source, perFeed, total int, label string) error {
	if b.feeds == nil || len(sources) == 0 {
		return b.plain(ctx, chatID, "📭 No feeds configured.")
	}
	if err := b.markdown(ctx, chatID, fmt.Sprintf("🔄 _Fetching %s..._", label)); err != nil {
		return err
	}

	entries, err := b.feeds.Collect(ctx, sources, perFeed)
	if err != nil {
		b.logger.Warn(ctx, "news fetch incomplete", "err", err)
	}
	if len(entries) > total {
		entries = entries[:total]
	}
	return b.reply(ctx, chatID, func(f triage.Format) string { return NewsList(entries, label, f) }, nil)
}

// NewsList renders headlines as a numbered list.
func NewsList(entries []feed.Entry, label string, f triage.Format) string {
	if len(entries) == 0 {
		return fmt.Sprintf("📭 No %s articles found.", label)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📰 %s\n%s\n\n", bold(f, strings.ToUpper(label)+" INTEL"), rule)
	for i, e := range entries {
		fmt.Fprintf(&b, "%s\n   %s\n", bold(f, fmt.Sprintf("%d. [%s]", i+1, e.Source)), e.Title)
		if f == triage.FormatMarkdown {
			fmt.Fprintf(&b, "   🔗 [Read](%s)\n\n", e.Link)
		} else {
			fmt.Fprintf(&b, "   🔗 %s\n\n", e.Link)
		}
	}
	b.WriteString("💡 " + italic(f, "Paste any URL for full analysis"))
	return b.String()
}

func (b *Bot) stats(ctx context.Context, chatID int64) error {
	t, err := b.triage.Totals(ctx)
	if err != nil {
		_ = b.plain(ctx, chatID, "⚠️ Stats are unavailable right now.")
		return err
	}
	catalog := b.triage.Catalog()
	return b.reply(ctx, chatID, func(f triage.Format) string { return StatsText(t, catalog, f) }, nil)
}

// StatsText renders all-time totals.
func StatsText(t *triage.Totals, catalog *triage.Catalog, f triage.Format) string {
	return fmt.Sprintf("📊 %s\n%s\n\n"+
		"📬 Total items: %d\n"+
		"⏳ Pending: %d\n"+
		"✅ Filed: %d\n"+
		"❌ Dismissed: %d\n\n"+
		"📂 %s\n%s",
		bold(f, "INTELLIGENCE STATS"), rule,
		t.Total, t.Pending, t.Filed, t.Dismissed,
		bold(f, "By category:"), bucketLines(t.ByBucket, catalog, "No items filed yet."),
	)
}

func (b *Bot) pending(ctx context.Context, chatID int64) error {
	items, err := b.triage.List(ctx, triage.StatusPending, pendingLimit)
	if err != nil {
		_ = b.plain(ctx, chatID, "⚠️ Pending items are unavailable right now.")
		return err
	}
	if len(items) == 0 {
		return b.plain(ctx, chatID, "✅ No pending items. Inbox zero!")
	}
	if err := b.markdown(ctx, chatID, fmt.Sprintf("⏳ *%d pending items:*", len(items))); err != nil {
		return err
	}
	sent, err := b.triage.Relist(ctx, pendingLimit)
	if err != nil {
		return err
	}
	if sent < len(items) {
		return b.plain(ctx, chatID, fmt.Sprintf("⚠️ %d of %d cards could not be delivered.", len(items)-sent, len(items)))
	}
	return nil
}

func (b *Bot) clear(ctx context.Context, chatID, user int64) error {
	if b.analyst != nil {
		if err := b.analyst.Reset(ctx, user); err != nil {
			_ = b.plain(ctx, chatID, "⚠️ Could not clear chat history.")
			return err
		}
	}
	return b.markdown(ctx, chatID, "🧹 *CLEARED* - Fresh start.")
}

// submit ingests a link pasted by the operator. The intel card itself is
// delivered by the triage service.
func (b *Bot) submit(ctx context.Context, chatID int64, locator string) error {
	seen, err := b.triage.Seen(ctx, locator)
	if err != nil {
		_ = b.plain(ctx, chatID, "⚠️ Could not check that link. Try again.")
		return err
	}
	if seen {
		return b.plain(ctx, chatID, duplicateMessage)
	}
	if err := b.markdown(ctx, chatID, "🔄 _Analyzing..._"); err != nil {
		return err
	}

	kind, name := scrape.Classify(locator)
	res, err := b.triage.Ingest(ctx, triage.Candidate{Locator: locator, SourceKind: kind, SourceName: name})
	if err != nil {
		_ = b.plain(ctx, chatID, "⚠️ Could not process that link.")
		return err
	}
	switch {
	case res.Duplicate:
		return b.plain(ctx, chatID, duplicateMessage)
	case !res.Prompted:
		return b.plain(ctx, chatID, "⚠️ Item saved, but its card could not be delivered. Use /pending to retry.")
	}
	return nil
}

func (b *Bot) chat(ctx context.Context, chatID, user int64, text string) error {
	if b.analyst == nil {
		return b.plain(ctx, chatID, "💬 Chat is unavailable: no language model is configured.")
	}
	answer := b.analyst.Chat(ctx, user, text)
	return b.reply(ctx, chatID, func(triage.Format) string { return answer }, nil)
}

func bold(f triage.Format, s string) string {
	if f == triage.FormatMarkdown {
		return "*" + s + "*"
	}
	return s
}

func italic(f triage.Format, s string) string {
	if f == triage.FormatMarkdown {
		return "_" + s + "_"
	}
	return s
}
