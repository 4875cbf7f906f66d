package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/feed"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/notify/telegram"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage/memstore"
)

const (
	operator = int64(42)
	stranger = int64(7)
)

type answer struct {
	id    string
	text  string
	alert bool
}

type fakeMessenger struct {
	mu             sync.Mutex
	sent           []telegram.SendMessageParams
	answers        []answer
	rejectMarkdown bool
}

func (f *fakeMessenger) SendMessage(_ context.Context, p telegram.SendMessageParams) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectMarkdown && p.ParseMode != "" {
		return nil, fmt.Errorf("telegram: %w", triage.ErrFormatRejected)
	}
	f.sent = append(f.sent, p)
	return &telegram.Message{MessageID: int64(len(f.sent)), Chat: telegram.Chat{ID: p.ChatID}}, nil
}

func (f *fakeMessenger) AnswerCallbackQuery(_ context.Context, id, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answer{id, text, alert})
	return nil
}

func (f *fakeMessenger) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, p := range f.sent {
		out = append(out, p.Text)
	}
	return out
}

func (f *fakeMessenger) lastText() string {
	t := f.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

// fakePrompter issues handles of the form "42:<n>" like the real transport.
type fakePrompter struct {
	mu      sync.Mutex
	handles []string
}

func (p *fakePrompter) Prompt(context.Context, triage.Card) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := telegram.FormatHandle(operator, int64(100+len(p.handles)))
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakePrompter) Replace(_ context.Context, h string, _ triage.Card) (string, error) {
	return h, nil
}

func (p *fakePrompter) Remove(context.Context, string) error { return nil }

type fakePublisher struct {
	mu        sync.Mutex
	published []string
}

func (p *fakePublisher) Publish(_ context.Context, b triage.Bucket, c triage.Card) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, b.Key+": "+c.Text)
	return nil
}

type fakeAnalyst struct {
	chats   []string
	resets  int
	weekly  int
	reply   string
	weekErr error
}

func (a *fakeAnalyst) Chat(_ context.Context, _ int64, msg string) string {
	a.chats = append(a.chats, msg)
	return a.reply
}

func (a *fakeAnalyst) Reset(context.Context, int64) error {
	a.resets++
	return nil
}

func (a *fakeAnalyst) WeeklyReport(context.Context, []*triage.Item) (string, error) {
	a.weekly++
	return "1. Trends", a.weekErr
}

type fakeFeeds struct {
	entries map[string][]feed.Entry
	limits  map[string]int
}

func (f *fakeFeeds) Collect(_ context.Context, sources []feed.Source, perFeed int) ([]feed.Entry, error) {
	if f.limits == nil {
		f.limits = map[string]int{}
	}
	var (
		out  []feed.Entry
		errs []error
	)
	for _, src := range sources {
		f.limits[src.Name] = perFeed
		if src.Name == "Broken" {
			errs = append(errs, errors.New("boom"))
			continue
		}
		out = append(out, f.entries[src.Name]...)
	}
	return out, errors.Join(errs...)
}

type env struct {
	bot       *Bot
	msgr      *fakeMessenger
	prompter  *fakePrompter
	publisher *fakePublisher
	analyst   *fakeAnalyst
	feeds     *fakeFeeds
	svc       *triage.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		msgr:      &fakeMessenger{},
		prompter:  &fakePrompter{},
		publisher: &fakePublisher{},
		analyst:   &fakeAnalyst{reply: "*Deal looks real.*"},
		feeds: &fakeFeeds{entries: map[string][]feed.Entry{
			"Deadline": {{Source: "Deadline", Title: "Studio X buys Y", Link: "https://deadline.com/x"}},
			"Variety":  {{Source: "Variety", Title: "Festival lineup", Link: "https://variety.com/y"}},
		}},
	}
	catalog := triage.DefaultCatalog()
	router := triage.NewRouter(catalog, e.publisher, nil, log.Nop(), triage.Hooks{})
	e.svc = triage.NewService(memstore.New(), catalog, router, e.prompter, log.Nop())
	sources := []feed.Source{
		{Name: "Deadline", URL: "https://deadline.com/feed/", Command: "deadline"},
		{Name: "Variety", URL: "https://variety.com/feed/", Command: "variety"},
		{Name: "Broken", URL: "https://broken/feed"},
	}
	e.bot = New(e.msgr, e.svc, triage.NewGuard(operator), log.Nop(),
		WithAnalyst(e.analyst),
		WithFeeds(e.feeds, sources),
		WithPublisher(e.publisher),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC) }),
	)
	return e
}

func message(from int64, text string) *telegram.Update {
	return &telegram.Update{Message: &telegram.Message{
		MessageID: 1,
		From:      &telegram.User{ID: from},
		Chat:      telegram.Chat{ID: from},
		Text:      text,
	}}
}

func callback(from int64, handle, data string) *telegram.Update {
	chat, msg, _ := telegram.ParseHandle(handle)
	return &telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:      "cb",
		From:    telegram.User{ID: from},
		Message: &telegram.Message{MessageID: msg, Chat: telegram.Chat{ID: chat}},
		Data:    data,
	}}
}

func (e *env) handle(t *testing.T, u *telegram.Update) {
	t.Helper()
	if err := e.bot.HandleUpdate(context.Background(), u); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
}

func TestGuard_DeniesStrangers(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.handle(t, message(stranger, "/stats"))
	if got := e.msgr.lastText(); got != "Access denied." {
		t.Errorf("reply = %q, want denial", got)
	}

	e.handle(t, callback(stranger, "42:100", "y|abc"))
	if len(e.msgr.answers) != 1 || e.msgr.answers[0].text != "Access denied." || !e.msgr.answers[0].alert {
		t.Errorf("answers = %+v, want alert denial", e.msgr.answers)
	}

	e.handle(t, message(stranger, "https://deadline.com/a"))
	if seen, _ := e.svc.Seen(context.Background(), "https://deadline.com/a"); seen {
		t.Error("stranger's link was ingested")
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		wantCmd  string
		wantArgs string
		wantOK   bool
	}{
		{"/stats", "stats", "", true},
		{"/Stats@watchtower_bot", "stats", "", true},
		{"/scout A24 strategy", "scout", "A24 strategy", true},
		{"/", "", "", false},
		{"hello", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			cmd, args, ok := parseCommand(tt.in)
			if cmd != tt.wantCmd || args != tt.wantArgs || ok != tt.wantOK {
				t.Errorf("parseCommand(%q) = %q, %q, %v", tt.in, cmd, args, ok)
			}
		})
	}
}

func TestSubmit_TriageFlow(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	const link = "https://www.instagram.com/p/abc/"

	e.handle(t, message(operator, link))
	if len(e.prompter.handles) != 1 {
		t.Fatalf("prompts = %d, want 1", len(e.prompter.handles))
	}
	if got := e.msgr.lastText(); got != "🔄 _Analyzing..._" {
		t.Errorf("reply = %q", got)
	}

	item, ok, err := e.svc.Get(context.Background(), triage.ItemID(link))
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if item.SourceKind != triage.SourceSocial || item.SourceName != "Instagram" {
		t.Errorf("item source = %q/%q", item.SourceKind, item.SourceName)
	}

	handle := e.prompter.handles[0]
	e.handle(t, callback(operator, handle, triage.Trigger{Kind: triage.TriggerAccept, ItemID: item.ID}.Encode()))
	e.handle(t, callback(operator, handle, triage.Trigger{Kind: triage.TriggerChooseBucket, ItemID: item.ID, Bucket: "talent"}.Encode()))

	if len(e.msgr.answers) != 2 {
		t.Fatalf("answers = %+v", e.msgr.answers)
	}
	if e.msgr.answers[0].text != "Select a bucket." {
		t.Errorf("accept answer = %q", e.msgr.answers[0].text)
	}
	if !strings.Contains(e.msgr.answers[1].text, "Filed to Talent") {
		t.Errorf("file answer = %q", e.msgr.answers[1].text)
	}

	// a late press on the same prompt
	e.handle(t, callback(operator, handle, triage.Trigger{Kind: triage.TriggerReject, ItemID: item.ID}.Encode()))
	if got := e.msgr.answers[2].text; got != "Already processed." {
		t.Errorf("late answer = %q", got)
	}

	e.handle(t, message(operator, link))
	if got := e.msgr.lastText(); got != duplicateMessage {
		t.Errorf("duplicate reply = %q", got)
	}
}

func TestCallback_Malformed(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.handle(t, callback(operator, "42:1", "garbage"))
	if got := e.msgr.answers[0].text; got != "Unrecognized action." {
		t.Errorf("answer = %q", got)
	}
}

func TestChat(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.handle(t, message(operator, "What is A24 doing?"))
	if len(e.analyst.chats) != 1 || e.analyst.chats[0] != "What is A24 doing?" {
		t.Errorf("chats = %v", e.analyst.chats)
	}
	if got := e.msgr.lastText(); got != "*Deal looks real.*" {
		t.Errorf("reply = %q", got)
	}

	e.handle(t, message(operator, "/scout A24 strategy"))
	if got := e.analyst.chats[len(e.analyst.chats)-1]; got != "A24 strategy" {
		t.Errorf("scout args chat = %q", got)
	}
}

func TestCommands_ScoutAndAnalyze(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		wantChat  string
		wantReply string
	}{
		{"scout without topic", "/scout", "", "SCOUT MODE"},
		{"analyze without text", "/analyze", "", "ANALYZE MODE"},
		{"scout with topic", "/scout Neon slate financing", "Neon slate financing", "Deal looks real."},
		{"analyze with text", "/analyze Apple TV+ sports rights", "Apple TV+ sports rights", "Deal looks real."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t)
			e.handle(t, message(operator, tt.text))

			var chats []string
			if tt.wantChat != "" {
				chats = []string{tt.wantChat}
			}
			if strings.Join(e.analyst.chats, "|") != strings.Join(chats, "|") {
				t.Errorf("chats = %q, want %q", e.analyst.chats, chats)
			}
			if got := e.msgr.lastText(); !strings.Contains(got, tt.wantReply) {
				t.Errorf("reply = %q, want it to contain %q", got, tt.wantReply)
			}
		})
	}
}

func TestChat_PlainFallback(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.msgr.rejectMarkdown = true
	e.handle(t, message(operator, "hello"))
	e.msgr.mu.Lock()
	defer e.msgr.mu.Unlock()
	if len(e.msgr.sent) != 1 || e.msgr.sent[0].ParseMode != "" {
		t.Errorf("sent = %+v, want one plain message", e.msgr.sent)
	}
}

func TestCommands_News(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.handle(t, message(operator, "📰 Latest News"))
	out := e.msgr.lastText()
	if !strings.Contains(out, "Studio X buys Y") || !strings.Contains(out, "Festival lineup") {
		t.Errorf("news = %q", out)
	}
	if e.feeds.limits["Deadline"] != newsPerFeed {
		t.Errorf("per-feed limit = %d", e.feeds.limits["Deadline"])
	}

	e.handle(t, message(operator, "/deadline"))
	out = e.msgr.lastText()
	if !strings.Contains(out, "DEADLINE INTEL") || strings.Contains(out, "Festival lineup") {
		t.Errorf("shortcut = %q", out)
	}
	if e.feeds.limits["Deadline"] != shortcutLimit {
		t.Errorf("shortcut limit = %d", e.feeds.limits["Deadline"])
	}
}

func TestNewsList_Formats(t *testing.T) {
	t.Parallel()

	entries := []feed.Entry{{Source: "THR", Title: "A_b", Link: "https://thr.com/a_b"}}
	md := NewsList(entries, "THR", triage.FormatMarkdown)
	if !strings.Contains(md, "[Read](https://thr.com/a_b)") {
		t.Errorf("markdown = %q", md)
	}
	plain := NewsList(entries, "THR", triage.FormatPlain)
	if strings.Contains(plain, "*") || !strings.Contains(plain, "https://thr.com/a_b") {
		t.Errorf("plain = %q", plain)
	}
	if got := NewsList(nil, "THR", triage.FormatPlain); got != "📭 No THR articles found." {
		t.Errorf("empty = %q", got)
	}
}

func TestCommands_StatsPendingClear(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	e.handle(t, message(operator, "/pending"))
	if got := e.msgr.lastText(); got != "✅ No pending items. Inbox zero!" {
		t.Errorf("empty pending = %q", got)
	}

	e.handle(t, message(operator, "https://deadline.com/story"))
	e.handle(t, message(operator, "/pending"))
	if got := e.msgr.lastText(); got != "⏳ *1 pending items:*" {
		t.Errorf("pending header = %q", got)
	}
	if len(e.prompter.handles) != 2 {
		t.Errorf("prompts = %d, want re-prompt", len(e.prompter.handles))
	}

	e.handle(t, message(operator, "/stats"))
	out := e.msgr.lastText()
	if !strings.Contains(out, "Total items: 1") || !strings.Contains(out, "Pending: 1") {
		t.Errorf("stats = %q", out)
	}

	e.handle(t, message(operator, "/clear"))
	if e.analyst.resets != 1 {
		t.Errorf("resets = %d", e.analyst.resets)
	}

	e.handle(t, message(operator, "/bogus"))
	if got := e.msgr.lastText(); got != "Unknown command. Try /help." {
		t.Errorf("unknown = %q", got)
	}
}

func TestStartShowsKeyboard(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.handle(t, message(operator, "/start"))
	e.msgr.mu.Lock()
	defer e.msgr.mu.Unlock()
	p := e.msgr.sent[len(e.msgr.sent)-1]
	if _, ok := p.ReplyMarkup.(*telegram.ReplyKeyboardMarkup); !ok {
		t.Errorf("reply markup = %T, want reply keyboard", p.ReplyMarkup)
	}
	if !strings.Contains(p.Text, "Deadline, Variety") {
		t.Errorf("welcome = %q", p.Text)
	}
}

func TestCommandsMenu(t *testing.T) {
	t.Parallel()

	cmds := Commands(feed.DefaultSources())
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Command)
	}
	got := strings.Join(names, ",")
	want := "start,news,deadline,variety,thr,scout,analyze,stats,pending,clear,help"
	if got != want {
		t.Errorf("commands = %s, want %s", got, want)
	}
}

func TestBucketLines(t *testing.T) {
	t.Parallel()

	catalog := triage.DefaultCatalog()
	got := bucketLines(map[string]int{"talent": 1, "financing": 3, "development": 1}, catalog, "none")
	want := "  💰 Financing: 3\n  🎬 Development: 1\n  🎭 Talent: 1"
	if got != want {
		t.Errorf("bucketLines =\n%s\nwant\n%s", got, want)
	}
	if got := bucketLines(nil, catalog, "none"); got != "  none" {
		t.Errorf("empty = %q", got)
	}
}

func TestSendDailyDigest(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.handle(t, message(operator, "https://deadline.com/one"))

	if err := e.bot.SendDailyDigest(context.Background()); err != nil {
		t.Fatalf("SendDailyDigest: %v", err)
	}
	e.msgr.mu.Lock()
	last := e.msgr.sent[len(e.msgr.sent)-1]
	e.msgr.mu.Unlock()
	if last.ChatID != operator || !strings.Contains(last.Text, "DAILY INTELLIGENCE BRIEF") {
		t.Errorf("digest = %+v", last)
	}
	if !strings.Contains(last.Text, "New items:* 1") {
		t.Errorf("digest counts = %q", last.Text)
	}
	if len(e.publisher.published) != 1 || !strings.HasPrefix(e.publisher.published[0], triage.BucketDailyBrief+": ") {
		t.Errorf("published = %v", e.publisher.published)
	}
}

func TestSendWeeklyReport(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	if err := e.bot.SendWeeklyReport(ctx); err != nil {
		t.Fatalf("SendWeeklyReport: %v", err)
	}
	if e.analyst.weekly != 0 {
		t.Fatal("report generated for an empty week")
	}

	e.handle(t, message(operator, "https://deadline.com/two"))
	id := triage.ItemID("https://deadline.com/two")
	h := e.prompter.handles[0]
	e.handle(t, callback(operator, h, triage.Trigger{Kind: triage.TriggerAccept, ItemID: id}.Encode()))
	e.handle(t, callback(operator, h, triage.Trigger{Kind: triage.TriggerChooseBucket, ItemID: id, Bucket: "financing"}.Encode()))

	if err := e.bot.SendWeeklyReport(ctx); err != nil {
		t.Fatalf("SendWeeklyReport: %v", err)
	}
	if e.analyst.weekly != 1 {
		t.Errorf("weekly calls = %d", e.analyst.weekly)
	}
	out := e.msgr.lastText()
	if !strings.Contains(out, "Week of March 01, 2026") || !strings.HasSuffix(out, "1. Trends") {
		t.Errorf("report = %q", out)
	}
	last := e.publisher.published[len(e.publisher.published)-1]
	if !strings.HasPrefix(last, triage.BucketWeeklyReport+": ") {
		t.Errorf("published = %q", last)
	}

	e.analyst.weekErr = errors.New("quota")
	if err := e.bot.SendWeeklyReport(ctx); err == nil {
		t.Error("expected narrative error")
	}
}

type scriptedUpdates struct {
	mu      sync.Mutex
	batches [][]telegram.Update
	offsets []int64
}

func (s *scriptedUpdates) GetUpdates(ctx context.Context, offset int64, _ time.Duration) ([]telegram.Update, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	if len(s.batches) > 0 {
		b := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_LongPoll(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	src := &scriptedUpdates{batches: [][]telegram.Update{
		{*message(operator, "/help"), *message(operator, "/scout")},
	}}
	src.batches[0][0].UpdateID = 10
	src.batches[0][1].UpdateID = 11

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.bot.Run(ctx, src, time.Second) }()

	deadline := time.After(5 * time.Second)
	for {
		src.mu.Lock()
		polled := len(src.offsets)
		src.mu.Unlock()
		if polled >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("second poll never happened")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if src.offsets[1] != 12 {
		t.Errorf("second offset = %d, want 12", src.offsets[1])
	}
	if n := len(e.msgr.texts()); n != 2 {
		t.Errorf("replies = %d, want 2", n)
	}
}
