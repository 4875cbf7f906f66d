package analyst

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/session"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

type mockGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	systems []string
	prompts []string
}

func (m *mockGenerator) Generate(_ context.Context, system, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systems = append(m.systems, system)
	m.prompts = append(m.prompts, prompt)
	return m.reply, m.err
}

func (m *mockGenerator) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[len(m.prompts)-1]
}

const validJSON = `{
  "headline": "Studio X closes $50M deal",
  "tldr": "A slate financing deal.",
  "bullets": ["$50M", "three films"],
  "tags": ["#financing", "streaming"],
  "category_suggestion": "financing",
  "why_it_matters": "Sets a price point."
}`

func TestParseSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantErr   error
		badFormat bool
	}{
		{"plain json", validJSON, nil, false},
		{"fenced json", "```json\n" + validJSON + "\n```", nil, false},
		{"bare fence", "```\n" + validJSON + "```", nil, false},
		{"missing tags", `{"headline":"h","tldr":"t","bullets":[]}`, ErrIncompleteSummary, false},
		{"missing headline", `{"tldr":"t","bullets":[],"tags":[]}`, ErrIncompleteSummary, false},
		{"not json", "Sorry, I can't help with that.", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := ParseSummary(tt.raw)
			if tt.badFormat {
				if err == nil {
					t.Fatal("expected decode error")
				}
				return
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSummary: %v", err)
			}
			if s.Headline != "Studio X closes $50M deal" || s.OneLine != "A slate financing deal." {
				t.Errorf("summary = %+v", s)
			}
			if strings.Join(s.Tags, ",") != "financing,streaming" {
				t.Errorf("Tags = %v", s.Tags)
			}
			if s.SuggestedBucket != "financing" || s.WhyItMatters != "Sets a price point." {
				t.Errorf("optional fields = %q %q", s.SuggestedBucket, s.WhyItMatters)
			}
			if !s.Complete() {
				t.Error("parsed summary not complete")
			}
		})
	}
}

func TestParseSummary_EmptyListsAreComplete(t *testing.T) {
	t.Parallel()

	s, err := ParseSummary(`{"headline":"h","tldr":"t","bullets":[],"tags":[]}`)
	if err != nil {
		t.Fatalf("ParseSummary: %v", err)
	}
	if s.Bullets == nil || s.Tags == nil {
		t.Error("present empty lists decoded as nil")
	}
}

func TestSummarize_Prompt(t *testing.T) {
	t.Parallel()

	gen := &mockGenerator{reply: validJSON}
	a := New(gen, nil, triage.DefaultCatalog(), log.Nop())

	long := strings.Repeat("x", maxInputChars+500)
	if _, err := a.Summarize(context.Background(), "Title", long, "Deadline", "https://deadline.com/a"); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	p := gen.lastPrompt()
	for _, want := range []string{
		"Return ONLY valid JSON",
		"one of: development, financing",
		"Title: Title\nSource: Deadline\nURL: https://deadline.com/a\nContent: ",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Count(p, "x") > maxInputChars+10 {
		t.Error("content not truncated")
	}
}

func TestSummarize_GeneratorError(t *testing.T) {
	t.Parallel()

	a := New(&mockGenerator{err: errors.New("quota")}, nil, nil, nil)
	if _, err := a.Summarize(context.Background(), "t", "x", "s", "u"); err == nil {
		t.Fatal("expected error")
	}
}

func TestChat_UsesRecentHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := session.NewMemory(session.DefaultCap)
	gen := &mockGenerator{reply: "noted"}
	a := New(gen, store, nil, log.Nop())

	if got := a.Chat(ctx, 1, "first"); got != "noted" {
		t.Fatalf("Chat = %q", got)
	}
	if p := gen.lastPrompt(); p != "User: first" {
		t.Errorf("first prompt = %q", p)
	}
	if gen.systems[0] != SystemInstruction {
		t.Error("chat did not use the analyst persona")
	}

	for i := range 12 {
		a.Chat(ctx, 1, "msg"+string(rune('a'+i)))
	}
	a.Chat(ctx, 1, "latest")

	p := gen.lastPrompt()
	if !strings.HasPrefix(p, "Conversation:\n") || !strings.HasSuffix(p, "\n\nUser: latest") {
		t.Errorf("prompt shape = %q", p)
	}
	// nine previous turns of context
	if n := strings.Count(p, "\nUser: ") + strings.Count(p, "\nAssistant: "); n > 10 {
		t.Errorf("context has %d turns, want at most 9 plus the message", n)
	}
	if strings.Contains(p, "first") {
		t.Error("old turns leaked into context")
	}

	h, _ := store.History(ctx, 1)
	if len(h) != session.DefaultCap {
		t.Errorf("history len = %d, want %d", len(h), session.DefaultCap)
	}
}

func TestChat_Failure(t *testing.T) {
	t.Parallel()

	store := session.NewMemory(0)
	a := New(&mockGenerator{err: errors.New("down")}, store, nil, log.Nop())
	if got := a.Chat(context.Background(), 2, "hi"); got != ChatFailure {
		t.Errorf("Chat = %q, want %q", got, ChatFailure)
	}
	h, _ := store.History(context.Background(), 2)
	if len(h) != 1 || h[0].Role != session.RoleUser {
		t.Errorf("history = %v, want only the user turn", h)
	}

	if err := a.Reset(context.Background(), 2); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if h, _ := store.History(context.Background(), 2); len(h) != 0 {
		t.Error("Reset did not clear history")
	}
}

func TestWeeklyReport(t *testing.T) {
	t.Parallel()

	gen := &mockGenerator{reply: "report body"}
	a := New(gen, nil, nil, log.Nop())

	items := []*triage.Item{
		{SourceName: "Variety", Title: "Raw title", Bucket: "talent", Summary: triage.Summary{OneLine: "tl"}},
		{SourceName: "Instagram", Bucket: "market", Summary: triage.Summary{Headline: "IG post", OneLine: "caption"}},
	}
	out, err := a.WeeklyReport(context.Background(), items)
	if err != nil {
		t.Fatalf("WeeklyReport: %v", err)
	}
	if out != "report body" {
		t.Errorf("out = %q", out)
	}
	p := gen.lastPrompt()
	for _, want := range []string{
		"5. One contrarian take",
		"- [Variety] Raw title: tl (Category: talent)",
		"- [Instagram] IG post: caption (Category: market)",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
