// Package analyst turns a text generator into the three analyst functions:
// structured article summaries, operator chat, and the weekly narrative.
package analyst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/session"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

// Generator produces text from a system instruction and a prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

const (
	maxInputChars = 12000
	chatContext   = 10

	// ChatFailure is shown when the generator fails during chat.
	ChatFailure = "Analysis error. Try again."
)

// ErrIncompleteSummary is returned when generated JSON lacks a required field.
var ErrIncompleteSummary = errors.New("summary missing required fields")

// SystemInstruction sets the analyst persona for chat.
const SystemInstruction = `You are an elite film industry intelligence analyst. Use emojis strategically.

Expertise: Deal analysis, financing forensics, streaming strategy, BS detection, pattern recognition.

Style: Direct, analytical, sardonic. No fluff. Label speculation clearly.`

// summaryInstruction is rendered with the filing bucket keys.
const summaryInstruction = `You are a film industry intelligence analyst. Analyze this article and return a JSON object with exactly these fields:
{
  "headline": "A concise rewritten headline (1 line)",
  "tldr": "One sentence TL;DR",
  "bullets": ["bullet 1", "bullet 2", "bullet 3"],
  "tags": ["tag1", "tag2", "tag3"],
  "category_suggestion": "one of: %s",
  "why_it_matters": "One sentence on why a film producer should care"
}

Return ONLY valid JSON. No markdown, no explanation. Just the JSON object.`

var (
	fenceOpen  = regexp.MustCompile("^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
)

// Analyst implements triage.Summarizer and the chat and report functions.
type Analyst struct {
	gen      Generator
	sessions session.Store
	catalog  *triage.Catalog
	logger   log.Logger
}

// New returns an Analyst. sessions may be nil, in which case chat is stateless.
func New(gen Generator, sessions session.Store, catalog *triage.Catalog, logger log.Logger) *Analyst {
	if logger == nil {
		logger = log.Nop()
	}
	if catalog == nil {
		catalog = triage.DefaultCatalog()
	}
	return &Analyst{gen: gen, sessions: sessions, catalog: catalog, logger: logger}
}

// wireSummary mirrors the requested JSON. Pointers distinguish a missing
// field from an empty one.
type wireSummary struct {
	Headline     *string   `json:"headline"`
	TLDR         *string   `json:"tldr"`
	Bullets      *[]string `json:"bullets"`
	Tags         *[]string `json:"tags"`
	Category     string    `json:"category_suggestion"`
	WhyItMatters string    `json:"why_it_matters"`
}

// Summarize asks the generator for a JSON summary. Any failure is returned
// as an error; the caller substitutes the fallback summary.
func (a *Analyst) Summarize(ctx context.Context, title, text, sourceName, locator string) (triage.Summary, error) {
	prompt := fmt.Sprintf("Article to analyze:\nTitle: %s\nSource: %s\nURL: %s\nContent: %s",
		title, sourceName, locator, truncate(text, maxInputChars))

	raw, err := a.gen.Generate(ctx, "", a.instruction()+"\n\n"+prompt)
	if err != nil {
		return triage.Summary{}, fmt.Errorf("generate summary: %w", err)
	}
	return ParseSummary(raw)
}

func (a *Analyst) instruction() string {
	keys := make([]string, 0, len(a.catalog.Filing()))
	for _, b := range a.catalog.Filing() {
		keys = append(keys, b.Key)
	}
	return fmt.Sprintf(summaryInstruction, strings.Join(keys, ", "))
}

// ParseSummary decodes generator output, tolerating a markdown code fence.
func ParseSummary(raw string) (triage.Summary, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = fenceOpen.ReplaceAllString(raw, "")
		raw = fenceClose.ReplaceAllString(raw, "")
	}

	var w wireSummary
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return triage.Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	if w.Headline == nil || w.TLDR == nil || w.Bullets == nil || w.Tags == nil {
		return triage.Summary{}, ErrIncompleteSummary
	}

	s := triage.Summary{
		Headline:        *w.Headline,
		OneLine:         *w.TLDR,
		Bullets:         nonNil(*w.Bullets),
		Tags:            nonNil(*w.Tags),
		SuggestedBucket: w.Category,
		WhyItMatters:    w.WhyItMatters,
	}
	return s.Normalize(), nil
}

// Chat answers a free-form operator message using the user's recent turns
// as context. Generator failures produce ChatFailure rather than an error.
func (a *Analyst) Chat(ctx context.Context, user int64, message string) string {
	L := a.logger.With("user", user)

	var history []session.Turn
	if a.sessions != nil {
		h, err := a.sessions.History(ctx, user)
		if err != nil {
			L.Warn(ctx, "chat history unavailable", "error", err)
		}
		history = h
		if err := a.sessions.Append(ctx, user, session.Turn{Role: session.RoleUser, Text: message}); err != nil {
			L.Warn(ctx, "failed to record chat turn", "error", err)
		}
	}

	reply, err := a.gen.Generate(ctx, SystemInstruction, chatPrompt(history, message))
	if err != nil {
		L.Error(ctx, err, "chat generation failed")
		return ChatFailure
	}

	if a.sessions != nil {
		if err := a.sessions.Append(ctx, user, session.Turn{Role: session.RoleAssistant, Text: reply}); err != nil {
			L.Warn(ctx, "failed to record chat turn", "error", err)
		}
	}
	return reply
}

// Reset clears the user's chat history.
func (a *Analyst) Reset(ctx context.Context, user int64) error {
	if a.sessions == nil {
		return nil
	}
	return a.sessions.Clear(ctx, user)
}

// chatPrompt renders up to chatContext-1 previous turns plus the new message.
func chatPrompt(history []session.Turn, message string) string {
	if len(history) > chatContext-1 {
		history = history[len(history)-(chatContext-1):]
	}
	if len(history) == 0 {
		return "User: " + message
	}
	var b strings.Builder
	b.WriteString("Conversation:\n")
	for i, t := range history {
		if i > 0 {
			b.WriteString("\n")
		}
		speaker := "User"
		if t.Role == session.RoleAssistant {
			speaker = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s", speaker, t.Text)
	}
	fmt.Fprintf(&b, "\n\nUser: %s", message)
	return b.String()
}

// WeeklyReport writes the weekly narrative over the filed items.
func (a *Analyst) WeeklyReport(ctx context.Context, items []*triage.Item) (string, error) {
	if len(items) > triage.WeeklyCap {
		items = items[:triage.WeeklyCap]
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		headline := it.Summary.Headline
		if headline == "" {
			headline = it.Title
		}
		bucket := it.Bucket
		if bucket == "" {
			bucket = "unknown"
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s: %s (Category: %s)", it.SourceName, headline, it.Summary.OneLine, bucket))
	}

	prompt := "You are a film industry intelligence analyst. Based on this week's filed intel items, " +
		"write a Weekly Intelligence Report. Include:\n" +
		"1. Top 3 trends of the week\n" +
		"2. Deals to watch\n" +
		"3. Pattern analysis (connections between items)\n" +
		"4. Instagram patterns (if any IG items present)\n" +
		"5. One contrarian take\n\n" +
		"Items filed this week:\n" + strings.Join(lines, "\n")

	out, err := a.gen.Generate(ctx, "", prompt)
	if err != nil {
		return "", fmt.Errorf("generate weekly report: %w", err)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
