package triage

import (
	"fmt"
	"strings"
)

// Format selects how a card's text is marked up.
type Format int

const (
	FormatMarkdown Format = iota
	FormatPlain
)

// Button is an action attached to a card. Exactly one of Payload (an encoded
// Trigger) or URL is set.
type Button struct {
	Label   string
	Payload string
	URL     string
}

// Card is a rendered message with optional button rows.
type Card struct {
	Text    string
	Format  Format
	Buttons [][]Button
}

const (
	rule          = "━━━━━━━━━━━━━━━━━━━━"
	pickerPerRow  = 3
	readButton    = "📖 Read Article"
	ledgerWarning = "⚠️ Ledger write failed — item is saved locally."
)

var sourceEmoji = map[SourceKind]string{
	SourceFeed:      "📰",
	SourceSubmitted: "🔗",
	SourceSocial:    "📸",
}

type style Format

func (s style) bold(v string) string {
	if Format(s) == FormatMarkdown {
		return "*" + v + "*"
	}
	return v
}

func (s style) italic(v string) string {
	if Format(s) == FormatMarkdown {
		return "_" + v + "_"
	}
	return v
}

// Notice returns a text-only card.
func Notice(text string, f Format) Card {
	return Card{Text: text, Format: f}
}

// IntelCard renders an item for triage with the decision buttons.
func IntelCard(item *Item, catalog *Catalog, f Format) Card {
	buttons := [][]Button{{
		{Label: "✅ Yes", Payload: Trigger{Kind: TriggerAccept, ItemID: item.ID}.Encode()},
		{Label: "📁 Archive", Payload: Trigger{Kind: TriggerArchive, ItemID: item.ID}.Encode()},
		{Label: "❌ No", Payload: Trigger{Kind: TriggerReject, ItemID: item.ID}.Encode()},
	}}
	if item.Locator != "" {
		buttons = append(buttons, []Button{{Label: readButton, URL: item.Locator}})
	}
	return Card{Text: cardText(item, catalog, style(f)), Format: f, Buttons: buttons}
}

// TopicCard renders a filed item for a bucket destination.
func TopicCard(item *Item, catalog *Catalog, f Format) Card {
	c := Card{Text: cardText(item, catalog, style(f)), Format: f}
	if item.Locator != "" {
		c.Buttons = [][]Button{{{Label: readButton, URL: item.Locator}}}
	}
	return c
}

// PickerCard renders the bucket picker shown after accept or archive.
func PickerCard(item *Item, catalog *Catalog, action Action, f Format) Card {
	st := style(f)
	title := "🎯 " + st.bold("Select a category:")
	if action == ActionArchive {
		title = "📁 " + st.bold("Select archive category:")
	}

	var rows [][]Button
	var row []Button
	for _, b := range catalog.Filing() {
		row = append(row, Button{
			Label:   strings.TrimSpace(b.Emoji + " " + b.Label),
			Payload: Trigger{Kind: TriggerChooseBucket, ItemID: item.ID, Bucket: b.Key}.Encode(),
		})
		if len(row) == pickerPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []Button{{Label: "◀️ Cancel", Payload: Trigger{Kind: TriggerCancel, ItemID: item.ID}.Encode()}})

	return Card{Text: title, Format: f, Buttons: rows}
}

// AckCard renders the filing acknowledgment.
func AckCard(label string, degraded bool, f Format) Card {
	st := style(f)
	if degraded {
		return Card{Text: "⚠️ " + st.bold("Filed to "+label) + "\n" + ledgerWarning, Format: f}
	}
	return Card{Text: "✅ " + st.bold("Filed to "+label), Format: f}
}

func cardText(item *Item, catalog *Catalog, st style) string {
	s := item.Summary
	emoji, ok := sourceEmoji[item.SourceKind]
	if !ok {
		emoji = "📄"
	}

	headline := s.Headline
	if headline == "" {
		headline = "Untitled"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s | %s\n%s\n\n", emoji, st.bold(item.SourceName), item.CreatedAt.UTC().Format("2006-01-02"), rule)
	fmt.Fprintf(&b, "📌 %s\n\n", st.bold(headline))
	fmt.Fprintf(&b, "📝 %s %s\n\n", st.bold("TL;DR:"), s.OneLine)
	fmt.Fprintf(&b, "📋 %s\n", st.bold("Summary:"))

	bullets := s.Bullets
	if len(bullets) > maxRenderedBullet {
		bullets = bullets[:maxRenderedBullet]
	}
	for i, bl := range bullets {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "  • %s", bl)
	}

	if s.WhyItMatters != "" {
		fmt.Fprintf(&b, "\n\n❗ %s %s", st.bold("Why it matters:"), s.WhyItMatters)
	}

	tags := make([]string, 0, len(s.Tags))
	for _, t := range s.Tags {
		tags = append(tags, "#"+t)
	}
	fmt.Fprintf(&b, "\n\n🏷 %s", strings.Join(tags, " "))

	if s.SuggestedBucket != "" {
		label := s.SuggestedBucket
		if catalog != nil {
			label = catalog.Label(s.SuggestedBucket)
		}
		fmt.Fprintf(&b, "\n💡 Suggested: %s", st.italic(label))
	}
	return b.String()
}
