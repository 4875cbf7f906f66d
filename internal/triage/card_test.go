package triage

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testItem() *Item {
	return &Item{
		ID:         "abcdef0123456789",
		Locator:    "https://deadline.com/story",
		SourceKind: SourceFeed,
		SourceName: "Deadline",
		Summary: Summary{
			Headline:        "Studio X closes $50M deal",
			OneLine:         "A slate financing deal.",
			Bullets:         []string{"one", "two", "three", "four", "five", "six", "seven"},
			Tags:            []string{"financing", "streaming"},
			SuggestedBucket: "financing",
			WhyItMatters:    "Sets a price point.",
		},
		CreatedAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestIntelCard(t *testing.T) {
	t.Parallel()

	c := IntelCard(testItem(), DefaultCatalog(), FormatMarkdown)

	for _, want := range []string{
		"📰 *Deadline* | 2026-03-10",
		"📌 *Studio X closes $50M deal*",
		"📝 *TL;DR:* A slate financing deal.",
		"  • six",
		"❗ *Why it matters:* Sets a price point.",
		"🏷 #financing #streaming",
		"💡 Suggested: _Financing_",
	} {
		if !strings.Contains(c.Text, want) {
			t.Errorf("card text missing %q:\n%s", want, c.Text)
		}
	}
	if strings.Contains(c.Text, "seven") {
		t.Error("rendered more than six bullets")
	}

	if len(c.Buttons) != 2 {
		t.Fatalf("button rows = %d, want 2", len(c.Buttons))
	}
	decisions := c.Buttons[0]
	if len(decisions) != 3 {
		t.Fatalf("decision buttons = %d, want 3", len(decisions))
	}
	for i, kind := range []TriggerKind{TriggerAccept, TriggerArchive, TriggerReject} {
		tr, err := ParseTrigger(decisions[i].Payload)
		if err != nil || tr.Kind != kind || tr.ItemID != "abcdef0123456789" {
			t.Errorf("button %d = %+v (%v), want %s", i, tr, err, kind)
		}
	}
	if c.Buttons[1][0].URL != "https://deadline.com/story" {
		t.Errorf("read button url = %q", c.Buttons[1][0].URL)
	}
}

func TestIntelCard_Plain(t *testing.T) {
	t.Parallel()

	c := IntelCard(testItem(), DefaultCatalog(), FormatPlain)
	if strings.ContainsAny(c.Text, "*_") {
		t.Errorf("plain card contains markup:\n%s", c.Text)
	}
	if c.Format != FormatPlain {
		t.Error("format not carried on card")
	}
}

func TestPickerCard(t *testing.T) {
	t.Parallel()

	catalog := DefaultCatalog()
	c := PickerCard(testItem(), catalog, ActionAccept, FormatMarkdown)
	if c.Text != "🎯 *Select a category:*" {
		t.Errorf("Text = %q", c.Text)
	}

	// 13 buckets in rows of three plus the cancel row
	if len(c.Buttons) != 6 {
		t.Fatalf("rows = %d, want 6", len(c.Buttons))
	}
	for _, row := range c.Buttons[:4] {
		if len(row) != 3 {
			t.Errorf("row has %d buttons, want 3", len(row))
		}
	}
	cancel := c.Buttons[len(c.Buttons)-1][0]
	if cancel.Label != "◀️ Cancel" {
		t.Errorf("last button = %q", cancel.Label)
	}

	seen := 0
	for _, row := range c.Buttons[:len(c.Buttons)-1] {
		for _, b := range row {
			tr, err := ParseTrigger(b.Payload)
			if err != nil || tr.Kind != TriggerChooseBucket || !catalog.IsFiling(tr.Bucket) {
				t.Errorf("button %q payload %q invalid", b.Label, b.Payload)
			}
			seen++
		}
	}
	if seen != 13 {
		t.Errorf("bucket buttons = %d, want 13", seen)
	}

	archive := PickerCard(testItem(), catalog, ActionArchive, FormatPlain)
	if archive.Text != "📁 Select archive category:" {
		t.Errorf("archive Text = %q", archive.Text)
	}
}

func TestAckCard(t *testing.T) {
	t.Parallel()

	if got := AckCard("Talent", false, FormatMarkdown).Text; got != "✅ *Filed to Talent*" {
		t.Errorf("ok ack = %q", got)
	}
	got := AckCard("Talent", true, FormatPlain).Text
	if got != "⚠️ Filed to Talent\n⚠️ Ledger write failed — item is saved locally." {
		t.Errorf("degraded ack = %q", got)
	}
}

func TestDeliver(t *testing.T) {
	t.Parallel()

	render := func(f Format) Card { return Card{Format: f} }

	var formats []Format
	err := Deliver(render, func(c Card) error {
		formats = append(formats, c.Format)
		if c.Format == FormatMarkdown {
			return ErrFormatRejected
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(formats) != 2 || formats[1] != FormatPlain {
		t.Errorf("formats = %v, want markdown then plain", formats)
	}

	formats = nil
	err = Deliver(render, func(c Card) error {
		formats = append(formats, c.Format)
		return errSend
	})
	if err != errSend {
		t.Errorf("err = %v, want passthrough", err)
	}
	if len(formats) != 1 {
		t.Errorf("non-format errors must not retry, got %d sends", len(formats))
	}
}

var errSend = errors.New("send failed")
