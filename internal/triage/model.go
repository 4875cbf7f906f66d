package triage

import "time"

// Status tracks where an item is in its triage lifecycle.
type Status string

const (
	// StatusPending means ingested and awaiting an operator decision
	StatusPending Status = "pending"

	// StatusSelectingBucket means accepted or archived, awaiting a bucket choice
	StatusSelectingBucket Status = "selecting_bucket"

	// StatusFiled means delivered to a bucket (terminal)
	StatusFiled Status = "filed"

	// StatusDismissed means rejected by the operator (terminal)
	StatusDismissed Status = "dismissed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSelectingBucket, StatusFiled, StatusDismissed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusFiled || s == StatusDismissed
}

// Action is the operator decision that produced the current status.
type Action string

const (
	ActionNone    Action = ""
	ActionAccept  Action = "accept"
	ActionArchive Action = "archive"
	ActionReject  Action = "reject"
)

// SourceKind classifies where an item came from.
type SourceKind string

const (
	// SourceFeed is a syndicated feed entry (trade feeds, alert feeds).
	SourceFeed SourceKind = "feed"

	// SourceSubmitted is a link submitted by the operator.
	SourceSubmitted SourceKind = "submitted"

	// SourceSocial is a social-media post; it is mirrored separately when filed.
	SourceSocial SourceKind = "social"
)

// Summary is the structured digest of an item, either produced by the
// summarizer or built by Fallback.
type Summary struct {
	Headline        string   `json:"headline"`
	OneLine         string   `json:"tldr"`
	Bullets         []string `json:"bullets"`
	Tags            []string `json:"tags"`
	SuggestedBucket string   `json:"category_suggestion,omitempty"`
	WhyItMatters    string   `json:"why_it_matters,omitempty"`
}

// Item is one ingested piece of intelligence tracked through triage.
type Item struct {
	ID         string     `json:"id"`
	Locator    string     `json:"source_url"`
	SourceKind SourceKind `json:"source_kind"`
	SourceName string     `json:"source_name"`
	Title      string     `json:"title"`
	RawText    string     `json:"-"`
	Summary    Summary    `json:"summary"`
	Status     Status     `json:"status"`
	Action     Action     `json:"action,omitempty"`
	Bucket     string     `json:"bucket,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FiledAt    time.Time  `json:"filed_at,omitzero"`
}

// Candidate is an entry offered for ingestion by a feed or a submission.
type Candidate struct {
	Locator    string
	Title      string
	SourceKind SourceKind
	SourceName string
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	cp := *it
	cp.Summary.Bullets = cloneStrings(it.Summary.Bullets)
	cp.Summary.Tags = cloneStrings(it.Summary.Tags)
	return &cp
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}
