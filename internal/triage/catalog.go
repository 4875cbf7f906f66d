package triage

import (
	"errors"
	"fmt"
)

// Reserved bucket keys with routing meaning.
const (
	BucketMisc         = "misc"
	BucketAllIntel     = "all_intel"
	BucketSocialIntel  = "instagram_intel"
	BucketDailyBrief   = "daily_brief"
	BucketWeeklyReport = "weekly_report"
)

// ledgerExcluded lists the non-substantive buckets never written to the ledger.
var ledgerExcluded = map[string]bool{
	BucketMisc:         true,
	BucketSocialIntel:  true,
	BucketAllIntel:     true,
	BucketDailyBrief:   true,
	BucketWeeklyReport: true,
}

// Bucket is a named filing destination.
type Bucket struct {
	Key      string `yaml:"key" json:"key"`
	Label    string `yaml:"label" json:"label"`
	Emoji    string `yaml:"emoji" json:"emoji"`
	ThreadID int64  `yaml:"thread_id" json:"thread_id,omitempty"`
}

// Catalog is the ordered set of known buckets and the subset offered when filing.
type Catalog struct {
	buckets map[string]Bucket
	order   []string
	filing  []string
}

// DefaultBuckets returns the built-in bucket set with unset thread ids.
func DefaultBuckets() []Bucket {
	return []Bucket{
		{Key: "development", Label: "Development", Emoji: "🎬"},
		{Key: "financing", Label: "Financing", Emoji: "💰"},
		{Key: "legal_ba", Label: "Legal/BA", Emoji: "⚖️"},
		{Key: "distribution", Label: "Distribution", Emoji: "🚚"},
		{Key: "packaging", Label: "Packaging", Emoji: "📦"},
		{Key: "talent", Label: "Talent", Emoji: "🎭"},
		{Key: "intl_sales", Label: "Intl Sales", Emoji: "🌍"},
		{Key: "guilds", Label: "Guilds", Emoji: "✊"},
		{Key: "ai_tech", Label: "AI/Tech", Emoji: "🤖"},
		{Key: "trending", Label: "Trending", Emoji: "🔥"},
		{Key: "spotlight", Label: "Spotlight", Emoji: "⭐"},
		{Key: "market", Label: "Market", Emoji: "📊"},
		{Key: BucketSocialIntel, Label: "Instagram Intel", Emoji: "📸"},
		{Key: BucketAllIntel, Label: "All Intel", Emoji: "📡"},
		{Key: BucketDailyBrief, Label: "Daily Brief", Emoji: "☀️"},
		{Key: BucketWeeklyReport, Label: "Weekly Intel Report", Emoji: "📈"},
		{Key: BucketMisc, Label: "Misc", Emoji: "📂"},
	}
}

// DefaultFiling returns the bucket keys offered in the picker by default.
func DefaultFiling() []string {
	return []string{
		"development", "financing", "legal_ba", "distribution", "packaging",
		"talent", "intl_sales", "guilds", "ai_tech", "trending", "spotlight",
		"market", BucketMisc,
	}
}

// NewCatalog validates and indexes buckets. Keys must fit a picker payload,
// every filing key must name a bucket, the reserved keys must be present, and report or mirror buckets
// cannot be offered for filing.
func NewCatalog(buckets []Bucket, filing []string) (*Catalog, error) {
	c := &Catalog{buckets: make(map[string]Bucket, len(buckets))}
	var errs []error
	for _, b := range buckets {
		if b.Key == "" {
			errs = append(errs, errors.New("bucket with empty key"))
			continue
		}
		if err := validBucketKey(b.Key); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := c.buckets[b.Key]; dup {
			errs = append(errs, fmt.Errorf("duplicate bucket %q", b.Key))
			continue
		}
		if b.Label == "" {
			b.Label = b.Key
		}
		c.buckets[b.Key] = b
		c.order = append(c.order, b.Key)
	}
	for _, key := range []string{BucketMisc, BucketAllIntel, BucketSocialIntel, BucketDailyBrief, BucketWeeklyReport} {
		if _, ok := c.buckets[key]; !ok {
			errs = append(errs, fmt.Errorf("reserved bucket %q missing", key))
		}
	}
	for _, key := range filing {
		if _, ok := c.buckets[key]; !ok {
			errs = append(errs, fmt.Errorf("filing bucket %q not defined", key))
			continue
		}
		if ledgerExcluded[key] && key != BucketMisc {
			errs = append(errs, fmt.Errorf("bucket %q cannot be offered for filing", key))
			continue
		}
		c.filing = append(c.filing, key)
	}
	if len(c.filing) == 0 {
		errs = append(errs, errors.New("no filing buckets"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultBuckets(), DefaultFiling())
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the bucket for key.
func (c *Catalog) Lookup(key string) (Bucket, bool) {
	b, ok := c.buckets[key]
	return b, ok
}

// Label returns the display label for key, or key itself when unknown.
func (c *Catalog) Label(key string) string {
	if b, ok := c.buckets[key]; ok {
		return b.Label
	}
	return key
}

// Emoji returns the bucket emoji for key, or a generic one when unknown.
func (c *Catalog) Emoji(key string) string {
	if b, ok := c.buckets[key]; ok && b.Emoji != "" {
		return b.Emoji
	}
	return "📄"
}

// Filing returns the buckets offered in the picker, in order.
func (c *Catalog) Filing() []Bucket {
	out := make([]Bucket, 0, len(c.filing))
	for _, k := range c.filing {
		out = append(out, c.buckets[k])
	}
	return out
}

// IsFiling reports whether key may be chosen by the operator.
func (c *Catalog) IsFiling(key string) bool {
	for _, k := range c.filing {
		if k == key {
			return true
		}
	}
	return false
}

// All returns every bucket in declaration order.
func (c *Catalog) All() []Bucket {
	out := make([]Bucket, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.buckets[k])
	}
	return out
}

// LedgerExcluded reports whether items filed to key skip the ledger.
func LedgerExcluded(key string) bool {
	return ledgerExcluded[key]
}
