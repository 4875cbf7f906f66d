package triage

import "strings"

const (
	fallbackTLDRLen   = 200
	maxRenderedBullet = 6
)

// Complete reports whether the summary carries the required fields.
func (s Summary) Complete() bool {
	return strings.TrimSpace(s.Headline) != "" &&
		strings.TrimSpace(s.OneLine) != "" &&
		s.Bullets != nil &&
		s.Tags != nil
}

// Fallback builds the deterministic summary used when summarization fails.
func Fallback(title, text string) Summary {
	headline := strings.TrimSpace(title)
	if headline == "" {
		headline = "Untitled"
	}
	tldr := "No content available."
	if text != "" {
		tldr = truncateRunes(text, fallbackTLDRLen) + "..."
	}
	return Summary{
		Headline:        headline,
		OneLine:         tldr,
		Bullets:         []string{"Full article available via link"},
		Tags:            []string{"unprocessed"},
		SuggestedBucket: BucketMisc,
	}
}

// Normalize trims fields and removes duplicate tags, keeping first occurrence.
func (s Summary) Normalize() Summary {
	s.Headline = strings.TrimSpace(s.Headline)
	s.OneLine = strings.TrimSpace(s.OneLine)
	s.SuggestedBucket = strings.TrimSpace(s.SuggestedBucket)
	s.WhyItMatters = strings.TrimSpace(s.WhyItMatters)

	if s.Tags != nil {
		seen := make(map[string]bool, len(s.Tags))
		tags := make([]string, 0, len(s.Tags))
		for _, t := range s.Tags {
			t = strings.TrimPrefix(strings.TrimSpace(t), "#")
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			tags = append(tags, t)
		}
		s.Tags = tags
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
