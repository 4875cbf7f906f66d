package triage

import (
	"errors"
	"fmt"
	"strings"
)

// TriggerKind names an operator decision.
type TriggerKind string

const (
	TriggerAccept       TriggerKind = "accept"
	TriggerArchive      TriggerKind = "archive"
	TriggerReject       TriggerKind = "reject"
	TriggerCancel       TriggerKind = "cancel"
	TriggerChooseBucket TriggerKind = "choose_bucket"
)

// ErrMalformedTrigger is returned when a payload cannot be decoded.
var ErrMalformedTrigger = errors.New("malformed trigger")

// Trigger is an operator decision on an item. Bucket is only set for
// TriggerChooseBucket.
type Trigger struct {
	Kind   TriggerKind
	ItemID string
	Bucket string
}

const triggerSep = "|"

// maxTriggerBytes is Telegram's callback_data limit.
const maxTriggerBytes = 64

// wire codes keep payloads well under the 64 byte callback limit.
var kindCodes = map[TriggerKind]string{
	TriggerAccept:       "y",
	TriggerArchive:      "a",
	TriggerReject:       "n",
	TriggerCancel:       "c",
	TriggerChooseBucket: "f",
}

var codeKinds = func() map[string]TriggerKind {
	m := make(map[string]TriggerKind, len(kindCodes))
	for k, c := range kindCodes {
		m[c] = k
	}
	return m
}()

// Encode returns the compact payload for t.
func (t Trigger) Encode() string {
	parts := []string{kindCodes[t.Kind], t.ItemID}
	if t.Kind == TriggerChooseBucket {
		parts = append(parts, t.Bucket)
	}
	return strings.Join(parts, triggerSep)
}

// validBucketKey reports whether key survives a choose-bucket round trip
// within maxTriggerBytes.
func validBucketKey(key string) error {
	if strings.Contains(key, triggerSep) {
		return fmt.Errorf("bucket key %q contains %q", key, triggerSep)
	}
	widest := Trigger{Kind: TriggerChooseBucket, ItemID: strings.Repeat("0", idLen), Bucket: key}.Encode()
	if len(widest) > maxTriggerBytes {
		return fmt.Errorf("bucket key %q too long: picker payload is %d bytes, limit %d", key, len(widest), maxTriggerBytes)
	}
	return nil
}

// ParseTrigger decodes a payload produced by Encode.
func ParseTrigger(payload string) (Trigger, error) {
	parts := strings.Split(payload, triggerSep)
	if len(parts) < 2 {
		return Trigger{}, fmt.Errorf("%w: %q", ErrMalformedTrigger, payload)
	}
	kind, ok := codeKinds[parts[0]]
	if !ok {
		return Trigger{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedTrigger, parts[0])
	}
	if parts[1] == "" {
		return Trigger{}, fmt.Errorf("%w: missing item id", ErrMalformedTrigger)
	}
	t := Trigger{Kind: kind, ItemID: parts[1]}
	switch kind {
	case TriggerChooseBucket:
		if len(parts) != 3 || parts[2] == "" {
			return Trigger{}, fmt.Errorf("%w: missing bucket", ErrMalformedTrigger)
		}
		t.Bucket = parts[2]
	default:
		if len(parts) != 2 {
			return Trigger{}, fmt.Errorf("%w: unexpected fields", ErrMalformedTrigger)
		}
	}
	return t, nil
}
