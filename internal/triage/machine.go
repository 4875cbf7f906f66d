package triage

import (
	"errors"
	"fmt"
)

var (
	// ErrStale means the trigger does not apply to the item's current state,
	// typically a duplicate or delayed button press.
	ErrStale = errors.New("already processed")

	// ErrUnknownBucket means a bucket choice named a bucket not offered for filing.
	ErrUnknownBucket = errors.New("unknown bucket")
)

// Transition is the validated effect of a trigger on an item.
type Transition struct {
	Trigger TriggerKind
	From    Status
	To      Status
	Action  Action
	Bucket  string
}

// Update returns the guarded store update that performs t.
func (t Transition) Update() StatusUpdate {
	return StatusUpdate{
		Expect: t.From,
		To:     t.To,
		Action: t.Action,
		Bucket: t.Bucket,
	}
}

// Next validates tr against the item's current status and returns the
// transition to apply. It does not mutate item.
func Next(item *Item, tr Trigger, catalog *Catalog) (Transition, error) {
	if item == nil {
		return Transition{}, ErrStale
	}
	if _, known := kindCodes[tr.Kind]; known && item.Status.Terminal() {
		return Transition{}, stale(tr, item)
	}
	t := Transition{Trigger: tr.Kind, From: item.Status}

	switch tr.Kind {
	case TriggerAccept, TriggerArchive:
		if item.Status != StatusPending {
			return Transition{}, stale(tr, item)
		}
		t.To = StatusSelectingBucket
		t.Action = ActionAccept
		if tr.Kind == TriggerArchive {
			t.Action = ActionArchive
		}

	case TriggerReject:
		if item.Status != StatusPending {
			return Transition{}, stale(tr, item)
		}
		t.To = StatusDismissed
		t.Action = ActionReject

	case TriggerCancel:
		if item.Status != StatusSelectingBucket {
			return Transition{}, stale(tr, item)
		}
		t.To = StatusPending

	case TriggerChooseBucket:
		if item.Status != StatusSelectingBucket {
			return Transition{}, stale(tr, item)
		}
		if !catalog.IsFiling(tr.Bucket) {
			return Transition{}, fmt.Errorf("%w: %q", ErrUnknownBucket, tr.Bucket)
		}
		t.To = StatusFiled
		t.Bucket = tr.Bucket

	default:
		return Transition{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedTrigger, tr.Kind)
	}

	return t, nil
}

func stale(tr Trigger, item *Item) error {
	return fmt.Errorf("%w: %s on %s item", ErrStale, tr.Kind, item.Status)
}
