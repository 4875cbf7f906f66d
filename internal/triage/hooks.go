package triage

// Hooks are optional callbacks for instrumentation. Nil fields are skipped.
type Hooks struct {
	// OnIngest receives "created", "duplicate" or "error".
	OnIngest func(result string)

	// OnSummary receives "ok" or "fallback".
	OnSummary func(outcome string)

	// OnTrigger receives the trigger kind and the outcome kind.
	OnTrigger func(kind TriggerKind, outcome OutcomeKind)

	// OnDelivery receives a fan-out destination, "ok" or "error", and the
	// delivery duration in seconds.
	OnDelivery func(dest DestinationKind, outcome string, seconds float64)
}

func (h Hooks) ingest(result string) {
	if h.OnIngest != nil {
		h.OnIngest(result)
	}
}

func (h Hooks) summary(outcome string) {
	if h.OnSummary != nil {
		h.OnSummary(outcome)
	}
}

func (h Hooks) trigger(kind TriggerKind, outcome OutcomeKind) {
	if h.OnTrigger != nil {
		h.OnTrigger(kind, outcome)
	}
}

func (h Hooks) delivery(dest DestinationKind, outcome string, seconds float64) {
	if h.OnDelivery != nil {
		h.OnDelivery(dest, outcome, seconds)
	}
}
