// Package triage provides the business boundary for watchtower's intel triage.
// It defines the Service (dedup, ingestion, trigger handling), the state
// machine that validates operator decisions, the fan-out Router that delivers
// filed items, the read-only digest aggregators, the Store interface
// (persistence and prompt correlation), and the domain models.
package triage
