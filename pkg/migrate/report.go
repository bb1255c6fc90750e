// Copyright 2024-2026 Aiku AI

package migrate

import (
	"time"

	"maunium.net/go/mautrix/id"
)

// SkipReason explains why an event was skipped rather than copied.
type SkipReason string

const (
	SkipUnsupported        SkipReason = "unsupported"
	SkipUndecryptable      SkipReason = "undecryptable"
	SkipEncryptionMismatch SkipReason = "encryption_mismatch"
	SkipDuplicate          SkipReason = "duplicate"
)

// RoomState tracks a room's progress through the run. States advance in one
// direction only; individual event skips and failures do not change the
// room's own state.
type RoomState string

const (
	RoomDiscovered  RoomState = "discovered"
	RoomEnsured     RoomState = "ensured"
	RoomReplicating RoomState = "replicating"
	RoomDone        RoomState = "done"
	RoomFailed      RoomState = "failed"
)

// RoomOutcome records the final result for a single room.
type RoomOutcome struct {
	OriginID      id.RoomID `json:"origin_id"`
	DestinationID id.RoomID `json:"destination_id,omitempty"`
	Name          string    `json:"name,omitempty"`
	State         RoomState `json:"state"`
	Error         string    `json:"error,omitempty"`
	EventsCopied  int       `json:"events_copied"`
	EventsSkipped int       `json:"events_skipped"`
	EventsFailed  int       `json:"events_failed"`
}

// EventFailure records a single event that could not be copied after retry
// exhaustion, with enough detail for a targeted manual re-run.
type EventFailure struct {
	RoomID  id.RoomID  `json:"room_id"`
	EventID id.EventID `json:"event_id"`
	Reason  string     `json:"reason"`
}

// Report aggregates the outcome of a whole run. It is built by the single
// sequential worker and immutable once Run returns. A run always finishes
// with a report, even when heavily degraded.
type Report struct {
	RoomsProcessed int `json:"rooms_processed"`
	RoomsFailed    int `json:"rooms_failed"`
	EventsCopied   int `json:"events_copied"`
	EventsSkipped  int `json:"events_skipped"`
	EventsFailed   int `json:"events_failed"`

	SkippedByReason map[SkipReason]int `json:"skipped_by_reason,omitempty"`
	Rooms           []RoomOutcome      `json:"rooms,omitempty"`
	Failures        []EventFailure     `json:"failures,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func newReport() *Report {
	return &Report{
		SkippedByReason: make(map[SkipReason]int),
		StartedAt:       time.Now(),
	}
}

// roomCounts accumulates per-room event tallies during replication.
type roomCounts struct {
	copied   int
	skipped  int
	failed   int
	skips    map[SkipReason]int
	failures []EventFailure
}

func newRoomCounts() *roomCounts {
	return &roomCounts{skips: make(map[SkipReason]int)}
}

func (c *roomCounts) skip(reason SkipReason) {
	c.skipped++
	c.skips[reason]++
}

func (c *roomCounts) fail(roomID id.RoomID, eventID id.EventID, reason string) {
	c.failed++
	c.failures = append(c.failures, EventFailure{RoomID: roomID, EventID: eventID, Reason: reason})
}

// merge folds a room's counts into the run-level report.
func (r *Report) merge(c *roomCounts) {
	r.EventsCopied += c.copied
	r.EventsSkipped += c.skipped
	r.EventsFailed += c.failed
	for reason, n := range c.skips {
		r.SkippedByReason[reason] += n
	}
	r.Failures = append(r.Failures, c.failures...)
}
