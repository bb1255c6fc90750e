// Copyright 2024-2026 Aiku AI

package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// Options tunes a single orchestration run.
type Options struct {
	// UnknownSender is substituted for origin users with no configured
	// destination counterpart. Defaults to the destination account itself.
	UnknownSender id.UserID

	// Users pre-seeds the identity map with origin MXID → destination MXID
	// bindings.
	Users map[string]string

	// Rooms restricts the run to origin rooms matching an entry by room ID
	// or display name. Empty means all joined rooms.
	Rooms []string

	// CopyMedia re-uploads message attachments to the destination server.
	CopyMedia bool

	Retry RetryPolicy
}

// Orchestrator drives room and event replication across all discovered
// rooms. Rooms and, within a room, events are processed strictly
// sequentially: both homeservers rate-limit, in-room ordering is a
// correctness requirement, and the crypto session state is order-sensitive.
type Orchestrator struct {
	origin Client
	dest   Client
	opts   Options
	log    zerolog.Logger

	ids    *IdentityMap
	rooms  *roomReplicator
	events *eventReplicator
}

// NewOrchestrator wires the replication pipeline over two authenticated
// clients. Fails if the configured user mappings conflict with each other.
func NewOrchestrator(origin, dest Client, opts Options, log zerolog.Logger) (*Orchestrator, error) {
	ids := NewIdentityMap()
	for originUser, destUser := range opts.Users {
		if err := ids.Record(KindUser, originUser, destUser); err != nil {
			return nil, fmt.Errorf("configured user mapping: %w", err)
		}
	}
	if opts.UnknownSender == "" {
		opts.UnknownSender = dest.UserID()
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}

	sender := newRetrySender(opts.Retry, log)
	var media *mediaCopier
	if opts.CopyMedia {
		media = &mediaCopier{origin: origin, dest: dest, retry: sender, log: log}
	}

	return &Orchestrator{
		origin: origin,
		dest:   dest,
		opts:   opts,
		log:    log,
		ids:    ids,
		rooms:  newRoomReplicator(dest, ids, log),
		events: &eventReplicator{
			origin:        origin,
			dest:          dest,
			ids:           ids,
			sender:        sender,
			media:         media,
			log:           log,
			unknownSender: opts.UnknownSender,
		},
	}, nil
}

// Run replicates every discovered origin room and returns the aggregate
// report. A single room's failure never aborts the run; the report is always
// populated, even when heavily degraded. Cancellation is observed between
// events and returns the partial report together with the context error.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := newReport()
	defer func() { report.FinishedAt = time.Now() }()

	roomIDs, err := o.origin.JoinedRooms(ctx)
	if err != nil {
		return report, fmt.Errorf("list origin rooms: %w", err)
	}
	o.log.Info().Int("rooms", len(roomIDs)).Msg("Discovered origin rooms")

	for _, roomID := range roomIDs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		outcome := RoomOutcome{OriginID: roomID, State: RoomDiscovered}

		info, err := o.origin.RoomInfo(ctx, roomID)
		if err != nil {
			o.log.Error().Err(err).Str("room_id", roomID.String()).Msg("Failed to read origin room, skipping")
			outcome.State = RoomFailed
			outcome.Error = err.Error()
			report.RoomsFailed++
			report.Rooms = append(report.Rooms, outcome)
			continue
		}
		outcome.Name = info.Name

		if !o.wantRoom(info) {
			o.log.Debug().Str("room_id", roomID.String()).Str("name", info.Name).Msg("Room excluded by filter")
			continue
		}

		rec, err := o.rooms.EnsureRoom(ctx, info)
		if err != nil {
			o.log.Error().Err(err).Str("room_id", roomID.String()).Msg("Failed to ensure destination room, skipping")
			outcome.State = RoomFailed
			outcome.Error = err.Error()
			report.RoomsFailed++
			report.Rooms = append(report.Rooms, outcome)
			continue
		}
		outcome.DestinationID = rec.DestinationID
		outcome.State = RoomEnsured

		if err := ctx.Err(); err != nil {
			report.Rooms = append(report.Rooms, outcome)
			return report, err
		}

		outcome.State = RoomReplicating
		counts, err := o.events.ReplicateRoom(ctx, rec)
		outcome.EventsCopied = counts.copied
		outcome.EventsSkipped = counts.skipped
		outcome.EventsFailed = counts.failed
		report.merge(counts)

		if err != nil {
			outcome.Error = err.Error()
			if ctx.Err() != nil {
				report.Rooms = append(report.Rooms, outcome)
				return report, ctx.Err()
			}
			o.log.Error().Err(err).Str("room_id", roomID.String()).Msg("Room replication failed")
			outcome.State = RoomFailed
			report.RoomsFailed++
		} else {
			outcome.State = RoomDone
			report.RoomsProcessed++
		}
		report.Rooms = append(report.Rooms, outcome)
	}

	o.log.Info().
		Int("rooms_processed", report.RoomsProcessed).
		Int("rooms_failed", report.RoomsFailed).
		Int("events_copied", report.EventsCopied).
		Int("events_skipped", report.EventsSkipped).
		Int("events_failed", report.EventsFailed).
		Msg("Run complete")
	return report, nil
}

// wantRoom applies the configured room filter by ID or display name.
func (o *Orchestrator) wantRoom(info *RoomInfo) bool {
	if len(o.opts.Rooms) == 0 {
		return true
	}
	for _, want := range o.opts.Rooms {
		if want == info.ID.String() || (info.Name != "" && want == info.Name) {
			return true
		}
	}
	return false
}
