// Copyright 2024-2026 Aiku AI

package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// provenanceKey is the content field embedded in every replicated event. It
// carries the origin event ID (the dedup tag), the remapped sender and the
// original wall-clock timestamp, since the destination server stamps its own
// receive time on arrival.
const provenanceKey = "io.aiku.migrate.provenance"

// provenance is the payload stored under provenanceKey.
type provenance struct {
	EventID  string `json:"event_id"`
	Sender   string `json:"sender"`
	OriginTS int64  `json:"origin_ts"`
}

// transferEvent is the normalized unit of work: one origin event, decrypted
// and remapped, ready to send. The provenance tag is already embedded in
// content; instances live only until their send-or-skip resolution.
type transferEvent struct {
	originEventID id.EventID
	content       map[string]any
}

// eventReplicator copies one room's timeline from origin to destination.
type eventReplicator struct {
	origin Client
	dest   Client
	ids    *IdentityMap
	sender *retrySender
	media  *mediaCopier // nil disables media copying
	log    zerolog.Logger

	// unknownSender is substituted for origin users with no configured
	// destination counterpart.
	unknownSender id.UserID
}

// ReplicateRoom replays the origin room's full timeline into the destination
// room, oldest first so the conversation stays reconstructible even if the
// run is interrupted midway. Individual events may be skipped or fail
// without affecting the room; the returned error is room-fatal (history
// fetch failure, mapping conflict, cancellation).
func (e *eventReplicator) ReplicateRoom(ctx context.Context, rec *RoomRecord) (*roomCounts, error) {
	counts := newRoomCounts()
	log := e.log.With().
		Str("origin_room", rec.OriginID.String()).
		Str("dest_room", rec.DestinationID.String()).
		Logger()

	existing, err := e.collectProvenance(ctx, rec.DestinationID)
	if err != nil {
		return counts, fmt.Errorf("scan destination room for existing copies: %w", err)
	}

	history, err := e.fetchHistory(ctx, rec.OriginID)
	if err != nil {
		return counts, fmt.Errorf("fetch origin history: %w", err)
	}
	log.Info().
		Int("events", len(history)).
		Int("already_present", len(existing)).
		Msg("Replaying room timeline")

	for _, evt := range history {
		// Cancellation is observed between events, never mid-send.
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		te, reason, err := e.prepare(ctx, rec, evt)
		if err != nil {
			return counts, err
		}
		if reason != "" {
			counts.skip(reason)
			if reason == SkipEncryptionMismatch {
				log.Warn().
					Str("event_id", evt.ID.String()).
					Bool("room_encrypted", rec.Encrypted).
					Msg("Encryption state of event does not match destination room, refusing to copy")
			}
			continue
		}
		if _, done := existing[te.originEventID]; done {
			counts.skip(SkipDuplicate)
			continue
		}

		if e.media != nil && hasMedia(te.content) {
			if err := e.media.rewrite(ctx, te.content); err != nil {
				log.Warn().Err(err).Str("event_id", te.originEventID.String()).Msg("Media transfer failed")
				counts.fail(rec.OriginID, te.originEventID, fmt.Sprintf("media: %v", err))
				continue
			}
		}

		content := &event.Content{Raw: te.content}
		if _, err := e.sender.send(ctx, e.dest, rec.DestinationID, event.EventMessage, content, rec.Encrypted); err != nil {
			if ctx.Err() != nil {
				return counts, ctx.Err()
			}
			log.Warn().Err(err).Str("event_id", te.originEventID.String()).Msg("Event failed permanently")
			counts.fail(rec.OriginID, te.originEventID, err.Error())
			continue
		}
		// Only a confirmed send marks the event as present; a cancellation
		// mid-retry leaves no inconsistent dedup state.
		existing[te.originEventID] = struct{}{}
		counts.copied++
	}

	return counts, nil
}

// prepare normalizes one origin event into a transferEvent, or reports a
// skip reason. A non-nil error is room-fatal.
func (e *eventReplicator) prepare(ctx context.Context, rec *RoomRecord, evt *event.Event) (*transferEvent, SkipReason, error) {
	if evt.StateKey != nil || (evt.Type != event.EventMessage && evt.Type != event.EventEncrypted) {
		// State changes, receipts, reactions and other types with no
		// destination-visible meaning.
		return nil, SkipUnsupported, nil
	}

	wasEncrypted := evt.Type == event.EventEncrypted
	cleartext := evt
	if wasEncrypted {
		if !e.origin.HasSession(rec.OriginID) {
			return nil, SkipUndecryptable, nil
		}
		decrypted, err := e.origin.Decrypt(ctx, evt)
		if err != nil {
			e.log.Debug().Err(err).Str("event_id", evt.ID.String()).Msg("Decryption failed")
			return nil, SkipUndecryptable, nil
		}
		cleartext = decrypted
		if cleartext.Type != event.EventMessage {
			return nil, SkipUnsupported, nil
		}
	}

	// Copying an encrypted event into a plaintext room would downgrade its
	// security posture; the reverse would violate the room's own policy.
	if wasEncrypted != rec.Encrypted {
		return nil, SkipEncryptionMismatch, nil
	}

	raw := rawContent(cleartext)
	if len(raw) == 0 {
		// Redacted or otherwise empty content.
		return nil, SkipUnsupported, nil
	}

	sender, err := e.remapSender(evt.Sender)
	if err != nil {
		return nil, "", err
	}

	content := copyContent(raw)
	content[provenanceKey] = map[string]any{
		"event_id":  evt.ID.String(),
		"sender":    sender.String(),
		"origin_ts": evt.Timestamp,
	}

	return &transferEvent{
		originEventID: evt.ID,
		content:       content,
	}, "", nil
}

// remapSender resolves the origin user's destination counterpart. Users are
// never created on the destination, only referenced: unmapped senders bind
// to the configured placeholder, and the binding is recorded so the
// append-only invariant covers users too.
func (e *eventReplicator) remapSender(origin id.UserID) (id.UserID, error) {
	dest, err := e.ids.Resolve(KindUser, origin.String())
	if err == nil {
		return id.UserID(dest), nil
	}
	if !errors.Is(err, ErrUnmapped) {
		return "", err
	}
	if err := e.ids.Record(KindUser, origin.String(), e.unknownSender.String()); err != nil {
		return "", err
	}
	return e.unknownSender, nil
}

// fetchHistory walks the origin room's timeline backwards to the start of
// history, then reverses so the caller replays oldest first.
func (e *eventReplicator) fetchHistory(ctx context.Context, roomID id.RoomID) ([]*event.Event, error) {
	var events []*event.Event
	from := ""
	for {
		chunk, next, err := e.origin.Messages(ctx, roomID, from)
		if err != nil {
			return nil, err
		}
		events = append(events, chunk...)
		if next == "" {
			break
		}
		from = next
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// collectProvenance scans the destination room for events this tool sent on
// earlier runs and returns their origin event IDs. This is what makes
// replication idempotent under repeated invocation.
func (e *eventReplicator) collectProvenance(ctx context.Context, roomID id.RoomID) (map[id.EventID]struct{}, error) {
	seen := make(map[id.EventID]struct{})
	from := ""
	for {
		chunk, next, err := e.dest.Messages(ctx, roomID, from)
		if err != nil {
			return nil, err
		}
		for _, evt := range chunk {
			cleartext := evt
			if evt.Type == event.EventEncrypted && e.dest.HasSession(roomID) {
				if decrypted, err := e.dest.Decrypt(ctx, evt); err == nil {
					cleartext = decrypted
				}
			}
			raw := rawContent(cleartext)
			tag, ok := raw[provenanceKey].(map[string]any)
			if !ok {
				continue
			}
			if originID, ok := tag["event_id"].(string); ok && originID != "" {
				seen[id.EventID(originID)] = struct{}{}
			}
		}
		if next == "" {
			break
		}
		from = next
	}
	return seen, nil
}

// rawContent returns the event content as a raw map, falling back to
// re-serializing parsed content when the raw form is absent (as with events
// constructed in-process rather than unmarshalled from the wire).
func rawContent(evt *event.Event) map[string]any {
	if evt.Content.Raw != nil {
		return evt.Content.Raw
	}
	if evt.Content.Parsed == nil {
		return nil
	}
	data, err := json.Marshal(evt.Content.Parsed)
	if err != nil {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw
}

// copyContent clones the top level of a content map plus the nested maps the
// replicator mutates (info, file), leaving the origin event untouched.
func copyContent(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	for _, key := range []string{"info", "file"} {
		if nested, ok := raw[key].(map[string]any); ok {
			cp := make(map[string]any, len(nested))
			for k, v := range nested {
				cp[k] = v
			}
			out[key] = cp
		}
	}
	return out
}
