// Copyright 2024-2026 Aiku AI

package migrate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// RoomRecord tracks a single room through the run. DestinationID is set
// exactly once, before any event for the room is replicated, and never
// changes afterwards.
type RoomRecord struct {
	OriginID      id.RoomID
	DestinationID id.RoomID
	Name          string
	Topic         string
	Encrypted     bool
}

// roomReplicator ensures that every origin room has a destination
// counterpart before event replication starts.
type roomReplicator struct {
	dest Client
	ids  *IdentityMap
	log  zerolog.Logger

	// destByName caches the destination account's rooms keyed by display
	// name, built lazily on the first EnsureRoom call. Nothing is persisted
	// across runs, so re-run idempotence comes from matching rooms the
	// previous run already created by name.
	destByName map[string]id.RoomID
}

func newRoomReplicator(dest Client, ids *IdentityMap, log zerolog.Logger) *roomReplicator {
	return &roomReplicator{
		dest: dest,
		ids:  ids,
		log:  log,
	}
}

// EnsureRoom returns the destination counterpart for an origin room,
// creating it when absent. Reuse order: in-run mapping, then an existing
// destination room with the same name, then creation. Encrypted origin rooms
// are created with encryption enabled from the first moment, since enabling
// it after messages exist changes the room's key-sharing timeline.
func (r *roomReplicator) EnsureRoom(ctx context.Context, info *RoomInfo) (*RoomRecord, error) {
	originID := info.ID
	rec := &RoomRecord{
		OriginID:  originID,
		Name:      info.Name,
		Topic:     info.Topic,
		Encrypted: info.Encrypted,
	}

	if dest, err := r.ids.Resolve(KindRoom, originID.String()); err == nil {
		rec.DestinationID = id.RoomID(dest)
		return rec, nil
	}

	destID, err := r.findExistingByName(ctx, info.Name)
	if err != nil {
		return nil, &RoomCreationError{OriginRoom: originID.String(), Err: err}
	}
	if destID == "" {
		destID, err = r.dest.CreateRoom(ctx, info.Name, info.Topic, info.Encrypted)
		if err != nil {
			return nil, &RoomCreationError{OriginRoom: originID.String(), Err: err}
		}
		if r.destByName != nil && info.Name != "" {
			r.destByName[info.Name] = destID
		}
		r.log.Info().
			Str("origin_room", originID.String()).
			Str("dest_room", destID.String()).
			Str("name", info.Name).
			Bool("encrypted", info.Encrypted).
			Msg("Created destination room")
	} else {
		r.log.Info().
			Str("origin_room", originID.String()).
			Str("dest_room", destID.String()).
			Str("name", info.Name).
			Msg("Reusing existing destination room")
	}

	if err := r.ids.Record(KindRoom, originID.String(), destID.String()); err != nil {
		return nil, err
	}
	rec.DestinationID = destID
	return rec, nil
}

// findExistingByName looks for a destination room whose display name matches.
// The index over the destination account's joined rooms is built once per run.
func (r *roomReplicator) findExistingByName(ctx context.Context, name string) (id.RoomID, error) {
	if name == "" {
		return "", nil
	}
	if r.destByName == nil {
		rooms, err := r.dest.JoinedRooms(ctx)
		if err != nil {
			return "", fmt.Errorf("list destination rooms: %w", err)
		}
		r.destByName = make(map[string]id.RoomID, len(rooms))
		for _, roomID := range rooms {
			info, err := r.dest.RoomInfo(ctx, roomID)
			if err != nil {
				r.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to read destination room state")
				continue
			}
			if info.Name != "" {
				r.destByName[info.Name] = roomID
			}
		}
	}
	return r.destByName[name], nil
}
