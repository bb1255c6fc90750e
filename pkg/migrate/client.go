// Copyright 2024-2026 Aiku AI

package migrate

import (
	"context"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// RoomInfo is the subset of room state the replicator cares about.
type RoomInfo struct {
	ID        id.RoomID
	Name      string
	Topic     string
	Encrypted bool
}

// Client is the narrow protocol capability the engine consumes. Two
// instances are bound per run, one logged into each homeserver; the engine
// treats them as opaque. Cryptographic session internals stay behind
// HasSession/Decrypt/SendEvent and are never inspected directly. Tests
// inject an in-memory fake instead of a real homeserver connection.
type Client interface {
	// UserID returns the MXID the client is logged in as.
	UserID() id.UserID

	// JoinedRooms lists the rooms the account is currently joined to.
	JoinedRooms(ctx context.Context) ([]id.RoomID, error)

	// RoomInfo reads the room's name, topic and encryption state.
	RoomInfo(ctx context.Context, roomID id.RoomID) (*RoomInfo, error)

	// CreateRoom creates a room with the given name and topic. When
	// encrypted is set, encryption must be enabled atomically with creation
	// (before any event can be sent into the room).
	CreateRoom(ctx context.Context, name, topic string, encrypted bool) (id.RoomID, error)

	// Messages fetches a page of the room timeline walking backwards from
	// the given token ("" starts at the live edge). The returned next token
	// is "" once the start of history is reached.
	Messages(ctx context.Context, roomID id.RoomID, from string) (chunk []*event.Event, next string, err error)

	// SendEvent sends an event into a room. With encrypt set the content is
	// wrapped in a Megolm envelope before sending; this requires a crypto
	// session store on the client.
	SendEvent(ctx context.Context, roomID id.RoomID, evtType event.Type, content *event.Content, encrypt bool) (id.EventID, error)

	// HasSession reports whether the client holds cryptographic session
	// state usable for the given room. Used to short-circuit decrypt
	// attempts that are doomed to fail.
	HasSession(roomID id.RoomID) bool

	// Decrypt decrypts an m.room.encrypted event using the client's session
	// store, returning the cleartext event.
	Decrypt(ctx context.Context, evt *event.Event) (*event.Event, error)

	// DownloadMedia fetches media content by its mxc URI.
	DownloadMedia(ctx context.Context, uri id.ContentURI) ([]byte, error)

	// UploadMedia uploads media content and returns its new mxc URI.
	UploadMedia(ctx context.Context, data []byte, mimeType, fileName string) (id.ContentURI, error)

	// Logout invalidates the session.
	Logout(ctx context.Context) error
}
