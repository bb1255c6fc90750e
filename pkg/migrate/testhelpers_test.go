// Copyright 2024-2026 Aiku AI

package migrate

import (
	"context"
	"fmt"
	"sync"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// sentRecord captures one SendEvent call on the fake client.
type sentRecord struct {
	RoomID  id.RoomID
	Type    event.Type
	Content map[string]any
	Encrypt bool
	EventID id.EventID
}

// fakeRoom holds a room's state and timeline (oldest first).
type fakeRoom struct {
	info     RoomInfo
	timeline []*event.Event
}

// fakeClient is an in-memory Client for engine tests. Sent events are
// appended to the target room's timeline, so a destination fake naturally
// supports the provenance re-scan on a second run.
type fakeClient struct {
	mu sync.Mutex

	userID   id.UserID
	rooms    map[id.RoomID]*fakeRoom
	order    []id.RoomID
	pageSize int

	hasSession    bool
	cleartexts    map[id.EventID]*event.Event
	undecryptable map[id.EventID]bool

	// createErrs fails CreateRoom for the given room name.
	createErrs map[string]error
	// createHook runs after a successful CreateRoom.
	createHook func(roomID id.RoomID)
	created    int

	// sendHook runs before each SendEvent; a non-nil return fails the call.
	sendHook func(roomID id.RoomID, content *event.Content, encrypt bool) error
	sent     []sentRecord

	// mediaStore maps mxc URI string to blob for DownloadMedia.
	mediaStore map[string][]byte
	// downloadHook runs before each DownloadMedia; a non-nil return fails
	// the call.
	downloadHook func(uri id.ContentURI) error
	downloads    int
	uploads      int

	joinedRoomsErr error
}

func newFakeClient(userID string) *fakeClient {
	return &fakeClient{
		userID:        id.UserID(userID),
		rooms:         make(map[id.RoomID]*fakeRoom),
		pageSize:      2,
		cleartexts:    make(map[id.EventID]*event.Event),
		undecryptable: make(map[id.EventID]bool),
		createErrs:    make(map[string]error),
		mediaStore:    make(map[string][]byte),
	}
}

// addRoom registers a room with the given timeline (oldest first).
func (f *fakeClient) addRoom(roomID id.RoomID, name, topic string, encrypted bool, timeline ...*event.Event) {
	f.rooms[roomID] = &fakeRoom{
		info: RoomInfo{
			ID:        roomID,
			Name:      name,
			Topic:     topic,
			Encrypted: encrypted,
		},
		timeline: timeline,
	}
	f.order = append(f.order, roomID)
}

func (f *fakeClient) UserID() id.UserID {
	return f.userID
}

func (f *fakeClient) JoinedRooms(_ context.Context) ([]id.RoomID, error) {
	if f.joinedRoomsErr != nil {
		return nil, f.joinedRoomsErr
	}
	return append([]id.RoomID(nil), f.order...), nil
}

func (f *fakeClient) RoomInfo(_ context.Context, roomID id.RoomID) (*RoomInfo, error) {
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("no such room %s", roomID)
	}
	info := room.info
	return &info, nil
}

func (f *fakeClient) CreateRoom(_ context.Context, name, topic string, encrypted bool) (id.RoomID, error) {
	if err := f.createErrs[name]; err != nil {
		return "", err
	}
	f.created++
	roomID := id.RoomID(fmt.Sprintf("!created-%d:%s", f.created, f.userID.Homeserver()))
	f.addRoom(roomID, name, topic, encrypted)
	if f.createHook != nil {
		f.createHook(roomID)
	}
	return roomID, nil
}

// Messages paginates backwards: each page lists events newest first, the
// way the real /messages endpoint does with dir=b.
func (f *fakeClient) Messages(_ context.Context, roomID id.RoomID, from string) ([]*event.Event, string, error) {
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, "", fmt.Errorf("no such room %s", roomID)
	}
	end := len(room.timeline)
	if from != "" {
		if _, err := fmt.Sscanf(from, "t%d", &end); err != nil {
			return nil, "", fmt.Errorf("bad pagination token %q", from)
		}
	}
	start := end - f.pageSize
	if start < 0 {
		start = 0
	}
	chunk := make([]*event.Event, 0, end-start)
	for i := end - 1; i >= start; i-- {
		chunk = append(chunk, room.timeline[i])
	}
	next := ""
	if start > 0 {
		next = fmt.Sprintf("t%d", start)
	}
	return chunk, next, nil
}

func (f *fakeClient) SendEvent(_ context.Context, roomID id.RoomID, evtType event.Type, content *event.Content, encrypt bool) (id.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendHook != nil {
		if err := f.sendHook(roomID, content, encrypt); err != nil {
			return "", err
		}
	}
	room, ok := f.rooms[roomID]
	if !ok {
		return "", fmt.Errorf("no such room %s", roomID)
	}

	eventID := id.EventID(fmt.Sprintf("$sent-%d", len(f.sent)+1))
	stored := &event.Event{
		ID:      eventID,
		RoomID:  roomID,
		Type:    evtType,
		Sender:  f.userID,
		Content: event.Content{Raw: content.Raw},
	}
	if encrypt {
		shell := &event.Event{
			ID:     eventID,
			RoomID: roomID,
			Type:   event.EventEncrypted,
			Sender: f.userID,
		}
		f.cleartexts[eventID] = stored
		stored = shell
	}
	room.timeline = append(room.timeline, stored)

	f.sent = append(f.sent, sentRecord{
		RoomID:  roomID,
		Type:    evtType,
		Content: content.Raw,
		Encrypt: encrypt,
		EventID: eventID,
	})
	return eventID, nil
}

func (f *fakeClient) HasSession(_ id.RoomID) bool {
	return f.hasSession
}

func (f *fakeClient) Decrypt(_ context.Context, evt *event.Event) (*event.Event, error) {
	if !f.hasSession {
		return nil, ErrNoCrypto
	}
	if f.undecryptable[evt.ID] {
		return nil, ErrUndecryptable
	}
	cleartext, ok := f.cleartexts[evt.ID]
	if !ok {
		return nil, ErrUndecryptable
	}
	return cleartext, nil
}

func (f *fakeClient) DownloadMedia(_ context.Context, uri id.ContentURI) ([]byte, error) {
	f.downloads++
	if f.downloadHook != nil {
		if err := f.downloadHook(uri); err != nil {
			return nil, err
		}
	}
	data, ok := f.mediaStore[uri.String()]
	if !ok {
		return nil, fmt.Errorf("no media at %s", uri)
	}
	return data, nil
}

func (f *fakeClient) UploadMedia(_ context.Context, data []byte, _, _ string) (id.ContentURI, error) {
	f.uploads++
	uri := id.ContentURI{Homeserver: f.userID.Homeserver(), FileID: fmt.Sprintf("upload-%d", f.uploads)}
	f.mediaStore[uri.String()] = data
	return uri, nil
}

func (f *fakeClient) Logout(_ context.Context) error {
	return nil
}

var _ Client = (*fakeClient)(nil)

// msgEvent builds a plaintext m.room.message event.
func msgEvent(eventID string, sender id.UserID, ts int64, body string) *event.Event {
	return &event.Event{
		ID:        id.EventID(eventID),
		Type:      event.EventMessage,
		Sender:    sender,
		Timestamp: ts,
		Content: event.Content{Raw: map[string]any{
			"msgtype": "m.text",
			"body":    body,
		}},
	}
}

// encEvent builds an encrypted event shell on the given client and registers
// its cleartext so Decrypt can resolve it.
func encEvent(f *fakeClient, eventID string, sender id.UserID, ts int64, body string) *event.Event {
	shell := &event.Event{
		ID:        id.EventID(eventID),
		Type:      event.EventEncrypted,
		Sender:    sender,
		Timestamp: ts,
	}
	f.cleartexts[shell.ID] = &event.Event{
		ID:        shell.ID,
		Type:      event.EventMessage,
		Sender:    sender,
		Timestamp: ts,
		Content: event.Content{Raw: map[string]any{
			"msgtype": "m.text",
			"body":    body,
		}},
	}
	return shell
}

// stateEvent builds a state event (skipped by the replicator).
func stateEvent(eventID string, sender id.UserID, ts int64) *event.Event {
	key := ""
	return &event.Event{
		ID:        id.EventID(eventID),
		Type:      event.StateRoomName,
		Sender:    sender,
		StateKey:  &key,
		Timestamp: ts,
		Content:   event.Content{Raw: map[string]any{"name": "renamed"}},
	}
}
