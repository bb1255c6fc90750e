// Copyright 2024-2026 Aiku AI

package migrate

import (
	"context"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// defaultPageSize is the /messages page size used for history pagination.
const defaultPageSize = 100

// MatrixClient implements Client over a real homeserver connection. The
// crypto helper is optional: without a session store the client can still
// replicate plaintext rooms, and encrypted events surface as undecryptable.
type MatrixClient struct {
	cli      *mautrix.Client
	crypto   *cryptohelper.CryptoHelper
	log      zerolog.Logger
	pageSize int
}

var _ Client = (*MatrixClient)(nil)

// Login authenticates against a homeserver and returns a ready client.
// Passwords are preferred over access tokens when both are configured. Any
// failure here is an AuthError and fatal for the run.
func Login(ctx context.Context, cfg ServerConfig, log zerolog.Logger) (*MatrixClient, error) {
	cli, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.Token)
	if err != nil {
		return nil, &AuthError{Homeserver: cfg.Homeserver, Err: err}
	}
	cli.Log = log.With().Str("homeserver", cfg.Homeserver).Logger()

	if cfg.Password != "" {
		_, err = cli.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: cfg.UserID,
			},
			Password:                 cfg.Password,
			DeviceID:                 id.DeviceID(cfg.DeviceID),
			InitialDeviceDisplayName: "mautrix-migrate",
			StoreCredentials:         true,
		})
		if err != nil {
			return nil, &AuthError{Homeserver: cfg.Homeserver, Err: err}
		}
	} else {
		// Token login: verify the token actually works before starting.
		whoami, err := cli.Whoami(ctx)
		if err != nil {
			return nil, &AuthError{Homeserver: cfg.Homeserver, Err: err}
		}
		if whoami.UserID != cli.UserID {
			return nil, &AuthError{
				Homeserver: cfg.Homeserver,
				Err:        fmt.Errorf("token belongs to %s, config says %s", whoami.UserID, cli.UserID),
			}
		}
	}

	m := &MatrixClient{
		cli:      cli,
		log:      log,
		pageSize: defaultPageSize,
	}

	if cfg.CryptoStore != "" {
		helper, err := cryptohelper.NewCryptoHelper(cli, []byte(cfg.PickleKey), cfg.CryptoStore)
		if err != nil {
			return nil, fmt.Errorf("open crypto store %s: %w", cfg.CryptoStore, err)
		}
		if err := helper.Init(ctx); err != nil {
			return nil, fmt.Errorf("initialize crypto session store: %w", err)
		}
		cli.Crypto = helper
		m.crypto = helper
	}

	log.Info().
		Str("homeserver", cfg.Homeserver).
		Str("user_id", cli.UserID.String()).
		Bool("crypto", m.crypto != nil).
		Msg("Logged in")
	return m, nil
}

func (m *MatrixClient) UserID() id.UserID {
	return m.cli.UserID
}

func (m *MatrixClient) JoinedRooms(ctx context.Context) ([]id.RoomID, error) {
	resp, err := m.cli.JoinedRooms(ctx)
	if err != nil {
		return nil, err
	}
	return resp.JoinedRooms, nil
}

func (m *MatrixClient) RoomInfo(ctx context.Context, roomID id.RoomID) (*RoomInfo, error) {
	info := &RoomInfo{ID: roomID}

	var name event.RoomNameEventContent
	err := m.cli.StateEvent(ctx, roomID, event.StateRoomName, "", &name)
	if err != nil && !errors.Is(err, mautrix.MNotFound) {
		return nil, fmt.Errorf("read room name: %w", err)
	}
	info.Name = name.Name

	var topic event.TopicEventContent
	err = m.cli.StateEvent(ctx, roomID, event.StateTopic, "", &topic)
	if err != nil && !errors.Is(err, mautrix.MNotFound) {
		return nil, fmt.Errorf("read room topic: %w", err)
	}
	info.Topic = topic.Topic

	var encryption event.EncryptionEventContent
	err = m.cli.StateEvent(ctx, roomID, event.StateEncryption, "", &encryption)
	if err == nil {
		info.Encrypted = true
	} else if !errors.Is(err, mautrix.MNotFound) {
		return nil, fmt.Errorf("read room encryption state: %w", err)
	}

	return info, nil
}

func (m *MatrixClient) CreateRoom(ctx context.Context, name, topic string, encrypted bool) (id.RoomID, error) {
	req := &mautrix.ReqCreateRoom{
		Name:       name,
		Topic:      topic,
		Visibility: "private",
		Preset:     "private_chat",
	}
	if encrypted {
		// Encryption must exist before the first event, so it goes into the
		// creation request rather than a follow-up state event.
		req.InitialState = []*event.Event{{
			Type: event.StateEncryption,
			Content: event.Content{
				Parsed: &event.EncryptionEventContent{Algorithm: id.AlgorithmMegolmV1},
			},
		}}
	}
	resp, err := m.cli.CreateRoom(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (m *MatrixClient) Messages(ctx context.Context, roomID id.RoomID, from string) ([]*event.Event, string, error) {
	resp, err := m.cli.Messages(ctx, roomID, from, "", mautrix.DirectionBackward, nil, m.pageSize)
	if err != nil {
		return nil, "", err
	}
	if len(resp.Chunk) == 0 {
		return nil, "", nil
	}
	return resp.Chunk, resp.End, nil
}

func (m *MatrixClient) SendEvent(ctx context.Context, roomID id.RoomID, evtType event.Type, content *event.Content, encrypt bool) (id.EventID, error) {
	if !encrypt {
		resp, err := m.cli.SendMessageEvent(ctx, roomID, evtType, content)
		if err != nil {
			return "", err
		}
		return resp.EventID, nil
	}

	if m.crypto == nil {
		return "", ErrNoCrypto
	}
	encrypted, err := m.crypto.Encrypt(ctx, roomID, evtType, content)
	if err != nil {
		return "", fmt.Errorf("encrypt event: %w", err)
	}
	resp, err := m.cli.SendMessageEvent(ctx, roomID, event.EventEncrypted, encrypted)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (m *MatrixClient) HasSession(_ id.RoomID) bool {
	// Account-level probe: either the crypto store was configured for this
	// side or it was not. Per-event failures still surface via Decrypt.
	return m.crypto != nil
}

func (m *MatrixClient) Decrypt(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if m.crypto == nil {
		return nil, ErrNoCrypto
	}
	if err := evt.Content.ParseRaw(evt.Type); err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
		return nil, fmt.Errorf("parse encrypted content: %w", err)
	}
	decrypted, err := m.crypto.Decrypt(ctx, evt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecryptable, err)
	}
	return decrypted, nil
}

func (m *MatrixClient) DownloadMedia(ctx context.Context, uri id.ContentURI) ([]byte, error) {
	return m.cli.DownloadBytes(ctx, uri)
}

func (m *MatrixClient) UploadMedia(ctx context.Context, data []byte, mimeType, fileName string) (id.ContentURI, error) {
	resp, err := m.cli.UploadMedia(ctx, mautrix.ReqUploadMedia{
		ContentBytes: data,
		ContentType:  mimeType,
		FileName:     fileName,
	})
	if err != nil {
		return id.ContentURI{}, err
	}
	return resp.ContentURI, nil
}

func (m *MatrixClient) Logout(ctx context.Context) error {
	if m.crypto != nil {
		m.crypto.Close()
	}
	_, err := m.cli.Logout(ctx)
	return err
}
