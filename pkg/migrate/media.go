// Copyright 2024-2026 Aiku AI

package migrate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// mediaCopier moves message attachments between homeservers. Media URIs are
// server-local, so a replicated event must have its content downloaded from
// the origin and re-uploaded to the destination, with the mxc URI rewritten
// in place. For encrypted attachments the ciphertext blob is moved as-is and
// the key material in the file object stays valid.
type mediaCopier struct {
	origin Client
	dest   Client
	retry  *retrySender
	log    zerolog.Logger
}

// mediaMsgtypes are the m.room.message msgtypes that carry an attachment.
var mediaMsgtypes = map[string]bool{
	"m.image": true,
	"m.file":  true,
	"m.video": true,
	"m.audio": true,
}

// hasMedia reports whether the raw content references an attachment that
// needs re-uploading.
func hasMedia(raw map[string]any) bool {
	msgtype, _ := raw["msgtype"].(string)
	if !mediaMsgtypes[msgtype] {
		return false
	}
	if _, ok := raw["url"].(string); ok {
		return true
	}
	_, ok := raw["file"].(map[string]any)
	return ok
}

// rewrite transfers the attachment referenced by raw and replaces its URI
// with the destination copy. raw is modified in place.
func (m *mediaCopier) rewrite(ctx context.Context, raw map[string]any) error {
	if file, ok := raw["file"].(map[string]any); ok {
		// Encrypted attachment: the url lives inside the file object.
		uri, _ := file["url"].(string)
		newURI, err := m.transfer(ctx, uri, raw)
		if err != nil {
			return err
		}
		file["url"] = newURI.String()
		return nil
	}

	uri, _ := raw["url"].(string)
	newURI, err := m.transfer(ctx, uri, raw)
	if err != nil {
		return err
	}
	raw["url"] = newURI.String()
	return nil
}

func (m *mediaCopier) transfer(ctx context.Context, rawURI string, raw map[string]any) (id.ContentURI, error) {
	uri, err := id.ParseContentURI(rawURI)
	if err != nil {
		return id.ContentURI{}, fmt.Errorf("invalid media URI %q: %w", rawURI, err)
	}

	var data []byte
	err = m.retry.do(ctx, func() error {
		var err error
		data, err = m.origin.DownloadMedia(ctx, uri)
		return err
	})
	if err != nil {
		return id.ContentURI{}, fmt.Errorf("download %s: %w", uri, err)
	}

	mimeType := ""
	if info, ok := raw["info"].(map[string]any); ok {
		mimeType, _ = info["mimetype"].(string)
	}
	fileName, _ := raw["body"].(string)

	var newURI id.ContentURI
	err = m.retry.do(ctx, func() error {
		var err error
		newURI, err = m.dest.UploadMedia(ctx, data, mimeType, fileName)
		return err
	})
	if err != nil {
		return id.ContentURI{}, fmt.Errorf("upload %s: %w", uri, err)
	}

	m.log.Debug().
		Str("origin_uri", uri.String()).
		Str("dest_uri", newURI.String()).
		Int("size", len(data)).
		Msg("Copied media")
	return newURI, nil
}
