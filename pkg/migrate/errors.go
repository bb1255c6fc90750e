// Copyright 2024-2026 Aiku AI

package migrate

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"maunium.net/go/mautrix"
)

// Sentinel errors for per-event and per-room conditions. Only AuthError is
// fatal for a whole run; everything else is contained at the room or event
// level and recorded in the report.
var (
	// ErrUnmapped is returned by IdentityMap.Resolve when no mapping exists
	// for the requested identifier. Callers must create the destination
	// entity and register it explicitly.
	ErrUnmapped = errors.New("identifier not mapped")

	// ErrMappingConflict is returned by IdentityMap.Record when an origin
	// identifier is already bound to a different destination identifier.
	// It indicates an upstream logic error and fails the affected room.
	ErrMappingConflict = errors.New("identity mapping conflict")

	// ErrUndecryptable marks an encrypted event that could not be decrypted
	// with the available session state. The event is skipped, not failed.
	ErrUndecryptable = errors.New("unable to decrypt event")

	// ErrEncryptionMismatch marks an event whose encryption state does not
	// match the destination room's policy (encrypted event into a plaintext
	// room or the reverse). Skipped with a warning rather than silently
	// changing the security posture.
	ErrEncryptionMismatch = errors.New("event encryption does not match room policy")

	// ErrNoCrypto is returned when an encrypted operation is requested on a
	// client that was configured without a crypto store.
	ErrNoCrypto = errors.New("client has no crypto session store")
)

// AuthError wraps a login failure. It aborts the whole run: without a valid
// session on both ends there is nothing to replicate.
type AuthError struct {
	Homeserver string
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login to %s failed: %v", e.Homeserver, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RoomCreationError wraps a failure to create or inspect a destination room.
// The affected room is skipped; the run continues.
type RoomCreationError struct {
	OriginRoom string
	Err        error
}

func (e *RoomCreationError) Error() string {
	return fmt.Sprintf("cannot ensure destination room for %s: %v", e.OriginRoom, e.Err)
}

func (e *RoomCreationError) Unwrap() error {
	return e.Err
}

// isRetryableSend reports whether a send failure is worth retrying: rate
// limits, server-side errors and transport-level failures. Client errors
// (auth, forbidden, bad content) are permanent.
func isRetryableSend(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mautrix.MLimitExceeded) {
		return true
	}
	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Response != nil {
			return httpErr.Response.StatusCode >= http.StatusInternalServerError
		}
		// No response at all means the request never completed.
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// retryAfter extracts the server-suggested delay from a rate limit error,
// or zero if none was supplied.
func retryAfter(err error) time.Duration {
	if !errors.Is(err, mautrix.MLimitExceeded) {
		return 0
	}
	var httpErr mautrix.HTTPError
	if !errors.As(err, &httpErr) || httpErr.RespError == nil {
		return 0
	}
	if ms, ok := httpErr.RespError.ExtraData["retry_after_ms"].(float64); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 0
}
