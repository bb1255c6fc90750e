// Copyright 2024-2026 Aiku AI

package migrate

import (
	"fmt"
)

// Kind distinguishes the identifier namespaces tracked by the identity map.
type Kind string

const (
	KindRoom Kind = "room"
	KindUser Kind = "user"
)

type mappingKey struct {
	kind     Kind
	originID string
}

// IdentityMap is an append-only table of origin → destination identifiers,
// built lazily as rooms and users are first encountered during a run. It is
// owned by a single sequential worker, so no locking is needed. Mappings are
// never rebound: a second Record with a different destination fails with
// ErrMappingConflict and leaves the original entry untouched.
type IdentityMap struct {
	entries map[mappingKey]string
}

// NewIdentityMap returns an empty identity map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entries: make(map[mappingKey]string)}
}

// Resolve returns the destination identifier bound to (kind, originID), or
// ErrUnmapped if none has been recorded. It never fabricates an identifier.
func (m *IdentityMap) Resolve(kind Kind, originID string) (string, error) {
	dest, ok := m.entries[mappingKey{kind: kind, originID: originID}]
	if !ok {
		return "", fmt.Errorf("%s %s: %w", kind, originID, ErrUnmapped)
	}
	return dest, nil
}

// Record binds (kind, originID) to destID. Recording the same pair again is
// a no-op; recording a different destination for an existing key returns
// ErrMappingConflict.
func (m *IdentityMap) Record(kind Kind, originID, destID string) error {
	key := mappingKey{kind: kind, originID: originID}
	if existing, ok := m.entries[key]; ok {
		if existing == destID {
			return nil
		}
		return fmt.Errorf("%s %s already bound to %s, refusing rebind to %s: %w",
			kind, originID, existing, destID, ErrMappingConflict)
	}
	m.entries[key] = destID
	return nil
}

// Len returns the number of recorded mappings.
func (m *IdentityMap) Len() int {
	return len(m.entries)
}
