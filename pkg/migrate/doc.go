// Copyright 2024-2026 Aiku AI

// Package migrate replicates the visible content of one Matrix account's
// rooms from an origin homeserver to a destination homeserver under a single
// admin account pair.
//
// The engine decides what to copy, in what order, and how identities map
// between the two servers; the wire protocol, cryptographic sessions and
// server API calls are delegated to maunium.net/go/mautrix behind the narrow
// [Client] interface.
//
// # Core Types
//
// [Orchestrator] drives the whole run: it discovers origin rooms, ensures a
// destination counterpart exists for each, replays every room's timeline
// oldest-first, and aggregates a [Report]. Rooms and events are processed
// strictly sequentially — both homeservers rate-limit, in-room ordering is a
// correctness requirement, and crypto session state is order-sensitive.
//
// [IdentityMap] is the append-only table of origin → destination room and
// user identifiers, built lazily as entities are first encountered. A
// mapping is never rebound.
//
// [MatrixClient] implements [Client] over a real homeserver connection,
// including optional Megolm encrypt/decrypt through a crypto session store.
//
// # Idempotence
//
// Every replicated event embeds a provenance tag carrying the origin event
// ID, the remapped sender and the original timestamp. On re-runs the
// destination room is scanned for these tags and already-copied events are
// skipped, so replication is safe to repeat after a partial failure.
//
// # Failure containment
//
// Only a login failure aborts a run. Room-level errors skip the room,
// event-level errors (undecryptable, encryption policy mismatch, retry
// exhaustion) skip or fail the single event, and everything is recorded in
// the report so a run always finishes with a full accounting.
package migrate
