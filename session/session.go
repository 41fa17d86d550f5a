// Package session stores per-(user, session) conversation logs. A session
// belongs to the user that created it; every operation presenting a
// different user is rejected without touching the log.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rapp-os/brainstem/core/protocol"
)

// Store holds ordered, append-only session logs. Implementations must be
// safe for concurrent use.
type Store interface {
	// Pin validates that userID may use sessionID and protects the session
	// from eviction until release is called. Pin never creates a session:
	// an empty or unknown sessionID pins nothing and claims nothing.
	Pin(ctx context.Context, userID, sessionID string) (release func(), err error)
	// History returns a copy of the session's turns in arrival order. An
	// unknown session has no history.
	History(ctx context.Context, userID, sessionID string) ([]protocol.Turn, error)
	// Append atomically adds turns to the session and returns its id. It is
	// the only operation that creates sessions: an unknown sessionID is
	// created owned by userID, and an empty one gets a freshly minted id.
	// Appends to one session are serialised in completion order.
	Append(ctx context.Context, userID, sessionID string, turns ...protocol.Turn) (string, error)
	// Evict removes unpinned sessions idle since before idleSince and
	// returns how many were removed.
	Evict(ctx context.Context, idleSince time.Time) (int, error)
	// Close releases backend resources.
	Close() error
}

// NewID mints a session identifier. Ids are UUIDv7, so they sort by
// creation time.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func noRelease() {}
