package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rapp-os/brainstem/core/protocol"
)

type memoryEntry struct {
	mu         sync.Mutex
	owner      string
	turns      []protocol.Turn
	lastActive time.Time
	pins       int
	evicted    bool
}

// memoryStore keeps sessions in a map. The map lock is held only to find or
// create an entry; appends lock the entry alone, so distinct sessions never
// contend while appending.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates a Store backed by process memory.
func NewMemoryStore() Store {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{entries: make(map[string]*memoryEntry), now: now}
}

func (s *memoryStore) lookup(sessionID string) *memoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[sessionID]
}

// claim returns the live entry for sessionID, creating it for userID when
// absent. The entry is returned locked.
func (s *memoryStore) claim(userID, sessionID string) *memoryEntry {
	for {
		e := s.lookup(sessionID)
		if e == nil {
			s.mu.Lock()
			e = s.entries[sessionID]
			if e == nil {
				e = &memoryEntry{owner: userID, lastActive: s.now()}
				s.entries[sessionID] = e
			}
			s.mu.Unlock()
		}

		e.mu.Lock()
		if !e.evicted {
			return e
		}
		// Lost a race with Evict; the entry is gone from the map.
		e.mu.Unlock()
	}
}

func (s *memoryStore) Pin(_ context.Context, userID, sessionID string) (func(), error) {
	if userID == "" {
		return nil, ErrInvalidIdentity
	}
	if sessionID == "" {
		return noRelease, nil
	}

	e := s.lookup(sessionID)
	if e == nil {
		return noRelease, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return noRelease, nil
	}
	if e.owner != userID {
		return nil, fmt.Errorf("%w: %s", ErrIdentityMismatch, sessionID)
	}
	e.pins++
	e.lastActive = s.now()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.pins--
			e.lastActive = s.now()
			e.mu.Unlock()
		})
	}, nil
}

func (s *memoryStore) History(_ context.Context, userID, sessionID string) ([]protocol.Turn, error) {
	if userID == "" {
		return nil, ErrInvalidIdentity
	}
	if sessionID == "" {
		return nil, nil
	}

	e := s.lookup(sessionID)
	if e == nil {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return nil, nil
	}
	if e.owner != userID {
		return nil, fmt.Errorf("%w: %s", ErrIdentityMismatch, sessionID)
	}
	return protocol.CloneTurns(e.turns), nil
}

func (s *memoryStore) Append(_ context.Context, userID, sessionID string, turns ...protocol.Turn) (string, error) {
	if userID == "" {
		return "", ErrInvalidIdentity
	}
	if sessionID == "" {
		sessionID = NewID()
	}

	e := s.claim(userID, sessionID)
	defer e.mu.Unlock()

	if e.owner != userID {
		return "", fmt.Errorf("%w: %s", ErrIdentityMismatch, sessionID)
	}

	e.turns = append(e.turns, protocol.CloneTurns(turns)...)
	e.lastActive = s.now()
	return sessionID, nil
}

func (s *memoryStore) Evict(ctx context.Context, idleSince time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, e := range s.entries {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}
		e.mu.Lock()
		if e.pins == 0 && e.lastActive.Before(idleSince) {
			e.evicted = true
			delete(s.entries, id)
			evicted++
		}
		e.mu.Unlock()
	}
	return evicted, nil
}

func (s *memoryStore) Close() error {
	return nil
}
