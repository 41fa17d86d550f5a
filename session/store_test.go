package session_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/rapp-os/brainstem/core/protocol"
	"github.com/rapp-os/brainstem/session"
)

type backend struct {
	name string
	open func(t *testing.T) session.Store
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T) session.Store {
			return session.NewMemoryStore()
		}},
		{name: "sqlite", open: func(t *testing.T) session.Store {
			s, err := session.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			return s
		}},
	}
}

func eachBackend(t *testing.T, fn func(t *testing.T, s session.Store)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

func turn(role protocol.Role, content string) protocol.Turn {
	return protocol.Turn{Role: role, Content: content, Timestamp: time.Unix(1700000000, 0).UTC()}
}

func TestStore_AppendMintsID(t *testing.T) {
	eachBackend(t, func(t *testing.T, s session.Store) {
		ctx := context.Background()

		id, err := s.Append(ctx, "alice", "", turn(protocol.RoleUser, "hi"))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if id == "" {
			t.Fatal("Append() returned empty session id")
		}

		other, err := s.Append(ctx, "alice", "", turn(protocol.RoleUser, "hi"))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if other == id {
			t.Errorf("minted ids collide: %s", id)
		}
	})
}

func TestStore_HistoryPreservesOrder(t *testing.T) {
	eachBackend(t, func(t *testing.T, s session.Store) {
		ctx := context.Background()

		want := []protocol.Turn{
			turn(protocol.RoleUser, "What's the weather?"),
			{
				Role:         protocol.RoleAssistant,
				Content:      "Sunny.",
				Timestamp:    time.Unix(1700000001, 0).UTC(),
				Capabilities: []string{"Weather"},
				Trace:        []string{"Weather: sunny..."},
			},
		}

		id, err := s.Append(ctx, "alice", "s1", want...)
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if id != "s1" {
			t.Errorf("Append() id = %q, want %q", id, "s1")
		}

		got, err := s.History(ctx, "alice", "s1")
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("History() mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStore_UnknownSessionHasNoHistory(t *testing.T) {
	eachBackend(t, func(t *testing.T, s session.Store) {
		got, err := s.History(context.Background(), "alice", "missing")
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("History() = %v, want empty", got)
		}
	})
}

func TestStore_IdentityMismatch(t *testing.T) {
	eachBackend(t, func(t *testing.T, s session.Store) {
		ctx := context.Background()

		if _, err := s.Append(ctx, "alice", "s1", turn(protocol.RoleUser, "mine")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}

		if _, err := s.Append(ctx, "mallory", "s1", turn(protocol.RoleUser, "yours now")); !errors.Is(err, session.ErrIdentityMismatch) {
			t.Errorf("Append() error = %v, want %v", err, session.ErrIdentityMismatch)
		}
		if _, err := s.History(ctx, "mallory", "s1"); !errors.Is(err, session.ErrIdentityMismatch) {
			t.Errorf("History() error = %v, want %v", err, session.ErrIdentityMismatch)
		}
		if _, err := s.Pin(ctx, "mallory", "s1"); !errors.Is(err, session.ErrIdentityMismatch) {
			t.Errorf("Pin() error = %v, want %v", err, session.ErrIdentityMismatch)
		}

		got, err := s.History(ctx, "alice", "s1")
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(got) != 1 || got[0].Content != "mine" {
			t.Errorf("log changed by foreign user: %+v", got)
		}
	})
}

func TestStore_EmptyUserRejected(t *testing.T) {
	eachBackend(t, func(t *testing.T, s session.Store) {
		ctx := context.Background()
		if _, err := s.Append(ctx, "", "s1"); !errors.Is(err, session.ErrInvalidIdentity) {
			t.Errorf("Append() error = %v, want %v", err, session.ErrInvalidIdentity)
		}
		if _, err := s.Pin(ctx, "", "s1"); !errors.Is(err, session.ErrInvalidIdentity) {
			t.Errorf("Pin() error = %v, want %v", err, session.ErrInvalidIdentity)
		}
	})
}

func TestStore_PinDoesNotCreate(t *testing.T) {
	eachBackend(t, func(t *testing.T, s session.Store) {
		ctx := context.Background()

		release, err := s.Pin(ctx, "alice", "fresh")
		if err != nil {
			t.Fatalf("Pin() error = %v", err)
		}
		release()

		// Nothing was claimed, so alice's pin does not lock bob out.
		if got, err := s.History(ctx, "bob", "fresh"); err != nil || len(got) != 0 {
			t.Errorf("History() = %v, %v, want empty", got, err)
		}
		if n, err := s.Evict(ctx, time.Now().Add(time.Hour)); err != nil || n != 0 {
			t.Errorf("Evict() = %d, %v, want 0 sessions", n, err)
		}

		id, err := s.Append(ctx, "bob", "fresh", turn(protocol.RoleUser, "hi"))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if id != "fresh" {
			t.Errorf("Append() id = %q, want %q", id, "fresh")
		}
		if _, err := s.Pin(ctx, "alice", "fresh"); !errors.Is(err, session.ErrIdentityMismatch) {
			t.Errorf("Pin() after create error = %v, want %v", err, session.ErrIdentityMismatch)
		}
	})
}

func TestStore_ConcurrentAppendsKeepPairsIntact(t *testing.T) {
	eachBackend(t, func(t *testing.T, s session.Store) {
		ctx := context.Background()
		const writers = 10

		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				q := fmt.Sprintf("q%d", i)
				a := fmt.Sprintf("a%d", i)
				if _, err := s.Append(ctx, "alice", "shared",
					turn(protocol.RoleUser, q), turn(protocol.RoleAssistant, a)); err != nil {
					t.Errorf("Append() error = %v", err)
				}
			}(i)
		}
		wg.Wait()

		got, err := s.History(ctx, "alice", "shared")
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(got) != 2*writers {
			t.Fatalf("len(History()) = %d, want %d", len(got), 2*writers)
		}
		for i := 0; i < len(got); i += 2 {
			q, a := got[i].Content, got[i+1].Content
			if q[1:] != a[1:] || got[i].Role != protocol.RoleUser {
				t.Errorf("turns %d,%d interleaved: %q %q", i, i+1, q, a)
			}
		}
	})
}

func TestStore_EvictSkipsPinned(t *testing.T) {
	eachBackend(t, func(t *testing.T, s session.Store) {
		ctx := context.Background()

		for _, id := range []string{"idle", "busy"} {
			if _, err := s.Append(ctx, "alice", id, turn(protocol.RoleUser, id)); err != nil {
				t.Fatalf("Append(%s) error = %v", id, err)
			}
		}

		release, err := s.Pin(ctx, "alice", "busy")
		if err != nil {
			t.Fatalf("Pin() error = %v", err)
		}

		n, err := s.Evict(ctx, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("Evict() error = %v", err)
		}
		if n != 1 {
			t.Errorf("Evict() = %d, want 1", n)
		}

		if got, _ := s.History(ctx, "alice", "busy"); len(got) != 1 {
			t.Errorf("pinned session lost history: %v", got)
		}
		if got, _ := s.History(ctx, "alice", "idle"); len(got) != 0 {
			t.Errorf("idle session survived eviction: %v", got)
		}

		release()
		release()

		if n, _ := s.Evict(ctx, time.Now().Add(time.Hour)); n != 1 {
			t.Errorf("Evict() after release = %d, want 1", n)
		}
	})
}

func TestStore_EvictedIDCanBeReclaimed(t *testing.T) {
	eachBackend(t, func(t *testing.T, s session.Store) {
		ctx := context.Background()

		if _, err := s.Append(ctx, "alice", "s1", turn(protocol.RoleUser, "old")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if _, err := s.Evict(ctx, time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("Evict() error = %v", err)
		}
		if _, err := s.Append(ctx, "bob", "s1", turn(protocol.RoleUser, "new")); err != nil {
			t.Errorf("Append() after eviction error = %v", err)
		}
	})
}

func TestSQLiteStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	ctx := context.Background()

	s, err := session.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if _, err := s.Append(ctx, "alice", "s1", turn(protocol.RoleUser, "remember me")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := session.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.History(ctx, "alice", "s1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 1 || got[0].Content != "remember me" {
		t.Errorf("History() = %+v", got)
	}
}
