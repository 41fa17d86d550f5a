package memory_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rapp-os/brainstem/memory"
)

func TestNotesKey(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		want    string
		wantErr bool
	}{
		{name: "plain", userID: "alice", want: "users/2bd806c97f0e00af1a1fc3328fa763a9269723c8db8fac4f93af71db186d6e90.txt"},
		{name: "relay prefix", userID: "imessage_+15551234", want: "users/fb4c936fdd42487207d56c66ddbf0eb2b623701e8ebb73d02d173d61bda5e0d1.txt"},
		{name: "traversal", userID: "../../etc/passwd", want: "users/3754d6cb3a38e1185e5b382d5f3ef3f118af75bf4bf0254d1fdb8437f51423e0.txt"},
		{name: "blank", userID: "  ", wantErr: true},
		{name: "empty", userID: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := memory.NotesKey(tt.userID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NotesKey(%q) error = %v, wantErr %v", tt.userID, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NotesKey(%q) = %q, want %q", tt.userID, got, tt.want)
			}
		})
	}
}

func TestNotes_RecallEmpty(t *testing.T) {
	notes := memory.NewNotes(memory.NewFileStore(t.TempDir()), 2000)

	got, err := notes.Recall(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if got != "" {
		t.Errorf("Recall() = %q, want empty", got)
	}
}

func TestNotes_RememberAndRecall(t *testing.T) {
	ctx := context.Background()
	notes := memory.NewNotes(memory.NewFileStore(t.TempDir()), 0)

	if err := notes.Remember(ctx, "alice", "likes tea"); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if err := notes.Remember(ctx, "alice", "lives in Lisbon"); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	got, err := notes.Recall(ctx, "alice")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(got), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), got)
	}
	if !strings.HasSuffix(lines[0], "] likes tea") {
		t.Errorf("line 0 = %q, want suffix %q", lines[0], "] likes tea")
	}
	if !strings.HasPrefix(lines[1], "[") || !strings.HasSuffix(lines[1], "] lives in Lisbon") {
		t.Errorf("line 1 = %q, want timestamped note", lines[1])
	}
}

func TestNotes_UserIsolation(t *testing.T) {
	ctx := context.Background()
	notes := memory.NewNotes(memory.NewFileStore(t.TempDir()), 0)

	if err := notes.Remember(ctx, "alice", "secret"); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	got, err := notes.Recall(ctx, "bob")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if got != "" {
		t.Errorf("Recall(bob) = %q, want empty", got)
	}
}

func TestNotes_IdsDifferingInPunctuation(t *testing.T) {
	ctx := context.Background()
	notes := memory.NewNotes(memory.NewFileStore(t.TempDir()), 0)

	ids := []string{"alice@corp", "alicecorp", "a.l.i.c.e.corp", "alice-corp"}
	for _, id := range ids {
		if err := notes.Remember(ctx, id, "note for "+id); err != nil {
			t.Fatalf("Remember(%q) error = %v", id, err)
		}
	}

	for _, id := range ids {
		got, err := notes.Recall(ctx, id)
		if err != nil {
			t.Fatalf("Recall(%q) error = %v", id, err)
		}
		lines := strings.Split(strings.TrimSpace(got), "\n")
		if len(lines) != 1 || !strings.HasSuffix(lines[0], "] note for "+id) {
			t.Errorf("Recall(%q) = %q, want only its own note", id, got)
		}
	}
}

func TestNotes_RecallLimit(t *testing.T) {
	ctx := context.Background()
	notes := memory.NewNotes(memory.NewFileStore(t.TempDir()), 10)

	if err := notes.Remember(ctx, "alice", "a fairly long note that exceeds the limit"); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	got, err := notes.Recall(ctx, "alice")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(got) != 10 {
		t.Errorf("len(Recall()) = %d, want 10", len(got))
	}
	if got != "the limit\n" {
		t.Errorf("Recall() = %q, want %q", got, "the limit\n")
	}
}

func TestNotes_RememberEmpty(t *testing.T) {
	notes := memory.NewNotes(memory.NewFileStore(t.TempDir()), 0)

	err := notes.Remember(context.Background(), "alice", "   ")
	if !errors.Is(err, memory.ErrSaveFailed) {
		t.Errorf("Remember() error = %v, want %v", err, memory.ErrSaveFailed)
	}
}

func TestNotes_ConcurrentRemember(t *testing.T) {
	ctx := context.Background()
	notes := memory.NewNotes(memory.NewFileStore(t.TempDir()), 0)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := notes.Remember(ctx, "alice", fmt.Sprintf("note %d", n)); err != nil {
				t.Errorf("Remember() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := notes.Recall(ctx, "alice")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(got), "\n"); len(lines) != 20 {
		t.Errorf("got %d lines, want 20", len(lines))
	}
}
