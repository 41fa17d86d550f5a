package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Notes keeps an append-only text journal per user. Each user's journal is
// a single key under NamespaceUsers; appends for one user are serialised so
// concurrent Remember calls never lose lines.
type Notes struct {
	store Store
	limit int
	now   func() time.Time
	locks sync.Map // user key -> *sync.Mutex
}

// NewNotes creates a Notes journal over store. limit bounds how many
// trailing characters Recall returns; zero means unbounded.
func NewNotes(store Store, limit int) *Notes {
	return &Notes{store: store, limit: limit, now: time.Now}
}

// NotesKey returns the storage key for a user's journal: the hex SHA-256 of
// the opaque user id. Distinct ids get distinct keys of fixed length, and no
// id can escape the namespace.
func NotesKey(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: empty user id", ErrInvalidKey)
	}
	sum := sha256.Sum256([]byte(userID))
	return NamespaceUsers + "/" + hex.EncodeToString(sum[:]) + ".txt", nil
}

// Recall returns the tail of the user's journal, or "" when none exists.
func (n *Notes) Recall(ctx context.Context, userID string) (string, error) {
	key, err := NotesKey(userID)
	if err != nil {
		return "", err
	}

	entries, err := n.store.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return "", nil
		}
		return "", err
	}

	text := string(entries[0].Value)
	if n.limit > 0 && len(text) > n.limit {
		text = text[len(text)-n.limit:]
		for len(text) > 0 && !utf8.RuneStart(text[0]) {
			text = text[1:]
		}
	}
	return text, nil
}

// Remember appends a timestamped line to the user's journal.
func (n *Notes) Remember(ctx context.Context, userID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("%w: empty note", ErrSaveFailed)
	}

	key, err := NotesKey(userID)
	if err != nil {
		return err
	}

	mu, _ := n.locks.LoadOrStore(key, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	var existing []byte
	entries, err := n.store.Load(ctx, key)
	switch {
	case err == nil:
		existing = entries[0].Value
	case errors.Is(err, ErrKeyNotFound):
	default:
		return err
	}

	line := fmt.Sprintf("[%s] %s\n", n.now().UTC().Format(time.RFC3339), content)
	value := make([]byte, 0, len(existing)+len(line))
	value = append(value, existing...)
	value = append(value, line...)

	return n.store.Save(ctx, Entry{Key: key, Value: value})
}
