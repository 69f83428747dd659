package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cosplaymagic/server/internal/module/kv"
)

// Store keeps a newest-first, bounded sequence of entries per identity.
// Persistence failures are logged and swallowed; every mutation returns the
// sequence as it should now be.
type Store struct {
	kv       kv.Store
	keys     kv.Keyspace
	maxItems int
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides entry ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// NewStore creates a history store.
func NewStore(store kv.Store, keys kv.Keyspace, maxItems int, logger *zap.Logger, opts ...Option) *Store {
	if maxItems <= 0 {
		maxItems = MaxItems
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		kv:       store,
		keys:     keys,
		maxItems: maxItems,
		logger:   logger.Named("history"),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewEntry builds an entry with a fresh ID and the current time.
func (s *Store) NewEntry(prompt, imageBase64 string) Entry {
	return Entry{
		ID:         s.newID(),
		Prompt:     prompt,
		ImageBytes: imageBase64,
		CreatedAt:  s.now(),
	}
}

// Load returns the identity's entries, newest first. A missing or
// unreadable sequence is empty.
func (s *Store) Load(ctx context.Context, identity string) []Entry {
	if identity == "" {
		return []Entry{}
	}

	var entries []Entry
	err := kv.GetJSON(ctx, s.kv, s.key(identity), &entries)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Error("failed to load history", zap.String("identity", identity), zap.Error(err))
		}
		return []Entry{}
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries
}

// Get returns a single entry.
func (s *Store) Get(ctx context.Context, identity, entryID string) (*Entry, error) {
	for _, e := range s.Load(ctx, identity) {
		if e.ID == entryID {
			return &e, nil
		}
	}
	return nil, ErrEntryNotFound
}

// Append prepends entry and truncates to the configured maximum.
func (s *Store) Append(ctx context.Context, identity string, entry Entry) []Entry {
	if identity == "" {
		return []Entry{}
	}
	return s.mutate(ctx, identity, "append", func(cur []Entry) ([]Entry, bool) {
		next := make([]Entry, 0, min(len(cur)+1, s.maxItems))
		next = append(next, entry)
		next = append(next, cur...)
		if len(next) > s.maxItems {
			next = next[:s.maxItems]
		}
		return next, true
	})
}

// Remove deletes the entry with entryID. Removing an absent ID changes
// nothing.
func (s *Store) Remove(ctx context.Context, identity, entryID string) []Entry {
	if identity == "" {
		return []Entry{}
	}
	return s.mutate(ctx, identity, "remove", func(cur []Entry) ([]Entry, bool) {
		next := make([]Entry, 0, len(cur))
		for _, e := range cur {
			if e.ID != entryID {
				next = append(next, e)
			}
		}
		return next, len(next) != len(cur)
	})
}

// Clear empties the identity's history.
func (s *Store) Clear(ctx context.Context, identity string) []Entry {
	if identity == "" {
		return []Entry{}
	}
	if err := kv.SetJSON(ctx, s.kv, s.key(identity), []Entry{}); err != nil {
		s.logger.Error("failed to clear history", zap.String("identity", identity), zap.Error(err))
	}
	return []Entry{}
}

// mutate applies fn under the store's atomic update. When the write fails
// the caller still receives the computed sequence.
func (s *Store) mutate(ctx context.Context, identity, op string, fn func([]Entry) ([]Entry, bool)) []Entry {
	var result []Entry
	err := kv.UpdateJSON(ctx, s.kv, s.key(identity), func(cur *[]Entry) (*[]Entry, error) {
		var entries []Entry
		if cur != nil {
			entries = *cur
		}
		next, changed := fn(entries)
		result = next
		if !changed {
			return nil, nil
		}
		return &next, nil
	})
	if err != nil {
		s.logger.Error("failed to persist history",
			zap.String("identity", identity),
			zap.String("op", op),
			zap.Error(err),
		)
		if result == nil {
			result, _ = fn(s.Load(ctx, identity))
		}
	}
	if result == nil {
		result = []Entry{}
	}
	return result
}

func (s *Store) key(identity string) string {
	return s.keys.Key(kv.NamespaceHistory, identity)
}
