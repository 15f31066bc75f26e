// Package history persists finished scene runs so operators can see what
// the room did and why. Records are msgpack blobs in a badger-backed
// key-value store under date-partitioned keys (run:<YYYYMMDD>:<unix_ns>),
// which keeps key order chronological and lets whole days be pruned cheaply.
package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cuebox/cuebox/pkg/kv"
)

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeFailed    = "failed"
)

// DefaultRecentLimit caps Recent when the caller passes n <= 0.
const DefaultRecentLimit = 50

const (
	keySpace  = "run"
	dayFormat = "20060102"
)

// StateVisit is one state entry within a run.
type StateVisit struct {
	Name      string    `msgpack:"name" json:"name"`
	EnteredAt time.Time `msgpack:"entered_at" json:"enteredAt"`
}

// Record is one finished scene run.
type Record struct {
	ID        string       `msgpack:"id" json:"id"`
	Room      string       `msgpack:"room" json:"room"`
	Scene     string       `msgpack:"scene" json:"scene"`
	Trigger   string       `msgpack:"trigger" json:"trigger"`
	Outcome   string       `msgpack:"outcome" json:"outcome"`
	Reason    string       `msgpack:"reason,omitempty" json:"reason,omitempty"`
	StartedAt time.Time    `msgpack:"started_at" json:"startedAt"`
	EndedAt   time.Time    `msgpack:"ended_at" json:"endedAt"`
	States    []StateVisit `msgpack:"states" json:"states"`
}

// Store persists run records.
type Store struct {
	kv  kv.Store
	now func() time.Time
}

// New wraps an existing key-value store.
func New(st kv.Store) *Store {
	return &Store{kv: st, now: time.Now}
}

// Open opens the run history under dir. An empty dir opens an in-memory
// store that lasts for the process lifetime.
func Open(dir string) (*Store, error) {
	st, err := kv.NewBadger(kv.BadgerOptions{Dir: dir, InMemory: dir == ""})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return New(st), nil
}

// Append stores one run record. A missing ID gets a fresh uuid and a missing
// end time is stamped now.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = s.now()
	}
	b, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("history: encode run: %w", err)
	}
	ended := rec.EndedAt.UTC()
	key := kv.Key{keySpace, ended.Format(dayFormat), strconv.FormatInt(ended.UnixNano(), 10)}
	if err := s.kv.Set(ctx, key, b); err != nil {
		return fmt.Errorf("history: store run: %w", err)
	}
	return nil
}

// Recent returns up to n records, newest first. n <= 0 means
// DefaultRecentLimit.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		n = DefaultRecentLimit
	}
	var raw [][]byte
	for e, err := range s.kv.List(ctx, kv.Key{keySpace}) {
		if err != nil {
			return nil, fmt.Errorf("history: list runs: %w", err)
		}
		raw = append(raw, e.Value)
		if len(raw) > n {
			raw = raw[1:]
		}
	}
	out := make([]Record, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var rec Record
		if err := msgpack.Unmarshal(raw[i], &rec); err != nil {
			return nil, fmt.Errorf("history: decode run: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Prune deletes whole day partitions older than the day of before, keeping
// that day itself. It returns the number of records removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	cutoff := before.UTC().Format(dayFormat)
	var stale []kv.Key
	for e, err := range s.kv.List(ctx, kv.Key{keySpace}) {
		if err != nil {
			return 0, fmt.Errorf("history: list runs: %w", err)
		}
		if len(e.Key) >= 2 && e.Key[1] < cutoff {
			stale = append(stale, e.Key)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.kv.BatchDelete(ctx, stale); err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return len(stale), nil
}

// Close releases the underlying store.
func (s *Store) Close() error {
	return s.kv.Close()
}
