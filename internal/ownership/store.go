package ownership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists ownership entries keyed by pid.
type Store interface {
	Get(ctx context.Context, pid int) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, pid int) error
	List(ctx context.Context) ([]Entry, error)
}

// MemoryStore is a Store that lives for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int]Entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int]Entry)}
}

func (s *MemoryStore) Get(_ context.Context, pid int) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[pid]
	return e, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.PID] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, pid)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// SQLiteStore keeps the registry in the process_ownership table so that a
// restarted keymapd still recognises the engine it launched.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an already migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, pid int) (Entry, bool, error) {
	var (
		kind, reason, at string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, reason, registered_at FROM process_ownership WHERE pid = ?`, pid,
	).Scan(&kind, &reason, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("querying ownership of pid %d: %w", pid, err)
	}
	e, err := toEntry(pid, kind, reason, at)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO process_ownership (pid, kind, reason, registered_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(pid) DO UPDATE SET kind = excluded.kind, reason = excluded.reason,
		 registered_at = excluded.registered_at`,
		e.PID, string(e.Ownership.Kind), e.Ownership.Reason, e.RegisteredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storing ownership of pid %d: %w", e.PID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, pid int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM process_ownership WHERE pid = ?`, pid); err != nil {
		return fmt.Errorf("deleting ownership of pid %d: %w", pid, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pid, kind, reason, registered_at FROM process_ownership ORDER BY pid`)
	if err != nil {
		return nil, fmt.Errorf("listing ownership: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			pid              int
			kind, reason, at string
		)
		if err := rows.Scan(&pid, &kind, &reason, &at); err != nil {
			return nil, fmt.Errorf("scanning ownership row: %w", err)
		}
		e, err := toEntry(pid, kind, reason, at)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func toEntry(pid int, kind, reason, at string) (Entry, error) {
	k := Kind(kind)
	switch k {
	case KindOwned, KindExternal, KindUnknown:
	default:
		return Entry{}, fmt.Errorf("%w: %q for pid %d", ErrUnknownKind, kind, pid)
	}
	ts, _ := time.Parse(time.RFC3339Nano, at) //nolint:errcheck // written by Put
	return Entry{PID: pid, Ownership: Ownership{Kind: k, Reason: reason}, RegisteredAt: ts}, nil
}
