// Package locks provides cooperative named locks used to serialize critical
// sections (publish, lock, repair create/apply) across concurrent requests.
// Keys are derived from (tenant, plan, purpose); holders release explicitly.
package locks

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrBusy is returned when the lock cannot be acquired within the timeout.
var ErrBusy = errors.New("advisory lock busy")

// Locker acquires named locks. Release via the returned function; releasing
// twice is harmless.
type Locker interface {
	TryAcquire(ctx context.Context, key string, timeout time.Duration) (release func(), err error)
}

// Key builds the canonical lock key for a scoped purpose.
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}

// ============================================================================
// IN-MEMORY LOCKER
// ============================================================================

// MemoryLocker implements Locker with process-local mutexes. Used in dev
// mode and tests; single-process only.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]bool
	waits map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]bool),
		waits: make(map[string]chan struct{}),
	}
}

func (m *MemoryLocker) TryAcquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		if !m.held[key] {
			m.held[key] = true
			ch := make(chan struct{})
			m.waits[key] = ch
			m.mu.Unlock()

			var once sync.Once
			release := func() {
				once.Do(func() {
					m.mu.Lock()
					delete(m.held, key)
					delete(m.waits, key)
					m.mu.Unlock()
					close(ch)
				})
			}
			return release, nil
		}
		ch := m.waits[key]
		m.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrBusy
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
			// Holder released; loop and race for it.
		case <-timer.C:
			return nil, ErrBusy
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// ============================================================================
// POSTGRES ADVISORY LOCKER
// ============================================================================

// PostgresLocker implements Locker over pg_try_advisory_lock. Advisory locks
// are session-scoped in Postgres, so acquire and release ride one pinned
// connection. The textual key hashes to the bigint key space Postgres expects.
type PostgresLocker struct {
	db           *sql.DB
	pollInterval time.Duration
}

func NewPostgresLocker(db *sql.DB) *PostgresLocker {
	return &PostgresLocker{db: db, pollInterval: 50 * time.Millisecond}
}

// HashKey maps a textual lock key onto the advisory-lock bigint space.
func HashKey(key string) int64 {
	sum := sha256.Sum256([]byte(key))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

func (p *PostgresLocker) TryAcquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	id := HashKey(key)
	deadline := time.Now().Add(timeout)
	for {
		var got bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&got); err != nil {
			conn.Close()
			return nil, fmt.Errorf("try advisory lock: %w", err)
		}
		if got {
			var once sync.Once
			release := func() {
				once.Do(func() {
					var unlocked bool
					// Best effort; closing the conn drops the lock regardless.
					_ = conn.QueryRowContext(context.Background(), `SELECT pg_advisory_unlock($1)`, id).Scan(&unlocked)
					conn.Close()
				})
			}
			return release, nil
		}
		if time.Now().Add(p.pollInterval).After(deadline) {
			conn.Close()
			return nil, ErrBusy
		}
		select {
		case <-time.After(p.pollInterval):
		case <-ctx.Done():
			conn.Close()
			return nil, ctx.Err()
		}
	}
}
