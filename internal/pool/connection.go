// Package pool implements the connection pool (§4.8): a mutex-guarded idle
// list, a channel-based FIFO waiter queue for checkout under the capacity
// cap, a background maintenance loop reaping stale idle connections and
// topping up the min-idle floor, and Azure SQL routing-redirect replacement
// at connection-creation time.
package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sqlstream/tds-go/internal/conn"
)

// EntryState mirrors the lifecycle of one pooled connection.
type EntryState int

const (
	EntryIdle EntryState = iota
	EntryActive
	EntryClosed
)

// Entry wraps a *conn.Connection with the bookkeeping the pool needs:
// identity, timestamps, use counter, and a reset-required flag.
type Entry struct {
	mu sync.Mutex

	id    uint64
	trace uuid.UUID

	c *conn.Connection

	state EntryState

	// resetRequired is set only through MarkResetRequired, by the holder of
	// a checkout that ended without a clean drain; the pool does not set it
	// on its own. When it is set, Release runs sp_reset_connection before
	// this entry returns to idle, mirroring the teacher's
	// reset-then-return-or-close branch.
	resetRequired bool

	createdAt  time.Time
	lastUsedAt time.Time
	useCount   uint64
}

func newEntry(id uint64, c *conn.Connection) *Entry {
	now := time.Now()
	return &Entry{
		id:         id,
		trace:      uuid.New(),
		c:          c,
		state:      EntryIdle,
		createdAt:  now,
		lastUsedAt: now,
	}
}

// Conn returns the underlying connection for issuing requests.
func (e *Entry) Conn() *conn.Connection { return e.c }

// ID returns this entry's pool-assigned identifier.
func (e *Entry) ID() uint64 { return e.id }

// Trace returns the entry's correlation UUID, stable across resets (but not
// across a redirect replacement, which creates a new Entry).
func (e *Entry) Trace() uuid.UUID { return e.trace }

// MarkResetRequired flags this entry so Release resets it before reuse.
func (e *Entry) MarkResetRequired() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetRequired = true
}

func (e *Entry) needsReset() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resetRequired
}

func (e *Entry) clearReset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetRequired = false
}

func (e *Entry) markAcquired() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = EntryActive
	e.lastUsedAt = time.Now()
	e.useCount++
}

func (e *Entry) markIdle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = EntryIdle
	e.lastUsedAt = time.Now()
}

func (e *Entry) markClosed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = EntryClosed
}

func (e *Entry) idleDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Since(e.lastUsedAt)
}

// Close tears down the underlying connection.
func (e *Entry) Close() error {
	e.markClosed()
	return e.c.Close()
}
