// Package prepared implements the per-connection LRU cache of server-side
// prepared-statement handles (§4.7): fingerprint the verbatim SQL text,
// key the cache on (fingerprint, parameter signature), and amortise
// sp_prepare/sp_execute/sp_unprepare round-trips across repeat queries.
package prepared

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/sqlstream/tds-go/pkg/tds"
)

// DefaultCapacity is the default number of handles retained per connection.
const DefaultCapacity = 100

// Key identifies one cached prepared statement: the SQL fingerprint plus
// the parameter type signature (two statements with identical text but
// different parameter shapes must not collide).
type Key struct {
	Fingerprint       uint64
	ParameterSignature string
}

// Fingerprint hashes verbatim SQL text (no normalisation) with a fast
// non-cryptographic hash, per §4.7.
func Fingerprint(sql string) uint64 {
	return xxhash.Sum64String(sql)
}

// Cache is a strict-LRU, capacity-bounded map from (fingerprint, param
// signature) to a server-assigned handle. Not safe for concurrent use
// across connections — a connection is single-owner by design (§4.7, §5) —
// but internally synchronised since a connection's background reset path
// may clear it from a different goroutine than the one driving queries.
type Cache struct {
	mu       sync.Mutex
	capacity int
	lru      *lru.Cache[Key, tds.PrepareHandle]
	log      logrus.FieldLogger

	// unprepare issues sp_unprepare for an evicted handle; failures are
	// logged, never propagated (§4.7).
	unprepare func(tds.PrepareHandle) error
}

// NewCache builds a Cache of the given capacity (DefaultCapacity if <= 0).
// unprepare is invoked best-effort on LRU eviction.
func NewCache(capacity int, log logrus.FieldLogger, unprepare func(tds.PrepareHandle) error) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	c := &Cache{capacity: capacity, log: log, unprepare: unprepare}

	onEvict := func(key Key, handle tds.PrepareHandle) {
		if c.unprepare == nil {
			return
		}
		if err := c.unprepare(handle); err != nil {
			c.log.WithFields(logrus.Fields{
				"fingerprint": key.Fingerprint,
				"handle":      handle,
			}).WithError(err).Warn("sp_unprepare failed during cache eviction")
		}
	}

	l, err := lru.NewWithEvict[Key, tds.PrepareHandle](capacity, onEvict)
	if err != nil {
		// capacity is always > 0 by construction above, so NewWithEvict
		// cannot fail here; panic would indicate a logic bug, not a
		// runtime condition callers need to handle.
		panic(err)
	}
	c.lru = l

	return c
}

// Lookup returns the cached handle for key, if present (cache hit).
func (c *Cache) Lookup(key Key) (tds.PrepareHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Store inserts or updates the handle for key, evicting the least recently
// used entry if the cache is at capacity.
func (c *Cache) Store(key Key, handle tds.PrepareHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, handle)
}

// Len returns the current number of cached handles; callers may assert
// Len() <= capacity as an invariant after every mutation (§8).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Reset clears the cache without issuing sp_unprepare for any entry — used
// when the owning connection has just been reset via sp_reset_connection,
// which already discarded every handle server-side (§4.7).
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Purge reports every entry to the eviction callback; detach unprepare
	// for its duration so no sp_unprepare is issued.
	unprepare := c.unprepare
	c.unprepare = nil
	c.lru.Purge()
	c.unprepare = unprepare
}
