package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sqlstream/tds-go/internal/conn"
	"github.com/sqlstream/tds-go/internal/metrics"
	"github.com/sqlstream/tds-go/internal/retry"
	"github.com/sqlstream/tds-go/internal/tdserr"
	"github.com/sqlstream/tds-go/pkg/tds"
)

// Config controls pool sizing, timeouts, and the routing-redirect bound.
type Config struct {
	Name           string // used as the Prometheus "pool" label
	MaxConnections int
	MinIdle        int
	MaxIdleTime    time.Duration
	AcquireTimeout time.Duration
	MaintenanceTick time.Duration
	TestOnAcquire  bool
	MaxRedirects   int
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.MaintenanceTick <= 0 {
		c.MaintenanceTick = 30 * time.Second
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 10
	}
}

// Pool manages a set of connections to one logical SQL Server/Azure SQL
// target, following routing redirects transparently at creation time.
type Pool struct {
	mu sync.Mutex

	connCfg conn.Config
	poolCfg Config
	retryP  retry.Policy
	log     logrus.FieldLogger

	idle   []*Entry
	active map[uint64]*Entry
	nextID atomic.Uint64

	closed bool

	waiters []chan *Entry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Pool and eagerly opens min_idle connections.
func New(ctx context.Context, connCfg conn.Config, poolCfg Config, retryP retry.Policy, log logrus.FieldLogger) (*Pool, error) {
	poolCfg.applyDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}

	p := &Pool{
		connCfg: connCfg,
		poolCfg: poolCfg,
		retryP:  retryP,
		log:     log.WithField("pool", poolCfg.Name),
		idle:    make([]*Entry, 0, poolCfg.MaxConnections),
		active:  make(map[uint64]*Entry),
		stopCh:  make(chan struct{}),
	}

	for i := 0; i < poolCfg.MinIdle; i++ {
		entry, err := p.createEntry(ctx)
		if err != nil {
			p.log.WithError(err).Warnf("failed to create warm connection %d/%d", i+1, poolCfg.MinIdle)
			continue
		}
		p.idle = append(p.idle, entry)
	}

	p.updateMetrics()
	p.log.Infof("pool initialized: %d idle, max=%d", len(p.idle), poolCfg.MaxConnections)

	p.wg.Add(1)
	go p.maintenanceLoop()

	return p, nil
}

// Acquire obtains a connection from the pool, blocking on a FIFO wait queue
// if the pool is at capacity, until ctx is done or acquire_timeout elapses.
func (p *Pool) Acquire(ctx context.Context) (*Entry, error) {
	start := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, tdserr.PoolClosed()
	}

	if entry := p.popIdle(); entry != nil {
		p.mu.Unlock()
		if p.poolCfg.TestOnAcquire && !p.probe(ctx, entry) {
			p.discardLocked(entry)
			return p.Acquire(ctx)
		}
		p.mu.Lock()
		p.active[entry.id] = entry
		entry.markAcquired()
		p.updateMetrics()
		p.mu.Unlock()
		metrics.ConnectionsTotal.WithLabelValues(p.poolCfg.Name, "acquired").Inc()
		return entry, nil
	}

	total := len(p.idle) + len(p.active)
	if total < p.poolCfg.MaxConnections {
		p.mu.Unlock()
		entry, err := p.createEntry(ctx)
		if err != nil {
			metrics.ConnectionErrors.WithLabelValues(p.poolCfg.Name, "create_failed").Inc()
			return nil, tdserr.Wrap(tdserr.KindConnectTimeout, "creating pooled connection", err)
		}
		entry.markAcquired()
		p.mu.Lock()
		p.active[entry.id] = entry
		p.updateMetrics()
		p.mu.Unlock()
		metrics.ConnectionsTotal.WithLabelValues(p.poolCfg.Name, "acquired").Inc()
		return entry, nil
	}

	waiterCh := make(chan *Entry, 1)
	p.waiters = append(p.waiters, waiterCh)
	metrics.QueueLength.WithLabelValues(p.poolCfg.Name).Set(float64(len(p.waiters)))
	p.mu.Unlock()

	timer := time.NewTimer(p.poolCfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case entry := <-waiterCh:
		if entry == nil {
			metrics.ConnectionsTotal.WithLabelValues(p.poolCfg.Name, "queue_error").Inc()
			return nil, tdserr.PoolClosed()
		}
		metrics.QueueWaitDuration.WithLabelValues(p.poolCfg.Name).Observe(time.Since(start).Seconds())
		metrics.ConnectionsTotal.WithLabelValues(p.poolCfg.Name, "acquired").Inc()
		return entry, nil

	case <-timer.C:
		p.removeWaiter(waiterCh)
		metrics.ConnectionsTotal.WithLabelValues(p.poolCfg.Name, "timeout").Inc()
		metrics.QueueWaitDuration.WithLabelValues(p.poolCfg.Name).Observe(time.Since(start).Seconds())
		return nil, tdserr.PoolExhausted()

	case <-ctx.Done():
		p.removeWaiter(waiterCh)
		metrics.ConnectionsTotal.WithLabelValues(p.poolCfg.Name, "cancelled").Inc()
		return nil, ctx.Err()
	}
}

// Release returns a connection to the pool, resetting its session state
// first if it was marked reset-required.
func (p *Pool) Release(entry *Entry) {
	if entry == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		entry.Close()
		return
	}
	delete(p.active, entry.id)
	p.mu.Unlock()

	if entry.needsReset() {
		if err := p.resetConnection(entry); err != nil {
			p.log.WithError(err).WithField("conn_id", entry.id).Warn("sp_reset_connection failed, closing")
			entry.Close()
			metrics.ConnectionErrors.WithLabelValues(p.poolCfg.Name, "reset_failed").Inc()
			p.mu.Lock()
			p.updateMetrics()
			p.mu.Unlock()
			return
		}
		entry.clearReset()
	}

	entry.markIdle()

	p.mu.Lock()
	if len(p.waiters) > 0 {
		waiterCh := p.waiters[0]
		p.waiters = p.waiters[1:]
		metrics.QueueLength.WithLabelValues(p.poolCfg.Name).Set(float64(len(p.waiters)))
		entry.markAcquired()
		p.active[entry.id] = entry
		p.updateMetrics()
		p.mu.Unlock()
		waiterCh <- entry
		metrics.ConnectionsTotal.WithLabelValues(p.poolCfg.Name, "released").Inc()
		return
	}

	p.idle = append(p.idle, entry)
	p.updateMetrics()
	p.mu.Unlock()
	metrics.ConnectionsTotal.WithLabelValues(p.poolCfg.Name, "released").Inc()
}

// Discard permanently removes a connection from the pool (e.g. on a
// terminal protocol error).
func (p *Pool) Discard(entry *Entry) {
	if entry == nil {
		return
	}
	p.discardLocked(entry)
}

func (p *Pool) discardLocked(entry *Entry) {
	p.mu.Lock()
	delete(p.active, entry.id)
	p.updateMetrics()
	p.mu.Unlock()
	entry.Close()
	metrics.ConnectionErrors.WithLabelValues(p.poolCfg.Name, "discarded").Inc()
}

// Close shuts the pool down: idle connections close immediately, waiters
// are unblocked with a pool-closed error, and in-use entries close as they
// are released (already in-flight callers still hold a valid *Entry).
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)

	for _, w := range p.waiters {
		close(w)
	}
	p.waiters = nil

	for _, e := range p.idle {
		e.Close()
	}
	p.idle = nil

	p.active = nil
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("pool closed")
	return nil
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Available int
	InUse     int
	Total     int
	Max       int
	WaitQueue int
}

// Stats returns the current pool occupancy snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Available: len(p.idle),
		InUse:     len(p.active),
		Total:     len(p.idle) + len(p.active),
		Max:       p.poolCfg.MaxConnections,
		WaitQueue: len(p.waiters),
	}
}

func (p *Pool) popIdle() *Entry {
	for len(p.idle) > 0 {
		n := len(p.idle) - 1
		entry := p.idle[n]
		p.idle = p.idle[:n]

		if p.poolCfg.MaxIdleTime > 0 && entry.idleDuration() > p.poolCfg.MaxIdleTime {
			entry.Close()
			continue
		}
		return entry
	}
	return nil
}

func (p *Pool) removeWaiter(ch chan *Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			metrics.QueueLength.WithLabelValues(p.poolCfg.Name).Set(float64(len(p.waiters)))
			break
		}
	}
}

// resetConnection issues sp_reset_connection to clean session state before
// reuse, draining its (empty) response.
func (p *Pool) resetConnection(entry *Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr, err := entry.Conn().SendBatch(ctx, "EXEC sp_reset_connection")
	if err != nil {
		return err
	}
	return drainTokens(tr)
}

func (p *Pool) updateMetrics() {
	metrics.ConnectionsActive.WithLabelValues(p.poolCfg.Name).Set(float64(len(p.active)))
	metrics.ConnectionsIdle.WithLabelValues(p.poolCfg.Name).Set(float64(len(p.idle)))
	metrics.ConnectionsMax.WithLabelValues(p.poolCfg.Name).Set(float64(p.poolCfg.MaxConnections))
}

func (p *Pool) maintenanceLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.poolCfg.MaintenanceTick)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.evictStale()
			p.HealthCheck()
			p.ensureMinIdle()
		}
	}
}

func (p *Pool) evictStale() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.poolCfg.MaxIdleTime == 0 {
		return
	}

	remaining := make([]*Entry, 0, len(p.idle))
	evicted := 0
	for _, entry := range p.idle {
		if entry.idleDuration() > p.poolCfg.MaxIdleTime {
			entry.Close()
			evicted++
		} else {
			remaining = append(remaining, entry)
		}
	}
	p.idle = remaining

	if evicted > 0 {
		p.log.Infof("evicted %d stale connections", evicted)
		p.updateMetrics()
	}
}

func (p *Pool) ensureMinIdle() {
	p.mu.Lock()
	deficit := p.poolCfg.MinIdle - len(p.idle)
	total := len(p.idle) + len(p.active)
	headroom := p.poolCfg.MaxConnections - total
	if deficit > headroom {
		deficit = headroom
	}
	p.mu.Unlock()

	if deficit <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	created := 0
	for i := 0; i < deficit; i++ {
		entry, err := p.createEntry(ctx)
		if err != nil {
			p.log.WithError(err).Warn("failed to create min_idle connection")
			break
		}
		p.mu.Lock()
		p.idle = append(p.idle, entry)
		p.mu.Unlock()
		created++
	}

	if created > 0 {
		p.mu.Lock()
		p.updateMetrics()
		p.mu.Unlock()
		p.log.Infof("replenished %d idle connections", created)
	}
}

// drainTokens reads a TokenReader to completion, discarding rows (releasing
// their shared buffer) but surfacing the first server error encountered.
func drainTokens(tr *tds.TokenReader) error {
	for {
		tok, err := tr.Next()
		if err != nil {
			return err
		}
		if tok == nil {
			return nil
		}
		if tok.Kind == tds.TokenRow || tok.Kind == tds.TokenNBCRow {
			tok.Row.Release()
		}
		if tok.Kind == tds.TokenError {
			se := tok.Error
			return tdserr.FromServerToken(se.Number, se.Class, se.State, se.Message, se.ServerName, se.ProcName, se.LineNumber)
		}
	}
}
