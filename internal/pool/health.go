package pool

import (
	"context"
	"time"
)

// HealthCheck runs a lightweight SELECT 1 probe against every idle
// connection, discarding any that fail. Invoked periodically from
// maintenanceLoop; never runs against active (checked-out) entries since
// the pool does not own their transport while in use.
func (p *Pool) HealthCheck() {
	p.mu.Lock()
	entries := make([]*Entry, len(p.idle))
	copy(entries, p.idle)
	p.mu.Unlock()

	healthy := make([]*Entry, 0, len(entries))
	removed := 0

	for _, entry := range entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		ok := p.probe(ctx, entry)
		cancel()

		if !ok {
			p.log.WithField("conn_id", entry.id).Warn("health check failed, discarding")
			entry.Close()
			removed++
			continue
		}
		healthy = append(healthy, entry)
	}

	if removed > 0 {
		p.mu.Lock()
		healthySet := make(map[uint64]bool, len(healthy))
		for _, e := range healthy {
			healthySet[e.id] = true
		}
		newIdle := make([]*Entry, 0, len(p.idle))
		for _, e := range p.idle {
			if healthySet[e.id] {
				newIdle = append(newIdle, e)
			}
		}
		p.idle = newIdle
		p.updateMetrics()
		p.mu.Unlock()
		p.log.Infof("health check: removed %d unhealthy connections", removed)
	}
}
