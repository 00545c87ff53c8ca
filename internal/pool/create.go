package pool

import (
	"context"

	"github.com/sqlstream/tds-go/internal/conn"
	"github.com/sqlstream/tds-go/internal/metrics"
	"github.com/sqlstream/tds-go/internal/retry"
	"github.com/sqlstream/tds-go/internal/tdserr"
)

// createEntry establishes one new physical connection, following Azure SQL
// gateway routing redirects (§4.2, §8 scenario 5) up to MaxRedirects times,
// with the retry policy applied around each dial attempt.
func (p *Pool) createEntry(ctx context.Context) (*Entry, error) {
	cfg := p.connCfg
	redirects := 0

	for {
		var c *conn.Connection
		err := retry.Do(ctx, p.retryP, func() error {
			var dialErr error
			c, dialErr = conn.Connect(ctx, cfg)
			return dialErr
		})
		if err != nil {
			return nil, err
		}

		if c.RoutedTo == nil {
			id := p.nextID.Add(1)
			return newEntry(id, c), nil
		}

		redirects++
		if redirects > p.poolCfg.MaxRedirects {
			return nil, tdserr.TooManyRedirects(p.poolCfg.MaxRedirects)
		}

		metrics.RedirectsTotal.WithLabelValues(p.poolCfg.Name).Inc()
		p.log.WithField("redirect_to", c.RoutedTo.Host).Info("following routing redirect")

		cfg.Host = c.RoutedTo.Host
		cfg.Port = int(c.RoutedTo.Port)
	}
}

// probe issues a lightweight SELECT 1 on entry to confirm it is still
// reachable before handing it to a caller (test_on_acquire, §4.8).
func (p *Pool) probe(ctx context.Context, entry *Entry) bool {
	tr, err := entry.Conn().SendBatch(ctx, "SELECT 1")
	if err != nil {
		return false
	}
	return drainTokens(tr) == nil
}
