package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sqlstream/tds-go/internal/pool"
	"github.com/sqlstream/tds-go/internal/retry"
)

func newBenchCmd() *cobra.Command {
	var concurrency int
	var duration time.Duration
	var maxConnections int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive concurrent checkouts through the pool and report checkout latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initViper(cmd); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), duration)
			defer cancel()

			p, err := pool.New(context.Background(), connConfigFromViper(),
				pool.Config{Name: "tdsbench-load", MaxConnections: maxConnections}, retry.DefaultPolicy(), logrus.StandardLogger())
			if err != nil {
				return err
			}
			defer p.Close()

			var mu sync.Mutex
			var latencies []time.Duration
			var failures int

			var wg sync.WaitGroup
			for i := 0; i < concurrency; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for ctx.Err() == nil {
						start := time.Now()
						entry, err := p.Acquire(ctx)
						elapsed := time.Since(start)
						if err != nil {
							mu.Lock()
							failures++
							mu.Unlock()
							continue
						}
						mu.Lock()
						latencies = append(latencies, elapsed)
						mu.Unlock()
						p.Release(entry)
					}
				}()
			}
			wg.Wait()

			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			logrus.WithFields(logrus.Fields{
				"checkouts": len(latencies),
				"failures":  failures,
				"p50":       percentile(latencies, 0.50),
				"p95":       percentile(latencies, 0.95),
				"p99":       percentile(latencies, 0.99),
			}).Info("bench complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "number of concurrent checkout loops")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to drive load")
	cmd.Flags().IntVar(&maxConnections, "max-connections", 2, "pool capacity, small to provoke exhaustion")
	return cmd
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
