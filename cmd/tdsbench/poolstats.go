package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sqlstream/tds-go/internal/pool"
	"github.com/sqlstream/tds-go/internal/retry"
)

func newPoolStatsCmd() *cobra.Command {
	var metricsAddr string
	var acquireCount int

	cmd := &cobra.Command{
		Use:   "pool-stats",
		Short: "Start a pool, acquire/release a few connections, print a stats snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initViper(cmd); err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			server := &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logrus.WithError(err).Error("metrics server error")
				}
			}()
			defer server.Close()

			ctx := context.Background()
			p, err := pool.New(ctx, connConfigFromViper(), pool.Config{Name: "tdsbench"}, retry.DefaultPolicy(), logrus.StandardLogger())
			if err != nil {
				return err
			}
			defer p.Close()

			var entries []*pool.Entry
			for i := 0; i < acquireCount; i++ {
				acqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				entry, err := p.Acquire(acqCtx)
				cancel()
				if err != nil {
					return fmt.Errorf("acquire %d: %w", i, err)
				}
				entries = append(entries, entry)
			}
			for _, e := range entries {
				p.Release(e)
			}

			stats := p.Stats()
			logrus.WithFields(logrus.Fields{
				"available": stats.Available,
				"in_use":    stats.InUse,
				"total":     stats.Total,
				"max":       stats.Max,
			}).Info("pool stats")
			logrus.Infof("metrics endpoint: http://%s/metrics", metricsAddr)
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Prometheus metrics listen address")
	cmd.Flags().IntVar(&acquireCount, "acquire", 3, "number of connections to acquire then release")
	_ = viper.BindPFlags(cmd.Flags())
	return cmd
}
