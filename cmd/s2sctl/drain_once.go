package main

import (
	"context"
	"fmt"
	"os"

	"github.com/n0needt0/go-goodies/log"
	"github.com/spf13/cobra"

	"github.com/n0needt0/goodies/s2s-edge-client/callback"
	"github.com/n0needt0/goodies/s2s-edge-client/drain"
)

var drainOnceCmd = &cobra.Command{
	Use:   "drain-once",
	Short: "Drain the durable queue once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		peers, err := buildPeerManager(ctx, cmd)
		if err != nil {
			return fmt.Errorf("build peer manager: %w", err)
		}
		engine := buildEngine(cmd, peers)

		q, err := buildQueue(cmd)
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		defer q.Close()

		if err := q.Cleanup(); err != nil {
			log.Warnf("drain-once: cleanup failed: %v", err)
		}

		var drainErr error
		worker := &drain.Worker{
			Queue:               q,
			Engine:              engine,
			Alerts:              buildAlertNotifier(),
			PreferredBatchCount: conf.Port.BatchCount,
			PreferredBatchSize:  conf.Port.BatchSizeBytes,
			MaxBatchAge:         conf.Queue.MaxAge(),
			MaxTransactionTime:  conf.Port.MaxTransactionTime(),
			Callback: callback.Funcs{
				QueuedResult: func(err error) { drainErr = err },
			},
		}
		worker.Run(ctx)

		if drainErr != nil {
			fmt.Fprintln(os.Stderr, "drain failed:", drainErr)
			os.Exit(1)
		}
		log.Info("drain-once: complete")
		return nil
	},
}
