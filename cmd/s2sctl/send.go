package main

import (
	"context"
	"fmt"
	"os"

	"github.com/n0needt0/go-goodies/log"
	"github.com/spf13/cobra"

	"github.com/n0needt0/goodies/s2s-edge-client/callback"
	"github.com/n0needt0/goodies/s2s-edge-client/drain"
	"github.com/n0needt0/goodies/s2s-edge-client/packet"
	"github.com/n0needt0/goodies/s2s-edge-client/transaction"
)

var sendCmd = &cobra.Command{
	Use:   "send [files...]",
	Short: "Send one or more files directly, bypassing the durable queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		peers, err := buildPeerManager(ctx, cmd)
		if err != nil {
			return fmt.Errorf("build peer manager: %w", err)
		}
		engine := buildEngine(cmd, peers)

		var packets []packet.DataPacket
		for _, path := range args {
			packets = append(packets, packet.NewFile(path, nil))
		}

		var sendErr error
		sink := callback.Funcs{
			TransactionResult: func(result *transaction.Result, err error) {
				if err != nil {
					sendErr = err
					return
				}
				log.Infof("send: committed, responseCode=%d flowFilesSent=%d bytesSent=%d",
					result.ResponseCode, result.FlowFilesSent, result.BytesSent)
			},
		}

		drain.SendDirect(ctx, engine, sink, packets)
		if sendErr != nil {
			fmt.Fprintln(os.Stderr, "send failed:", sendErr)
			os.Exit(1)
		}
		return nil
	},
}
