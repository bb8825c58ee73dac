package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/n0needt0/goodies/s2s-edge-client/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the resolved configuration and the lowest-load peer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		summary, err := config.Summary(&conf)
		if err != nil {
			return fmt.Errorf("summarize config: %w", err)
		}
		for k, v := range summary {
			fmt.Printf("%s = %v\n", k, v)
		}

		peers, err := buildPeerManager(ctx, cmd)
		if err != nil {
			return fmt.Errorf("build peer manager: %w", err)
		}
		p, err := peers.SelectPeer(ctx)
		if err != nil {
			return fmt.Errorf("select peer: %w", err)
		}
		fmt.Printf("lowest-load peer: %s\n", p.URL)
		return nil
	},
}
