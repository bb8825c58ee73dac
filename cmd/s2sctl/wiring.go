package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/n0needt0/goodies/s2s-edge-client/alert"
	"github.com/n0needt0/goodies/s2s-edge-client/config"
	"github.com/n0needt0/goodies/s2s-edge-client/peer"
	"github.com/n0needt0/goodies/s2s-edge-client/queue"
	"github.com/n0needt0/goodies/s2s-edge-client/transaction"
)

func seedURLs(cmd *cobra.Command, cfg config.PeersConfig) []string {
	if v, _ := cmd.Flags().GetString("peers.seed_urls"); v != "" {
		return strings.Split(v, ",")
	}
	return cfg.SeedURLs
}

func portID(cmd *cobra.Command, cfg config.PortConfig) string {
	if v, _ := cmd.Flags().GetString("port.id"); v != "" {
		return v
	}
	return cfg.ID
}

func queuePath(cmd *cobra.Command, cfg config.QueueConfig) string {
	if v, _ := cmd.Flags().GetString("queue.path"); v != "" {
		return v
	}
	return cfg.Path
}

func buildPeerManager(ctx context.Context, cmd *cobra.Command) (*peer.Manager, error) {
	return peer.NewManager(ctx, peer.Config{
		SeedURLs:           seedURLs(cmd, conf.Peers),
		Timeout:            conf.Peers.Timeout(),
		PeerUpdateInterval: conf.Peers.UpdateInterval(),
		AuthHeaders:        authHeaders,
	})
}

func authHeaders() map[string]string {
	if conf.Peers.AuthToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + conf.Peers.AuthToken}
}

func buildEngine(cmd *cobra.Command, peers *peer.Manager) *transaction.Engine {
	return transaction.NewEngine(peers, transaction.Config{
		PortID:            portID(cmd, conf.Port),
		Timeout:           conf.Peers.Timeout(),
		UseCompression:    conf.Port.UseCompression,
		RequestExpiration: conf.Port.RequestExpiration(),
		BatchCount:        conf.Port.BatchCount,
		BatchSizeBytes:    conf.Port.BatchSizeBytes,
		BatchDuration:     conf.Port.BatchDuration(),
	})
}

func buildQueue(cmd *cobra.Command) (*queue.Queue, error) {
	return queue.Open(queuePath(cmd, conf.Queue), queue.Config{
		MaxRows:      conf.Queue.MaxRows,
		MaxSizeBytes: conf.Queue.MaxSizeBytes,
		MaxAge:       conf.Queue.MaxAge(),
	})
}

func buildAlertNotifier() alert.Notifier {
	if !conf.Alert.Enabled && !conf.Alert.DevLogOnly {
		return alert.NoopNotifier{}
	}
	return alert.NewWebhookNotifier(alert.WebhookConfig{
		Enabled:     conf.Alert.Enabled,
		Endpoint:    conf.Alert.Endpoint,
		Timeout:     conf.Alert.Timeout(),
		ServiceName: conf.App.Name,
		Version:     conf.App.Version,
		DevLogOnly:  conf.Alert.DevLogOnly,
	})
}
