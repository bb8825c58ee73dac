// Command s2sctl drives the Site-to-Site client from the command line:
// a one-shot direct send, an on-demand drain of the durable queue, and a
// status check against the configured peers.
package main

import (
	"fmt"
	"os"

	"github.com/n0needt0/go-goodies/log"
	"github.com/spf13/cobra"

	"github.com/n0needt0/goodies/s2s-edge-client/config"
)

var (
	cfgFile string
	conf    config.Config
	envPrefix = "S2S_"
)

var rootCmd = &cobra.Command{
	Use:   "s2sctl",
	Short: "Operate a NiFi Site-to-Site edge client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(cfgFile, envPrefix, &conf); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.LoadFlags(cmd, &conf); err != nil {
			return fmt.Errorf("load flags: %w", err)
		}
		setLogLevel(conf.Logging.Level)
		return nil
	},
}

func setLogLevel(levelStr string) {
	switch levelStr {
	case "debug":
		log.SetMinLogLevel(log.MinLevelDebug)
	case "warn":
		log.SetMinLogLevel(log.MinLevelWarn)
	case "error":
		log.SetMinLogLevel(log.MinLevelError)
	default:
		log.SetMinLogLevel(log.MinLevelInfo)
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().String("peers.seed_urls", "", "comma-separated seed peer URLs (overrides config)")
	rootCmd.PersistentFlags().String("port.id", "", "remote input port id (overrides config)")
	rootCmd.PersistentFlags().String("queue.path", "", "durable queue database path (overrides config)")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(drainOnceCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	Execute()
}
