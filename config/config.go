// Package config loads the client's configuration by layering a YAML
// file, environment variables, and command-line flags, following the
// teacher's file-then-env-then-flags koanf pipeline.
package config

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jeremywohl/flatten"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var k = koanf.New(".")

// Config is the root configuration tree for the client.
type Config struct {
	App     App           `mapstructure:"app"`
	Logging LoggingConfig `mapstructure:"logging"`
	Peers   PeersConfig   `mapstructure:"peers"`
	Port    PortConfig    `mapstructure:"port"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Otel    Otel          `mapstructure:"otel"`
	Alert   AlertConfig   `mapstructure:"alert"`
}

// App identifies this deployment for logging, metrics, and alerts.
type App struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Env     string `mapstructure:"env"`
}

// LoggingConfig stores global logging configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// PeersConfig configures the peer.Manager.
type PeersConfig struct {
	SeedURLs             []string `mapstructure:"seed_urls"`
	TimeoutSeconds       int      `mapstructure:"timeout_seconds"`
	UpdateIntervalSeconds int     `mapstructure:"update_interval_seconds"`
	AuthToken            string   `mapstructure:"auth_token"`
}

func (p PeersConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

func (p PeersConfig) UpdateInterval() time.Duration {
	return time.Duration(p.UpdateIntervalSeconds) * time.Second
}

// PortConfig names the remote input port and transaction/batch knobs.
type PortConfig struct {
	ID                     string `mapstructure:"id"`
	UseCompression         bool   `mapstructure:"use_compression"`
	RequestExpirationSeconds int  `mapstructure:"request_expiration_seconds"`
	BatchCount             int    `mapstructure:"batch_count"`
	BatchSizeBytes         int64  `mapstructure:"batch_size_bytes"`
	BatchDurationSeconds   int    `mapstructure:"batch_duration_seconds"`
	MaxTransactionTimeSeconds int `mapstructure:"max_transaction_time_seconds"`
}

func (p PortConfig) RequestExpiration() time.Duration {
	return time.Duration(p.RequestExpirationSeconds) * time.Second
}

func (p PortConfig) BatchDuration() time.Duration {
	return time.Duration(p.BatchDurationSeconds) * time.Second
}

func (p PortConfig) MaxTransactionTime() time.Duration {
	return time.Duration(p.MaxTransactionTimeSeconds) * time.Second
}

// TLSConfig configures mutual TLS against the remote cluster, when
// required by the deployment.
type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CAFile     string `mapstructure:"ca_file"`
	SkipVerify bool   `mapstructure:"skip_verify"`
}

// QueueConfig configures the durable on-device packet queue.
type QueueConfig struct {
	Path            string `mapstructure:"path"`
	MaxRows         int    `mapstructure:"max_rows"`
	MaxSizeBytes    int64  `mapstructure:"max_size_bytes"`
	MaxAgeSeconds   int    `mapstructure:"max_age_seconds"`
	DrainIntervalSeconds int `mapstructure:"drain_interval_seconds"`
}

func (q QueueConfig) MaxAge() time.Duration {
	return time.Duration(q.MaxAgeSeconds) * time.Second
}

func (q QueueConfig) DrainInterval() time.Duration {
	return time.Duration(q.DrainIntervalSeconds) * time.Second
}

// Otel configures the metrics exporter.
type Otel struct {
	Enabled               bool   `mapstructure:"enabled"`
	Endpoint              string `mapstructure:"endpoint"`
	ScrapeIntervalSeconds int    `mapstructure:"scrape_interval_seconds"`
}

// AlertConfig configures the operational alert webhook.
type AlertConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	DevLogOnly     bool   `mapstructure:"dev_log_only"`
}

func (a AlertConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Load reads cfgFile (defaulting to config.yaml), overlays environment
// variables prefixed with envPrefix, and unmarshals the result into cfg.
// Call LoadFlags afterward, once cobra flags are parsed, to let
// command-line flags take final precedence.
func Load(cfgFile, envPrefix string, cfg *Config) error {
	if cfgFile == "" {
		cfgFile = "config.yaml"
	}

	if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
		return errors.Wrapf(err, "failed to parse %s", cfgFile)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return errors.Wrap(err, "error loading config from env")
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return errors.Wrapf(err, "failed to unmarshal %s", cfgFile)
	}
	return nil
}

// LoadFlags overlays cobra flags on top of the file/env layers and
// re-unmarshals cfg so a flag set at the command line wins.
func LoadFlags(cmd *cobra.Command, cfg *Config) error {
	if err := k.Load(posflag.Provider(cmd.Flags(), ".", k), nil); err != nil {
		return errors.Wrap(err, "error loading config from flags")
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return errors.Wrap(err, "failed to unmarshal flags into config")
	}
	return nil
}

// Summary flattens cfg into a dotted-key map suitable for a single
// structured startup log line, with secrets redacted. The struct is
// round-tripped through JSON first so flatten.Flatten sees plain nested
// maps rather than typed structs.
func Summary(cfg *Config) (map[string]interface{}, error) {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "marshal config for summary")
	}
	var nested map[string]interface{}
	if err := json.Unmarshal(encoded, &nested); err != nil {
		return nil, errors.Wrap(err, "unmarshal config for summary")
	}

	flat, err := flatten.Flatten(nested, "", flatten.DotStyle)
	if err != nil {
		return nil, errors.Wrap(err, "flatten config summary")
	}
	delete(flat, "Peers.AuthToken")
	delete(flat, "TLS.KeyFile")
	return flat, nil
}
