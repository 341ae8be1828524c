// Package config loads driftsync's configuration from flags, a config
// file and environment variables using a viper+cobra+mapstructure layering.
package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for a driftsync node.
type Config struct {
	NodeIdentity string `mapstructure:"node_identity"`
	DataDir      string `mapstructure:"data_dir"`
	LogLevel     string `mapstructure:"log_level"`
	Role         string `mapstructure:"role"` // "trusted" | "untrusted"

	RowStore       RowStoreConfig     `mapstructure:"row_store"`
	BlobStore      BlobStoreConfig    `mapstructure:"blob_store"`
	PointerStore   PointerStoreConfig `mapstructure:"pointer_store"`
	Identity       IdentityConfig     `mapstructure:"identity"`
	Sync           SyncConfig         `mapstructure:"sync"`
	Metrics        MetricsConfig      `mapstructure:"metrics"`
	TrustedPeerRPC TrustedPeerConfig  `mapstructure:"trusted_peer_rpc"`
}

// RowStoreConfig selects and configures the row store engine.
type RowStoreConfig struct {
	Engine string `mapstructure:"engine"` // "badger" | "pebble"
}

// BlobStoreConfig selects and configures the blob store engine.
type BlobStoreConfig struct {
	Engine string `mapstructure:"engine"` // "filesystem" | "s3"

	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Region    string `mapstructure:"s3_region"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Prefix    string `mapstructure:"s3_prefix"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
}

// PointerStoreConfig configures the verifiable-pointer store.
type PointerStoreConfig struct {
	Path string `mapstructure:"path"`
}

// IdentityConfig configures the decentralised identity signer.
type IdentityConfig struct {
	PrivateKeyHex                string `mapstructure:"private_key_hex"`
	DecentralisedStorageMethodID string `mapstructure:"decentralised_storage_method_id"`
}

// SyncConfig configures the Syncer's two loops and the pointer slot.
type SyncConfig struct {
	EntityContext           string `mapstructure:"entity_context"`
	PointerKey              string `mapstructure:"pointer_key"`
	EntityUpdateIntervalMs  int    `mapstructure:"entity_update_interval_ms"`
	ConsolidationIntervalMs int    `mapstructure:"consolidation_interval_ms"`
	ConsolidationBatchSize  int    `mapstructure:"consolidation_batch_size"`
}

// MetricsConfig controls Prometheus/gopsutil instrumentation.
type MetricsConfig struct {
	Enable            bool   `mapstructure:"enable"`
	Listen            string `mapstructure:"listen"`
	Path              string `mapstructure:"path"`
	HostSampleSeconds int    `mapstructure:"host_sample_seconds"`
}

// TrustedPeerConfig configures the untrusted-node forwarding RPC client
// and the trusted node's receiving server.
type TrustedPeerConfig struct {
	Listen       string `mapstructure:"listen"`        // trusted node only
	PeerEndpoint string `mapstructure:"peer_endpoint"` // untrusted node only
	SharedSecret string `mapstructure:"shared_secret"`
}

// Load loads configuration from flags, an optional config file, and
// DRIFTSYNC_-prefixed environment variables.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("DRIFTSYNC")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("role", "untrusted")

	v.SetDefault("row_store.engine", "badger")

	v.SetDefault("blob_store.engine", "filesystem")

	v.SetDefault("identity.decentralised_storage_method_id", "decentralised-storage-assertion")

	v.SetDefault("sync.entity_context", "default")
	v.SetDefault("sync.pointer_key", "default")
	v.SetDefault("sync.entity_update_interval_ms", 5000)
	v.SetDefault("sync.consolidation_interval_ms", 0) // disabled unless explicitly configured
	v.SetDefault("sync.consolidation_batch_size", 500)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.host_sample_seconds", 15)

	v.SetDefault("trusted_peer_rpc.listen", ":7070")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"node-identity": "node_identity",
		"data-dir":      "data_dir",
		"log-level":     "log_level",
		"role":          "role",
	}

	for flag, key := range flags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or DRIFTSYNC_DATA_DIR environment variable")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.PointerStore.Path == "" {
		cfg.PointerStore.Path = filepath.Join(cfg.DataDir, "pointers.db")
	}

	if cfg.NodeIdentity == "" {
		return fmt.Errorf("node_identity is required: specify via --node-identity flag, config file, or DRIFTSYNC_NODE_IDENTITY environment variable")
	}

	switch cfg.Role {
	case "trusted", "untrusted":
	default:
		return fmt.Errorf("role must be \"trusted\" or \"untrusted\", got %q", cfg.Role)
	}
	if cfg.Role == "untrusted" && cfg.TrustedPeerRPC.PeerEndpoint == "" {
		return fmt.Errorf("trusted_peer_rpc.peer_endpoint is required for an untrusted node")
	}

	if cfg.Identity.PrivateKeyHex == "" {
		logrus.Warn("no identity.private_key_hex configured; generating an ephemeral signing key for this process only")
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("failed to generate ephemeral identity key: %w", err)
		}
		cfg.Identity.PrivateKeyHex = hex.EncodeToString(priv)
	}

	if cfg.TrustedPeerRPC.SharedSecret == "" {
		secret, err := randomHex(32)
		if err != nil {
			return fmt.Errorf("failed to generate trusted-peer shared secret: %w", err)
		}
		cfg.TrustedPeerRPC.SharedSecret = secret
	}

	return nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
