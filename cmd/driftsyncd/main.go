package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/blobstore"
	"github.com/driftsync/driftsync/internal/changeset"
	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/identity"
	"github.com/driftsync/driftsync/internal/localstate"
	"github.com/driftsync/driftsync/internal/pointerstore"
	"github.com/driftsync/driftsync/internal/reconciler"
	"github.com/driftsync/driftsync/internal/remotestate"
	"github.com/driftsync/driftsync/internal/rowstore"
	"github.com/driftsync/driftsync/internal/rpcserver"
	"github.com/driftsync/driftsync/internal/syncer"
	"github.com/driftsync/driftsync/internal/syncmetrics"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "driftsyncd",
		Short:   "driftsync - decentralised entity-storage synchroniser",
		Long:    "driftsyncd runs a single entity-context synchroniser node: a row-store-backed facade, a local change log and a background syncer that reconciles against a remote sync state.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE:    runNode,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "Data directory path")
	rootCmd.PersistentFlags().String("node-identity", "", "This node's DID")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("role", "untrusted", "Node role (trusted, untrusted)")

	rootCmd.AddCommand(newDoctorCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// node bundles the row, blob and pointer stores a driftsyncd process
// opens, so both runNode and the doctor subcommand can build and tear them
// down the same way.
type node struct {
	rows     rowstore.Store
	blobs    blobstore.Store
	pointers pointerstore.Store
}

func openStores(cfg *config.Config) (*node, error) {
	var rows rowstore.Store
	var err error
	switch cfg.RowStore.Engine {
	case "pebble":
		rows, err = rowstore.NewPebbleStore(rowstore.PebbleOptions{DataDir: cfg.DataDir})
	default:
		rows, err = rowstore.NewBadgerStore(rowstore.BadgerOptions{DataDir: cfg.DataDir})
	}
	if err != nil {
		return nil, fmt.Errorf("open row store: %w", err)
	}

	var blobs blobstore.Store
	switch cfg.BlobStore.Engine {
	case "s3":
		blobs, err = blobstore.NewS3Store(blobstore.S3Options{
			Endpoint:  cfg.BlobStore.S3Endpoint,
			Region:    cfg.BlobStore.S3Region,
			Bucket:    cfg.BlobStore.S3Bucket,
			Prefix:    cfg.BlobStore.S3Prefix,
			AccessKey: cfg.BlobStore.S3AccessKey,
			SecretKey: cfg.BlobStore.S3SecretKey,
		})
	default:
		blobs, err = blobstore.NewFilesystemStore(cfg.DataDir + "/blobs")
	}
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	pointers, err := pointerstore.NewSQLiteStore(cfg.PointerStore.Path)
	if err != nil {
		return nil, fmt.Errorf("open pointer store: %w", err)
	}

	return &node{rows: rows, blobs: blobs, pointers: pointers}, nil
}

func (n *node) close() {
	if err := n.rows.Close(); err != nil {
		logrus.WithError(err).Warn("failed to close row store")
	}
	if err := n.pointers.Close(); err != nil {
		logrus.WithError(err).Warn("failed to close pointer store")
	}
}

func buildSigner(cfg *config.Config) (identity.Signer, error) {
	privBytes, err := hex.DecodeString(cfg.Identity.PrivateKeyHex)
	if err != nil || len(privBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity.private_key_hex must decode to a %d-byte ed25519 private key", ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(privBytes)

	resolver := identity.NewStaticKeyResolver()
	resolver.Register(cfg.NodeIdentity, priv.Public().(ed25519.PublicKey))

	return identity.NewEd25519Signer(cfg.NodeIdentity, priv, resolver), nil
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg.LogLevel)

	logrus.WithFields(logrus.Fields{
		"version":      version,
		"nodeIdentity": cfg.NodeIdentity,
		"role":         cfg.Role,
		"context":      cfg.Sync.EntityContext,
	}).Info("starting driftsyncd")

	n, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer n.close()

	signer, err := buildSigner(cfg)
	if err != nil {
		return err
	}

	changesets := changeset.New(signer, n.blobs, n.rows, cfg.Identity.DecentralisedStorageMethodID)
	local := localstate.New(n.rows, cfg.Sync.EntityContext)
	metrics := syncmetrics.NewManager(syncmetrics.Config{
		Enabled:           cfg.Metrics.Enable,
		HostSampleSeconds: cfg.Metrics.HostSampleSeconds,
	})
	rec := reconciler.New(local, changesets, metrics)
	remote := remotestate.New(n.pointers, n.blobs, n.rows, changesets)
	// facade.New is the library entrypoint embedding applications call
	// directly for entity reads/writes; driftsyncd itself only needs to
	// drive the background sync loops.

	role := syncer.Role{Trusted: cfg.Role == "trusted"}

	var rpcSrv *http.Server
	if role.Trusted {
		tokens := rpcserver.NewTokenIssuer(cfg.TrustedPeerRPC.SharedSecret, 0)
		router := mux.NewRouter()
		rpcserver.NewServer(remote, tokens).RegisterRoutes(router)
		rpcSrv = &http.Server{Addr: cfg.TrustedPeerRPC.Listen, Handler: router}
		go func() {
			if err := rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Error("trusted-peer RPC server stopped unexpectedly")
			}
		}()
		logrus.WithField("listen", cfg.TrustedPeerRPC.Listen).Info("trusted-peer RPC server listening")
	} else {
		tokens := rpcserver.NewTokenIssuer(cfg.TrustedPeerRPC.SharedSecret, 0)
		token, err := tokens.Issue(cfg.NodeIdentity)
		if err != nil {
			return fmt.Errorf("mint trusted-peer RPC token: %w", err)
		}
		role.Peer = rpcserver.NewClient(cfg.TrustedPeerRPC.PeerEndpoint, token)
	}

	sync := syncer.New(syncer.Config{
		Key:                     cfg.Sync.PointerKey,
		EntityUpdateIntervalMs:  cfg.Sync.EntityUpdateIntervalMs,
		ConsolidationIntervalMs: cfg.Sync.ConsolidationIntervalMs,
		ConsolidationBatchSize:  cfg.Sync.ConsolidationBatchSize,
	}, role, local, remote, rec, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metricsSrv *http.Server
	if cfg.Metrics.Enable {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: metricsMux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Error("metrics server stopped unexpectedly")
			}
		}()
		metrics.Start(ctx)
		logrus.WithField("listen", cfg.Metrics.Listen).Info("metrics server listening")
	}

	sync.Start(ctx, cfg.NodeIdentity)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logrus.Info("received shutdown signal")
		cancel()
	}()

	<-ctx.Done()

	sync.Stop()
	if cfg.Metrics.Enable {
		metrics.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if rpcSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = rpcSrv.Shutdown(shutdownCtx)
	}

	logrus.Info("driftsyncd stopped")
	return nil
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and storage engines without starting the sync loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			setupLogging(cfg.LogLevel)

			n, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer n.close()

			if _, err := buildSigner(cfg); err != nil {
				return err
			}

			fmt.Printf("node identity:    %s\n", cfg.NodeIdentity)
			fmt.Printf("role:             %s\n", cfg.Role)
			fmt.Printf("entity context:   %s\n", cfg.Sync.EntityContext)
			fmt.Printf("row store engine: %s\n", cfg.RowStore.Engine)
			fmt.Printf("blob store engine:%s\n", cfg.BlobStore.Engine)
			fmt.Printf("pointer store:    %s\n", cfg.PointerStore.Path)
			fmt.Println("all stores opened and closed cleanly")
			return nil
		},
	}
}
