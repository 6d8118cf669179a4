package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/zk-vault/internal/audit"
	"github.com/kenneth/zk-vault/internal/cache"
	"github.com/kenneth/zk-vault/internal/config"
	"github.com/kenneth/zk-vault/internal/crypto"
	"github.com/kenneth/zk-vault/internal/metrics"
	"github.com/kenneth/zk-vault/internal/s3"
	"github.com/kenneth/zk-vault/internal/session"
	"github.com/kenneth/zk-vault/internal/store"
	"github.com/kenneth/zk-vault/internal/tracing"
	"github.com/kenneth/zk-vault/internal/vault"
)

// app is one invocation's wiring of configuration, stores and the vault.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	vault    *vault.Vault
	metadata store.MetadataStore
	metrics  *metrics.Metrics

	shutdownTracing tracing.ShutdownFunc
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)
	logger.WithFields(logrus.Fields{
		"version":    version,
		"commit":     commit,
		"account_id": cfg.AccountID,
	}).Debug("Starting vaultctl")

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close(ctx)
		}
	}()

	a.shutdownTracing, err = tracing.Init(ctx, &cfg.Tracing)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	}

	a.metadata, err = openMetadataStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	blobs, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if a.metrics != nil {
		blobs = store.NewInstrumentedBlobStore(blobs, cfg.Storage.Blob.Backend, a.metrics)
	}

	var auditLogger audit.Logger
	if cfg.Audit.Enabled {
		auditLogger = audit.NewLogger(cfg.Audit.MaxEvents, audit.NewLogrusWriter(logger))
	}

	masterKDF, err := crypto.NewMasterKDF(cfg.Crypto.MasterIterations)
	if err != nil {
		return nil, err
	}
	secondaryKDF, err := crypto.NewSecondaryKDF(cfg.Crypto.SecondaryIterations)
	if err != nil {
		return nil, err
	}

	a.vault, err = vault.New(vault.Options{
		AccountID:    cfg.AccountID,
		Algorithm:    cfg.Crypto.Algorithm,
		MasterKDF:    masterKDF,
		SecondaryKDF: secondaryKDF,
		MaxFileSize:  cfg.Limits.MaxFileSize,
		Blobs:        blobs,
		Metadata:     a.metadata,
		Session:      session.New(cfg.Session.IdleTimeout, logger),
		Logger:       logger,
		Metrics:      a.metrics,
		Audit:        auditLogger,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func openMetadataStore(cfg *config.Config, logger *logrus.Logger) (store.MetadataStore, error) {
	switch cfg.Storage.Metadata.Backend {
	case "badger":
		s, err := store.NewBadgerMetadataStore(store.BadgerConfig{
			Path:   cfg.Storage.Metadata.Path,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		logger.Warn("Using in-memory metadata store, nothing will persist after exit")
		return store.NewMemoryMetadataStore(), nil
	default:
		return nil, fmt.Errorf("unknown metadata backend: %s", cfg.Storage.Metadata.Backend)
	}
}

func openBlobStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.BlobStore, error) {
	var (
		blobs store.BlobStore
		err   error
	)
	switch cfg.Storage.Blob.Backend {
	case "file":
		blobs, err = store.NewFileBlobStore(cfg.Storage.Blob.Dir)
	case "s3":
		blobs, err = s3.NewBlobStore(ctx, &cfg.Storage.Blob.S3)
	case "memory":
		logger.Warn("Using in-memory blob store, nothing will persist after exit")
		blobs = store.NewMemoryBlobStore()
	default:
		err = fmt.Errorf("unknown blob backend: %s", cfg.Storage.Blob.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Enabled {
		blobs = store.NewCachedBlobStore(blobs, cache.NewMemoryCache(
			cfg.Cache.MaxSize,
			cfg.Cache.MaxItems,
			cfg.Cache.DefaultTTL,
		), logger)
		logger.WithFields(logrus.Fields{
			"max_size":    cfg.Cache.MaxSize,
			"max_items":   cfg.Cache.MaxItems,
			"default_ttl": cfg.Cache.DefaultTTL,
		}).Debug("Blob cache enabled")
	}
	return blobs, nil
}

// unlock reads the master password and unlocks the vault.
func (a *app) unlock(ctx context.Context) error {
	password, err := readSecret(envMasterPassword, "Master password: ")
	if err != nil {
		return err
	}
	defer wipe(password)
	return a.vault.Unlock(ctx, password)
}

// Close locks the session and releases every resource openApp acquired.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.vault != nil {
		a.vault.Session().Close()
	}
	if a.metadata != nil {
		if err := a.metadata.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close metadata store: %w", err))
		}
	}
	if a.metrics != nil && a.cfg.Metrics.TextfilePath != "" {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
			errs = append(errs, err)
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}

// withApp opens the app, runs fn and closes the app.
func withApp(ctx context.Context, configPath string, fn func(a *app) error) (err error) {
	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(ctx); cerr != nil {
			a.logger.WithError(cerr).Warn("Failed to shut down cleanly")
		}
	}()
	return fn(a)
}
