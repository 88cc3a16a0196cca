package main

import (
	"context"

	"go.uber.org/zap"

	"banklink/internal/infrastructure/linkapi"
	"banklink/internal/infrastructure/storage"
	httphandlers "banklink/internal/interfaces/http"
	"banklink/internal/session"
	"banklink/internal/shared/auth"
	"banklink/internal/shared/config"
	"banklink/internal/shared/retry"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	Storage      storage.Store
	closeStorage func() error

	Client   *linkapi.Client
	Sessions *session.Manager

	BankLinkHandler *httphandlers.BankLinkHandler
	JWT             *auth.JWT

	logger *zap.Logger
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	kv, closeStorage, err := storage.Open(ctx, storageOptions(cfg))
	if err != nil {
		return nil, err
	}
	logger.Info("storage ready",
		zap.String("driver", cfg.Storage.Driver),
		zap.Bool("sealed", cfg.Storage.EncryptionKey != ""),
	)

	client := linkapi.NewClient(linkapi.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		AuthToken: cfg.API.AuthToken,
		Logger:    logger,
	})
	logger.Info("link api configured", zap.String("base_url", client.BaseURL()))

	sessions, err := session.NewManager(session.Config{
		Client:           client,
		Storage:          kv,
		Retry:            retryPolicy(cfg),
		TransactionLimit: cfg.Sync.TransactionLimit,
		SyncInterval:     cfg.Sync.Interval,
		TickTimeout:      cfg.Sync.TickTimeout,
		RefreshOnOpen:    cfg.Sync.RefreshOnOpen,
		Logger:           logger,
	})
	if err != nil {
		closeStorage()
		return nil, err
	}

	return &Dependencies{
		Storage:         kv,
		closeStorage:    closeStorage,
		Client:          client,
		Sessions:        sessions,
		BankLinkHandler: httphandlers.NewBankLinkHandler(sessions, logger),
		JWT:             auth.NewJWT(cfg.JWT.Secret),
		logger:          logger,
	}, nil
}

// Close releases all resources held by dependencies. Sessions must be closed first.
func (d *Dependencies) Close() {
	if err := d.closeStorage(); err != nil {
		d.logger.Warn("failed to close storage", zap.Error(err))
	}
}

func storageOptions(cfg *config.Config) storage.Options {
	return storage.Options{
		Driver:        cfg.Storage.Driver,
		RedisURL:      cfg.Storage.RedisURL,
		RedisPrefix:   cfg.Storage.RedisPrefix,
		PostgresDSN:   cfg.Storage.Database.ConnectionString(),
		EncryptionKey: cfg.Storage.EncryptionKey,
	}
}

func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
	}
}
