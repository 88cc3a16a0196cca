package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"banklink/internal/infrastructure/linkapi"
	"banklink/internal/infrastructure/storage"
	"banklink/internal/linksync"
	"banklink/internal/shared/config"
	"banklink/internal/shared/logging"
	"banklink/internal/shared/retry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	userID  string
	timeout time.Duration
	output  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "admin",
		Short: "Banklink admin CLI - run sync operations for a single user",
		Long: `Run bank-link operations against the configured backend and storage
for one user, outside the API server.

Configuration is read the same way the API reads it (environment plus the
optional BANKLINK_CONFIG file). The session is hydrated from storage before
each command and written back after it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.userID == "" {
				return fmt.Errorf("--user is required")
			}
			if opts.output != "text" && opts.output != "json" {
				return fmt.Errorf("--output must be text or json")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.userID, "user", "", "User ID to operate on (required)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Timeout for the operation")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "Output format: text or json")

	root.AddCommand(
		newLinkTokenCmd(opts),
		newRefreshCmd(opts),
		newStateCmd(opts),
		newDisconnectCmd(opts),
		newReorderCmd(opts),
	)
	return root
}

// session is one hydrated engine plus the resources behind it.
type session struct {
	engine       *linksync.Engine
	logger       *zap.Logger
	closeStorage func() error
	out          io.Writer
	format       string
}

func (s *session) Close() {
	if err := s.closeStorage(); err != nil {
		s.logger.Warn("failed to close storage", zap.Error(err))
	}
	_ = s.logger.Sync()
}

func openSession(ctx context.Context, cmd *cobra.Command, opts *rootOptions) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, err
	}

	// Each invocation is a fresh process, so memory storage starts empty.
	if cfg.Storage.Driver == config.StorageMemory {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: STORAGE_DRIVER is memory; state is not kept between commands (use redis or postgres)")
	}

	kv, closeStorage, err := storage.Open(ctx, storage.Options{
		Driver:        cfg.Storage.Driver,
		RedisURL:      cfg.Storage.RedisURL,
		RedisPrefix:   cfg.Storage.RedisPrefix,
		PostgresDSN:   cfg.Storage.Database.ConnectionString(),
		EncryptionKey: cfg.Storage.EncryptionKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	engine, err := linksync.NewEngine(linksync.Config{
		UserID: opts.userID,
		Client: linkapi.NewClient(linkapi.Config{
			BaseURL:   cfg.API.BaseURL,
			Timeout:   cfg.API.Timeout,
			AuthToken: cfg.API.AuthToken,
			Logger:    logger,
		}),
		Storage:          kv,
		Retry:            retry.Policy{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: cfg.Retry.BaseDelay},
		TransactionLimit: cfg.Sync.TransactionLimit,
		Logger:           logger,
	})
	if err != nil {
		closeStorage()
		return nil, err
	}

	if err := engine.Hydrate(ctx); err != nil {
		logger.Warn("session hydrated partially", zap.Error(err))
	}

	return &session{
		engine:       engine,
		logger:       logger,
		closeStorage: closeStorage,
		out:          cmd.OutOrStdout(),
		format:       opts.output,
	}, nil
}

// withSession runs fn against a hydrated session bounded by --timeout.
func withSession(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	s, err := openSession(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s)
}
