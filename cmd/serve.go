package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/neyroplan/neyroplan/api"
	"github.com/neyroplan/neyroplan/internal/chat"
	"github.com/neyroplan/neyroplan/internal/config"
	"github.com/neyroplan/neyroplan/internal/gemini"
	"github.com/neyroplan/neyroplan/internal/log"
	"github.com/neyroplan/neyroplan/internal/session"
	"github.com/neyroplan/neyroplan/internal/storage"
)

// Outbound generation rate limit. One request per second with a small
// burst keeps a single browser client well inside the Gemini free-tier
// quota.
const (
	rateLimit = rate.Limit(1)
	rateBurst = 3
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe wires configuration, storage, the Gemini client and the
// orchestrator together and serves until interrupted.
func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	persister, closer, err := buildPersister(cfg)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	if closer != nil {
		defer func() {
			if closeErr := closer.Close(); closeErr != nil {
				logger.Warn("closing storage", "error", closeErr)
			}
		}()
	}

	store := session.NewStore(persister, logger)
	if err := store.Hydrate(ctx); err != nil {
		// A corrupt or unreadable snapshot should not block startup.
		logger.Warn("hydrating sessions failed, starting empty", "error", err)
	}

	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:            cfg.APIKey,
		ChatModel:         cfg.ChatModel,
		ImageModel:        cfg.ImageModel,
		VideoModel:        cfg.VideoModel,
		VideoPollInterval: cfg.VideoPollInterval(),
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("creating Gemini client: %w", err)
	}

	orch, err := chat.New(chat.Config{
		Store:         store,
		Generator:     client,
		Logger:        logger,
		RateLimiter:   rate.NewLimiter(rateLimit, rateBurst),
		BackgroundCtx: ctx,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	logger.Info("starting neyroplan",
		"version", AppVersion,
		"addr", cfg.Addr,
		"storage", cfg.StorageBackend)

	err = api.NewServer(store, orch, logger).Run(ctx, cfg.Addr)

	// Let in-flight title summarization land before storage closes.
	orch.Wait()
	return err
}

// buildPersister constructs the configured persistence backend. The
// returned closer is nil for backends without teardown.
func buildPersister(cfg *config.Config) (session.Persister, io.Closer, error) {
	path, err := cfg.ResolvedStoragePath()
	if err != nil {
		return nil, nil, err
	}
	switch cfg.StorageBackend {
	case config.StorageSQLite:
		s, err := storage.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		s, err := storage.NewFileStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
}
