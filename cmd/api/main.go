// @title TNR Records API
// @version 1.0
// @description Consistencia de entidades: locks de edición, auditoría, merges y vínculos.
// @BasePath /
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tnr-records/internal/adapters/auth/staffiam"
	"tnr-records/internal/adapters/feed"
	"tnr-records/internal/adapters/storage"
	"tnr-records/internal/adapters/storage/sqlstore"
	"tnr-records/internal/domain/locks"
	"tnr-records/internal/domain/scoring"
	"tnr-records/internal/platform/config"
	"tnr-records/internal/platform/logger"
	"tnr-records/internal/platform/tracing"
	"tnr-records/internal/ports/auth"
	"tnr-records/internal/router"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tnr-records",
		Short:         "TNR records API (locks, audit, merges)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server (default)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "reap-locks",
			Short: "Delete expired edit locks once and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return reapLocks(cmd.Context())
			},
		},
	)
	return root
}

func setup() (config.Config, logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.New(logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: logger.ParseFormat(cfg.LogFormat),
		App:    cfg.AppName,
	})
	return cfg, log, nil
}

func routerOptions(cfg config.Config, st *storage.Handle, log logger.Logger) (router.Options, error) {
	policy, err := locks.ParsePolicy(cfg.Locks.EditPolicy)
	if err != nil {
		return router.Options{}, err
	}
	w, err := scoring.LoadWeights(cfg.Scoring.WeightsFile)
	if err != nil {
		return router.Options{}, err
	}

	var verifier auth.AuthVerifier
	if cfg.IAM.BaseURL != "" {
		client, err := staffiam.NewClient(staffiam.Config{
			BaseURL: cfg.IAM.BaseURL,
			APIKey:  cfg.IAM.APIKey,
			Timeout: cfg.IAM.Timeout,
		})
		if err != nil {
			return router.Options{}, err
		}
		verifier = staffiam.NewVerifier(client)
	} else {
		log.Warn("IAM_BASE_URL not set; accepting X-Debug-User-ID headers", nil)
	}

	return router.Options{
		AuthVerifier: verifier,
		Store:        st.Store,
		Logger:       log,
		LockTTL:      cfg.Locks.TTL,
		EditPolicy:   policy,
		Weights:      &w,
	}, nil
}

func serve(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTelEnabled {
		shutdown := tracing.Setup(cfg.AppName)
		defer func() { _ = shutdown(context.Background()) }()
	}

	st, err := storage.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer st.Close()

	opts, err := routerOptions(cfg, st, log)
	if err != nil {
		return err
	}
	svcs := router.NewServices(opts)

	reaper, err := locks.NewReaper(svcs.Locks, cfg.Locks.ReapSchedule, log)
	if err != nil {
		return fmt.Errorf("invalid LOCK_REAP_SCHEDULE: %w", err)
	}
	reaper.Start()

	var consumer *feed.Consumer
	if cfg.Kafka.Enabled {
		consumer = feed.NewConsumer(feed.Config{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
		}, svcs.Merges, log)
		consumer.Start(ctx)
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.NewHandler(svcs, opts),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", map[string]any{"addr": srv.Addr, "db_driver": cfg.Database.Driver})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server error", map[string]any{"error": err.Error()})
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", map[string]any{"error": err.Error()})
	}
	reaper.Stop(shutdownCtx)
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			log.Warn("candidate feed close failed", map[string]any{"error": err.Error()})
		}
	}
	return nil
}

func migrate(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	driver, err := sqlstore.ParseDriver(cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("migrate needs DB_DRIVER=postgres|sqlite: %w", err)
	}
	db, err := storage.OpenDB(ctx, driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqlstore.Migrate(ctx, db, driver); err != nil {
		return err
	}
	v, err := sqlstore.MigrationVersion(ctx, db, driver)
	if err != nil {
		return err
	}
	log.Info("migrations applied", map[string]any{"driver": driver, "version": v})
	return nil
}

func reapLocks(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, err := storage.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := locks.NewService(st.Store, locks.Options{TTL: cfg.Locks.TTL, Logger: log}).ReapExpired(ctx)
	if err != nil {
		return err
	}
	log.Info("expired locks removed", map[string]any{"count": n})
	return nil
}
