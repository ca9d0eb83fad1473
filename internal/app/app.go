// Package app wires configuration, infrastructure clients, and the
// provisioner core into a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/nimbus-provisioner/provisioner/internal/config"
	"github.com/nimbus-provisioner/provisioner/internal/httpserver"
	"github.com/nimbus-provisioner/provisioner/internal/platform"
	"github.com/nimbus-provisioner/provisioner/internal/telemetry"
	"github.com/nimbus-provisioner/provisioner/pkg/clusterdoc"
	"github.com/nimbus-provisioner/provisioner/pkg/ctxbroker"
	"github.com/nimbus-provisioner/provisioner/pkg/dtrs"
	"github.com/nimbus-provisioner/provisioner/pkg/iaas"
	"github.com/nimbus-provisioner/provisioner/pkg/iaas/ec2driver"
	"github.com/nimbus-provisioner/provisioner/pkg/iaas/nimbusdriver"
	"github.com/nimbus-provisioner/provisioner/pkg/mattermost"
	"github.com/nimbus-provisioner/provisioner/pkg/messaging"
	"github.com/nimbus-provisioner/provisioner/pkg/notifier"
	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
	"github.com/nimbus-provisioner/provisioner/pkg/provisioner/memstore"
	"github.com/nimbus-provisioner/provisioner/pkg/provisioner/pgstore"
	"github.com/nimbus-provisioner/provisioner/pkg/provisioner/workpool"
	"github.com/nimbus-provisioner/provisioner/pkg/slack"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the mode named by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting provisioner", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	if cfg.Mode == "migrate" {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("migrate mode requires DATABASE_URL")
		}
		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	}

	var db *pgxpool.Pool
	var err error
	if cfg.DatabaseURL != "" {
		db, err = platform.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer db.Close()

		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
	}

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	core, err := buildCore(ctx, cfg, logger, db, rdb)
	if err != nil {
		return fmt.Errorf("building provisioner core: %w", err)
	}

	interval, err := time.ParseDuration(cfg.QueryInterval)
	if err != nil {
		return fmt.Errorf("parsing query interval %q: %w", cfg.QueryInterval, err)
	}
	reconciler := provisioner.NewReconciler(core, interval)

	switch cfg.Mode {
	case "server":
		return runServer(ctx, cfg, logger, db, rdb, core, reconciler)
	case "reconciler":
		return reconciler.Run(ctx)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// buildCore constructs the Store, Notifier, DTRS client, context broker
// client, cluster document parser, and IaaS driver registry, then wires
// them into a provisioner.Core.
func buildCore(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) (*provisioner.Core, error) {
	var store provisioner.Store
	if db != nil {
		store = pgstore.New(db)
	} else {
		store = memstore.New()
		logger.Info("using in-memory store (no DATABASE_URL configured)")
	}

	msgRegistry := messaging.NewRegistry()

	slackNotifier := slack.NewNotifier(cfg.SlackBotToken, cfg.SlackDefaultChannel, logger)
	if slackNotifier.IsEnabled() {
		msgRegistry.Register(slack.NewProvider(slackNotifier, logger))
		logger.Info("slack delivery enabled", "channel", cfg.SlackDefaultChannel)
	} else {
		logger.Info("slack delivery disabled (SLACK_BOT_TOKEN not set)")
	}

	if cfg.MattermostURL != "" && cfg.MattermostBotToken != "" {
		mmClient := mattermost.NewClient(cfg.MattermostURL, cfg.MattermostBotToken, logger)
		msgRegistry.Register(mattermost.NewProvider(mmClient, cfg.MattermostDefaultChannel, logger))
		logger.Info("mattermost delivery enabled", "url", cfg.MattermostURL)
	} else {
		logger.Info("mattermost delivery disabled (MATTERMOST_URL or MATTERMOST_BOT_TOKEN not set)")
	}

	nodeNotifier := notifier.New(rdb, msgRegistry, logger)

	dtrsClient := dtrs.New(cfg.DTRSBaseURL, http.DefaultClient)
	brokerClient := ctxbroker.New(cfg.ContextBrokerBaseURL, http.DefaultClient)
	docParser := clusterdoc.NewParser()

	registry := iaas.NewRegistry()
	if cfg.EC2Region != "" {
		driver, err := ec2driver.New(ctx, ec2driver.Config{
			Region:          cfg.EC2Region,
			AccessKeyID:     cfg.EC2AccessKeyID,
			SecretAccessKey: cfg.EC2SecretAccessKey,
			TagKey:          cfg.EC2TagKey,
			TagValue:        cfg.EC2TagValue,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("building ec2 driver: %w", err)
		}
		registry.Register(cfg.EC2Site, driver)
		logger.Info("ec2 site registered", "site", cfg.EC2Site, "region", cfg.EC2Region)
	}
	if cfg.NimbusBaseURL != "" {
		driver := nimbusdriver.New(nimbusdriver.Config{
			BaseURL: cfg.NimbusBaseURL,
			Key:     cfg.NimbusKey,
			Secret:  cfg.NimbusSecret,
			Logger:  logger,
		})
		registry.Register(cfg.NimbusSite, driver)
		logger.Info("nimbus site registered", "site", cfg.NimbusSite, "base_url", cfg.NimbusBaseURL)
	}

	runner := workpool.New(16)

	core := provisioner.New(store, nodeNotifier, dtrsClient, brokerClient, docParser, registry.Drivers(), runner,
		provisioner.WithLogger(logger))

	return core, nil
}

func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, core *provisioner.Core, reconciler *provisioner.Reconciler) error {
	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(telemetry.All()...)
	metricsReg.MustRegister(httpserver.Collectors()...)

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins:    cfg.CORSAllowedOrigins,
		ControllerTokenHashes: cfg.ControllerTokenHashes,
	}, logger, db, rdb, metricsReg)

	launchHandler := httpserver.NewLaunchHandler(core, logger)
	srv.APIRouter.Mount("/launches", launchHandler.Routes())

	nodeHandler := httpserver.NewNodeHandler(core, logger)
	srv.APIRouter.Mount("/nodes", nodeHandler.Routes())

	queryHandler := httpserver.NewQueryHandler(core, logger)
	srv.APIRouter.Post("/query", queryHandler.HandleTrigger)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	reconcilerCtx, cancelReconciler := context.WithCancel(ctx)
	defer cancelReconciler()
	go func() {
		if err := reconciler.Run(reconcilerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reconciler stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
