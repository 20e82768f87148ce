package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-reminders/internal/api"
	"crm-reminders/internal/audit"
	"crm-reminders/internal/channels"
	"crm-reminders/internal/common/auth"
	awsclients "crm-reminders/internal/common/aws"
	"crm-reminders/internal/common/config"
	"crm-reminders/internal/common/database"
	apperrors "crm-reminders/internal/common/errors"
	httpclient "crm-reminders/internal/common/http"
	"crm-reminders/internal/common/logger"
	"crm-reminders/internal/common/observability"
	"crm-reminders/internal/common/zoho"
	"crm-reminders/internal/directory"
	"crm-reminders/internal/repository"
	"crm-reminders/internal/scheduler"
	"crm-reminders/internal/timerqueue"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	*rootOptions
	Migrate bool
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reminder API, startup recovery and the timer queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "apply database migrations before starting")

	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting reminder service...", zap.String("environment", cfg.App.Environment))

	tracing, err := observability.NewTracing(cfg.Tracing)
	if err != nil {
		return err
	}
	obs := observability.New(cfg.App.Name, log)

	// --- Init PostgreSQL with retry ---
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return err
	}
	if err := pingWithRetry(ctx, pg, 15, 2*time.Second, zapLog, "PostgreSQL connection"); err != nil {
		return err
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if opts.Migrate {
		if err := repository.Migrate(ctx, pg.DB); err != nil {
			return err
		}
		zapLog.Info("Migrations applied")
	}

	// --- Init Redis with retry ---
	rdb := database.NewRedis(cfg.Database.Redis)
	if err := pingWithRetry(ctx, rdb, 10, 2*time.Second, zapLog, "Redis connection"); err != nil {
		return err
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Audit trail ---
	var recorder audit.Recorder = audit.Nop{}
	if cfg.Audit.Enabled {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			return err
		}
		recorder = audit.NewElasticsearchRecorder(es.Client, cfg.Audit.Index)
		zapLog.Info("Elasticsearch audit trail enabled", zap.String("index", cfg.Audit.Index))
	}

	dir := buildDirectory(cfg, pg, rdb, log)

	registry, err := channels.BuildRegistry(ctx, cfg, awsclients.NewClients())
	if err != nil {
		return fmt.Errorf("channel setup failed: %w", err)
	}
	zapLog.Info("Delivery channels configured", zap.Strings("channels", registry.Keys()))

	// --- Engine ---
	queue := timerqueue.New(log)
	queue.Start()

	engine := scheduler.NewEngine(
		scheduler.Config{
			MessageMaxLength: cfg.Scheduler.MessageMaxLength,
			DeliveryTimeout:  cfg.Scheduler.DeliveryTimeout,
			RecoveryLookback: cfg.Scheduler.RecoveryLookback,
			DefaultSubject:   cfg.Notifications.DefaultSubject,
			OperatorAddress:  cfg.OperatorAddress,
		},
		repository.NewReminderStore(pg.DB),
		dir,
		registry,
		queue,
		recorder,
		log,
	)

	report, err := engine.RecoverOnStartup(ctx)
	if apperrors.HasCode(err, apperrors.ErrCodeStorage) {
		return fmt.Errorf("startup recovery failed: %w", err)
	}
	if err != nil {
		zapLog.Warn("Some reminders could not be recovered", zap.Error(err))
	}
	zapLog.Info("Startup recovery finished",
		zap.Int("scheduled", report.Scheduled),
		zap.Int("overdue", report.Overdue),
		zap.Int("skipped", report.Skipped),
		zap.Int("expired", report.Expired),
	)

	// --- HTTP ---
	validator, err := auth.NewValidator(cfg.Auth)
	if err != nil {
		return err
	}
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(api.NewHandler(engine, log), validator, obs, log),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}
	opsServer := newOpsServer(cfg.Server.OpsPort, newOpsHandler(
		map[string]pinger{"postgres": pg, "redis": rdb},
		queue.IsRunning,
	))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zapLog.Info("API server listening", zap.String("addr", apiServer.Addr))
		return listen(apiServer)
	})
	g.Go(func() error {
		zapLog.Info("Ops server listening", zap.String("addr", opsServer.Addr))
		return listen(opsServer)
	})

	// --- Graceful Shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		zapLog.Info("Shutdown signal received, stopping reminder service...")

		httpCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
		defer cancel()
		if err := apiServer.Shutdown(httpCtx); err != nil {
			zapLog.Warn("API server shutdown error", zap.Error(err))
		}
		if err := opsServer.Shutdown(httpCtx); err != nil {
			zapLog.Warn("Ops server shutdown error", zap.Error(err))
		}

		queueCtx, cancelQueue := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
		defer cancelQueue()
		if err := queue.ShutdownAll(queueCtx); err != nil {
			zapLog.Warn("Timer queue did not drain before timeout", zap.Error(err))
		}

		if err := obs.Shutdown(queueCtx); err != nil {
			zapLog.Warn("Meter provider shutdown error", zap.Error(err))
		}
		if err := tracing.Shutdown(queueCtx); err != nil {
			zapLog.Warn("Tracer provider shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	zapLog.Info("Reminder service stopped")
	return nil
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}

// buildDirectory picks the customer source and puts the two-tier cache in
// front of it. Transactions always come from Postgres.
func buildDirectory(cfg *config.Config, pg *database.PostgresClient, rdb *database.RedisClient, log logger.Logger) directory.Directory {
	pgDir := repository.NewCustomerDirectory(pg.DB)

	var source directory.Directory = pgDir
	if cfg.Directory.Source == "zoho" {
		zc := cfg.Integrations.Zoho
		crm := zoho.NewCRMClient(zc.BaseURL, zc.AuthToken, httpclient.NewClient(10*time.Second))
		source = directory.NewZohoDirectory(crm, pgDir)
	}

	return directory.NewCachedDirectory(source, rdb.Client, cfg.Directory.CacheTTL, cfg.Directory.LocalCacheTTL, log)
}
