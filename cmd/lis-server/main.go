package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/his/lis/internal/config"
	"github.com/his/lis/internal/domain/alerting"
	"github.com/his/lis/internal/domain/analyzer"
	"github.com/his/lis/internal/domain/laborder"
	"github.com/his/lis/internal/domain/qc"
	"github.com/his/lis/internal/platform/connection"
	"github.com/his/lis/internal/platform/db"
	"github.com/his/lis/internal/platform/hl7v2"
	"github.com/his/lis/internal/platform/middleware"
	"github.com/his/lis/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lis-server",
		Short: "Laboratory analyzer integration server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the LIS API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Error().Err(err).Msg("failed to load config")
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid config")
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Analyzer transport layer
	manager := connection.NewManager(logger,
		time.Duration(cfg.MLLPReadTimeoutSec)*time.Second,
		time.Duration(cfg.MLLPWriteTimeoutSec)*time.Second)

	// Outbound notifications
	var sender notification.Sender
	if cfg.NotifyWebhookURL != "" {
		sender = notification.NewWebhookSender(cfg.NotifyWebhookURL,
			time.Duration(cfg.NotifyTimeoutSec)*time.Second, cfg.NotifyRetryCount)
	} else {
		logger.Warn().Msg("NOTIFY_WEBHOOK_URL not set, notifications are logged only")
		sender = &notification.MockSender{}
	}
	notifier := notification.NewNotifier(sender, notification.NewTemplateEngine(), logger)

	// Repositories
	orderRepo := laborder.NewOrderRepoPG(pool)
	itemRepo := laborder.NewItemRepoPG(pool)
	rawRepo := laborder.NewRawResultRepoPG(pool)
	noteRepo := laborder.NewNoteRepoPG(pool)
	analyzerRepo := analyzer.NewAnalyzerRepoPG(pool)
	mappingRepo := analyzer.NewMappingRepoPG(pool)
	connLogRepo := analyzer.NewConnectionLogRepoPG(pool)
	worklistRepo := analyzer.NewWorklistRepoPG(pool)
	alertRepo := alerting.NewAlertRepoPG(pool)
	deltaRepo := alerting.NewDeltaRepoPG(pool)
	lotRepo := qc.NewLotRepoPG(pool)
	qcResultRepo := qc.NewResultRepoPG(pool)

	// Services
	laborderSvc := laborder.NewService(orderRepo, itemRepo, rawRepo, noteRepo, logger)
	analyzerSvc := analyzer.NewService(analyzerRepo, mappingRepo, connLogRepo, worklistRepo, manager, logger)
	alertingSvc := alerting.NewService(alertRepo, deltaRepo, cfg.DeltaCheckDefaultPercent, logger)
	qcSvc := qc.NewService(lotRepo, qcResultRepo, logger)

	// Cross-domain wiring
	laborderSvc.SetMappingResolver(analyzerSvc)
	laborderSvc.SetDeltaChecker(alertingSvc)
	laborderSvc.SetCriticalReporter(alertingSvc)
	laborderSvc.SetNotifier(notifier)
	alertingSvc.SetNotifier(notifier)
	laborderSvc.SetWorklistTracker(analyzerSvc)
	analyzerSvc.SetWorklistSource(laborderSvc)

	// Analyzer event dispatcher: inbound frames feed the result pipeline,
	// status changes and errors go to the connection audit log.
	go func() {
		for evt := range manager.Events() {
			switch evt.Type {
			case connection.EventFrameReceived:
				report, err := laborderSvc.ProcessFrame(ctx, evt.AnalyzerID, evt.Frame)
				if err != nil {
					logger.Error().Err(err).
						Str("analyzer_id", evt.AnalyzerID.String()).
						Msg("frame processing failed")
					continue
				}
				logger.Info().
					Str("analyzer_id", evt.AnalyzerID.String()).
					Int("matched", report.Matched).
					Int("unmatched", report.Unmatched).
					Int("faults", len(report.Faults)).
					Msg("frame processed")
			case connection.EventAckReceived:
				if err := analyzerSvc.AcknowledgeWorklist(ctx, evt.AnalyzerID); err != nil {
					logger.Error().Err(err).
						Str("analyzer_id", evt.AnalyzerID.String()).
						Msg("worklist acknowledge failed")
				}
			case connection.EventStatusChanged:
				detail := string(evt.Status)
				if evt.Remote != "" {
					detail += " " + evt.Remote
				}
				if err := analyzerSvc.RecordConnectionEvent(ctx, evt.AnalyzerID, string(evt.Type), detail); err != nil {
					logger.Error().Err(err).Msg("record connection event failed")
				}
			case connection.EventError:
				detail := ""
				if evt.Err != nil {
					detail = evt.Err.Error()
				}
				if err := analyzerSvc.RecordConnectionEvent(ctx, evt.AnalyzerID, string(evt.Type), detail); err != nil {
					logger.Error().Err(err).Msg("record connection event failed")
				}
			}
		}
	}()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Handlers
	analyzer.NewHandler(analyzerSvc).RegisterRoutes(apiV1)
	laborder.NewHandler(laborderSvc).RegisterRoutes(apiV1)
	alerting.NewHandler(alertingSvc).RegisterRoutes(apiV1)
	qc.NewHandler(qcSvc).RegisterRoutes(apiV1)
	notification.NewHandler(notifier).RegisterRoutes(apiV1)
	hl7v2.NewHandler().RegisterRoutes(apiV1)

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server stopped")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	manager.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}
	return nil
}
