package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/simplement/accounts/internal/app"
	"github.com/simplement/accounts/internal/auth"
	"github.com/simplement/accounts/internal/mailer"
	"github.com/simplement/accounts/internal/migrations"
	"github.com/simplement/accounts/internal/observability"
	"github.com/simplement/accounts/internal/platform/cache"
	"github.com/simplement/accounts/internal/platform/db"
	"github.com/simplement/accounts/internal/shared"
	"github.com/simplement/accounts/internal/verification"
	"github.com/simplement/accounts/internal/view"
	"github.com/simplement/accounts/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if err := migrations.Up(ctx, cfg.PGDSN); err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "accounts_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, hasher, logger, auth.ServiceConfig{RememberTTL: cfg.RememberTTL})

	translator := mailer.NoopTranslator{}
	mailTemplates, err := mailer.NewTemplateEngine(translator)
	if err != nil {
		logger.Error("parse mail templates", slog.Any("error", err))
		os.Exit(1)
	}

	verificationRepo := verification.NewRepository(dbpool)
	gate := verification.NewGate(verificationRepo, jobsClient, mailTemplates, translator, logger, verification.GateConfig{
		MinimumLevel:  verification.LevelEmail,
		EmailSubject:  cfg.VerificationSubject,
		EmailFrom:     cfg.SMTPFrom,
		EmailFromName: cfg.SMTPFromName,
		BaseURL:       cfg.AppBaseURL,
	})

	authHandler := auth.NewHandler(logger, authService, gate, templates, sessionManager, csrfManager, metrics)
	verificationHandler := verification.NewHandler(logger, gate, templates, csrfManager, metrics)
	verificationMW := verification.Middleware{Gate: gate, Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Templates:           templates,
		SessionManager:      sessionManager,
		CSRFManager:         csrfManager,
		AuthService:         authService,
		AuthHandler:         authHandler,
		VerificationHandler: verificationHandler,
		VerificationMW:      verificationMW,
		JobHandler:          jobHandler,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}
