package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kidshield/keyserver/internal/keymgmt/adapters/notification"
	"github.com/kidshield/keyserver/internal/keymgmt/app"
	"github.com/kidshield/keyserver/internal/keymgmt/middleware"
	pgrepo "github.com/kidshield/keyserver/internal/keymgmt/repository/postgres"
	httptransport "github.com/kidshield/keyserver/internal/keymgmt/transport/http"
	"github.com/kidshield/keyserver/internal/platform/config"
	"github.com/kidshield/keyserver/internal/platform/database"
	"github.com/kidshield/keyserver/internal/platform/logger"
	"github.com/kidshield/keyserver/internal/platform/messagebroker"
)

const serviceName = "keyserver"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Key server starting...", "port", cfg.ServerPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(rootCtx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Connected to PostgreSQL database")

	var notifier app.Notifier = app.NopNotifier{}
	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Warn("NATS unavailable, notifications disabled", "error", err)
	} else {
		defer natsClient.Close()
		notifier = notification.NewNATSNotifier(natsClient, appLogger)
		appLogger.Info("Connected to NATS")
	}

	// Repositories and transaction manager
	txManager := pgrepo.NewTxManager(dbPool)
	accountRepo := pgrepo.NewPgAccountRepository(appLogger)
	keyRepo := pgrepo.NewPgKeyRepository(appLogger)
	transferLogRepo := pgrepo.NewPgTransferLogRepository(appLogger)
	keyRequestRepo := pgrepo.NewPgKeyRequestRepository(appLogger)
	childRepo := pgrepo.NewPgChildRepository(appLogger)

	// Application services
	authService := app.NewAuthService(dbPool, accountRepo, app.AuthConfig{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessExpiry:  time.Duration(cfg.JWTAccessExpiryHours) * time.Hour,
		RefreshExpiry: time.Duration(cfg.JWTRefreshExpiryHours) * time.Hour,
	}, appLogger)
	transferService := app.NewTransferService(dbPool, txManager, accountRepo, keyRepo, transferLogRepo, appLogger)
	requestService := app.NewRequestService(dbPool, txManager, accountRepo, keyRepo, keyRequestRepo, transferLogRepo, notifier, appLogger)
	activationService := app.NewActivationService(dbPool, txManager, accountRepo, keyRepo, childRepo, transferLogRepo, notifier, cfg.KeyValidityYears, appLogger)
	keygenService := app.NewKeygenService(dbPool, txManager, accountRepo, keyRepo, cfg.KeyLength, cfg.KeyValidityYears, appLogger)
	hierarchyService := app.NewHierarchyService(dbPool, txManager, accountRepo, keyRepo, transferLogRepo, appLogger)
	reportService := app.NewReportService(dbPool, accountRepo, keyRepo, transferLogRepo, appLogger)

	// HTTP transport
	validate := validator.New()
	authHandler := httptransport.NewAuthHandler(authService, appLogger, validate)
	keyHandler := httptransport.NewKeyHandler(keygenService, transferService, reportService, appLogger, validate)
	requestHandler := httptransport.NewRequestHandler(requestService, reportService, appLogger, validate)
	accountHandler := httptransport.NewAccountHandler(hierarchyService, appLogger, validate)
	childHandler := httptransport.NewChildHandler(activationService, appLogger, validate)
	transferLogHandler := httptransport.NewTransferLogHandler(reportService, appLogger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(httptransport.PrometheusMetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbPool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "database unreachable"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	authHandler.RegisterRoutes(r)

	authMW := middleware.AuthMiddleware(authService, appLogger)
	r.Group(func(protected chi.Router) {
		protected.Use(authMW)
		keyHandler.RegisterRoutes(protected)
		requestHandler.RegisterRoutes(protected)
		accountHandler.RegisterRoutes(protected)
		childHandler.RegisterRoutes(protected)
		transferLogHandler.RegisterRoutes(protected)
	})

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ServerPort), Handler: r}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metricsMux}

	g, gCtx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		appLogger.Info(fmt.Sprintf("API server listening on port %d", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		appLogger.Info(fmt.Sprintf("Metrics server listening on port %d", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		appLogger.Info("Shutdown signal received, shutting down HTTP servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("API server shutdown failed", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics server shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Key server shut down gracefully.")
}
