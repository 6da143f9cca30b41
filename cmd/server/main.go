package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arkova/substrate/internal/handlers"
	"github.com/arkova/substrate/internal/infrastructure/config"
	"github.com/arkova/substrate/internal/infrastructure/database"
	"github.com/arkova/substrate/internal/infrastructure/metrics"
	"github.com/arkova/substrate/internal/repositories/postgres"
	"github.com/arkova/substrate/internal/services"
	"github.com/arkova/substrate/internal/services/access"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultEnv = "dev"

func main() {
	// Get environment from ENV variable or use default
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	// Initialize configuration
	if err := config.InitConfig(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Connect to database
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pg.Close()

	logger.Info("connected to database",
		zap.String("user", cfg.Database.User),
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database),
	)

	// Initialize repositories
	typeRepo := postgres.NewPostgresTypeRepository(pg.DB)
	entityRepo := postgres.NewPostgresEntityRepository(pg.DB)
	attributeRepo := postgres.NewPostgresAttributeRepository(pg.DB)
	relationshipRepo := postgres.NewPostgresRelationshipRepository(pg.DB)
	activityRepo := postgres.NewPostgresActivityRepository(pg.DB)
	maskingRepo := postgres.NewPostgresMaskingRepository(pg.DB)
	capabilityRepo := postgres.NewPostgresCapabilityRepository(pg.DB)

	// Initialize services
	audit := services.NewAuditRecorder(activityRepo, logger)
	checker := access.NewRoleChecker(typeRepo, relationshipRepo)
	masker := services.NewMasker(maskingRepo, audit, logger)
	typeService := services.NewTypeService(typeRepo, audit, logger)
	entityService := services.NewEntityService(entityRepo, typeRepo, relationshipRepo, checker, masker, audit, logger)
	attributeService := services.NewAttributeService(attributeRepo, entityRepo, checker, masker, audit, logger)
	relationshipService := services.NewRelationshipService(relationshipRepo, entityRepo, typeRepo, audit, logger)
	archiveService := services.NewArchiveService(activityRepo, cfg.Retention.Window(), cfg.Retention.Archive, audit, logger)
	reportService := services.NewReportService(entityRepo, relationshipRepo, activityRepo, checker, logger)

	// Metrics
	collector := metrics.NewCollector()
	collector.SetActivityRepository(activityRepo)
	exporter := metrics.NewPrometheusExporter(collector)

	// HTTP router
	handler := handlers.NewHandler(
		typeService,
		entityService,
		attributeService,
		relationshipService,
		archiveService,
		reportService,
		masker,
		pg.HealthCheck,
		logger,
	)

	if env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware(collector, exporter))
	handler.RegisterRoutes(router, capabilityRepo)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	// Metrics HTTP server on its own port
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	// Refresh gauge metrics periodically
	gaugeCtx, stopGauges := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gaugeCtx.Done():
				return
			case <-ticker.C:
				exporter.Update(gaugeCtx)
			}
		}
	}()

	serverErrors := make(chan error, 2)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("http server error: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serverErrors:
		logger.Fatal("server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

		stopGauges()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", zap.Error(err))
		}

		logger.Info("shutdown complete")
	}
}
