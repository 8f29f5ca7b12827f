package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brandguard/backend/internal/db"
	apphttp "github.com/brandguard/backend/internal/http"
	httpH "github.com/brandguard/backend/internal/http/handlers"
	"github.com/brandguard/backend/internal/jobs"
	"github.com/brandguard/backend/internal/observability"
	"github.com/brandguard/backend/internal/platform/envutil"
	"github.com/brandguard/backend/internal/platform/gcp"
	"github.com/brandguard/backend/internal/platform/localmedia"
	"github.com/brandguard/backend/internal/platform/logger"
	"github.com/brandguard/backend/internal/platform/openai"
	"github.com/brandguard/backend/internal/platform/qdrant"
	"github.com/brandguard/backend/internal/repos"
	"github.com/brandguard/backend/internal/services"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	shutdownOTel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "brandguard-backend",
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
	})
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	auditTaskRepo := repos.NewAuditTaskRepo(thePG, log)
	aiCallLogRepo := repos.NewAICallLogRepo(thePG, log)

	// Platform clients
	log.Info("Setting up platform clients from main...")
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}

	qdrantCfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		log.Error("Could not resolve Qdrant config", "error", err)
		os.Exit(1)
	}
	vectorStore, err := qdrant.NewVectorStore(log, qdrantCfg)
	if err != nil {
		log.Error("Could not init Qdrant vector store", "error", err)
		os.Exit(1)
	}

	bucketService, err := gcp.NewBucketService(log)
	if err != nil {
		log.Error("Could not init bucket service", "error", err)
		os.Exit(1)
	}
	videoService, err := gcp.NewVideo(log)
	if err != nil {
		log.Error("Could not init video intelligence client", "error", err)
		os.Exit(1)
	}
	defer func() { _ = videoService.Close() }()

	mediaTools := localmedia.New(log)
	if err := mediaTools.AssertReady(context.Background()); err != nil {
		log.Warn("Media tools not fully available; audits will fail at download", "error", err)
	}

	// Services
	log.Info("Setting up services from main...")
	extractor := services.NewEvidenceExtractor(log, mediaTools, bucketService, videoService)
	retriever := services.NewRuleRetriever(log, openaiClient, vectorStore)
	analyzer := services.NewComplianceAnalyzer(log, openaiClient, thePG, aiCallLogRepo)

	registry := jobs.NewRegistry()
	runner := jobs.NewRunner(log, registry, extractor, retriever, analyzer, thePG, auditTaskRepo)

	chatService := services.NewChatService(log, registry, openaiClient, thePG, auditTaskRepo, aiCallLogRepo)

	// Handlers
	log.Info("Setting up handlers from main...")
	auditHandler := httpH.NewAuditHandler(log, runner, registry, auditTaskRepo)
	chatHandler := httpH.NewChatHandler(log, chatService)
	healthHandler := httpH.NewHealthHandler()

	// Router
	srv := apphttp.NewServer(apphttp.RouterConfig{
		Log:           log,
		AuditHandler:  auditHandler,
		ChatHandler:   chatHandler,
		HealthHandler: healthHandler,
	})

	port := envutil.String("PORT", "8080")
	log.Info("Server listening", "port", port)
	if err := srv.RunWithShutdown(":"+port, 15*time.Second); err != nil {
		log.Fatal("Server stopped", "error", err)
	}
	log.Info("Server shut down cleanly")
}
