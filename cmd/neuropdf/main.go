package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/3N-VOY/neuropdfv2/internal/ai"
	"github.com/3N-VOY/neuropdfv2/internal/chunker"
	"github.com/3N-VOY/neuropdfv2/internal/config"
	"github.com/3N-VOY/neuropdfv2/internal/db"
	"github.com/3N-VOY/neuropdfv2/internal/embedcache"
	"github.com/3N-VOY/neuropdfv2/internal/extract"
	"github.com/3N-VOY/neuropdfv2/internal/filestore"
	"github.com/3N-VOY/neuropdfv2/internal/handler"
	"github.com/3N-VOY/neuropdfv2/internal/job"
	"github.com/3N-VOY/neuropdfv2/internal/middleware"
	"github.com/3N-VOY/neuropdfv2/internal/repo"
	"github.com/3N-VOY/neuropdfv2/internal/schedule"
	"github.com/3N-VOY/neuropdfv2/internal/service"
	"github.com/3N-VOY/neuropdfv2/internal/vectorstore"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "neuropdf",
		Short: "pdf question answering backend",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the api server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			conn, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := db.ApplyMigrations(conn); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, conn)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, conn *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.String("vector_store", cfg.VectorStore.Type),
	)

	keyRepo := repo.NewApiKeyRepo(conn)
	docRepo := repo.NewDocumentRepo(conn)
	cacheRepo := repo.NewEmbeddingCacheRepo(conn)

	store, err := vectorstore.New(cfg.VectorStore, vectorstore.Deps{DB: conn})
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}

	embedder, generator, err := buildAIStack(cfg, cacheRepo)
	if err != nil {
		return err
	}

	var files filestore.Store
	if cfg.FileStore.Type != "" {
		files, err = filestore.New(cfg.FileStore)
		if err != nil {
			return fmt.Errorf("init file store: %w", err)
		}
	}

	sessions := service.NewSessionService(cfg.EmbedCache.LRUSize,
		time.Duration(cfg.EmbedCache.TTLHours)*time.Hour)
	authService := service.NewAuthService(keyRepo, cfg.Identity, cfg.Quota)
	ingestService := service.NewIngestService(docRepo, store, embedder,
		extract.NewPDFExtractor(cfg.Pipeline.MaxPages),
		chunker.New(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap),
		files, sessions,
		service.IngestOptions{MaxFileBytes: cfg.Pipeline.MaxFileBytes})
	queryService := service.NewQueryService(docRepo, store, embedder, generator, sessions,
		service.QueryOptions{
			TopK:             cfg.Pipeline.TopK,
			MaxContextChars:  cfg.Pipeline.MaxContextChars,
			MaxQuestionChars: cfg.Pipeline.MaxQuestionChars,
			Timeout:          time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		})

	deps := handler.RouterDeps{
		Auth:            handler.NewAuthHandler(authService),
		Documents:       handler.NewDocumentHandler(authService, ingestService, cfg.Pipeline.MaxFileBytes),
		QA:              handler.NewQAHandler(authService, queryService),
		Session:         handler.NewSessionHandler(sessions, ingestService),
		Validator:       authService,
		Environment:     cfg.Environment,
		CreateKeyWindow: time.Duration(cfg.RateLimit.CreateKeyWindowMillis) * time.Millisecond,
		RequestWindow:   time.Duration(cfg.RateLimit.WindowMillis) * time.Millisecond,
	}
	if !cfg.IsProduction() {
		deps.Debug = handler.NewDebugHandler(store)
	}

	engine, err := webapi.NewEngine(
		"/",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewQuotaResetJob(keyRepo), "5 0 * * *"); err != nil {
		return err
	}
	if err := scheduler.AddJob(job.NewKeyCleanupJob(keyRepo, docRepo, store), "30 3 * * *"); err != nil {
		return err
	}
	if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(cacheRepo, cfg.EmbedCache.DBTTLDays), "0 4 * * *"); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

// buildAIStack assembles the embedder and generator chains: provider,
// retry, then the two-level embedding cache.
func buildAIStack(cfg *config.Config, cacheRepo *repo.EmbeddingCacheRepo) (ai.IEmbedder, ai.IGenerator, error) {
	policy := ai.RetryPolicy{
		MaxAttempts: cfg.AI.Retry.MaxAttempts,
		Backoff:     time.Duration(cfg.AI.Retry.BackoffMillis) * time.Millisecond,
		MaxBackoff:  time.Duration(cfg.AI.Retry.MaxBackoffMill) * time.Millisecond,
	}

	embedEntries := make([]ai.EmbedderEntry, 0, 1+len(cfg.AI.EmbeddingFallbacks))
	for _, pc := range append([]config.ProviderConfig{cfg.AI.Embedding}, cfg.AI.EmbeddingFallbacks...) {
		provider, err := ai.NewEmbedProvider(pc.Provider, pc.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("init embedding provider %s: %w", pc.Provider, err)
		}
		embedEntries = append(embedEntries, ai.EmbedderEntry{
			Name:     pc.Provider,
			Embedder: ai.NewEmbedder(provider, pc.Model),
		})
	}
	embedder := ai.WrapRetryEmbedder(ai.NewGroupEmbedder(embedEntries), policy)
	embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheRepo)
	embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.EmbedCache.LRUSize,
		time.Duration(cfg.EmbedCache.TTLHours)*time.Hour)

	genEntries := make([]ai.GeneratorEntry, 0, 1+len(cfg.AI.GenerationFallbacks))
	for _, pc := range append([]config.ProviderConfig{cfg.AI.Generation}, cfg.AI.GenerationFallbacks...) {
		provider, err := ai.NewProvider(pc.Provider, pc.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("init generation provider %s: %w", pc.Provider, err)
		}
		genEntries = append(genEntries, ai.GeneratorEntry{
			Name:      pc.Provider,
			Generator: ai.NewGenerator(provider, pc.Model),
		})
	}
	generator := ai.WrapRetryGenerator(ai.NewGroupGenerator(genEntries), policy)
	return embedder, generator, nil
}
