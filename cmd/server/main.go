package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"askdocs/internal/app"
	"askdocs/internal/config"
	"askdocs/internal/qcache"
	"askdocs/internal/ratelimit"
	"askdocs/internal/server"
	"askdocs/internal/usertoken"
	"askdocs/internal/util"
	"askdocs/pkg/ai"
	"askdocs/pkg/queue"
	"askdocs/pkg/storage"
	"askdocs/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	objects, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.JWKSURL,
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("failed to init gemini client: %v", err)
	}
	embedder := ai.NewGeminiEmbedder(gemini, cfg.EmbedModel, ai.DefaultRetryPolicy())
	generator := ai.NewGeminiGenerator(gemini, cfg.GenerateModel, ai.RetryPolicy{MaxAttempts: 3},
		time.Duration(cfg.AnswerTimeoutSeconds)*time.Second)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	cache := qcache.NewAnswerCache(redisClient, time.Duration(cfg.CacheTTLSeconds)*time.Second)

	rebuildQueue, err := queue.NewRebuildQueue(queue.RebuildQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.RebuildQueueStream,
		Group:      cfg.RebuildQueueGroup,
		MaxRetries: cfg.RebuildQueueRetries,
	})
	if err != nil {
		log.Fatalf("failed to init rebuild queue: %v", err)
	}

	appCore := app.New(app.Config{
		Store:            st,
		Objects:          objects,
		Embedder:         embedder,
		Generator:        generator,
		Cache:            cache,
		Queue:            rebuildQueue,
		MaxUploadBytes:   int64(cfg.MaxUploadMB) << 20,
		EmbedConcurrency: cfg.EmbedConcurrency,
		ScoreThreshold:   cfg.ScoreThreshold,
		CandidateCap:     cfg.CandidateCap,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rebuildQueue.Start(ctx, cfg.RebuildQueueConsumers, appCore.RunRebuild)

	rateWindow := time.Duration(cfg.RateLimitWindowSecs) * time.Second
	askLimiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "askdocs:ratelimit:ask", cfg.AskRateLimit, rateWindow)
	if err != nil {
		log.Fatalf("failed to init ask limiter: %v", err)
	}
	uploadLimiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "askdocs:ratelimit:upload", cfg.UploadRateLimit, rateWindow)
	if err != nil {
		log.Fatalf("failed to init upload limiter: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  verifier,
		AskLimiter:     askLimiter,
		UploadLimiter:  uploadLimiter,
		MaxUploadBytes: int64(cfg.MaxUploadMB) << 20,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
