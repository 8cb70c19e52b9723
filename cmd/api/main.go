package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/api/handlers"
	"github.com/rc-assistant/backend/internal/cache/redis"
	"github.com/rc-assistant/backend/internal/chat"
	"github.com/rc-assistant/backend/internal/knowledge"
	"github.com/rc-assistant/backend/internal/llm"
	"github.com/rc-assistant/backend/internal/metrics"
	"github.com/rc-assistant/backend/internal/middleware/auth"
	"github.com/rc-assistant/backend/internal/middleware/ratelimit"
	"github.com/rc-assistant/backend/internal/middleware/security"
	"github.com/rc-assistant/backend/internal/middleware/validation"
	"github.com/rc-assistant/backend/internal/query"
	"github.com/rc-assistant/backend/internal/reference"
	"github.com/rc-assistant/backend/internal/storage/sqlite"
	"github.com/rc-assistant/backend/pkg/config"
	appLogger "github.com/rc-assistant/backend/pkg/logger"
	"github.com/rc-assistant/backend/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Research Centre Assistant API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var recorder chat.QuestionRecorder
	var popular handlers.PopularQuestionLister
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, popular questions disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			recorder = redisClient
			popular = redisClient
		}
	}

	loadRetry := retry.Config{
		MaxAttempts:    cfg.Reference.LoadAttempts,
		InitialDelay:   time.Duration(cfg.Reference.LoadBackoffMS) * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         appLogger.GetLogger(),
	}
	journals := reference.NewJournals(sqliteClient.JournalSource(), loadRetry)
	institutions := reference.NewInstitutions(sqliteClient.InstitutionSource(), loadRetry)

	if cfg.Reference.Preload {
		go preload(time.Duration(cfg.Reference.LoadTimeoutSec)*time.Second, journals.Cache, institutions.Cache)
	}

	llmClient := llm.NewClient(llm.Options{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	retriever := knowledge.NewRetriever(sqliteClient, cfg.Knowledge.Limit)
	engine := query.NewEngine(llmClient, retriever, sqliteClient, journals, institutions, query.Config{
		KnowledgeLimit: cfg.Knowledge.Limit,
		HistoryLimit:   cfg.Chat.HistoryLimit,
	})

	assembler := chat.NewAssembler(sqliteClient, engine, recorder, chat.Config{
		TitleLength:     cfg.Chat.TitleLength,
		MaxMessageChars: cfg.Chat.MaxMessageChars,
		ModeratorRoles:  []string{auth.RoleChairperson},
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ", ")
	}

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID, X-User-Role",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		ExemptRoles:          []string{auth.RoleAdmin},
		Logger:               appLogger.GetLogger(),
	})
	defer rateLimiter.Stop()

	app.Get("/metrics", metrics.MetricsHandler())

	handlers.Routes{
		Chat:      handlers.NewChatHandler(assembler),
		WebSocket: handlers.NewWebSocketHandler(assembler),
		Reference: handlers.NewReferenceHandler(journals, institutions),
		Questions: handlers.NewQuestionsHandler(popular),
		Health:    handlers.NewHealthHandler(sqliteClient.Ping, journals, institutions),
		Auth:      auth.Middleware(auth.Config{Logger: appLogger.GetLogger()}),
		RateLimit: rateLimiter.Middleware(),
		Validation: validation.Middleware(validation.Config{
			MaxMessageChars: cfg.Chat.MaxMessageChars,
			Logger:          appLogger.GetLogger(),
		}),
	}.Register(app)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Warn("Shutdown did not complete cleanly", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

// preload warms the reference caches. A failure only logs: lookups retry the
// load on first use.
func preload(timeout time.Duration, caches ...*reference.Cache) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, cache := range caches {
		if err := cache.EnsureLoaded(ctx); err != nil {
			appLogger.Warn("Reference cache preload failed",
				zap.String("cache", cache.Name()),
				zap.Error(err),
			)
		}
	}
}
