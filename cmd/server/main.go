package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eternisai/search-chat/internal/auth"
	"github.com/eternisai/search-chat/internal/chat"
	"github.com/eternisai/search-chat/internal/config"
	"github.com/eternisai/search-chat/internal/finalizer"
	"github.com/eternisai/search-chat/internal/logger"
	"github.com/eternisai/search-chat/internal/related"
	"github.com/eternisai/search-chat/internal/routing"
	"github.com/eternisai/search-chat/internal/storage/pg"
	"github.com/eternisai/search-chat/internal/streaming"
	"github.com/eternisai/search-chat/internal/title_generation"
	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	log.Info("starting search-chat",
		slog.String("instance_id", logger.GetInstanceID()),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.Bool("chat_history_enabled", cfg.ChatHistoryEnabled))

	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	backend, closeBackend, err := newBackend(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize storage backend", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeBackend()

	sharedCache, closeCache := newSharedCache(ctx, cfg, log)
	defer closeCache()

	chatService := chat.NewService(backend, sharedCache, log)

	modelRouter, err := routing.NewModelRouter(cfg.ModelRouterConfig, log)
	if err != nil {
		log.Error("failed to initialize model router", slog.String("error", err.Error()))
		os.Exit(1)
	}

	titleService := title_generation.NewService(
		title_generation.NewGenerator(cfg.TitleGeneration.Prompt),
		modelRouter,
		cfg.TitleGeneration.Model,
		log,
	)
	relatedGenerator := related.NewGenerator(modelRouter, cfg.RelatedQuestions, log)

	turnFinalizer := finalizer.New(chatService, titleService, relatedGenerator,
		finalizer.Options{SaveHistory: cfg.ChatHistoryEnabled}, log)

	var nc *nats.Conn
	if cfg.NatsURL != "" {
		nc, err = nats.Connect(cfg.NatsURL,
			nats.Name("search-chat-"+logger.GetInstanceID()),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			log.Error("failed to connect to NATS, annotations will not be relayed",
				slog.String("error", err.Error()))
			nc = nil
		} else {
			log.Info("connected to NATS", slog.String("url", nc.ConnectedUrl()))
		}
	}
	relay := streaming.NewNATSRelay(nc, log, logger.GetInstanceID())

	tokenValidator, err := newTokenValidator(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize token validator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.RequestLoggingMiddleware(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(auth.NewMiddleware(tokenValidator, log).OptionalAuth())
	chat.NewHandler(chatService, log).RegisterRoutes(api)
	finalizer.NewHandler(turnFinalizer, relay, log).RegisterRoutes(api)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Vercel-AI-Data-Stream"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: corsHandler.Handler(router),
	}

	opsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: newOpsRouter(),
	}

	go func() {
		log.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	go func() {
		log.Info("ops server listening", slog.String("addr", opsSrv.Addr))
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops server failed", slog.String("error", err.Error()))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("ops server forced to shutdown", slog.String("error", err.Error()))
	}

	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Warn("failed to drain NATS connection", slog.String("error", err.Error()))
		}
	}

	log.Info("server exited")
}

// newBackend opens the configured conversation storage. The returned func releases it.
func newBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (chat.Backend, func(), error) {
	switch cfg.StorageBackend {
	case config.StorageBackendPostgres:
		db, err := pg.InitDatabase(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return chat.NewSQLBackend(db), func() { db.Close() }, nil

	case config.StorageBackendSQLite:
		db, err := pg.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using sqlite storage", slog.String("path", cfg.SQLitePath))
		return chat.NewSQLBackend(db), func() { db.Close() }, nil

	case config.StorageBackendFirestore:
		app, err := auth.NewFirebaseApp(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredJSON)
		if err != nil {
			return nil, nil, err
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, nil, err
		}
		return chat.NewFirestoreBackend(client), func() { client.Close() }, nil

	default:
		log.Warn("using in-memory storage, conversations are lost on restart")
		return chat.NewMemoryBackend(), func() {}, nil
	}
}

// newSharedCache prefers Redis and falls back to an in-process cache.
func newSharedCache(ctx context.Context, cfg *config.Config, log *logger.Logger) (chat.SharedCache, func()) {
	if cfg.RedisAddr != "" {
		cache, err := chat.NewRedisSharedCache(ctx, &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.SharedCacheTTL, log)
		if err == nil {
			log.Info("shared conversation cache backed by redis", slog.String("addr", cfg.RedisAddr))
			return cache, func() { cache.Close() }
		}
		log.Warn("redis unavailable, using in-memory shared cache", slog.String("error", err.Error()))
	}

	return chat.NewMemorySharedCache(cfg.SharedCacheSize, cfg.SharedCacheTTL), func() {}
}

func newTokenValidator(ctx context.Context, cfg *config.Config, log *logger.Logger) (auth.TokenValidator, error) {
	switch cfg.ValidatorType {
	case "firebase":
		log.Info("creating Firebase token validator", slog.String("project_id", cfg.FirebaseProjectID))
		app, err := auth.NewFirebaseApp(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredJSON)
		if err != nil {
			return nil, err
		}
		return auth.NewFirebaseTokenValidator(ctx, app)

	default:
		validator, err := auth.NewTokenValidator(ctx, cfg.JWTJWKSURL)
		if err != nil {
			return nil, err
		}
		if validator.DevMode() {
			log.Warn("JWT validator running in dev mode, signatures are not verified")
		}
		return validator, nil
	}
}

// newOpsRouter serves metrics and liveness on a separate listener.
func newOpsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
