package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"attune/backend/internal/analysis"
	"attune/backend/internal/api"
	"attune/backend/internal/config"
	"attune/backend/internal/database"
	"attune/backend/internal/feed"
	"attune/backend/internal/llm"
	"attune/backend/internal/repository"
	"attune/backend/internal/service"
)

func Run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		// slog is not yet configured, so use the default logger here.
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	setupLogger(cfg.LogLevel)
	logConfigSource()

	// The settings table always lives in SQLite, even when messages go to
	// Redis; it is a tiny local key/value store.
	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		return 1
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close database connection", "error", err)
		}
	}()
	slog.Info("Successfully connected to SQLite database.")

	var repo repository.Repository
	switch strings.ToLower(cfg.StorageBackend) {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			return 1
		}
		repo = repository.NewRedisRepository(rdb)
		slog.Info("Using Redis message store", "addr", cfg.RedisAddr)
	default:
		repo = repository.NewSQLiteRepository(db)
		slog.Info("Using SQLite message store", "path", cfg.DatabasePath)
	}

	settingsService := service.NewSettingsService(db)
	appSettings, err := settingsService.InitAndGet(context.Background(), service.Settings{
		SystemPrompt:  cfg.SystemPrompt,
		ReplyModel:    cfg.ReplyModel,
		AnalysisModel: cfg.AnalysisModel,
	})
	if err != nil {
		slog.Error("Failed to initialize application settings", "error", err)
		return 1
	}
	slog.Info("Loaded application settings", "reply_model", appSettings.ReplyModel)

	broker := feed.NewBroker()
	provider := llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	analyzer := analysis.NewAnalyzer(repo, provider, broker)

	exchangeService := service.NewExchangeService(repo, provider, broker, settingsService, analyzer)
	conversationService := service.NewConversationService(repo)

	chatHandler := api.NewChatHandler(exchangeService, conversationService, settingsService)
	eventsHandler := api.NewEventsHandler(broker, conversationService)
	router := api.NewRouter(chatHandler, eventsHandler, api.RouterConfig{
		JWTSecret:    cfg.JWTSecret,
		AuthRequired: cfg.AuthRequired,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AppPort),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		WriteTimeout:      0, // Disabled for the event-stream endpoint.
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("Starting server", "port", cfg.AppPort)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		return 1
	}
	return 0
}

func logConfigSource() {
	configFileUsed := viper.ConfigFileUsed()
	if configFileUsed != "" {
		slog.Info("Successfully loaded configuration from file.", "file", configFileUsed)
	} else {
		slog.Info("Configuration file not found. Using environment variables and defaults.")
	}
}

func setupLogger(logLevel string) {
	var level slog.Level
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
