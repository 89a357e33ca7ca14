package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ledgerlens/internal/api"
	"ledgerlens/internal/config"
	"ledgerlens/internal/gemini"
	"ledgerlens/internal/invoice"
	"ledgerlens/internal/prompt"
	"ledgerlens/internal/redis"
	"ledgerlens/internal/storage"
	"ledgerlens/internal/vision"
	"ledgerlens/internal/worker"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("LEDGERLENS_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	dbType := os.Getenv("LEDGERLENS_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", dbType).Msg("open database")
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	// Job statuses survive a restart only when redis is reachable; the
	// service itself runs fine without it.
	var statusCache *worker.StatusCache
	rdb, err := redis.NewClient(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, job statuses stay in-process")
	} else {
		defer rdb.Close()
		statusCache = worker.NewStatusCache(rdb)
	}

	store := gemini.NewStore(cfg.Gemini.ConversationTimeout())
	client := gemini.NewClient(gemini.Options{
		APIKey:             cfg.Gemini.APIKey,
		Model:              cfg.Gemini.Model,
		MaxHistoryMessages: cfg.Gemini.MaxHistoryMessages,
		AppendBeforeSend:   !cfg.Gemini.AppendHistoryAfterSuccess,
	}, store, logger.With().Str("component", "gemini").Logger())

	registry := prompt.NewRegistry(logger.With().Str("component", "prompt").Logger())
	optimizer := vision.NewOptimizer(logger.With().Str("component", "vision").Logger())
	analyzer := invoice.NewAnalyzer(client, registry, logger.With().Str("component", "analyzer").Logger())

	persist := func(ctx context.Context, a *invoice.Analysis) error {
		return storage.SaveAnalysis(ctx, db, a)
	}
	manager := worker.NewManager(analyzer, persist, statusCache, logger.With().Str("component", "worker").Logger(), worker.Options{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})

	handlers := api.NewHandler(analyzer, manager, client, optimizer, db,
		cfg.BasicConfig.ServiceAPIKey, cfg.Gemini.UseHistoryByDefault,
		logger.With().Str("component", "api").Logger())

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	logger.Info().Str("addr", addr).Str("model", cfg.Gemini.Model).Msg("ledgerlens listening")
	if err := router.Run(addr); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
