package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"medivoice/internal/api"
	"medivoice/internal/auth"
	"medivoice/internal/config"
	"medivoice/internal/pipeline"
	"medivoice/internal/redis"
	"medivoice/internal/service/assistant"
	"medivoice/internal/service/llm"
	"medivoice/internal/storage"
	"medivoice/internal/transcript"
	"medivoice/internal/worker"
)

func setupLogging(basic config.BasicConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(strings.ToLower(basic.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if strings.EqualFold(basic.LogFormat, "text") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func main() {
	cfg, err := config.Load(os.Getenv("MEDIVOICE_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogging(cfg.BasicConfig)
	basic := cfg.BasicConfig

	dbType := os.Getenv("MEDIVOICE_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Info().Str("db", dbType).Msg("opening database")
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := storage.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create redis client")
	}
	if rdb == nil {
		log.Warn().Msg("redis disabled, tokens and call state stay in process")
	}
	defer rdb.Close()

	assistantService, err := assistant.NewService(db)
	if err != nil {
		log.Fatal().Err(err).Msg("init assistant service")
	}
	authService := auth.NewService(db, rdb, time.Duration(basic.TokenTTLHours)*time.Hour)
	factory := llm.NewFactory(cfg.Providers, time.Duration(basic.LLMTimeoutSeconds)*time.Second)

	// A user's own provider key wins over the configured one.
	clientFor := func(ctx context.Context, userID int64, provider, model string) (*llm.Client, error) {
		token, err := assistantService.HasUserToken(ctx, userID, provider)
		if err != nil {
			return nil, err
		}
		return factory.Client(ctx, provider, model, token)
	}
	reportGenerator := func(ctx context.Context, userID int64) (worker.ReportGenerator, error) {
		client, err := clientFor(ctx, userID, basic.ReportProvider, basic.ReportModel)
		if err != nil {
			return nil, err
		}
		return pipeline.New(client), nil
	}
	suggester := func(ctx context.Context, userID int64) (pipeline.Generator, error) {
		return clientFor(ctx, userID, basic.SuggestProvider, basic.SuggestModel)
	}

	workers := worker.NewManager(assistantService, reportGenerator, rdb, worker.DispatcherConfig{
		MinWorkers:        basic.MinWorkers,
		MaxWorkers:        basic.MaxWorkers,
		QueueSize:         basic.QueueSize,
		WorkerIdleTimeout: time.Duration(basic.WorkerIdleTimeout) * time.Minute,
	}, transcript.WithDedupScope(transcript.ParseDedupScope(basic.DedupScope)))
	defer workers.Stop()

	assistantService.StartReportSweeper(ctx,
		time.Duration(basic.SweepIntervalMinutes)*time.Minute,
		time.Duration(basic.PendingReportTTLMinutes)*time.Minute)

	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger())
	api.NewHandler(assistantService, authService, workers, suggester, rdb).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              basic.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
}
