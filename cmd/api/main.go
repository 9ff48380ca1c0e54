package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taleBook/internal/account"
	"taleBook/internal/api"
	"taleBook/internal/auth"
	"taleBook/internal/config"
	"taleBook/internal/database"
	"taleBook/internal/dbsync"
	"taleBook/internal/llm"
	"taleBook/internal/mailer"
	"taleBook/internal/storage"
	"taleBook/internal/story"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.API.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	logger.Info("storage client ready", slog.String("bucket", storageClient.Bucket()))

	store := database.Open(cfg.Sync.DBPath, logger)
	manager := dbsync.NewManager(storageClient, store, dbsync.Options{
		Key:           cfg.Sync.RemoteKey,
		Attempts:      cfg.Sync.Attempts,
		Backoff:       cfg.Sync.Backoff,
		CheckRevision: cfg.Sync.CheckRevision,
	}, logger)

	// 启动时拉取一次；远端缺失或损坏都会回落为空库，只有本地错误才致命。
	if _, err := manager.Pull(ctx); err != nil {
		log.Fatalf("initial pull: %v", err)
	}

	var notifier account.Notifier
	if m, err := mailer.NewSMTPMailer(cfg.SMTP, logger); err == nil {
		notifier = m
	} else {
		logger.Warn("smtp disabled, reset codes will not be emailed", slog.Any("error", err))
	}

	llmClient, err := llm.New(cfg.OpenAI, logger)
	if err != nil {
		log.Fatalf("init generation client: %v", err)
	}

	var sink story.ImageSink = story.LocalSink{Dir: cfg.Images.Dir}
	if cfg.Images.Upload {
		sink = story.BucketSink{Client: storageClient, Prefix: cfg.Images.RemotePrefix}
	}

	tokens, err := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.TTL)
	if err != nil {
		log.Fatalf("init token service: %v", err)
	}

	router := api.NewRouter(cfg.API, logger)
	api.RegisterRoutes(router, api.Dependencies{
		Accounts: account.NewService(manager, notifier, logger),
		Stories: story.NewService(llmClient, manager, sink, story.Options{
			StoryModel:   cfg.OpenAI.StoryModel,
			SummaryModel: cfg.OpenAI.SummaryModel,
			MaxTokens:    cfg.OpenAI.MaxTokens,
			Temperature:  cfg.OpenAI.Temperature,
			ImageSize:    cfg.OpenAI.ImageSize,
			BaseImage:    cfg.Images.BaseImage,
			Mask:         cfg.Images.Mask,
			Style:        cfg.Images.Style,
		}, logger),
		Sync:           manager,
		Tokens:         tokens,
		InternalSecret: cfg.API.InternalSecret,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start api server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
