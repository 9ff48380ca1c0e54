package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"taleBook/internal/config"
	"taleBook/internal/database"
	"taleBook/internal/dbsync"
	"taleBook/internal/storage"
)

func main() {
	var (
		dir    = flag.String("dir", ".", "导出 JSON 所在目录（stories_users.json / personnages.json / stories.json）")
		dbPath = flag.String("db", "", "本地数据库路径（可选，默认读 SYNC_DB_PATH）")
		noPush = flag.Bool("no-push", false, "只重建本地数据库，不上传")
	)
	flag.Parse()

	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = cfg.Sync.DBPath
	}

	data, err := loadExports(*dir)
	if err != nil {
		log.Fatalf("load exports: %v", err)
	}

	// 旧文件整体丢弃，导入总是从空库开始。
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Fatalf("remove %s: %v", p, err)
		}
	}

	ctx := context.Background()
	store := database.Open(path, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	report, err := store.Seed(ctx, data)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	logger.Info("database seeded",
		slog.String("path", path),
		slog.Int("accounts", report.Accounts),
		slog.Int("characters", report.Characters),
		slog.Int("stories", report.Stories),
		slog.Int("images", report.Images),
		slog.Int("placeholders", report.Placeholders),
	)

	if *noPush {
		return
	}

	client, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	manager := dbsync.NewManager(client, store, dbsync.Options{
		Key:      cfg.Sync.RemoteKey,
		Attempts: cfg.Sync.Attempts,
		Backoff:  cfg.Sync.Backoff,
	}, logger)
	if err := manager.Push(ctx); err != nil {
		log.Fatalf("push: %v", err)
	}

	fmt.Printf("已上传 %s 到 %s/%s\n", path, client.Bucket(), cfg.Sync.RemoteKey)
}
