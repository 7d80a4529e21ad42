//cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
)

func main() {
	dir := flag.String("dir", "seed", "directory holding the seed SQL files")
	flag.Parse()

	cfg := config.Load()
	zl, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DB.DSN(), zl)
	if err != nil {
		zl.Fatal("failed to connect to DB", zap.Error(err))
	}
	defer conn.Close()

	// order matters: campaigns reference groups
	seedFiles := []string{
		"customers.sql",
		"providers.sql",
		"campaigns.sql",
	}

	for _, name := range seedFiles {
		file := filepath.Join(*dir, name)
		content, err := os.ReadFile(file)
		if err != nil {
			zl.Fatal("failed to read seed file", zap.String("file", file), zap.Error(err))
		}

		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			zl.Fatal("failed to execute seed file", zap.String("file", file), zap.Error(err))
		}
		zl.Info("Seeded", zap.String("file", file))
	}

	zl.Info("Database seeding completed successfully!")
}
