package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"leomail/backend/internal/config"
	"leomail/backend/internal/identity"
	"leomail/backend/internal/logger"
	"leomail/backend/internal/service"
	"leomail/backend/internal/storage/postgres"
)

// main 从身份提供方导入全部用户为联系人，只运行一次
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.IdentityEnabled() {
		fmt.Println("Identity provider not configured (LEOMAIL_IDENTITY_BASE_URL, LEOMAIL_IDENTITY_CLIENT_ID)")
		os.Exit(1)
	}
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		fmt.Println("Database not configured (LEOMAIL_DATABASE_TYPE, LEOMAIL_DATABASE_DSN)")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	store, err := postgres.Open(cfg.Database)
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	client, err := identity.NewClient(cfg.Identity, log)
	if err != nil {
		fmt.Printf("Failed to create identity client: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	importer := service.NewImportService(client, store, nil, nil, cfg.Identity.PageSize, log)
	result, err := importer.Run(ctx)
	if err != nil {
		fmt.Printf("Import failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ User import finished in %s\n", result.Duration)
	fmt.Printf("  Fetched:  %d\n", result.Fetched)
	fmt.Printf("  Imported: %d\n", result.Imported)
	fmt.Printf("  Skipped:  %d\n", result.Skipped)
	fmt.Printf("  Failed:   %d\n", result.Failed)
}
