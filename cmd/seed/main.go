package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"acero-store/internal/auth"
	"acero-store/internal/config"
	"acero-store/internal/db"
	"acero-store/internal/jobs"
	"acero-store/internal/notify"
	"acero-store/internal/observability"
	"acero-store/internal/product"
)

func main() {
	skipAdmin := flag.Bool("skip-admin", false, "only migrate and load the product catalog")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *skipAdmin); err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, skipAdmin bool) error {
	cfg, err := config.Load(config.Options{LoadDotEnv: true})
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	database, err := db.Open(ctx, cfg.DatabaseURL, cfg.DB)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(ctx, database); err != nil {
		return err
	}
	logger.Info("migrations_applied", nil)

	items, err := product.DefaultCatalog()
	if err != nil {
		return err
	}
	inserted, err := seedCatalog(ctx, product.NewRepository(database), items)
	if err != nil {
		return err
	}
	logger.Info("catalog_seeded", map[string]any{"products": len(items), "inserted": inserted})

	if skipAdmin {
		return nil
	}

	creds, err := adminCredentials(os.Getenv, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}

	queue := jobs.NewQueue(1, 8, 10*time.Second, logger)
	defer queue.Close()

	service := auth.NewService(auth.Dependencies{
		Store:       auth.NewRepository(database),
		Queue:       queue,
		EmailSender: notify.NewLogEmailSender(logger),
		PhoneSender: notify.NewLogPhoneLinkSender(logger, false),
		Logger:      logger,
	}, auth.Settings{Auth: cfg.Auth, FrontendURL: cfg.FrontendURL})

	admin, err := service.CreateAdmin(ctx, creds.Email, creds.Password, creds.Name)
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	logger.Info("admin_ready", map[string]any{"user_id": admin.ID, "email": admin.Email, "roles": admin.Roles})
	return nil
}

type upserter interface {
	Upsert(ctx context.Context, item product.SeedItem) (bool, error)
}

func seedCatalog(ctx context.Context, repo upserter, items []product.SeedItem) (int, error) {
	inserted := 0
	for _, item := range items {
		created, err := repo.Upsert(ctx, item)
		if err != nil {
			return inserted, err
		}
		if created {
			inserted++
		}
	}
	return inserted, nil
}
