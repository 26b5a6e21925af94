// Command importer ingests a crawler snapshot into the listing store using
// the soft-delete refresh cycle, then optionally runs retention and cache
// maintenance. Meant to run from the scraper's cron, after each crawl.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/rentscout/internal/commute/cache"
	"github.com/example/rentscout/internal/listing/domain"
	"github.com/example/rentscout/internal/listing/refresher"
	"github.com/example/rentscout/internal/listing/repository"
	"github.com/example/rentscout/internal/maintenance"
	"github.com/example/rentscout/pkg/events"
	"github.com/example/rentscout/pkg/observability"
)

func main() {
	_ = godotenv.Load()

	var (
		file           = flag.String("file", "", "path to the crawler snapshot (JSON)")
		retention      = flag.String("retention", "none", "retention policy after import: smart, simple or none")
		retentionDays  = flag.Int("retention-days", 30, "inactive listings older than this are eligible for deletion")
		runMaintenance = flag.Bool("maintenance", false, "run cache maintenance after import")
	)
	flag.Parse()

	logger := observability.SetupLogger("importer")
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *file, *retention, *retentionDays, *runMaintenance); err != nil {
		logger.Fatal("import failed", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger, file, retention string, retentionDays int, runMaintenance bool) error {
	if file == "" {
		return fmt.Errorf("-file is required")
	}
	switch retention {
	case "none", string(refresher.RetentionSimple), string(refresher.RetentionSmart):
	default:
		return fmt.Errorf("unknown retention policy %q", retention)
	}

	payload, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	items, err := refresher.ParseItems(payload)
	if err != nil {
		return err
	}

	dsn := firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	if dsn == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer pool.Close()
	repo := repository.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}

	var store domain.EntryStore
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		store = cache.NewRedisStore(client, "", 0, logger.Named("cache"))
	} else {
		logger.Warn("no redis configured, smart retention degrades to simple")
	}

	var natsConn *nats.Conn
	if url := os.Getenv("NATS_URL"); url != "" {
		if conn, err := nats.Connect(url, nats.Name("importer")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}
	publisher := events.NewPublisher(natsConn, "rentscout.events")

	ref, err := refresher.New(repo, store, domain.SystemClock{}, logger.Named("refresher"))
	if err != nil {
		return err
	}

	report, err := ref.Refresh(ctx, items)
	if err != nil {
		_ = publisher.Publish(ctx, events.RefreshRolledBack, report)
		return err
	}
	if err := publisher.Publish(ctx, events.RefreshCompleted, report); err != nil {
		logger.Warn("refresh event publish failed", zap.Error(err))
	}
	logger.Info("import finished",
		zap.Int("imported", report.Imported),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped))

	if retention != "none" {
		retReport, err := ref.Cleanup(ctx, refresher.RetentionPolicy(retention), retentionDays)
		if err != nil {
			return err
		}
		if err := publisher.Publish(ctx, events.RetentionCompleted, retReport); err != nil {
			logger.Warn("retention event publish failed", zap.Error(err))
		}
	}

	if runMaintenance {
		if store == nil {
			return fmt.Errorf("-maintenance requires REDIS_ADDR")
		}
		maintainer, err := maintenance.New(repo, store, domain.SystemClock{}, logger.Named("maintenance"))
		if err != nil {
			return err
		}
		mReport, err := maintainer.DailyMaintenance(ctx)
		if err != nil {
			return err
		}
		if err := publisher.Publish(ctx, events.MaintenanceCompleted, mReport); err != nil {
			logger.Warn("maintenance event publish failed", zap.Error(err))
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
