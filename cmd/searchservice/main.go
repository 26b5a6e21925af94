package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/example/rentscout/internal/commute"
	"github.com/example/rentscout/internal/commute/cache"
	commutehandler "github.com/example/rentscout/internal/commute/handler"
	"github.com/example/rentscout/internal/geo"
	"github.com/example/rentscout/internal/http/middleware"
	"github.com/example/rentscout/internal/listing/domain"
	"github.com/example/rentscout/internal/listing/refresher"
	"github.com/example/rentscout/internal/listing/repository"
	"github.com/example/rentscout/internal/maintenance"
	maintenancehandler "github.com/example/rentscout/internal/maintenance/handler"
	"github.com/example/rentscout/internal/maps"
	"github.com/example/rentscout/pkg/events"
	"github.com/example/rentscout/pkg/observability"
)

type appConfig struct {
	HTTPAddr        string
	PostgresDSN     string
	RedisAddr       string
	NATSURL         string
	GoogleAPIKey    string
	JWTSecret       string
	GeoPrecision    float64
	BatchPause      time.Duration
	DefaultRadiusKm float64
	CacheTTLDays    int
	MaintenanceCron string
	SearchRate      float64
	SearchBurst     float64
	AdminRate       float64
	AdminBurst      float64
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("search-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "search-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg := loadConfig()

	var readiness []observability.HealthCheck

	var repo domain.Repository
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		pg := repository.NewPostgresRepository(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("schema setup", zap.Error(err))
		}
		repo = pg
		readiness = append(readiness, pool.Ping)
	} else {
		logger.Warn("no postgres configured, using in-memory listings")
		repo = repository.NewMemoryRepository()
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
		readiness = append(readiness, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	cacheTTL := time.Duration(cfg.CacheTTLDays) * 24 * time.Hour
	var store domain.EntryStore
	if redisClient != nil {
		store = cache.NewRedisStore(redisClient, "", cacheTTL, logger.Named("cache"))
	} else {
		logger.Warn("no redis configured, commute cache is process-local")
		store = cache.NewMemoryStore(cacheTTL)
	}

	var provider maps.Provider
	if cfg.GoogleAPIKey != "" {
		provider = maps.NewGoogleClient(cfg.GoogleAPIKey, cmdableOrNil(redisClient), logger.Named("maps"))
	} else {
		logger.Warn("no maps api key, commute times are estimated")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("searchservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}
	publisher := events.NewPublisher(natsConn, "rentscout.events")

	filter, err := commute.NewGeoFilter(repo, logger.Named("geofilter"))
	if err != nil {
		logger.Fatal("geofilter setup", zap.Error(err))
	}
	svc, err := commute.NewService(filter, store, provider, domain.SystemClock{}, logger.Named("commute"), commute.Config{
		Precision:       cfg.GeoPrecision,
		BatchPause:      cfg.BatchPause,
		DefaultRadiusKm: cfg.DefaultRadiusKm,
	})
	if err != nil {
		logger.Fatal("commute service setup", zap.Error(err))
	}

	maintainer, err := maintenance.New(repo, store, domain.SystemClock{}, logger.Named("maintenance"))
	if err != nil {
		logger.Fatal("maintenance setup", zap.Error(err))
	}
	ref, err := refresher.New(repo, store, domain.SystemClock{}, logger.Named("refresher"))
	if err != nil {
		logger.Fatal("refresher setup", zap.Error(err))
	}

	isochrone := maps.NewIsochroneApproximator(cmdableOrNil(redisClient), logger.Named("isochrone"), cfg.GeoPrecision)

	limiter := middleware.NewRateLimiter(redisClient,
		middleware.RateConfig{Rate: cfg.SearchRate, Burst: cfg.SearchBurst},
		middleware.RateConfig{Rate: cfg.AdminRate, Burst: cfg.AdminBurst})

	r := chi.NewRouter()
	if limiter != nil {
		r.Use(limiter.Middleware)
	}
	r.Mount("/", commutehandler.NewHTTP(svc, isochrone).Router())
	r.Mount("/v1/maintenance", maintenancehandler.NewHTTP(maintainer, ref, cfg.JWTSecret).Router())
	r.Mount("/observability", observability.MetricsRouter(readiness...))

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.MaintenanceCron, func() {
		report, err := maintainer.DailyMaintenance(ctx)
		if err != nil {
			logger.Error("scheduled maintenance failed", zap.Error(err))
			return
		}
		if err := publisher.Publish(ctx, events.MaintenanceCompleted, report); err != nil {
			logger.Warn("maintenance event publish failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("maintenance schedule", zap.String("cron", cfg.MaintenanceCron), zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("search service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// cmdableOrNil avoids handing components a typed-nil interface value.
func cmdableOrNil(client *redis.Client) redis.Cmdable {
	if client == nil {
		return nil
	}
	return client
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		PostgresDSN:     firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		NATSURL:         os.Getenv("NATS_URL"),
		GoogleAPIKey:    os.Getenv("GOOGLE_MAPS_API_KEY"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		GeoPrecision:    parseFloatEnv("GEO_PRECISION", geo.DefaultPrecision),
		BatchPause:      time.Duration(parseIntEnv("BATCH_PAUSE_MS", 100)) * time.Millisecond,
		DefaultRadiusKm: parseFloatEnv("DEFAULT_RADIUS_KM", 5),
		CacheTTLDays:    parseIntEnv("CACHE_TTL_DAYS", 7),
		MaintenanceCron: getenv("MAINTENANCE_CRON", "0 2 * * *"),
		SearchRate:      parseFloatEnv("SEARCH_RATE", 10),
		SearchBurst:     parseFloatEnv("SEARCH_BURST", 20),
		AdminRate:       parseFloatEnv("ADMIN_RATE", 1),
		AdminBurst:      parseFloatEnv("ADMIN_BURST", 3),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
