package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vovarama1992/go-utils/logger"

	"github.com/Vovarama1992/alphasnap/internal/archive"
	"github.com/Vovarama1992/alphasnap/internal/config"
	"github.com/Vovarama1992/alphasnap/internal/convert"
	"github.com/Vovarama1992/alphasnap/internal/delivery"
	"github.com/Vovarama1992/alphasnap/internal/error_notificator"
	"github.com/Vovarama1992/alphasnap/internal/mask"
	"github.com/Vovarama1992/alphasnap/internal/pdf"
	"github.com/Vovarama1992/alphasnap/internal/quota"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {

	// =========================================================================
	// ENV / LOGGER
	// =========================================================================

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	baseLogger, _ := zap.NewProduction()
	defer baseLogger.Sync()
	zl := logger.NewZapLogger(baseLogger.Sugar())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// =========================================================================
	// QUOTA STORE
	// =========================================================================

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("quota store: %v", err)
	}
	defer closeStore()

	// =========================================================================
	// ERROR NOTIFICATION
	// =========================================================================

	notifiers := []error_notificator.Notificator{error_notificator.NewLogInfra(baseLogger)}
	if cfg.AdminBotToken != "" && cfg.AdminChatID != 0 {
		tg, err := error_notificator.NewTelegramInfra(cfg.AdminBotToken, cfg.AdminChatID)
		if err != nil {
			// без алертов сервис работает
			baseLogger.Warn("admin bot disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	errService := error_notificator.NewService(notifiers...)

	// =========================================================================
	// DOMAIN SERVICES
	// =========================================================================

	gate := quota.NewGate(store, quota.Config{
		DailyLimit: cfg.DailyLimit,
		Location:   cfg.QuotaTimezone,
		Secrets:    cfg.VIPPasswords,
	}, quota.WithLogger(baseLogger.Named("quota")))

	var renderer pdf.Renderer
	switch cfg.Renderer {
	case "fitz":
		renderer = pdf.NewFitzRenderer()
	default:
		renderer = pdf.NewPopplerRenderer(cfg.TmpDir)
	}

	pipeline := pdf.NewPipeline(renderer, mask.NewEngine(cfg.MaskThreshold),
		pdf.WithLogger(baseLogger.Named("pipeline")))
	loader := pdf.NewLoader(pdf.PdfcpuCounter{}, cfg.TmpDir)

	opts := []convert.Option{
		convert.WithLogger(baseLogger.Named("convert")),
		convert.WithNotifier(errService),
		convert.WithCommitPolicy(convert.CommitPolicy(cfg.QuotaCommitPolicy)),
		convert.WithMaxConcurrentJobs(cfg.MaxConcurrentJobs),
		convert.WithTempDir(cfg.TmpDir),
	}

	if cfg.ArchiveDelivery == "s3" {
		publisher, err := archive.NewS3Publisher(ctx, archive.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Secure:    true,
			URLTTL:    cfg.S3URLTTL,
		})
		if err != nil {
			log.Fatalf("failed to init s3: %v", err)
		}
		opts = append(opts, convert.WithPublisher(publisher))
	}

	convertService := convert.NewService(gate, loader, pipeline, convert.Limits{
		MaxPagesPerDocument: cfg.MaxPagesPerDocument,
		MaxPagesAtHighDPI:   cfg.MaxPagesAtHighDPI,
		HighDPIThreshold:    cfg.HighDPIThreshold,
		MaxDocumentsPerJob:  cfg.MaxDocumentsPerJob,
		MaxDPI:              cfg.MaxDPI,
		DefaultDPI:          cfg.DefaultDPI,
	}, opts...)

	// =========================================================================
	// HTTP ROUTER
	// =========================================================================

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Device-Id"},
		ExposedHeaders: []string{
			"Content-Disposition", "X-Conversion-Status", "X-Pages-Converted",
			"X-Pages-Failed", "X-Partial", "X-Job-Id",
		},
	}))

	quotaHandler := delivery.NewQuotaHandler(gate, zl)
	convertHandler := delivery.NewConvertHandler(convertService, cfg.MaxUploadBytes, zl)

	delivery.RegisterRoutes(r, quotaHandler, convertHandler, cfg.RateLimitPerMinute)

	// =========================================================================
	// START SERVER
	// =========================================================================

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zl.Log(logger.LogEntry{
		Level:   "info",
		Message: "listening at " + srv.Addr,
		Service: "alphasnap",
	})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// openStore picks the quota backend from QUOTA_STORE.
func openStore(ctx context.Context, cfg *config.Config) (quota.Store, func(), error) {
	switch cfg.QuotaStore {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL is not set")
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, nil, err
		}
		s := quota.NewPostgresStore(db)
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return s, func() { db.Close() }, nil

	case "sqlite":
		s, err := quota.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case "redis":
		s, err := quota.NewRedisStore(ctx, quota.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	default:
		return quota.NewMemoryStore(), func() {}, nil
	}
}
