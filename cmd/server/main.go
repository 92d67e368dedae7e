package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"crmgrid/internal/app"
	"crmgrid/internal/config"
	"crmgrid/internal/ratelimit"
	"crmgrid/internal/server"
	"crmgrid/internal/store"
	"crmgrid/internal/util"
	"crmgrid/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var recordStore store.Store
	switch cfg.Storage {
	case "memory":
		recordStore = store.NewMemoryStore()
	default:
		recordStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init database: %v", err)
		}
	}

	var blobs storage.BlobStore
	switch cfg.BlobBackend {
	case "minio":
		blobs, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init minio: %v", err)
		}
	case "memory":
		blobs = storage.NewMemoryBlobStore()
	default:
		blobs, err = storage.NewFileStore(cfg.UploadDir)
		if err != nil {
			log.Fatalf("failed to init upload dir: %v", err)
		}
	}

	var importLimiter, uploadLimiter *ratelimit.FixedWindowLimiter
	if cfg.ImportRateLimitPerMinute > 0 {
		importLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "crmgrid:ratelimit:import", cfg.ImportRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init import rate limiter: %v", err)
		}
	}
	if cfg.UploadRateLimitPerMinute > 0 {
		uploadLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "crmgrid:ratelimit:upload", cfg.UploadRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init upload rate limiter: %v", err)
		}
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore := app.New(app.Config{
		Store: recordStore,
		Blobs: blobs,
	})
	if cfg.SeedDefaults {
		if err := appCore.EnsureDefaults(); err != nil {
			log.Fatalf("failed to seed defaults: %v", err)
		}
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		ImportLimiter:  importLimiter,
		UploadLimiter:  uploadLimiter,
		TrustedProxies: trusted,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("crmgrid server listening", "addr", addr, "storage", cfg.Storage, "blobs", cfg.BlobBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
