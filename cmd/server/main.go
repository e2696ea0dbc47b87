package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"elibrary/internal/app"
	"elibrary/internal/auth"
	"elibrary/internal/config"
	"elibrary/internal/ratelimit"
	"elibrary/internal/server"
	"elibrary/internal/storage"
	"elibrary/internal/store"
	"elibrary/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	adminHash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.Fatalf("failed to hash admin password: %v", err)
	}
	if err := st.Seed(store.SeedConfig{
		AdminLogin:        cfg.AdminLogin,
		AdminPasswordHash: adminHash,
		AdminFirstName:    cfg.AdminFirstName,
		AdminLastName:     cfg.AdminLastName,
		Genres:            cfg.SeedGenres,
	}); err != nil {
		log.Fatalf("failed to seed database: %v", err)
	}

	var sessions store.SessionStore
	if cfg.RedisAddr != "" {
		sessions = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)
		slog.Info("using redis sessions", "addr", cfg.RedisAddr)
	} else {
		sessions = store.NewJWTSessionStore(cfg.SecretKey, sessionTTL)
		slog.Info("using stateless jwt sessions")
	}

	var covers storage.CoverStore
	if cfg.MinioEndpoint != "" {
		covers, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init minio storage: %v", err)
		}
		slog.Info("using minio cover storage", "endpoint", cfg.MinioEndpoint, "bucket", cfg.MinioBucket)
	} else {
		covers, err = storage.NewDiskStore(cfg.UploadDir)
		if err != nil {
			log.Fatalf("failed to init disk storage: %v", err)
		}
		slog.Info("using disk cover storage", "dir", cfg.UploadDir)
	}

	var loginLimiter *ratelimit.FixedWindowLimiter
	if cfg.LoginRateLimitPerMinute > 0 {
		loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "elibrary:ratelimit:login",
			cfg.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init login rate limiter: %v", err)
		}
	}

	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:             st,
		Sessions:          sessions,
		Covers:            covers,
		PageSize:          cfg.PageSize,
		DailyViewCap:      cfg.DailyViewCap,
		PopularWindowDays: cfg.PopularWindowDays,
		PopularLimit:      cfg.PopularLimit,
		RecentLimit:       cfg.RecentLimit,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:               appCore,
		LoginLimiter:      loginLimiter,
		TrustedProxies:    proxies,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		SessionTTL:        sessionTTL,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("catalog server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	slog.Info("catalog server stopped")
}
