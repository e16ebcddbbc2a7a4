package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/devbackend"
	"storefront/internal/ratelimit"
	"storefront/internal/util"
	"storefront/services/devapi/internal/config"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, nil)

	store := devbackend.NewStore()
	if cfg.SeedProducts {
		for _, p := range devbackend.SeedProducts() {
			if _, err := store.AddProduct(p); err != nil {
				log.Fatalf("failed to seed products: %v", err)
			}
		}
	}
	tokens, err := devbackend.NewTokens(cfg.JWTSecret, cfg.TokenTTLDuration())
	if err != nil {
		log.Fatalf("failed to init tokens: %v", err)
	}

	var loginLimiter ratelimit.Limiter
	if cfg.LoginAttemptsPerMinute > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(ratelimit.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   "storefront:devapi:ratelimit",
			Limit:    cfg.LoginAttemptsPerMinute,
			Window:   time.Minute,
		})
		if err != nil {
			log.Fatalf("failed to init login limiter: %v", err)
		}
		defer limiter.Close()
		loginLimiter = limiter
	}

	trusted, err := util.ParseTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer, err := devbackend.New(devbackend.Config{
		Store:          store,
		Tokens:         tokens,
		LoginLimiter:   loginLimiter,
		TrustedProxies: trusted,
		Logger:         logger,
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("devapi server listening", "addr", addr, "products", len(store.Products()))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
