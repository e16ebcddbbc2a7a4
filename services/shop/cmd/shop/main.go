package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"storefront/internal/metrics"
	"storefront/internal/util"
	"storefront/services/shop/internal/app"
	"storefront/services/shop/internal/config"
	"storefront/services/shop/internal/shell"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	requestTimeout, err := config.ParseDuration(cfg.RequestTimeout)
	if err != nil {
		log.Fatalf("failed to parse request timeout: %v", err)
	}
	successDelay, err := config.ParseDuration(cfg.SuccessDelay)
	if err != nil {
		log.Fatalf("failed to parse success delay: %v", err)
	}

	// The terminal belongs to the shell, so logs go to a file or stderr.
	var logOut io.Writer = os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			log.Fatalf("failed to open log file: %v", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := util.InitLogger(cfg.LogLevel, logOut)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		recorder = metrics.NewCollector(reg)
		metricsSrv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	appCfg := app.Config{
		APIBaseURL:             cfg.APIBaseURL,
		RequestTimeout:         requestTimeout,
		RequestsPerSecond:      cfg.RequestsPerSecond,
		RedisAddr:              cfg.RedisAddr,
		RedisPassword:          cfg.RedisPassword,
		RedisKeyPrefix:         cfg.RedisKeyPrefix,
		LoginAttemptsPerMinute: cfg.LoginAttemptsPerMinute,
		SuccessDelay:           successDelay,
		Metrics:                recorder,
		Logger:                 logger,
	}
	if cfg.Storage == config.StorageFile {
		appCfg.StorageDir = cfg.DataDir
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	sh := shell.New(appCore, shell.Options{In: os.Stdin, Out: os.Stdout, Logger: logger})
	if err := sh.Run(ctx); err != nil {
		logger.Error("shell error", "err", err)
	}
}
