package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelfilter/internal/api"
	"github.com/dunamismax/pixelfilter/internal/config"
	"github.com/dunamismax/pixelfilter/internal/logger"
	"github.com/dunamismax/pixelfilter/internal/pipeline"
	"github.com/dunamismax/pixelfilter/internal/ratelimit"
	"github.com/dunamismax/pixelfilter/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Log).WithField("component", "api")

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), cfg.Tracing, log)
	if err != nil {
		log.WithError(err).Fatal("tracing setup failed")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	if err := pipeline.Startup(); err != nil {
		log.WithError(err).Fatal("image runtime startup failed")
	}
	defer pipeline.Shutdown()

	if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
		log.WithError(err).WithField("dir", cfg.Storage.UploadDir).Fatal("create upload dir failed")
	}

	opts := api.Options{
		Logger:            log,
		UploadDir:         cfg.Storage.UploadDir,
		AllowedExtensions: cfg.Storage.AllowedExtensions,
		MaxUploadBytes:    cfg.API.MaxUploadBytes,
		Processor: pipeline.NewRunner(pipeline.RunnerConfig{
			OutputDir:   cfg.Storage.UploadDir,
			JPEGQuality: cfg.Pipeline.JPEGQuality,
		}),
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.WithError(err).Warn("redis client close failed")
			}
		}()

		limiter, err := ratelimit.NewRedisWindow(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, "")
		if err != nil {
			log.WithError(err).Fatal("rate limiter setup failed")
		}
		opts.RateLimiter = limiter
		log.WithFields(logrus.Fields{
			"requests": cfg.RateLimit.Requests,
			"window":   cfg.RateLimit.Window.String(),
			"redis":    cfg.RateLimit.RedisAddr,
		}).Info("rate limiting enabled")
	}

	app, err := api.NewServer(opts)
	if err != nil {
		log.WithError(err).Fatal("server setup failed")
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":       cfg.API.Addr,
			"upload_dir": cfg.Storage.UploadDir,
			"decoder":    pipeline.DecoderName(),
		}).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
