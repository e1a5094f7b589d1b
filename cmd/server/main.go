package main

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"libreria/internal/ai"
	"libreria/internal/app"
	"libreria/internal/config"
	"libreria/internal/events"
	"libreria/internal/server"
	"libreria/internal/storage"
	"libreria/internal/store"
	"libreria/internal/util"
)

func main() {
	cfg, err := config.Load(os.Getenv("LIBRERIA_CONFIG"))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	util.InitLogger(cfg.LogLevel)

	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		slog.Error("parse session ttl", "error", err)
		os.Exit(1)
	}
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("connect database", "error", err)
		os.Exit(1)
	}

	var sessions store.SessionStore
	switch strings.TrimSpace(cfg.SessionStrategy) {
	case "jwt":
		sessions, err = store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL)
		if err != nil {
			slog.Error("init jwt sessions", "error", err)
			os.Exit(1)
		}
	default:
		sessions = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)
	}

	assistant := ai.NewAssistant(cfg.GeminiAPIKey, cfg.GenerationModel)
	if cfg.GeminiAPIKey == "" {
		slog.Warn("gemini api key not set, metadata generation degrades to fallback text")
	}

	var publisher *events.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			slog.Warn("event publisher unavailable, catalog events disabled", "error", err)
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	var covers storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(
			cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
			cfg.MinioBucket, cfg.MinioUseSSL, cfg.MinioPublicBaseURL,
		)
		if err != nil {
			slog.Warn("object storage unavailable, cover uploads disabled", "error", err)
		} else {
			covers = minioStore
		}
	}

	application := app.New(app.Config{
		Store:     st,
		Sessions:  sessions,
		Assistant: assistant,
		Events:    publisher,
		Covers:    covers,
	})

	srv, err := server.New(server.Config{
		App:                        application,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		MaxUploadBytes:             cfg.MaxUploadBytes,
	})
	if err != nil {
		slog.Error("init server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	slog.Info("server listening", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
