package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"studylib/internal/api"
	"studylib/internal/auth"
	"studylib/internal/config"
	"studylib/internal/db"
	"studylib/internal/email"
	"studylib/internal/events"
	"studylib/internal/metrics"
	"studylib/internal/models"
	"studylib/internal/presence"
	"studylib/internal/session"
	"studylib/internal/verification"
	"studylib/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	slog.Info("starting server", "name", cfg.Server.Name)

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	accounts := db.NewAccountRepository(database)
	refreshTokens := db.NewRefreshTokenRepository(database)
	messages := db.NewMessageRepository(database)

	cleanupService := db.NewCleanupService(refreshTokens)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go cleanupService.Start(cleanupCtx)

	var sender email.Sender = email.Disabled{}
	if cfg.Email.SMTP.Enabled() {
		sender = email.NewSMTPService(
			cfg.Email.SMTP.Host,
			cfg.Email.SMTP.Port,
			cfg.Email.SMTP.Username,
			cfg.Email.SMTP.Password,
			cfg.Email.SMTP.From,
		)
		slog.Info("email configured", "host", cfg.Email.SMTP.Host, "port", cfg.Email.SMTP.Port)
	} else {
		slog.Warn("email not configured, new accounts will be verified automatically")
	}

	healthChecks := map[string]api.HealthCheck{
		"database": database.PingContext,
	}

	var tracker presence.Tracker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}

		tracker = presence.NewRedisTracker(rdb, cfg.Redis.PresenceTTL)
		healthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		slog.Info("presence backed by redis", "addr", cfg.Redis.Addr)
	} else {
		tracker = presence.NewMemoryTracker(cfg.Redis.PresenceTTL)
		slog.Info("presence kept in memory")
	}

	m := metrics.New()
	hasher := auth.NewArgon2()
	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)

	verifier := verification.NewService(accounts, sender, auth.NewOTPGenerator(cfg.Auth.OTPTTL), hasher, verification.Config{
		PasswordMinLength: cfg.Auth.PasswordMinLength,
		SendTimeout:       cfg.Email.SendTimeout,
		Metrics:           m,
	})

	issuer := session.NewIssuer(accounts, refreshTokens, hasher, jwtService, verifier, tracker, session.Config{
		ResendOnUnverifiedLogin: *cfg.Auth.ResendOnUnverifiedLogin,
		Metrics:                 m,
	})

	hub := ws.NewHub(jwtService, accounts, messages, tracker, ws.Config{
		Rooms:            cfg.Chat.Rooms,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		Metrics:          m,
	})
	go hub.Run()

	bus := events.NewBus(slog.Default())
	defer bus.Close()

	verifier.OnVerified(func(ctx context.Context, account *models.Account, auto bool) error {
		return bus.PublishAccountVerified(ctx, events.AccountVerified{
			AccountID:    account.ID,
			Email:        account.Email,
			Name:         account.Name,
			AutoVerified: auto,
			VerifiedAt:   time.Now().UTC(),
		})
	})

	eventsCtx, eventsCancel := context.WithCancel(context.Background())
	if err := bus.SubscribeAccountVerified(eventsCtx, func(ctx context.Context, ev events.AccountVerified) error {
		if err := accounts.MarkJoinedGlobalChat(ctx, ev.AccountID); err != nil {
			return err
		}
		account, err := accounts.FindByID(ctx, ev.AccountID)
		if err != nil {
			return err
		}
		hub.AnnounceVerified(account)
		slog.Info("account joined global chat", "account_id", ev.AccountID, "auto_verified", ev.AutoVerified)
		return nil
	}); err != nil {
		slog.Error("failed to subscribe to account events", "error", err)
		os.Exit(1)
	}

	server, err := api.NewServer(cfg, api.Deps{
		JWT:          jwtService,
		Verifier:     verifier,
		Issuer:       issuer,
		Accounts:     accounts,
		Messages:     messages,
		Presence:     tracker,
		Hub:          hub,
		Metrics:      m,
		HealthChecks: healthChecks,
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	cleanupCancel()
	eventsCancel()

	server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
