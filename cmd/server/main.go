package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"staybook/backend/internal/cache"
	"staybook/backend/internal/clock"
	"staybook/backend/internal/config"
	"staybook/backend/internal/events"
	"staybook/backend/internal/httpapi"
	"staybook/backend/internal/logger"
	"staybook/backend/internal/pricing"
	"staybook/backend/internal/scheduler"
	"staybook/backend/internal/service"
	"staybook/backend/internal/store"
	"staybook/backend/internal/store/memory"
	pgstore "staybook/backend/internal/store/postgres"
	"staybook/backend/internal/xid"
)

func main() {
	cfg := config.Load(".env")

	log, closeLogger, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		FluentHost: cfg.FluentHost,
		FluentPort: cfg.FluentPort,
		Tag:        cfg.AppName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "error", err)
		_ = closeLogger()
		os.Exit(1)
	}
	_ = closeLogger()
}

func run(cfg config.Config, log *slog.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("close error", "error", err)
			}
		}
	}()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		repo = pg
		log.Info("repository ready", "driver", "postgres")
	} else {
		repo = memory.NewSeeded(time.Now().UTC())
		log.Info("repository ready", "driver", "memory")
	}

	var rateStore cache.RateStore = cache.NewMemoryRateStore()
	if cfg.RedisAddr != "" {
		redisStore := cache.NewRedisRateStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 24*time.Hour)
		if err := redisStore.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using in-process rate cache", "error", err)
			_ = redisStore.Close()
		} else {
			rateStore = redisStore
			closers = append(closers, redisStore.Close)
			log.Info("rate cache ready", "store", "redis")
		}
	} else {
		log.Info("rate cache ready", "store", "memory")
	}

	clk := clock.NewRealClock()
	rates := pricing.NewRateCache(repo, rateStore, cfg.RateCacheTTL(), pricing.WithClock(clk), pricing.WithLogger(log))

	instanceID := xid.New("node")
	var publisher events.Publisher = events.NoopPublisher{Logger: log}
	var consumer *events.AMQPConsumer
	if cfg.RabbitMQURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL, cfg.RateEventsExchange, log)
		if err != nil {
			log.Warn("rabbitmq unavailable, rate events disabled", "error", err)
		} else {
			publisher = amqpPublisher
			closers = append(closers, amqpPublisher.Close)

			consumer, err = events.NewAMQPConsumer(cfg.RabbitMQURL, cfg.RateEventsExchange, instanceID, log)
			if err != nil {
				log.Warn("rate event consumer unavailable", "error", err)
				consumer = nil
			} else {
				closers = append(closers, consumer.Close)
			}
		}
	}

	svc := service.New(repo, rates, publisher, service.Options{InstanceID: instanceID, Clock: clk, Logger: log})

	if cfg.AdminPassword != "" {
		created, err := svc.BootstrapAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if !created {
			log.Info("admin account already present", "username", cfg.AdminUsername)
		}
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if consumer != nil {
		if err := consumer.Consume(runCtx, svc.HandleRateChanged); err != nil {
			log.Warn("rate event consumer failed to start", "error", err)
		}
	}

	warmer := scheduler.New(rates, cfg.RateWarmSchedule, clk, log)
	if entries, err := warmer.WarmNow(ctx); err != nil {
		log.Warn("initial rate cache warm-up failed", "error", err)
	} else {
		log.Info("rate cache warmed", "entries", entries)
	}
	if err := warmer.Start(); err != nil {
		return err
	}
	defer func() { <-warmer.Stop().Done() }()

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      70 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("pricing backend listening", "addr", cfg.Address(), "instance", instanceID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-runCtx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", "error", err)
	}
	log.Info("server stopped")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AdminPassword == "" {
		return nil
	}
	if len(cfg.AdminPassword) < 12 {
		return fmt.Errorf("ADMIN_PASSWORD must be at least 12 characters")
	}
	if err := validatePasswordStrength(cfg.AdminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD is too weak: %w", err)
	}
	return nil
}

// validatePasswordStrength rejects passwords that are a single repeated
// character, a run of consecutive characters, or start with a well-known
// weak password.
func validatePasswordStrength(password string) error {
	lower := strings.ToLower(password)
	for _, weak := range []string{"password", "admin", "qwerty", "letmein", "welcome", "123456", "changeme"} {
		if strings.HasPrefix(lower, weak) {
			return fmt.Errorf("common password not allowed")
		}
	}

	allSame := true
	for i := 1; i < len(password); i++ {
		if password[i] != password[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("repeated-character password not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(password); i++ {
		diff := int(password[i]) - int(password[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential password not allowed")
	}

	return nil
}
