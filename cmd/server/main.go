package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/cache"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/config"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/httpapi"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/notify"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/service"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/store"
	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/store/memory"
	pgstore "github.com/codeKobby/Nuel-s-foodzone-sub000/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	loc, err := time.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		logger.Fatal("unknown business time zone", zap.String("timezone", cfg.BusinessTimezone), zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		if cfg.IsProduction() {
			logger.Fatal("DATABASE_URL is required in production")
		}
		repo = memory.NewSeeded(logger)
		logger.Info("repository: in-memory")
	}

	var statsCache cache.StatsCache = cache.NoopStatsCache{}
	var bus notify.Bus = notify.NewLocalBus()
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisStatsCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using in-process cache and notifications", zap.Error(err))
			_ = client.Close()
		} else {
			statsCache = redisCache
			bus = notify.NewRedisBus(client, logger)
			closers = append(closers, client.Close)
			logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("cache: noop")
	}

	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo, logger)
	svc := service.New(repo, service.Options{
		Cache:    statsCache,
		Bus:      bus,
		Logger:   logger,
		Location: loc,
		StatsTTL: time.Duration(cfg.StatsCacheTTLSeconds) * time.Second,
		Approver: auth,
	})

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	monitor := service.NewMonitor(svc, logger)
	go watchBusinessDays(runCtx, svc, monitor, logger)

	api := httpapi.New(svc, monitor, auth, cfg.AllowedOrigins, logger)
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("reconciliation backend listening", zap.String("addr", cfg.Address()), zap.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	stopRun()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// watchBusinessDays keeps the monitor on the current business day, moving
// it to the next day when the period ends.
func watchBusinessDays(ctx context.Context, svc *service.Service, monitor *service.Monitor, logger *zap.Logger) {
	for ctx.Err() == nil {
		period := svc.Today()
		dayCtx, cancel := context.WithDeadline(ctx, period.End)
		if err := monitor.Watch(dayCtx, period); err != nil {
			logger.Warn("live stats monitor stopped", zap.String("period", period.Key), zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
		cancel()
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "696969": true, "101010": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must be digits only")
		}
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
