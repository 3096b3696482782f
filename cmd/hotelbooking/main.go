// Package main запускает HTTP-сервер сервиса бронирования отелей.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/hotelbooking/internal/catalog"
	"github.com/mmeshcher/hotelbooking/internal/config"
	"github.com/mmeshcher/hotelbooking/internal/handler"
	"github.com/mmeshcher/hotelbooking/internal/middleware"
	"github.com/mmeshcher/hotelbooking/internal/repository"
	"github.com/mmeshcher/hotelbooking/internal/service"
)

const rateLimitBurst = 5

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	store, err := openStore(cfg)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error(), "driver", cfg.DatabaseDriver)
	}

	var hotelCatalog service.HotelCatalog
	if cfg.CatalogAddress != "" {
		hotelCatalog = catalog.NewClient(cfg.CatalogAddress)
	}

	svc := service.NewService(store, hotelCatalog, logger)
	defer svc.Close()

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT secret is not set, all requests will be rejected")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, rateLimitBurst)
	h := handler.NewHandler(svc, logger, authMiddleware, rateLimiter)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting hotel booking server", "addr", cfg.RunAddress, "driver", cfg.DatabaseDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func openStore(cfg *config.Config) (service.Store, error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		return repository.NewSQLiteRepository(cfg.DatabaseURI)
	default:
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	}
}
