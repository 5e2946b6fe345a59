// Package main запускает HTTP-сервер оркестратора заказов.
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

	"github.com/mmeshcher/restopos-system/internal/config"
	"github.com/mmeshcher/restopos-system/internal/events"
	"github.com/mmeshcher/restopos-system/internal/handler"
	"github.com/mmeshcher/restopos-system/internal/identity"
	"github.com/mmeshcher/restopos-system/internal/middleware"
	"github.com/mmeshcher/restopos-system/internal/repository"
	"github.com/mmeshcher/restopos-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	pub, err := events.NewPublisher(cfg.BrokerURI)
	if err != nil {
		sugar.Fatalw("broker initialization error", "error", err.Error())
	}
	defer pub.Close()

	svc := service.NewService(repo, pub, cfg.SiteName, cfg.TaxRatePct, logger)

	identityClient := identity.NewClient(cfg.IdentityURL, 5*time.Second)
	authMiddleware := middleware.NewAuthMiddleware(identityClient, cfg.SiteName)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting restopos server", "addr", cfg.RunAddress, "site", cfg.SiteName)
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
