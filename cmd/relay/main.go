// Package main запускает websocket-шлюз реального времени.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/restopos-system/internal/config"
	"github.com/mmeshcher/restopos-system/internal/events"
	"github.com/mmeshcher/restopos-system/internal/identity"
	"github.com/mmeshcher/restopos-system/internal/relay"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.ParseRelay()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	consumer, err := events.NewConsumer(cfg.BrokerURI, "relay")
	if err != nil {
		sugar.Fatalw("broker initialization error", "error", err.Error())
	}

	hub := relay.NewHub(logger)
	identityClient := identity.NewClient(cfg.IdentityURL, cfg.AuthTimeout)
	srv := relay.NewServer(hub, identityClient, cfg.AuthTimeout, logger)

	server := &http.Server{Handler: srv.SetupRouter()}

	listener, err := listen(cfg)
	if err != nil {
		sugar.Fatalw("listener error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Раздача событий ленты подключённым сессиям. Цикл завершается
	// закрытием подписки в горутине останова, дораздав принятое.
	g.Go(func() error {
		hub.Run(consumer.Deliveries())
		return nil
	})

	// Приём websocket-подключений
	g.Go(func() error {
		sugar.Infow("starting relay", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("relay error: %w", err)
		}
		return nil
	})

	// Останов в строгом порядке: слушатель, подписка брокера, сессии
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down relay...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			sugar.Warnw("relay shutdown error", "error", err.Error())
		}
		consumer.Close()
		hub.Close()

		sugar.Info("relay stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// listen открывает unix-сокет, если задан путь, иначе TCP-адрес.
func listen(cfg *config.RelayConfig) (net.Listener, error) {
	if cfg.SocketPath != "" {
		if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		return net.Listen("unix", cfg.SocketPath)
	}
	return net.Listen("tcp", cfg.RunAddress)
}
