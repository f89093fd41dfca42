package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/config"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/inbox"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("DISPATCH_CONFIG"), "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           svc.router,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := svc.runner.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if svc.inbox != nil {
		g.Go(func() error {
			purgeInbox(gctx, svc.inbox, logger)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("stopped", zap.Duration("shutdown_timeout", cfg.HTTP.ShutdownTimeout), zap.Error(err))
	return err
}

const inboxPurgeInterval = time.Hour

// purgeInbox drops expired webhook receipts until ctx is done.
func purgeInbox(ctx context.Context, receipts *inbox.PgInbox, logger *zap.Logger) {
	ticker := time.NewTicker(inboxPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := receipts.Purge(ctx)
			if err != nil {
				logger.Warn("webhook inbox purge failed", zap.Error(err))
				continue
			}
			logger.Debug("webhook inbox purged", zap.Int64("removed", removed))
		}
	}
}
