package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avikstrom/finishline/internal/metrics"
	"github.com/avikstrom/finishline/internal/poll"
	"github.com/avikstrom/finishline/internal/push"
	"github.com/avikstrom/finishline/internal/server"
	"github.com/avikstrom/finishline/internal/store"
	"github.com/avikstrom/finishline/internal/upstream"
	"github.com/avikstrom/finishline/internal/ws"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the results relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.String("dbPath", cfg.DB.Path),
		zap.Duration("cacheFresh", cfg.Cache.Fresh()),
		zap.Duration("sweepInterval", cfg.Sweep.Interval()),
		zap.Bool("pushEnabled", cfg.Push.Enabled),
	)

	db, err := store.Open(cfg.DB.Path)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		return err
	}
	defer db.Close()

	m := metrics.New()
	cache := store.NewCache(db, logger)
	subs := store.NewSubscriptionStore(db, logger)
	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.RatePerSecond, cfg.Upstream.Timeout(), logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := ws.NewHub(logger)
	go hub.Run(runCtx)

	var sender push.Sender = push.NoopSender{}
	if cfg.Push.Enabled {
		sender = push.NewGatewayClient(cfg.Push.GatewayURL, cfg.Push.APIKey, cfg.Push.Timeout(), logger)
	}
	dispatcher := push.NewDispatcher(sender, hub, m, logger)

	coord := poll.NewCoordinator(client, cache, subs, dispatcher, m, cfg.Cache.Fresh(), logger)

	sweeper := poll.NewSweeper(coord, subs, cfg.Sweep.Interval(), cfg.Sweep.Window(),
		cfg.Sweep.MaxInFlight, m, logger)
	go sweeper.Run(runCtx)

	janitor := poll.NewJanitor(cache, subs, cfg.Retention.RunInterval(),
		cfg.Cache.Retention(), cfg.Retention.SubscriptionAge(), logger)
	go janitor.Run(runCtx)

	router := server.NewRouter(server.NewServer(coord, subs, m, hub, logger), logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	// Stop the sweep, retention and hub loops before draining HTTP.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}
