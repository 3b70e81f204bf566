package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fortsarb/screener/internal/config"
	"github.com/fortsarb/screener/internal/iss"
	"github.com/fortsarb/screener/internal/marketdata"
	"github.com/fortsarb/screener/internal/observ"
	"github.com/fortsarb/screener/internal/quik"
	"github.com/fortsarb/screener/internal/refresh"
	"github.com/fortsarb/screener/internal/resolver"
	"github.com/fortsarb/screener/internal/screener"
	"github.com/fortsarb/screener/internal/transport"
)

func main() {
	_ = godotenv.Load() // optional; env vars may come from the process environment

	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		// no logger yet
		panic(err)
	}

	log := observ.NewLogger(cfg.Env)
	defer log.Sync()

	pool, err := config.LoadPool(cfg.PoolPath)
	if err != nil {
		log.Fatal("pool load failed", zap.String("path", cfg.PoolPath), zap.Error(err))
	}

	cache := marketdata.NewCache()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	streamMode := cfg.Mode == "stream"
	scr := screener.New(cache, cfg.Symbols, cfg.Venue, *cfg.RiskFreeRate, streamMode)

	if streamMode {
		listener := quik.NewListener(cfg.Feed.Addr, cfg.Feed.FuturesBoard,
			time.Duration(cfg.Feed.BackoffSeconds)*time.Second, cache, pool, log)
		orch := refresh.New(cache, nil, nil, refresh.Config{}, log)
		orch.RunStream(ctx, listener)
		log.Info("stream mode", zap.String("feed", cfg.Feed.Addr))
	} else {
		client := iss.NewClient(cfg.Provider, log)
		res := resolver.New(cfg.FuturesRoots, client, cfg.Provider.LookbackDays, log)
		orch := refresh.New(cache, client, res, refresh.Config{
			Symbols:       cfg.Symbols,
			Venue:         cfg.Venue,
			Interval:      time.Duration(cfg.RefreshSeconds) * time.Second,
			DivWindow:     time.Duration(cfg.DividendRefreshSeconds) * time.Second,
			PreferredYear: cfg.PreferredYear,
		}, log)
		go orch.Run(ctx)
		log.Info("poll mode", zap.String("provider", cfg.Provider.BaseURL),
			zap.Int("symbols", len(cfg.Symbols)))
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: transport.NewServer(scr, pool,
			time.Duration(cfg.Server.PushIntervalSeconds)*time.Second, log).Router(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving", zap.String("addr", cfg.Server.Addr), zap.String("mode", cfg.Mode))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("shutdown complete")
}
