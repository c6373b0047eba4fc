// Package main provides the multiplayer game server. It accepts
// websocket clients and brokers lobby chat and head-to-head sessions
// between them.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/thencandesigns/tictac/internal/broker"
	"github.com/thencandesigns/tictac/internal/config"
	"github.com/thencandesigns/tictac/internal/frontend/ws"
	"github.com/thencandesigns/tictac/internal/game/match"
	"github.com/thencandesigns/tictac/internal/game/table"
	"github.com/thencandesigns/tictac/internal/observability"
	"github.com/thencandesigns/tictac/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting game server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("path", cfg.Server.Path),
	)

	// Build services
	registry := broker.NewRegistry(cfg.Websocket.ConduitBuffer, logger)
	tbl := table.New(logger)
	matcher := match.New(tbl, registry, logger)
	handler := broker.NewHandler(registry, tbl, matcher, logger)
	acceptor := ws.NewAcceptor(cfg.Server, cfg.Websocket, handler, logger)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("websocket", &server.FuncService{
		StartFn: func() error {
			return acceptor.ListenAndServe()
		},
		StopFn: func() {
			acceptor.Stop()
		},
	})

	logger.Info("server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
