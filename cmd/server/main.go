package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"huginn/internal/config"
	"huginn/internal/engine"
	"huginn/internal/gateway"
	"huginn/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Error().Err(err).Str("path", *configPath).Msg("unable to load config")
			os.Exit(1)
		}
		cfg = loaded
	}
	logging.Setup(cfg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// One instrument, one book. The gateway serializes every mutation
	// through its command loop.
	book := engine.NewOrderBook()
	srv := gateway.New(cfg.Server.Address, cfg.Server.Port, cfg.Server.Workers, cfg.Engine.MaxDepth, book)

	go srv.Run(ctx)
	// Block on running the server.
	<-ctx.Done()
}
