package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/edurace/realtime/devserver/hub"
	"github.com/edurace/realtime/devserver/server/gateway"
	httpServer "github.com/edurace/realtime/devserver/server/http"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("devserver", pflag.ContinueOnError)

	var (
		listenAddr   = fs.StringP("listen-addr", "a", ":8080", "gateway and api listen address")
		pingInterval = fs.Duration("ping-interval", 0, "engine.io ping interval (default 25s)")
		pingTimeout  = fs.Duration("ping-timeout", 0, "engine.io ping timeout (default 20s)")
		logLevel     = fs.StringP("log-level", "l", "debug", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	h := hub.New(&logger)
	gw := gateway.New(gateway.Config{
		Logger:       &logger,
		Hub:          h,
		PingInterval: *pingInterval,
		PingTimeout:  *pingTimeout,
	})
	srv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		Hub:        h,
		Gateway:    gw,
		ListenAddr: *listenAddr,
		OnShutdown: gw.Close,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(1)
	go srv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
