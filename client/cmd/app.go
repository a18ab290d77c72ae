package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/edurace/realtime/client/config"
	"github.com/edurace/realtime/client/model"
	"github.com/edurace/realtime/client/notify"
	"github.com/edurace/realtime/client/realtime"
	httpServer "github.com/edurace/realtime/client/server/http"
	"github.com/edurace/realtime/client/service"
	store "github.com/edurace/realtime/client/storage/memory"
	sw "github.com/edurace/realtime/client/switch"
	"github.com/edurace/realtime/client/telemetry"
	"github.com/edurace/realtime/client/transport"
	"github.com/edurace/realtime/client/transport/polling"
	"github.com/edurace/realtime/client/transport/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	bus := sw.NewSwitch(&logger)
	if cfg.ShouldDumpEvents() {
		bus.Connect(sw.Any, func(ev model.Event) {
			spew.Fdump(os.Stderr, ev)
		})
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry, nil)

	client := newClient(cfg, bus, metrics, &logger)

	svc := service.NewService(service.Config{
		Client:            client,
		Store:             store.NewMemStore(),
		Bus:               bus,
		Logger:            &logger,
		UserID:            cfg.UserID,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	defer svc.Close()

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:          &logger,
		RealtimeService: svc,
		Metrics:         telemetry.Handler(registry),
		ListenAddr:      cfg.APIListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.UserID != "" {
		// leaderboard membership is re-requested on every connect
		bus.Connect(model.SignalConnected, func(model.Event) {
			go func() { _ = svc.JoinLeaderboard("") }()
		})
	}
	client.Start(ctx)

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go svc.Run(ctx, wg)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	client.Disconnect()
	wg.Wait()
}

func newClient(
	cfg *config.Config,
	bus *sw.Switch,
	metrics *telemetry.PromMetrics,
	logger *zerolog.Logger,
) realtime.Service {
	if cfg.IsOffline() {
		logger.Info().Msg("offline mode, realtime features disabled")
		return realtime.Inert{}
	}

	dialers := make([]transport.Dialer, 0, len(cfg.Transports))
	for _, name := range cfg.Transports {
		switch name {
		case config.TransportWebsocket:
			dialers = append(dialers, websocket.NewTransport(websocket.Config{Logger: logger}))
		case config.TransportPolling:
			dialers = append(dialers, polling.NewTransport(polling.Config{Logger: logger}))
		}
	}

	return realtime.New(realtime.Config{
		Logger:   logger,
		Endpoint: cfg.WSURL,
		Dialer:   transport.NewFallback(logger, dialers...),
		Bus:      bus,
		Notifier: notify.NewLogNotifier(logger),
		Metrics:  metrics,
		Policy: realtime.ReconnectPolicy{
			MaxAttempts: cfg.MaxReconnectAttempts,
			BaseDelay:   cfg.ReconnectDelay,
		},
		ConnectTimeout:           cfg.ConnectTimeout,
		ReconnectOnAnyDisconnect: cfg.ReconnectOnAnyDisconnect(),
	})
}
