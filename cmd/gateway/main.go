// Command gateway runs the omnigate protocol gateway.
//
// REST, webhooks, JSON-RPC, GraphQL, SOAP, SSE and WebSocket are served on
// one HTTP listener. JSON-RPC is also consumed from NATS when a NATS
// connection is configured.
//
// Configuration is read from a YAML file (-config, OMNIGATE_CONFIG,
// ./config.yaml or /etc/omnigate/config.yaml) and OMNIGATE_* environment
// variables. See pkg/config for the full list.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/rhuss/omnigate/pkg/codec"
	"github.com/rhuss/omnigate/pkg/config"
	"github.com/rhuss/omnigate/pkg/debug"
	"github.com/rhuss/omnigate/pkg/dispatcher"
	"github.com/rhuss/omnigate/pkg/events"
	"github.com/rhuss/omnigate/pkg/handlers"
	"github.com/rhuss/omnigate/pkg/registry"
	"github.com/rhuss/omnigate/pkg/router"
	"github.com/rhuss/omnigate/pkg/transport"
	transporthttp "github.com/rhuss/omnigate/pkg/transport/http"
	natstransport "github.com/rhuss/omnigate/pkg/transport/nats"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)
	logger := slog.Default()

	ctx := context.Background()

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	bus, err := connectNATS(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	var publisher events.Publisher = events.NoOpPublisher{}
	if bus.conn != nil {
		publisher = events.NewNATSPublisher(bus.conn, &events.NATSPublisherOpts{Subject: cfg.NATS.EventSubject})
	}

	reg := registry.New()
	if err := handlers.Register(reg, handlers.Options{
		Store:     store,
		Publisher: publisher,
		Logger:    logger,
	}); err != nil {
		return fmt.Errorf("registering handlers: %w", err)
	}

	d := dispatcher.New(router.New(reg), codec.Default(codec.Options{SOAPNamespace: cfg.SOAP.Namespace}),
		dispatcher.WithConfig(dispatcherConfig(cfg.Dispatch)),
		dispatcher.WithLogger(logger),
		dispatcher.WithMiddleware(
			transport.RequestID(),
			transport.Logging(logger),
		),
	)

	sessions, err := newSessionManager(cfg.Sessions, logger)
	if err != nil {
		return err
	}

	adapterOpts := []transporthttp.AdapterOption{
		transporthttp.WithAdapterLogger(logger),
		transporthttp.WithReadinessCheck("storage", store.HealthCheck),
	}
	authMW, err := newAuthMiddleware(cfg.Auth)
	if err != nil {
		return err
	}
	if authMW != nil {
		adapterOpts = append(adapterOpts, transporthttp.WithHTTPMiddleware(authMW))
	}
	if adminMW := newAdminMiddleware(cfg.Auth); adminMW != nil {
		adapterOpts = append(adapterOpts, transporthttp.WithAdminMiddleware(adminMW))
	}

	serverOpts := []transporthttp.ServerOption{
		transporthttp.WithAddr(cfg.Server.Addr()),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout),
		transporthttp.WithLogger(logger),
	}
	if bus.conn != nil {
		adapterOpts = append(adapterOpts, transporthttp.WithReadinessCheck("nats", bus.HealthCheck))
		rpc := natstransport.NewServer(bus.conn, d, natstransport.Config{
			Subject:    cfg.NATS.Subject,
			QueueGroup: cfg.NATS.QueueGroup,
		}, logger)
		serverOpts = append(serverOpts, transporthttp.WithRunner(rpc.Run))
	}

	adapter := transporthttp.NewAdapter(d, sessions, adapterConfig(cfg), adapterOpts...)

	logger.Info("gateway configured",
		"addr", cfg.Server.Addr(),
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
		"nats", cfg.NATS.Enabled(),
		"routes", d.Router().Len(),
	)

	return transporthttp.NewServer(adapter.Handler(), sessions, serverOpts...).ListenAndServe()
}
