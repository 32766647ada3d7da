// Command soap-server runs the SOAP say_hello service on its own
// listener, answering POST / with document/literal envelopes.
//
// It reads the same configuration as the gateway and listens on
// soap.port (default 8001).
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/rhuss/omnigate/pkg/codec"
	"github.com/rhuss/omnigate/pkg/config"
	"github.com/rhuss/omnigate/pkg/debug"
	"github.com/rhuss/omnigate/pkg/dispatcher"
	"github.com/rhuss/omnigate/pkg/handlers"
	"github.com/rhuss/omnigate/pkg/registry"
	"github.com/rhuss/omnigate/pkg/router"
	"github.com/rhuss/omnigate/pkg/session"
	"github.com/rhuss/omnigate/pkg/transport"
	transporthttp "github.com/rhuss/omnigate/pkg/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("soap server failed", "error", err)
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

	reg := registry.New()
	if err := handlers.RegisterSOAP(reg); err != nil {
		return fmt.Errorf("registering handlers: %w", err)
	}

	d := dispatcher.New(router.New(reg), codec.NewSet(codec.NewSOAP(cfg.SOAP.Namespace)),
		dispatcher.WithLogger(logger),
		dispatcher.WithMiddleware(transport.RequestID(), transport.Logging(logger)),
	)

	// Only the SOAP endpoint is mounted, at the root.
	acfg := transporthttp.DefaultConfig()
	acfg.MaxBodySize = cfg.Server.MaxBodySize
	acfg.Prefixes = transporthttp.Prefixes{SOAP: "/"}
	acfg.DisableMetrics = !cfg.Observability.Metrics.Enabled
	acfg.MetricsPath = cfg.Observability.Metrics.Path

	sessions := session.NewManager(session.WithLogger(logger))
	adapter := transporthttp.NewAdapter(d, sessions, acfg, transporthttp.WithAdapterLogger(logger))

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.SOAP.Port))
	logger.Info("soap server configured", "addr", addr, "namespace", cfg.SOAP.Namespace)

	return transporthttp.NewServer(adapter.Handler(), sessions,
		transporthttp.WithAddr(addr),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithLogger(logger),
	).ListenAndServe()
}
