package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/auth"
	"github.com/rhuss/omnigate/pkg/auth/apikey"
	"github.com/rhuss/omnigate/pkg/auth/jwt"
	"github.com/rhuss/omnigate/pkg/auth/noop"
	"github.com/rhuss/omnigate/pkg/config"
	"github.com/rhuss/omnigate/pkg/dispatcher"
	"github.com/rhuss/omnigate/pkg/session"
	"github.com/rhuss/omnigate/pkg/storage"
	"github.com/rhuss/omnigate/pkg/storage/memory"
	"github.com/rhuss/omnigate/pkg/storage/postgres"
	transporthttp "github.com/rhuss/omnigate/pkg/transport/http"
)

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.DeliveryStore, error) {
	switch cfg.Type {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MigrateOnStart:  cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("creating postgres store: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres")
		return store, nil
	default:
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	}
}

// natsBus is the NATS connection and, in embedded mode, the in-process
// server behind it. Both are nil when NATS is not configured.
type natsBus struct {
	conn   *nats.Conn
	server *natsserver.Server
}

func connectNATS(cfg config.NATSConfig, logger *slog.Logger) (*natsBus, error) {
	bus := &natsBus{}
	if !cfg.Enabled() {
		return bus, nil
	}

	url := cfg.URL
	if cfg.Embedded {
		ns, err := natsserver.NewServer(&natsserver.Options{
			Port:   cfg.EmbeddedPort,
			NoLog:  true,
			NoSigs: true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedded nats server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return nil, errors.New("embedded nats server not ready")
		}
		bus.server = ns
		if url == "" {
			url = ns.ClientURL()
		}
		logger.Info("embedded nats server started", "url", ns.ClientURL())
	}

	nc, err := nats.Connect(url,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	bus.conn = nc
	logger.Info("nats connected", "url", nc.ConnectedUrl())
	return bus, nil
}

// HealthCheck reports whether the connection is usable.
func (b *natsBus) HealthCheck(context.Context) error {
	if b.conn == nil || !b.conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

func (b *natsBus) Close() {
	if b.conn != nil {
		b.conn.Drain()
	}
	if b.server != nil {
		b.server.Shutdown()
		b.server.WaitForShutdown()
	}
}

func newAuthMiddleware(cfg config.AuthConfig) (func(http.Handler) http.Handler, error) {
	chain := &auth.Chain{Default: auth.Reject}
	switch cfg.Type {
	case "", "none":
		chain.Authenticators = []auth.Authenticator{noop.Authenticator{}}
	case "apikey":
		keys := make([]apikey.Key, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			keys = append(keys, apikey.Key{Key: k.Key, Identity: auth.Identity{
				Subject:  k.Subject,
				Tier:     k.Tier,
				Scopes:   k.Scopes,
				Metadata: map[string]string{"tenant_id": k.TenantID},
			}})
		}
		chain.Authenticators = []auth.Authenticator{apikey.New(keys)}
	case "jwt":
		a, err := jwt.New(jwt.Config{
			Secret:   []byte(cfg.JWT.Secret),
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
			Leeway:   cfg.JWT.Leeway,
		})
		if err != nil {
			return nil, fmt.Errorf("creating jwt authenticator: %w", err)
		}
		chain.Authenticators = []auth.Authenticator{a}
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	var limiter auth.Limiter
	if cfg.RateLimit.Enabled {
		tiers := make(map[string]auth.Tier, len(cfg.RateLimit.Tiers))
		for name, t := range cfg.RateLimit.Tiers {
			tiers[name] = auth.Tier{RequestsPerSecond: t.RequestsPerSecond, Burst: t.Burst}
		}
		limiter = auth.NewTokenBucketLimiter(tiers, auth.Tier{
			RequestsPerSecond: cfg.RateLimit.Default.RequestsPerSecond,
			Burst:             cfg.RateLimit.Default.Burst,
		})
	}

	bypass := cfg.Bypass
	if len(bypass) == 0 {
		bypass = auth.DefaultBypass
	}
	return auth.Middleware(chain, limiter, bypass), nil
}

// newAdminMiddleware restricts the admin routes to identities holding the
// admin scope. Auth type "none" has no identities to tell apart, so the
// admin routes stay open there.
func newAdminMiddleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	switch cfg.Type {
	case "", "none":
		return nil
	default:
		return auth.RequireScope(auth.AdminScope)
	}
}

func sessionConfig(l config.SessionLimits) (session.Config, error) {
	policy, err := session.ParsePolicy(l.Policy)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		QueueSize:    l.QueueSize,
		Policy:       policy,
		BlockTimeout: l.BlockTimeout,
		IdleTimeout:  l.IdleTimeout,
	}, nil
}

func newSessionManager(cfg config.SessionsConfig, logger *slog.Logger) (*session.Manager, error) {
	defaults, err := sessionConfig(cfg.SessionLimits)
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	ws, err := sessionConfig(cfg.For(cfg.WS))
	if err != nil {
		return nil, fmt.Errorf("sessions.ws: %w", err)
	}
	sse, err := sessionConfig(cfg.For(cfg.SSE))
	if err != nil {
		return nil, fmt.Errorf("sessions.sse: %w", err)
	}
	return session.NewManager(
		session.WithDefaultConfig(defaults),
		session.WithProtocolConfig(api.ProtocolWS, ws),
		session.WithProtocolConfig(api.ProtocolSSE, sse),
		session.WithMaxSessions(cfg.MaxSessions),
		session.WithReapInterval(cfg.ReapInterval),
		session.WithLogger(logger),
	), nil
}

func dispatcherConfig(cfg config.DispatchConfig) dispatcher.Config {
	return dispatcher.Config{
		MaxInFlight:    cfg.MaxInFlight,
		MaxQueued:      cfg.MaxQueued,
		QueueTimeout:   cfg.QueueTimeout,
		HandlerTimeout: cfg.HandlerTimeout,
		StreamTimeout:  cfg.StreamTimeout,
		EncodeRetries:  cfg.EncodeRetries,
	}
}

func adapterConfig(cfg *config.Config) transporthttp.Config {
	c := transporthttp.DefaultConfig()
	c.MaxBodySize = cfg.Server.MaxBodySize
	c.WS.AllowedOrigins = cfg.Server.AllowedOrigins
	c.WS.PingInterval = cfg.Sessions.PingInterval
	c.SSE.KeepAlive = cfg.Sessions.KeepAlive
	c.MetricsPath = cfg.Observability.Metrics.Path
	c.DisableMetrics = !cfg.Observability.Metrics.Enabled
	return c
}
