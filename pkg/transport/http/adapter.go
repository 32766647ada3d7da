// Package http is the gateway's HTTP transport listener. It terminates
// every protocol on one listener: request/response protocols are handed to
// the dispatcher per request, while SSE and WebSocket connections get a
// Session whose outbound queue is pumped to the client.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/codec"
	"github.com/rhuss/omnigate/pkg/dispatcher"
	"github.com/rhuss/omnigate/pkg/observability"
	"github.com/rhuss/omnigate/pkg/session"
	"github.com/rhuss/omnigate/pkg/transport"
)

// Prefixes are the mount points of each protocol.
type Prefixes struct {
	REST      string
	Composite string
	Webhook   string
	RPC       string
	GraphQL   string
	SOAP      string
	SSE       string
	WS        string
}

// WSConfig tunes WebSocket connections.
type WSConfig struct {
	// ReadLimit caps the size of an inbound frame.
	ReadLimit int64
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// PingInterval is how often an idle connection is pinged.
	PingInterval time.Duration
	// AllowedOrigins lists accepted Origin headers. Empty allows any.
	AllowedOrigins []string
}

// SSEConfig tunes Server-Sent Event streams.
type SSEConfig struct {
	// KeepAlive is how often a comment line is sent on a quiet stream.
	KeepAlive    time.Duration
	WriteTimeout time.Duration
}

// Config configures the Adapter.
type Config struct {
	MaxBodySize int64
	Prefixes    Prefixes
	WS          WSConfig
	SSE         SSEConfig

	// MetricsPath serves the Prometheus registry unless DisableMetrics is set.
	MetricsPath    string
	DisableMetrics bool
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 10 << 20, // 10 MB
		Prefixes: Prefixes{
			REST:      "/rest",
			Composite: "/composite",
			Webhook:   "/webhook",
			RPC:       "/rpc",
			GraphQL:   "/graphql",
			SOAP:      "/soap",
			SSE:       "/sse",
			WS:        "/ws",
		},
		WS: WSConfig{
			ReadLimit:    1 << 20,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
		},
		SSE: SSEConfig{
			KeepAlive:    15 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		MetricsPath: "/metrics",
	}
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Adapter maps HTTP requests onto the dispatcher.
type Adapter struct {
	d        *dispatcher.Dispatcher
	sessions *session.Manager
	cfg      Config
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	logger   *slog.Logger

	middleware []func(http.Handler) http.Handler
	admin      []func(http.Handler) http.Handler
	checks     map[string]ReadinessCheck
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithHTTPMiddleware wraps the protocol and admin routes, in order (the
// first is outermost). Authentication is installed this way.
func WithHTTPMiddleware(mw ...func(http.Handler) http.Handler) AdapterOption {
	return func(a *Adapter) { a.middleware = append(a.middleware, mw...) }
}

// WithAdminMiddleware wraps only the /admin routes, inside the
// WithHTTPMiddleware chain. Admin authorization is installed this way.
func WithAdminMiddleware(mw ...func(http.Handler) http.Handler) AdapterOption {
	return func(a *Adapter) { a.admin = append(a.admin, mw...) }
}

// WithReadinessCheck adds a check reported by /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) AdapterOption {
	return func(a *Adapter) { a.checks[name] = check }
}

// WithAdapterLogger sets the logger.
func WithAdapterLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter creates an Adapter. Zero fields of cfg take their defaults.
func NewAdapter(d *dispatcher.Dispatcher, sessions *session.Manager, cfg Config, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		d:        d,
		sessions: sessions,
		cfg:      cfg.withDefaults(),
		mux:      http.NewServeMux(),
		logger:   slog.Default(),
		checks:   make(map[string]ReadinessCheck),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
		Error:           a.rejectHandshake,
	}

	p := a.cfg.Prefixes
	if a.serves(api.ProtocolREST) {
		a.mount(p.REST, a.handleRequest(api.ProtocolREST))
		a.mount(p.Composite, a.handleRequest(api.ProtocolREST))
	}
	if a.serves(api.ProtocolRPC) {
		a.mount(p.RPC, a.handleRequest(api.ProtocolRPC))
	}
	if a.serves(api.ProtocolGraphQL) {
		a.mount(p.GraphQL, a.handleRequest(api.ProtocolGraphQL))
	}
	if a.serves(api.ProtocolSOAP) {
		a.mount(p.SOAP, a.handleRequest(api.ProtocolSOAP))
	}
	if a.serves(api.ProtocolWebhook) {
		a.mux.Handle("POST "+p.Webhook, a.handleRequest(api.ProtocolWebhook))
		a.mux.Handle("POST "+p.Webhook+"/{source}", a.handleWebhookSource())
	}
	if a.serves(api.ProtocolSSE) {
		a.mount(p.SSE, http.HandlerFunc(a.handleSSE))
	}
	if a.serves(api.ProtocolWS) {
		a.mount(p.WS, http.HandlerFunc(a.handleWS))
	}

	a.mux.Handle("GET /admin/routes", a.adminOnly(a.handleListRoutes))
	a.mux.Handle("GET /admin/sessions", a.adminOnly(a.handleListSessions))
	a.mux.Handle("DELETE /admin/sessions/{id}", a.adminOnly(a.handleCloseSession))
	a.mux.Handle("GET /admin/inflight", a.adminOnly(a.handleListInFlight))
	a.mux.Handle("DELETE /admin/inflight/{id}", a.adminOnly(a.handleCancelInFlight))

	return a
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = d.MaxBodySize
	}
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&c.Prefixes.REST, d.Prefixes.REST)
	fill(&c.Prefixes.Composite, d.Prefixes.Composite)
	fill(&c.Prefixes.Webhook, d.Prefixes.Webhook)
	fill(&c.Prefixes.RPC, d.Prefixes.RPC)
	fill(&c.Prefixes.GraphQL, d.Prefixes.GraphQL)
	fill(&c.Prefixes.SOAP, d.Prefixes.SOAP)
	fill(&c.Prefixes.SSE, d.Prefixes.SSE)
	fill(&c.Prefixes.WS, d.Prefixes.WS)
	if c.WS.ReadLimit <= 0 {
		c.WS.ReadLimit = d.WS.ReadLimit
	}
	if c.WS.WriteTimeout <= 0 {
		c.WS.WriteTimeout = d.WS.WriteTimeout
	}
	if c.WS.PingInterval <= 0 {
		c.WS.PingInterval = d.WS.PingInterval
	}
	if c.SSE.KeepAlive <= 0 {
		c.SSE.KeepAlive = d.SSE.KeepAlive
	}
	if c.SSE.WriteTimeout <= 0 {
		c.SSE.WriteTimeout = d.SSE.WriteTimeout
	}
	fill(&c.MetricsPath, d.MetricsPath)
	return c
}

// serves reports whether the dispatcher has a codec for p. Endpoints of
// other protocols are not mounted.
func (a *Adapter) serves(p api.Protocol) bool {
	_, ok := a.d.Codecs().Get(p)
	return ok
}

// mount serves h at prefix and every path below it.
func (a *Adapter) mount(prefix string, h http.Handler) {
	subtree := strings.TrimSuffix(prefix, "/") + "/"
	if prefix != subtree {
		a.mux.Handle(prefix, h)
	}
	a.mux.Handle(subtree, h)
}

func (a *Adapter) adminOnly(h http.HandlerFunc) http.Handler {
	var out http.Handler = h
	for i := len(a.admin) - 1; i >= 0; i-- {
		out = a.admin[i](out)
	}
	return out
}

// Handler returns the complete HTTP handler: health and metrics endpoints
// unwrapped, everything else behind the configured middleware, all of it
// behind request id propagation and request metrics.
func (a *Adapter) Handler() http.Handler {
	var protected http.Handler = a.mux
	for i := len(a.middleware) - 1; i >= 0; i-- {
		protected = a.middleware[i](protected)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", a.handleHealth)
	root.HandleFunc("GET /readyz", a.handleReady)
	if !a.cfg.DisableMetrics {
		root.Handle("GET "+a.cfg.MetricsPath, promhttp.Handler())
	}
	root.Handle("/", protected)

	return requestIDMiddleware(observability.MetricsMiddleware(root))
}

// requestIDMiddleware takes the request id from X-Request-ID or mints one,
// stores it in the context and echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = api.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(transport.ContextWithRequestID(r.Context(), id)))
	})
}

// errBodyTooLarge is returned by readInput when the body exceeds MaxBodySize.
var errBodyTooLarge = errors.New("request body too large")

// readInput builds the codec input of a request, reading at most
// MaxBodySize bytes of body.
func (a *Adapter) readInput(w http.ResponseWriter, r *http.Request) (codec.Input, error) {
	in := codec.Input{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: lowerHeaders(r.Header),
	}
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return in, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.cfg.MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return in, errBodyTooLarge
		}
		return in, fmt.Errorf("reading request body: %w", err)
	}
	in.Body = body
	return in, nil
}

func lowerHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

// handleRequest serves a request/response protocol.
func (a *Adapter) handleRequest(p api.Protocol) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in, err := a.readInput(w, r)
		if err != nil {
			a.writeInputError(w, err)
			return
		}
		a.dispatch(w, r, p, in)
	})
}

// handleWebhookSource serves webhook deliveries addressed by source in the
// path. The source is passed to handlers as the x-webhook-source header,
// and the delivery is routed like one posted to the webhook prefix.
func (a *Adapter) handleWebhookSource() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in, err := a.readInput(w, r)
		if err != nil {
			a.writeInputError(w, err)
			return
		}
		in.Path = a.cfg.Prefixes.Webhook
		in.Headers["x-webhook-source"] = r.PathValue("source")
		a.dispatch(w, r, api.ProtocolWebhook, in)
	})
}

func (a *Adapter) dispatch(w http.ResponseWriter, r *http.Request, p api.Protocol, in codec.Input) {
	reply, err := a.d.Dispatch(r.Context(), p, in)
	if err != nil {
		a.logger.LogAttrs(r.Context(), slog.LevelError, "dispatch failed",
			slog.String("request_id", transport.RequestIDFromContext(r.Context())),
			slog.String("protocol", string(p)),
			slog.String("error", err.Error()),
		)
		transport.WriteAPIError(w, api.NewInternalError("request could not be processed"))
		return
	}
	writeReply(w, reply)
}

func (a *Adapter) writeInputError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		transport.WriteErrorResponse(w,
			api.NewDecodeError("body_too_large", fmt.Sprintf("request body too large (max %d bytes)", a.cfg.MaxBodySize)),
			http.StatusRequestEntityTooLarge,
		)
		return
	}
	transport.WriteErrorResponse(w, api.NewDecodeError("body", err.Error()), http.StatusBadRequest)
}

// writeReply writes an encoded dispatch reply with the status its
// protocol calls for.
func writeReply(w http.ResponseWriter, reply *dispatcher.Reply) {
	w.Header().Set("Content-Type", reply.ContentType)
	if reply.Result.Retryable() {
		w.Header().Set("Retry-After", transport.RetryAfterSeconds)
	}
	w.WriteHeader(statusFor(reply))
	_, _ = w.Write(reply.Body)
}

func statusFor(reply *dispatcher.Reply) int {
	if sc, ok := reply.Codec.(codec.StatusCoder); ok {
		return sc.HTTPStatus(reply.Result)
	}
	if reply.Result.IsOK() {
		return http.StatusOK
	}
	return transport.HTTPStatusFromKind(reply.Result.ErrorKind)
}

func (a *Adapter) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Adapter) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(a.checks))
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": results})
}

type listResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

func (a *Adapter) handleListRoutes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listResponse[any]{Object: "list", Data: toAny(a.d.Router().Routes())})
}

func (a *Adapter) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listResponse[session.Info]{Object: "list", Data: a.sessions.Snapshot()})
}

func (a *Adapter) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateSessionID(id) {
		transport.WriteAPIError(w, api.NewDecodeError("session_id", "malformed session id"))
		return
	}
	if !a.sessions.Close(id, api.CloseNormal) {
		transport.WriteAPIError(w, api.NotFoundf("session %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleListInFlight(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listResponse[transport.Invocation]{Object: "list", Data: a.d.InFlight().Snapshot()})
}

func (a *Adapter) handleCancelInFlight(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.d.InFlight().Cancel(id) {
		transport.WriteAPIError(w, api.NotFoundf("no in-flight request %s", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func toAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
