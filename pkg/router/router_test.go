package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/registry"
	"github.com/rhuss/omnigate/pkg/transport"
)

// tagged returns a handler whose body identifies it.
func tagged(tag string) transport.Handler {
	return transport.HandlerFunc(func(context.Context, *transport.Request) (any, error) {
		return tag, nil
	})
}

func TestResolveReturnsExactHandler(t *testing.T) {
	reg := registry.New()
	pairs := []registry.Key{
		{Protocol: api.ProtocolRPC, Target: "ping"},
		{Protocol: api.ProtocolREST, Target: "GET /rest"},
		{Protocol: api.ProtocolREST, Target: "POST /rest"},
		{Protocol: api.ProtocolWS, Target: "/ws"},
		{Protocol: api.ProtocolSSE, Target: "/sse"},
		{Protocol: api.ProtocolSOAP, Target: "say_hello"},
		{Protocol: api.ProtocolGraphQL, Target: "/graphql"},
		{Protocol: api.ProtocolWebhook, Target: "POST /webhook"},
	}
	for _, k := range pairs {
		reg.MustRegister(k.Protocol, k.Target, tagged(k.String()))
	}

	r := New(reg)
	for _, k := range pairs {
		t.Run(k.String(), func(t *testing.T) {
			entry, err := r.Resolve(k.Protocol, k.Target)
			require.NoError(t, err)
			body, _ := entry.Handler.Handle(context.Background(), nil)
			assert.Equal(t, k.String(), body)
		})
	}
}

func TestResolveNotFound(t *testing.T) {
	reg := registry.New()
	reg.MustRegister(api.ProtocolRPC, "ping", tagged("ping"))
	r := New(reg)

	tests := []struct {
		name     string
		protocol api.Protocol
		target   string
	}{
		{"unknown method", api.ProtocolRPC, "pong"},
		{"known target, other protocol", api.ProtocolREST, "ping"},
		{"case differs", api.ProtocolRPC, "Ping"},
		{"empty target", api.ProtocolRPC, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.protocol, tt.target)
			assert.True(t, errors.Is(err, api.ErrNotFound), "error = %v, want ErrNotFound", err)
		})
	}
}

func TestNewFreezesRegistry(t *testing.T) {
	reg := registry.New()
	New(reg)
	assert.ErrorIs(t, reg.Register(api.ProtocolRPC, "late", tagged("late")), registry.ErrFrozen)
}

func TestRoutesSorted(t *testing.T) {
	reg := registry.New()
	reg.MustRegister(api.ProtocolWS, "/ws", tagged("ws"))
	reg.MustRegister(api.ProtocolRPC, "ping", tagged("ping"), registry.WithDescription("liveness"))
	reg.MustRegister(api.ProtocolREST, "GET /rest", tagged("rest"))
	reg.MustRegister(api.ProtocolREST, "GET /composite", tagged("composite"))

	routes := New(reg).Routes()
	require.Len(t, routes, 4)
	assert.Equal(t, "GET /composite", routes[0].Target)
	assert.Equal(t, "GET /rest", routes[1].Target)
	assert.Equal(t, api.ProtocolRPC, routes[2].Protocol)
	assert.Equal(t, "liveness", routes[2].Description)
	assert.Equal(t, api.ProtocolWS, routes[3].Protocol)
}

func TestConcurrentResolve(t *testing.T) {
	reg := registry.New()
	for i := 0; i < 50; i++ {
		reg.MustRegister(api.ProtocolRPC, fmt.Sprintf("m%d", i), tagged(fmt.Sprint(i)))
	}
	r := New(reg)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := r.Resolve(api.ProtocolRPC, fmt.Sprintf("m%d", i)); err != nil {
					t.Errorf("Resolve(m%d) error = %v", i, err)
				}
			}
		}()
	}
	wg.Wait()
}
