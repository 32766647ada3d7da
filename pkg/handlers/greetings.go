package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/rhuss/omnigate/pkg/transport"
)

// HelloResponse is the REST greeting.
type HelloResponse struct {
	Message string `json:"message"`
}

// Hello answers GET /rest.
func Hello(context.Context, *transport.Request) (any, error) {
	return HelloResponse{Message: "Hello from REST API!"}, nil
}

// Ping answers the JSON-RPC ping method.
func Ping(context.Context, *transport.Request) (any, error) {
	return "pong", nil
}

// Echo answers every WebSocket frame.
func Echo(_ context.Context, req *transport.Request) (any, error) {
	return "You said: " + req.Envelope.Text(), nil
}

// SayHello is the SOAP say_hello operation.
func SayHello(_ context.Context, req *transport.Request) (any, error) {
	var args struct {
		Name string `json:"name"`
	}
	if err := req.Envelope.Bind(&args); err != nil {
		return nil, err
	}
	return "Hello " + args.Name, nil
}

// Countdown streams Count numbered messages, Interval apart.
type Countdown struct {
	Count    int
	Interval time.Duration
}

// Handle emits "Server message 0" through "Server message Count-1".
func (c *Countdown) Handle(ctx context.Context, req *transport.Request) (any, error) {
	for i := range c.Count {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.Interval):
			}
		}
		if err := req.Emitter.Emit(ctx, fmt.Sprintf("Server message %d", i)); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
