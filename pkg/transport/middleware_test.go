package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/rhuss/omnigate/pkg/api"
)

func testRequest() *Request {
	return &Request{Envelope: api.NewEnvelope(api.ProtocolRPC, "ping", nil, api.WithCorrelationID("7"))}
}

func TestChainAppliesMiddlewareInOrder(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
				order = append(order, name+":before")
				body, err := next.Handle(ctx, req)
				order = append(order, name+":after")
				return body, err
			})
		}
	}

	handler := HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		order = append(order, "handler")
		return "pong", nil
	})

	chain := Chain(mw("first"), mw("second"), mw("third"))
	body, _ := chain(handler).Handle(context.Background(), testRequest())

	if body != "pong" {
		t.Errorf("body = %v, want %q", body, "pong")
	}

	expected := []string{
		"first:before", "second:before", "third:before",
		"handler",
		"third:after", "second:after", "first:after",
	}

	if len(order) != len(expected) {
		t.Fatalf("execution order length = %d, want %d: %v", len(order), len(expected), order)
	}
	for i, got := range order {
		if got != expected[i] {
			t.Errorf("order[%d] = %q, want %q", i, got, expected[i])
		}
	}
}

func TestRecoveryCatchesPanic(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		panic("test panic")
	})

	body, err := Recovery()(handler).Handle(context.Background(), testRequest())

	if err == nil {
		t.Fatal("expected error after panic, got nil")
	}
	if body != nil {
		t.Errorf("body = %v, want nil", body)
	}

	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *api.Error, got %T: %v", err, err)
	}
	if apiErr.Kind != api.KindInternal {
		t.Errorf("error kind = %q, want %q", apiErr.Kind, api.KindInternal)
	}
	if apiErr.Code != "handler_panic" {
		t.Errorf("error code = %q, want handler_panic", apiErr.Code)
	}
	if strings.Contains(apiErr.Message, "test panic") {
		t.Errorf("error message %q leaks the panic value", apiErr.Message)
	}
}

func TestRecoveryPassesThroughNormalExecution(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		return "ok", nil
	})

	body, err := Recovery()(handler).Handle(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "ok" {
		t.Errorf("body = %v, want %q", body, "ok")
	}
}

func TestRequestIDGeneratesNewID(t *testing.T) {
	var capturedID string

	handler := HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		capturedID = RequestIDFromContext(ctx)
		return nil, nil
	})

	RequestID()(handler).Handle(context.Background(), testRequest())

	if capturedID == "" {
		t.Fatal("expected a generated request ID, got empty string")
	}
	if _, err := uuid.Parse(capturedID); err != nil {
		t.Errorf("request ID %q is not a UUID: %v", capturedID, err)
	}
}

func TestRequestIDPropagatesExisting(t *testing.T) {
	var capturedID string

	handler := HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		capturedID = RequestIDFromContext(ctx)
		return nil, nil
	})

	ctx := ContextWithRequestID(context.Background(), "existing-id-123")
	RequestID()(handler).Handle(ctx, testRequest())

	if capturedID != "existing-id-123" {
		t.Errorf("request ID = %q, want %q", capturedID, "existing-id-123")
	}
}

func TestRequestIDUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	handler := HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		ids[RequestIDFromContext(ctx)] = true
		return nil, nil
	})

	wrapped := RequestID()(handler)
	for i := 0; i < 100; i++ {
		wrapped.Handle(context.Background(), testRequest())
	}

	if len(ids) != 100 {
		t.Errorf("expected 100 unique IDs, got %d", len(ids))
	}
}

func TestLoggingEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		return "pong", nil
	})

	ctx := ContextWithRequestID(context.Background(), "req-log-test")
	req := &Request{Envelope: api.NewEnvelope(api.ProtocolWS, "/ws", []byte("hi"), api.WithSessionID("sess_x"))}
	Logging(logger)(handler).Handle(ctx, req)

	output := buf.String()
	for _, expected := range []string{"request_id=req-log-test", "protocol=ws", "target=/ws", "session_id=sess_x", "handler completed"} {
		if !strings.Contains(output, expected) {
			t.Errorf("log output missing %q in:\n%s", expected, output)
		}
	}
}

func TestLoggingEmitsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		return nil, api.NewHandlerError("", "test failure")
	})

	Logging(logger)(handler).Handle(context.Background(), testRequest())

	output := buf.String()
	if !strings.Contains(output, "handler failed") {
		t.Errorf("log output missing 'handler failed' in:\n%s", output)
	}
	if !strings.Contains(output, "test failure") {
		t.Errorf("log output missing error message in:\n%s", output)
	}
}
