// Package transport defines the handler contract and middleware chain shared
// by every protocol the gateway terminates.
//
// Protocol adapters (HTTP, WebSocket, SSE, NATS) never call application code
// directly. They decode wire bytes into an api.Envelope, hand it to the
// dispatcher, and the dispatcher invokes the Handler registered for the
// Envelope's (protocol, target) pair.
//
// # Handler Interface
//
// A Handler receives a Request carrying the immutable Envelope and returns a
// body or an error. Streaming handlers additionally receive an Emitter that
// pushes intermediate results onto the owning Session's outbound queue;
// Emit blocks or fails according to that Session's backpressure policy.
//
// # Middleware
//
// The middleware chain wraps a Handler with cross-cutting concerns.
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID), and structured logging via log/slog.
//
// # Error Mapping
//
// HTTPStatusFromKind maps an api.ErrorKind onto an HTTP status so that
// HTTP-carried protocols surface failures consistently.
package transport
