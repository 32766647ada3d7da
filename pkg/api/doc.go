// Package api defines the protocol-neutral types shared by every layer of
// the omnigate dispatcher.
//
// An inbound unit of work, whatever wire protocol it arrived on, is decoded
// into an [Envelope]. Handlers consume Envelopes and the dispatcher turns
// their outcome into a [Result], which the protocol codec encodes back onto
// the wire. Failures are classified by [ErrorKind] so that every protocol can
// render them in its own native error shape.
//
// Core types:
//   - [Protocol]: wire protocol class (rest, ws, sse, webhook, rpc, graphql, soap)
//   - [Envelope]: immutable inbound unit of work
//   - [Result]: terminal or streamed outcome of a handler invocation
//   - [Error]: classified error with kind, code and message
//   - [SessionState]: lifecycle state of a long-lived connection
//
// The package performs no I/O.
package api
