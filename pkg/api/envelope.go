package api

import (
	"encoding/json"
	"maps"
	"strings"
)

// Envelope is the protocol-neutral representation of one inbound unit of
// work. All fields are unexported and accessors hand out copies, so an
// Envelope cannot change after NewEnvelope returns.
type Envelope struct {
	protocol      Protocol
	target        string
	payload       []byte
	correlationID string
	sessionID     string
	headers       map[string]string
}

// EnvelopeOption sets optional Envelope fields at construction time.
type EnvelopeOption func(*Envelope)

// WithCorrelationID sets the correlation identifier echoed in the response
// (the JSON-RPC id, for example).
func WithCorrelationID(id string) EnvelopeOption {
	return func(e *Envelope) { e.correlationID = id }
}

// WithSessionID ties the Envelope to a long-lived Session.
func WithSessionID(id string) EnvelopeOption {
	return func(e *Envelope) { e.sessionID = id }
}

// WithHeaders attaches transport headers. Header names are canonicalised to
// lower case.
func WithHeaders(h map[string]string) EnvelopeOption {
	return func(e *Envelope) {
		for k, v := range h {
			e.headers[strings.ToLower(k)] = v
		}
	}
}

// NewEnvelope builds an immutable Envelope. The payload slice is copied.
func NewEnvelope(protocol Protocol, target string, payload []byte, opts ...EnvelopeOption) *Envelope {
	e := &Envelope{
		protocol: protocol,
		target:   target,
		payload:  append([]byte(nil), payload...),
		headers:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Protocol returns the wire protocol class.
func (e *Envelope) Protocol() Protocol { return e.protocol }

// Target returns the path or method the Envelope is addressed to.
func (e *Envelope) Target() string { return e.target }

// CorrelationID returns the correlation identifier, or "" if none was set.
func (e *Envelope) CorrelationID() string { return e.correlationID }

// SessionID returns the owning Session id, or "" for request/response work.
func (e *Envelope) SessionID() string { return e.sessionID }

// Payload returns a copy of the raw payload bytes.
func (e *Envelope) Payload() []byte {
	return append([]byte(nil), e.payload...)
}

// Text returns the payload as a string.
func (e *Envelope) Text() string { return string(e.payload) }

// Header returns a single header value (case-insensitive).
func (e *Envelope) Header(name string) string {
	return e.headers[strings.ToLower(name)]
}

// Headers returns a copy of all headers.
func (e *Envelope) Headers() map[string]string {
	return maps.Clone(e.headers)
}

// Bind decodes a JSON payload into v. An empty payload leaves v untouched.
func (e *Envelope) Bind(v any) error {
	if len(e.payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.payload, v); err != nil {
		return NewHandlerError("invalid_params", "payload does not match the expected shape").WithCause(err)
	}
	return nil
}
