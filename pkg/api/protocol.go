package api

import "fmt"

// Protocol identifies the wire protocol class an Envelope arrived on.
type Protocol string

const (
	ProtocolREST    Protocol = "rest"
	ProtocolWS      Protocol = "ws"
	ProtocolSSE     Protocol = "sse"
	ProtocolWebhook Protocol = "webhook"
	ProtocolRPC     Protocol = "rpc"
	ProtocolGraphQL Protocol = "graphql"
	ProtocolSOAP    Protocol = "soap"
)

// Protocols lists every supported protocol in a stable order.
var Protocols = []Protocol{
	ProtocolREST,
	ProtocolWS,
	ProtocolSSE,
	ProtocolWebhook,
	ProtocolRPC,
	ProtocolGraphQL,
	ProtocolSOAP,
}

// Streaming reports whether the protocol runs over a long-lived Session
// instead of a single request/response exchange.
func (p Protocol) Streaming() bool {
	return p == ProtocolWS || p == ProtocolSSE
}

// Valid reports whether p is one of the known protocols.
func (p Protocol) Valid() bool {
	for _, known := range Protocols {
		if p == known {
			return true
		}
	}
	return false
}

// ParseProtocol converts a string into a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown protocol %q", s)
	}
	return p, nil
}
