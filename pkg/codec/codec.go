// Package codec translates between wire bytes and the protocol-neutral
// api.Envelope / api.Result pair.
//
// Codecs are stateless and safe for concurrent use. Adding a protocol means
// adding a Codec to the Set handed to the dispatcher; the dispatcher itself
// never changes.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/rhuss/omnigate/pkg/api"
)

// ErrTransient marks an encode failure the dispatcher may retry by invoking
// the handler again. Codecs wrap it with fmt.Errorf("...: %w", ErrTransient).
var ErrTransient = errors.New("transient encode failure")

// IsTransient reports whether err is marked as transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Input is the raw unit of work handed over by a transport. Not every field
// is meaningful for every protocol: a WebSocket frame only carries Path,
// Body and SessionID, an SSE subscription has no Body. Header names are
// lower case.
type Input struct {
	Method    string
	Path      string
	Query     url.Values
	Headers   map[string]string
	Body      []byte
	SessionID string
}

// Codec decodes inbound wire bytes into an Envelope and encodes Results
// into outbound wire bytes.
//
// Decode failures are returned as *api.Error of kind decode. When the codec
// could recover a correlation id before failing, the error carries it (see
// api.Error.WithCorrelation) so the error reply is still addressed.
type Codec interface {
	Protocol() api.Protocol
	ContentType() string
	Decode(in Input) (*api.Envelope, error)
	Encode(res *api.Result) ([]byte, error)
}

// StatusCoder is implemented by codecs whose protocol dictates HTTP status
// codes of its own, such as JSON-RPC which always answers 200.
type StatusCoder interface {
	HTTPStatus(res *api.Result) int
}

// ResultDecoder is implemented by codecs that can parse their own encoded
// output back into a Result. Clients and tests use it.
type ResultDecoder interface {
	DecodeResult(data []byte) (*api.Result, error)
}

// Set maps each protocol to its codec.
type Set struct {
	codecs map[api.Protocol]Codec
}

// NewSet builds a Set. A later codec for the same protocol replaces an
// earlier one.
func NewSet(codecs ...Codec) *Set {
	s := &Set{codecs: make(map[api.Protocol]Codec, len(codecs))}
	for _, c := range codecs {
		s.codecs[c.Protocol()] = c
	}
	return s
}

// Options tunes the codecs built by Default.
type Options struct {
	// SOAPNamespace is the target namespace of SOAP responses.
	SOAPNamespace string
}

// Default returns a Set with one codec per supported protocol.
func Default(opts Options) *Set {
	return NewSet(
		NewREST(),
		NewWebhook(),
		NewJSONRPC(),
		NewSOAP(opts.SOAPNamespace),
		NewGraphQL(),
		NewSSE(),
		NewWS(),
	)
}

// Get returns the codec registered for p.
func (s *Set) Get(p api.Protocol) (Codec, bool) {
	c, ok := s.codecs[p]
	return c, ok
}

// MustGet is like Get but panics when no codec is registered for p.
func (s *Set) MustGet(p api.Protocol) Codec {
	c, ok := s.codecs[p]
	if !ok {
		panic(fmt.Sprintf("codec: no codec for protocol %q", p))
	}
	return c
}

// errorBody is the shape of an error on JSON protocols without a native
// error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    api.ErrorKind `json:"type"`
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message"`
}

func newErrorBody(res *api.Result) errorBody {
	return errorBody{Error: errorDetail{Type: res.ErrorKind, Code: res.Code, Message: res.Message}}
}

// marshalJSON encodes a handler body as JSON. Pre-encoded bodies
// (json.RawMessage) are passed through.
func marshalJSON(body any) ([]byte, error) {
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return data, nil
}

// marshalText encodes a body for text framed protocols (SSE, WebSocket):
// strings and byte slices are sent raw, anything else as JSON.
func marshalText(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return marshalJSON(v)
	}
}

// queryPayload flattens query parameters (first value wins) into a JSON
// object. It returns nil when there are none.
func queryPayload(q url.Values) []byte {
	if len(q) == 0 {
		return nil
	}
	flat := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			flat[k] = v[0]
		}
	}
	data, _ := json.Marshal(flat)
	return data
}
