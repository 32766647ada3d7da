package codec

import (
	"encoding/json"
	"strings"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/debug"
)

// REST is the JSON-over-HTTP codec used for plain REST endpoints and, with
// a mandatory body, for webhook receivers.
//
// The target of a decoded Envelope is "<METHOD> <path>", for example
// "GET /rest". A non-empty body must be valid JSON. Requests without a body
// carry their query parameters as a JSON object payload instead.
type REST struct {
	protocol    api.Protocol
	requireBody bool
}

// NewREST creates the codec for the rest protocol.
func NewREST() *REST {
	return &REST{protocol: api.ProtocolREST}
}

// NewWebhook creates the codec for the webhook protocol. Deliveries without
// a JSON body are rejected at decode time.
func NewWebhook() *REST {
	return &REST{protocol: api.ProtocolWebhook, requireBody: true}
}

func (c *REST) Protocol() api.Protocol { return c.protocol }

func (c *REST) ContentType() string { return "application/json" }

// Target builds the routing target for an HTTP method and path.
func Target(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

func (c *REST) Decode(in Input) (*api.Envelope, error) {
	payload := in.Body
	switch {
	case len(payload) > 0:
		if !json.Valid(payload) {
			debug.Log(debug.Codec, "rejecting malformed JSON body", "protocol", c.protocol, "path", in.Path)
			return nil, api.NewDecodeError("malformed", "request body is not valid JSON")
		}
	case c.requireBody:
		return nil, api.NewDecodeError("empty_body", "request body is required")
	default:
		payload = queryPayload(in.Query)
	}

	opts := []api.EnvelopeOption{api.WithHeaders(in.Headers)}
	if id := in.Headers["x-request-id"]; id != "" {
		opts = append(opts, api.WithCorrelationID(id))
	}
	return api.NewEnvelope(c.protocol, Target(in.Method, in.Path), payload, opts...), nil
}

func (c *REST) Encode(res *api.Result) ([]byte, error) {
	if !res.IsOK() {
		return marshalJSON(newErrorBody(res))
	}
	if res.Body == nil {
		return []byte("null"), nil
	}
	return marshalJSON(res.Body)
}
