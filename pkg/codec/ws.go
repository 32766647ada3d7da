package codec

import (
	"github.com/rhuss/omnigate/pkg/api"
)

// WS maps WebSocket text frames to Envelopes addressed to the connection
// path. String replies are sent as-is, other bodies as JSON.
type WS struct{}

// NewWS creates the WebSocket framing codec.
func NewWS() *WS { return &WS{} }

func (c *WS) Protocol() api.Protocol { return api.ProtocolWS }

func (c *WS) ContentType() string { return "text/plain; charset=utf-8" }

func (c *WS) Decode(in Input) (*api.Envelope, error) {
	return api.NewEnvelope(api.ProtocolWS, in.Path, in.Body,
		api.WithSessionID(in.SessionID),
		api.WithHeaders(in.Headers),
	), nil
}

func (c *WS) Encode(res *api.Result) ([]byte, error) {
	if !res.IsOK() {
		return marshalJSON(newErrorBody(res))
	}
	return marshalText(res.Body)
}
