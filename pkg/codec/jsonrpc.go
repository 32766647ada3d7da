package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rhuss/omnigate/pkg/api"
)

const jsonrpcVersion = "2.0"

// methodNotFound is the error member sent for unknown or missing methods.
const methodNotFound = "Method not found"

// JSONRPC implements the JSON-RPC style request/reply contract:
//
//	request:  {"method": "...", "id": ..., "params": ...}
//	response: {"jsonrpc": "2.0", "result": ..., "id": ...}
//	          {"jsonrpc": "2.0", "error": "...", "id": ...}
//
// The id is echoed verbatim, whether it is a number, a string or null. The
// Envelope's correlation id holds its raw JSON text.
type JSONRPC struct{}

// NewJSONRPC creates the JSON-RPC codec.
func NewJSONRPC() *JSONRPC { return &JSONRPC{} }

func (c *JSONRPC) Protocol() api.Protocol { return api.ProtocolRPC }

func (c *JSONRPC) ContentType() string { return "application/json" }

// HTTPStatus always reports 200: JSON-RPC errors travel in the body.
func (c *JSONRPC) HTTPStatus(*api.Result) int { return http.StatusOK }

func (c *JSONRPC) Decode(in Input) (*api.Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(in.Body, &fields); err != nil || fields == nil {
		return nil, api.NewDecodeError("parse_error", "Parse error").WithCorrelation("")
	}

	id := normalizeID(fields["id"])

	var method string
	if raw, ok := fields["method"]; ok {
		if err := json.Unmarshal(raw, &method); err != nil {
			method = ""
		}
	}
	if method == "" {
		return nil, api.ErrMissingMethod.WithCorrelation(id)
	}

	var payload []byte
	if params, ok := fields["params"]; ok && !isNull(params) {
		payload = params
	}

	return api.NewEnvelope(api.ProtocolRPC, method, payload,
		api.WithCorrelationID(id),
		api.WithHeaders(in.Headers),
	), nil
}

type rpcResult struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	JSONRPC string          `json:"jsonrpc"`
	Error   string          `json:"error"`
	ID      json.RawMessage `json:"id"`
}

func (c *JSONRPC) Encode(res *api.Result) ([]byte, error) {
	id := json.RawMessage("null")
	if res.CorrelationID != "" {
		id = json.RawMessage(res.CorrelationID)
	}

	if !res.IsOK() {
		msg := res.Message
		if res.ErrorKind == api.KindNotFound || msg == "" {
			msg = methodNotFound
		}
		return marshalJSON(rpcError{JSONRPC: jsonrpcVersion, Error: msg, ID: id})
	}
	return marshalJSON(rpcResult{JSONRPC: jsonrpcVersion, Result: res.Body, ID: id})
}

// DecodeResult parses an encoded JSON-RPC response back into a Result.
func (c *JSONRPC) DecodeResult(data []byte) (*api.Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse rpc response: %w", err)
	}

	res := &api.Result{CorrelationID: normalizeID(fields["id"])}
	if raw, ok := fields["error"]; ok {
		var msg string
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("parse rpc error member: %w", err)
		}
		res.Status = api.StatusError
		res.Message = msg
		res.ErrorKind = api.KindHandler
		if msg == methodNotFound {
			res.ErrorKind = api.KindNotFound
		}
		return res, nil
	}

	res.Status = api.StatusOK
	if raw, ok := fields["result"]; ok {
		var body any
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("parse rpc result member: %w", err)
		}
		res.Body = body
	}
	return res, nil
}

// normalizeID returns the compact JSON text of an id, or "" for an absent
// or null id.
func normalizeID(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return ""
	}
	return buf.String()
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
