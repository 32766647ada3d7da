package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rhuss/omnigate/pkg/api"
)

// SSE frames Results as text/event-stream messages.
//
// A subscription is decoded from the request path and query; the query
// parameters become a JSON object payload. Each Ok Result is encoded as
// "data: <payload>\n\n", with multi-line payloads split over several data
// lines. Error Results use the "error" event type.
type SSE struct{}

// NewSSE creates the SSE codec.
func NewSSE() *SSE { return &SSE{} }

func (c *SSE) Protocol() api.Protocol { return api.ProtocolSSE }

func (c *SSE) ContentType() string { return "text/event-stream" }

func (c *SSE) Decode(in Input) (*api.Envelope, error) {
	return api.NewEnvelope(api.ProtocolSSE, in.Path, queryPayload(in.Query),
		api.WithSessionID(in.SessionID),
		api.WithHeaders(in.Headers),
	), nil
}

func (c *SSE) Encode(res *api.Result) ([]byte, error) {
	var buf bytes.Buffer
	if !res.IsOK() {
		data, err := marshalJSON(newErrorBody(res).Error)
		if err != nil {
			return nil, err
		}
		buf.WriteString("event: error\n")
		writeDataLines(&buf, data)
		return buf.Bytes(), nil
	}

	data, err := marshalText(res.Body)
	if err != nil {
		return nil, err
	}
	writeDataLines(&buf, data)
	return buf.Bytes(), nil
}

func writeDataLines(buf *bytes.Buffer, data []byte) {
	for _, line := range strings.Split(string(data), "\n") {
		buf.WriteString("data: ")
		buf.WriteString(strings.TrimSuffix(line, "\r"))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
}

// DecodeResult parses one encoded event back into a Result. Object and
// array payloads are returned as json.RawMessage, everything else as a
// string.
func (c *SSE) DecodeResult(data []byte) (*api.Result, error) {
	frame := strings.TrimSuffix(string(data), "\n\n")
	if frame == string(data) {
		return nil, fmt.Errorf("parse sse event: missing terminating blank line")
	}

	var event string
	var lines []string
	for _, line := range strings.Split(frame, "\n") {
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			lines = append(lines, strings.TrimPrefix(line, "data: "))
		case strings.HasPrefix(line, "data:"):
			lines = append(lines, strings.TrimPrefix(line, "data:"))
		}
	}
	payload := strings.Join(lines, "\n")

	if event == "error" {
		var detail errorDetail
		if err := json.Unmarshal([]byte(payload), &detail); err != nil {
			return nil, fmt.Errorf("parse sse error event: %w", err)
		}
		return &api.Result{
			Status:    api.StatusError,
			ErrorKind: detail.Type,
			Code:      detail.Code,
			Message:   detail.Message,
		}, nil
	}

	trimmed := strings.TrimSpace(payload)
	if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && json.Valid([]byte(trimmed)) {
		return api.OK(json.RawMessage(trimmed)), nil
	}
	return api.OK(payload), nil
}
