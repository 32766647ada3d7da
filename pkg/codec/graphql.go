package codec

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rhuss/omnigate/pkg/api"
)

// GraphQLRequest is the normalised GraphQL operation carried as the payload
// of a graphql Envelope.
type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// GraphQL adapts GraphQL-over-HTTP (POST JSON or GET with ?query=) to
// Envelopes addressed to the endpoint path. Executing the query is the
// handler's job, which delegates to a schema engine.
type GraphQL struct{}

// NewGraphQL creates the GraphQL codec.
func NewGraphQL() *GraphQL { return &GraphQL{} }

func (c *GraphQL) Protocol() api.Protocol { return api.ProtocolGraphQL }

func (c *GraphQL) ContentType() string { return "application/json" }

// HTTPStatus answers 200 for anything that reached the engine; GraphQL
// reports execution errors in the body.
func (c *GraphQL) HTTPStatus(res *api.Result) int {
	switch {
	case res.IsOK():
		return http.StatusOK
	case res.ErrorKind == api.KindDecode:
		return http.StatusBadRequest
	case res.ErrorKind == api.KindHandler:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func (c *GraphQL) Decode(in Input) (*api.Envelope, error) {
	var req GraphQLRequest

	if strings.EqualFold(in.Method, http.MethodGet) {
		req.Query = in.Query.Get("query")
		req.OperationName = in.Query.Get("operationName")
		if vars := in.Query.Get("variables"); vars != "" {
			if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
				return nil, api.NewDecodeError("malformed", "variables must be a JSON object")
			}
		}
	} else if err := json.Unmarshal(in.Body, &req); err != nil {
		return nil, api.NewDecodeError("malformed", "request body is not a valid GraphQL request")
	}

	if strings.TrimSpace(req.Query) == "" {
		return nil, api.NewDecodeError("missing_query", "query is required")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, api.NewDecodeError("malformed", "request cannot be normalised").WithCause(err)
	}
	return api.NewEnvelope(api.ProtocolGraphQL, in.Path, payload, api.WithHeaders(in.Headers)), nil
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlErrorResponse struct {
	Data   any            `json:"data"`
	Errors []graphqlError `json:"errors"`
}

func (c *GraphQL) Encode(res *api.Result) ([]byte, error) {
	if !res.IsOK() {
		return marshalJSON(graphqlErrorResponse{Errors: []graphqlError{{Message: res.Message}}})
	}
	return marshalJSON(res.Body)
}
