package handlers

import (
	"context"
	"fmt"

	"github.com/graphql-go/graphql"

	"github.com/rhuss/omnigate/pkg/codec"
	"github.com/rhuss/omnigate/pkg/transport"
)

// GraphQL executes queries against the gateway schema:
//
//	type Query {
//	  hello: String
//	  ping: String
//	}
type GraphQL struct {
	schema graphql.Schema
}

// NewGraphQL builds the schema.
func NewGraphQL() (*GraphQL, error) {
	constant := func(v string) graphql.FieldResolveFn {
		return func(graphql.ResolveParams) (any, error) { return v, nil }
	}
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"hello": &graphql.Field{Type: graphql.String, Resolve: constant("Hello from GraphQL!")},
			"ping":  &graphql.Field{Type: graphql.String, Resolve: constant("pong")},
		},
	})
	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: query})
	if err != nil {
		return nil, fmt.Errorf("building graphql schema: %w", err)
	}
	return &GraphQL{schema: schema}, nil
}

// Handle runs the request's operation. Query errors are part of the
// result, as GraphQL reports them in the response body.
func (g *GraphQL) Handle(ctx context.Context, req *transport.Request) (any, error) {
	var op codec.GraphQLRequest
	if err := req.Envelope.Bind(&op); err != nil {
		return nil, err
	}
	return graphql.Do(graphql.Params{
		Schema:         g.schema,
		RequestString:  op.Query,
		OperationName:  op.OperationName,
		VariableValues: op.Variables,
		Context:        ctx,
	}), nil
}
