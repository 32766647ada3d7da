package codec

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/omnigate/pkg/api"
)

func TestRESTDecode(t *testing.T) {
	c := NewREST()

	env, err := c.Decode(Input{
		Method:  "get",
		Path:    "/rest",
		Query:   url.Values{"name": {"Ada"}},
		Headers: map[string]string{"x-request-id": "req-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, api.ProtocolREST, env.Protocol())
	assert.Equal(t, "GET /rest", env.Target())
	assert.Equal(t, "req-1", env.CorrelationID())
	assert.JSONEq(t, `{"name":"Ada"}`, env.Text())

	env, err = c.Decode(Input{Method: "POST", Path: "/rest", Body: []byte(`{"a":1}`)})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, env.Text())
}

func TestRESTDecodeMalformed(t *testing.T) {
	_, err := NewREST().Decode(Input{Method: "POST", Path: "/rest", Body: []byte(`{"a":`)})
	assertDecodeError(t, err, "malformed")
}

func TestWebhookRequiresBody(t *testing.T) {
	c := NewWebhook()
	assert.Equal(t, api.ProtocolWebhook, c.Protocol())

	_, err := c.Decode(Input{Method: "POST", Path: "/webhook"})
	assertDecodeError(t, err, "empty_body")

	env, err := c.Decode(Input{Method: "POST", Path: "/webhook", Body: []byte(`{"event":"push"}`)})
	require.NoError(t, err)
	assert.Equal(t, "POST /webhook", env.Target())
}

func TestRESTEncode(t *testing.T) {
	c := NewREST()

	tests := []struct {
		name string
		res  *api.Result
		want string
	}{
		{"object", api.OK(map[string]string{"message": "Hello from REST API!"}), `{"message":"Hello from REST API!"}`},
		{"string", api.OK("hi"), `"hi"`},
		{"nil body", api.OK(nil), `null`},
		{"error", api.Fail(api.NotFoundf("no handler for rest GET /nope")),
			`{"error":{"type":"not_found","message":"no handler for rest GET /nope"}}`},
		{"error with code", api.Fail(api.NewDecodeError("malformed", "bad")),
			`{"error":{"type":"decode","code":"malformed","message":"bad"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Encode(tt.res)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestRESTEncodeUnsupportedBody(t *testing.T) {
	_, err := NewREST().Encode(api.OK(make(chan int)))
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}
