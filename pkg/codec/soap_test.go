package codec

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/omnigate/pkg/api"
)

const sayHelloRequest = `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:tns="soap.example">
  <soapenv:Header/>
  <soapenv:Body>
    <tns:say_hello>
      <tns:name> Ada </tns:name>
    </tns:say_hello>
  </soapenv:Body>
</soapenv:Envelope>`

func TestSOAPDecode(t *testing.T) {
	env, err := NewSOAP("").Decode(Input{Body: []byte(sayHelloRequest)})
	require.NoError(t, err)
	assert.Equal(t, api.ProtocolSOAP, env.Protocol())
	assert.Equal(t, "say_hello", env.Target())
	assert.JSONEq(t, `{"name":"Ada"}`, env.Text())

	var args struct {
		Name string `json:"name"`
	}
	require.NoError(t, env.Bind(&args))
	assert.Equal(t, "Ada", args.Name)
}

func TestSOAPDecodeNoArguments(t *testing.T) {
	body := `<Envelope xmlns="http://schemas.xmlsoap.org/soap/envelope/"><Body><ping/></Body></Envelope>`
	env, err := NewSOAP("").Decode(Input{Body: []byte(body)})
	require.NoError(t, err)
	assert.Equal(t, "ping", env.Target())
	assert.Empty(t, env.Payload())
}

func TestSOAPDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"not xml", `{"name":"Ada"}`, "malformed"},
		{"not an envelope", `<foo><Body><say_hello/></Body></foo>`, "malformed"},
		{"empty body", `<Envelope><Body></Body></Envelope>`, "missing_operation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSOAP("").Decode(Input{Body: []byte(tt.body)})
			assertDecodeError(t, err, tt.code)
		})
	}
}

func TestSOAPEncode(t *testing.T) {
	c := NewSOAP("")

	res := api.OK("Hello Ada").For(api.NewEnvelope(api.ProtocolSOAP, "say_hello", nil))
	out, err := c.Encode(res)
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, s, `xmlns:soap11env="http://schemas.xmlsoap.org/soap/envelope/"`)
	assert.Contains(t, s, `xmlns:tns="soap.example"`)
	assert.Contains(t, s, `<tns:say_helloResponse><tns:say_helloResult>Hello Ada</tns:say_helloResult></tns:say_helloResponse>`)
	assert.Equal(t, http.StatusOK, c.HTTPStatus(res))
}

func TestSOAPEncodeEscapes(t *testing.T) {
	res := api.OK("Hello <b>&").For(api.NewEnvelope(api.ProtocolSOAP, "say_hello", nil))
	out, err := NewSOAP("").Encode(res)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Hello &lt;b&gt;&amp;")
}

func TestSOAPEncodeFault(t *testing.T) {
	c := NewSOAP("urn:custom")

	tests := []struct {
		name     string
		res      *api.Result
		wantCode string
	}{
		{"client fault", api.Fail(api.NotFoundf("no handler for soap nope")), "soap11env:Client"},
		{"server fault", api.Fail(api.ErrTimeout), "soap11env:Server"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := c.Encode(tt.res)
			require.NoError(t, err)
			s := string(out)
			assert.Contains(t, s, `xmlns:tns="urn:custom"`)
			assert.Contains(t, s, "<soap11env:Fault>")
			assert.Contains(t, s, "<faultcode>"+tt.wantCode+"</faultcode>")
			assert.Contains(t, s, "<faultstring>"+tt.res.Message+"</faultstring>")
			assert.Equal(t, http.StatusInternalServerError, c.HTTPStatus(tt.res))
		})
	}
}

func TestSOAPRoundTrip(t *testing.T) {
	c := NewSOAP("")

	ok := api.OK("Hello Ada").For(api.NewEnvelope(api.ProtocolSOAP, "say_hello", nil))
	data, err := c.Encode(ok)
	require.NoError(t, err)
	got, err := c.DecodeResult(data)
	require.NoError(t, err)
	assert.True(t, got.IsOK())
	assert.Equal(t, "say_hello", got.Target)
	assert.Equal(t, "Hello Ada", got.Body)

	fault := api.Fail(api.NewDecodeError("malformed", "request is not a valid SOAP envelope"))
	data, err = c.Encode(fault)
	require.NoError(t, err)
	got, err = c.DecodeResult(data)
	require.NoError(t, err)
	assert.False(t, got.IsOK())
	assert.Equal(t, api.KindDecode, got.ErrorKind)
	assert.Equal(t, fault.Message, got.Message)
}
