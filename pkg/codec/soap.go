package codec

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/rhuss/omnigate/pkg/api"
)

const (
	soapEnvNS = "http://schemas.xmlsoap.org/soap/envelope/"

	// DefaultSOAPNamespace is the target namespace used when none is
	// configured.
	DefaultSOAPNamespace = "soap.example"
)

// SOAP is a SOAP 1.1 document/literal codec. The first child of the Body
// names the operation and becomes the Envelope target; its child elements
// become a JSON object payload, so handlers bind SOAP arguments the same way
// they bind JSON ones.
//
// Only the envelope boundary is handled here. Schema validation and WSDL
// generation are out of scope.
type SOAP struct {
	namespace string
}

// NewSOAP creates a SOAP codec answering in the given target namespace.
func NewSOAP(namespace string) *SOAP {
	if namespace == "" {
		namespace = DefaultSOAPNamespace
	}
	return &SOAP{namespace: namespace}
}

func (c *SOAP) Protocol() api.Protocol { return api.ProtocolSOAP }

func (c *SOAP) ContentType() string { return "text/xml; charset=utf-8" }

// HTTPStatus follows SOAP 1.1 over HTTP: faults are sent with 500.
func (c *SOAP) HTTPStatus(res *api.Result) int {
	if res.IsOK() {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

// xmlElement is a generic element tree used to read SOAP bodies.
type xmlElement struct {
	XMLName  xml.Name
	Children []xmlElement `xml:",any"`
	Text     string       `xml:",chardata"`
}

type soapEnvelopeIn struct {
	XMLName xml.Name
	Body    struct {
		Elements []xmlElement `xml:",any"`
	} `xml:"Body"`
}

func (c *SOAP) Decode(in Input) (*api.Envelope, error) {
	var env soapEnvelopeIn
	if err := xml.Unmarshal(in.Body, &env); err != nil || env.XMLName.Local != "Envelope" {
		return nil, api.NewDecodeError("malformed", "request is not a valid SOAP envelope")
	}
	if len(env.Body.Elements) == 0 {
		return nil, api.NewDecodeError("missing_operation", "SOAP body names no operation")
	}

	op := env.Body.Elements[0]
	payload, err := json.Marshal(elementValue(op))
	if err != nil {
		return nil, api.NewDecodeError("malformed", "SOAP arguments cannot be represented").WithCause(err)
	}
	if len(op.Children) == 0 {
		payload = nil
	}

	return api.NewEnvelope(api.ProtocolSOAP, op.XMLName.Local, payload, api.WithHeaders(in.Headers)), nil
}

// elementValue converts an element into a string (leaf) or an object of
// its children keyed by local name.
func elementValue(e xmlElement) any {
	if len(e.Children) == 0 {
		return strings.TrimSpace(e.Text)
	}
	m := make(map[string]any, len(e.Children))
	for _, child := range e.Children {
		m[child.XMLName.Local] = elementValue(child)
	}
	return m
}

type soapEnvelopeOut struct {
	XMLName xml.Name    `xml:"soap11env:Envelope"`
	EnvNS   string      `xml:"xmlns:soap11env,attr"`
	TNS     string      `xml:"xmlns:tns,attr"`
	Body    soapBodyOut `xml:"soap11env:Body"`
}

type soapBodyOut struct {
	Content any
}

type soapResponse struct {
	XMLName xml.Name
	Result  soapText
}

type soapText struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

type soapFault struct {
	XMLName     xml.Name `xml:"soap11env:Fault"`
	FaultCode   string   `xml:"faultcode"`
	FaultString string   `xml:"faultstring"`
}

func (c *SOAP) Encode(res *api.Result) ([]byte, error) {
	out := soapEnvelopeOut{EnvNS: soapEnvNS, TNS: c.namespace}

	if res.IsOK() {
		text, err := soapBodyText(res.Body)
		if err != nil {
			return nil, err
		}
		op := res.Target
		out.Body.Content = soapResponse{
			XMLName: xml.Name{Local: "tns:" + op + "Response"},
			Result:  soapText{XMLName: xml.Name{Local: "tns:" + op + "Result"}, Text: text},
		}
	} else {
		code := "soap11env:Server"
		if res.ErrorKind == api.KindDecode || res.ErrorKind == api.KindNotFound {
			code = "soap11env:Client"
		}
		out.Body.Content = soapFault{FaultCode: code, FaultString: res.Message}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(out); err != nil {
		return nil, fmt.Errorf("encode soap envelope: %w", err)
	}
	return buf.Bytes(), nil
}

func soapBodyText(body any) (string, error) {
	switch v := body.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		data, err := marshalJSON(v)
		return string(data), err
	}
}

// DecodeResult parses a SOAP response envelope back into a Result. The body
// of an Ok Result is the text of the first result element.
func (c *SOAP) DecodeResult(data []byte) (*api.Result, error) {
	var env soapEnvelopeIn
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse soap response: %w", err)
	}
	if len(env.Body.Elements) == 0 {
		return nil, fmt.Errorf("parse soap response: empty body")
	}

	first := env.Body.Elements[0]
	if first.XMLName.Local == "Fault" {
		res := &api.Result{Status: api.StatusError, ErrorKind: api.KindInternal}
		for _, child := range first.Children {
			switch child.XMLName.Local {
			case "faultstring":
				res.Message = strings.TrimSpace(child.Text)
			case "faultcode":
				if strings.HasSuffix(child.Text, "Client") {
					res.ErrorKind = api.KindDecode
				}
			}
		}
		return res, nil
	}

	res := &api.Result{Status: api.StatusOK, Target: strings.TrimSuffix(first.XMLName.Local, "Response")}
	if len(first.Children) > 0 {
		res.Body = first.Children[0].Text
	}
	return res, nil
}
