package api

// Status is the coarse outcome of a handler invocation.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is produced for every Envelope that enters the dispatcher. For
// request/response protocols exactly one Result is encoded; streaming
// protocols encode a bounded sequence of them.
type Result struct {
	Status    Status    `json:"status"`
	Body      any       `json:"body,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`

	// CorrelationID and Target are echoed from the Envelope (or from the
	// decode error) so codecs can address the reply.
	CorrelationID string `json:"correlation_id,omitempty"`
	Target        string `json:"target,omitempty"`
}

// OK creates a successful Result.
func OK(body any) *Result {
	return &Result{Status: StatusOK, Body: body}
}

// Fail creates an error Result from a classified error.
func Fail(err *Error) *Result {
	return &Result{
		Status:    StatusError,
		ErrorKind: err.Kind,
		Code:      err.Code,
		Message:   err.Message,
	}
}

// IsOK reports whether the Result is successful.
func (r *Result) IsOK() bool { return r.Status == StatusOK }

// Retryable reports whether the caller may retry the request that produced
// this Result.
func (r *Result) Retryable() bool {
	return r.Status == StatusError && r.ErrorKind.Retryable()
}

// For returns a copy of r addressed to the given Envelope.
func (r *Result) For(env *Envelope) *Result {
	out := *r
	if env != nil {
		out.CorrelationID = env.CorrelationID()
		out.Target = env.Target()
	}
	return &out
}
