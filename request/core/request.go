// Package core defines the shared request/response descriptors, the
// canonical request-key derivation, the error taxonomy and the external
// contracts (transport, token provider) consumed by the request
// orchestration pipeline.
package core

import (
	"net/http"
	"net/url"
)

// Method is the HTTP method of a logical request.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// ResponseType hints how the transport should materialise the response body.
type ResponseType string

const (
	// ResponseJSON marks a structured JSON body, decoded on demand with
	// Response.Decode.
	ResponseJSON ResponseType = "json"
	// ResponseBinary keeps the body as raw bytes (downloads, uploads).
	ResponseBinary ResponseType = "binary"
	// ResponseText keeps the body as plain text.
	ResponseText ResponseType = "text"
)

// Request describes one logical HTTP request to the pipeline.
//
// A Request is created per call and discarded when the pipeline settles.
// Attempts and RefreshAttempted are bookkeeping fields owned by the retry
// stage and the refresh controller respectively; callers leave them zero.
type Request struct {
	Method       Method
	URL          string
	Params       map[string]string
	Body         any // map[string]any (JSON), url.Values (form), []byte (raw), or nil
	Headers      http.Header
	ResponseType ResponseType

	// CancelID associates the request with a named cancellation handle.
	CancelID string

	// UploadProgress, when set, receives streamed upload progress from the
	// transport as body bytes are written to the wire.
	UploadProgress func(sent, total int64)

	// Attempts counts pipeline submissions of this descriptor. Mutated by
	// the retry stage.
	Attempts int

	// RefreshAttempted guards against refresh loops. Mutated by the
	// refresh controller.
	RefreshAttempted bool
}

// NewRequest returns a request descriptor with an initialised header map.
func NewRequest(method Method, rawURL string) *Request {
	return &Request{
		Method:       method,
		URL:          rawURL,
		Headers:      make(http.Header),
		ResponseType: ResponseJSON,
	}
}

// SetHeader sets a header, initialising the header map when the descriptor
// was built from a plain struct literal.
func (r *Request) SetHeader(key, value string) {
	if r.Headers == nil {
		r.Headers = make(http.Header)
	}
	r.Headers.Set(key, value)
}

// Header returns the named header or "".
func (r *Request) Header(key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// Clone returns a deep copy of the descriptor. The body is shared: bodies
// are treated as immutable once handed to the pipeline.
func (r *Request) Clone() *Request {
	dup := *r
	if r.Headers != nil {
		dup.Headers = r.Headers.Clone()
	}
	if r.Params != nil {
		dup.Params = make(map[string]string, len(r.Params))
		for k, v := range r.Params {
			dup.Params[k] = v
		}
	}
	return &dup
}

// FullURL resolves the target URL with query parameters applied.
func (r *Request) FullURL() (string, error) {
	if len(r.Params) == 0 {
		return r.URL, nil
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range r.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
