package request

import (
	"net/http"

	"github.com/sao-lang/lania-tools/request/core"
)

// Options are the per-call overrides recognised by the request operations.
type Options struct {
	// CancelID names a cancellation handle for this call.
	CancelID string

	// Headers and Header are alternative header representations: a plain
	// mapping or an http.Header object. Both may be set; Header wins on
	// conflicting names.
	Headers map[string]string
	Header  http.Header

	// Params is the query mapping.
	Params map[string]string

	// ResponseType overrides the structured default.
	ResponseType core.ResponseType
}

// apply folds the options onto a request descriptor.
func (o *Options) apply(req *core.Request) {
	if o == nil {
		return
	}
	req.CancelID = o.CancelID
	if o.Params != nil {
		req.Params = o.Params
	}
	for key, value := range o.Headers {
		req.SetHeader(key, value)
	}
	for key, values := range o.Header {
		for _, v := range values {
			req.SetHeader(key, v)
		}
	}
	if o.ResponseType != "" {
		req.ResponseType = o.ResponseType
	}
}
