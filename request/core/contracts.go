package core

import "context"

// Transport is the low-level send contract consumed by the pipeline. It
// must honour context cancellation, stream upload progress through
// Request.UploadProgress, and materialise the body according to the
// response-type hint.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// TokenProvider yields the current bearer token for header injection.
// Token storage is external to this library.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to the TokenProvider interface.
type TokenProviderFunc func(ctx context.Context) (string, error)

func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// RefreshFunc renews the access token in dual-token mode. It must return a
// non-empty token on success.
type RefreshFunc func(ctx context.Context) (string, error)

// RequestInterceptor observes and may rewrite requests just before they
// reach the transport.
type RequestInterceptor interface {
	OnRequest(ctx context.Context, req *Request) (*Request, error)
	OnRequestError(ctx context.Context, err error) error
}

// ResponseInterceptor observes and may rewrite settled responses,
// including cache-synthesised ones.
type ResponseInterceptor interface {
	OnResponse(ctx context.Context, resp *Response) (*Response, error)
	OnResponseError(ctx context.Context, err error) error
}
