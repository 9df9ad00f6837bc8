// Package transport provides the default net/http implementation of the
// core.Transport contract, plus optional reliability decorators.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/sao-lang/lania-tools/request/core"
)

// HTTPTransport sends request descriptors over net/http. It honours
// context cancellation and streams upload progress. The response body is
// always read whole into Response.Body as raw bytes; the response-type hint
// does not change how it is read.
type HTTPTransport struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPTransport creates a transport over client. A nil client uses a
// default with a 30 s timeout.
func NewHTTPTransport(client *http.Client, logger *zap.Logger) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPTransport{client: client, logger: logger}
}

// Send implements core.Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *core.Request) (*core.Response, error) {
	target, err := req.FullURL()
	if err != nil {
		return nil, &core.TransportError{URL: req.URL, Err: err}
	}

	body, contentType, contentLength, err := encodeBody(req)
	if err != nil {
		return nil, &core.TransportError{URL: target, Err: err}
	}

	if body != nil && req.UploadProgress != nil {
		body = &progressReader{
			inner:    body,
			total:    contentLength,
			callback: req.UploadProgress,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), target, body)
	if err != nil {
		return nil, &core.TransportError{URL: target, Err: err}
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if contentLength > 0 {
		httpReq.ContentLength = contentLength
	}

	started := time.Now()
	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, core.NewCancelled(core.CancelManual, req.CancelID)
		}
		return nil, &core.TransportError{URL: target, Err: err}
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, core.NewCancelled(core.CancelManual, req.CancelID)
		}
		return nil, &core.TransportError{URL: target, Err: err}
	}

	t.logger.Debug("transport exchange",
		zap.String("method", string(req.Method)),
		zap.String("url", target),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	return &core.Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       payload,
		Request:    req,
	}, nil
}

// encodeBody turns the descriptor body into a reader plus wire metadata.
func encodeBody(req *core.Request) (io.Reader, string, int64, error) {
	switch body := req.Body.(type) {
	case nil:
		return nil, "", 0, nil
	case []byte:
		return bytes.NewReader(body), "application/octet-stream", int64(len(body)), nil
	case io.Reader:
		// Pre-encoded payloads (multipart uploads) arrive with their
		// Content-Type already on the descriptor headers.
		if sized, ok := body.(*bytes.Reader); ok {
			return sized, "", sized.Size(), nil
		}
		return body, "", 0, nil
	case url.Values:
		encoded := body.Encode()
		return bytes.NewReader([]byte(encoded)), "application/x-www-form-urlencoded", int64(len(encoded)), nil
	case string:
		return bytes.NewReader([]byte(body)), "text/plain; charset=utf-8", int64(len(body)), nil
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, "", 0, fmt.Errorf("encode request body: %w", err)
		}
		return bytes.NewReader(raw), "application/json", int64(len(raw)), nil
	}
}

// progressReader reports cumulative bytes written to the wire.
type progressReader struct {
	inner    io.Reader
	total    int64
	sent     int64
	callback func(sent, total int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.inner.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		p.callback(p.sent, p.total)
	}
	return n, err
}
