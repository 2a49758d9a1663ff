package intercept

import (
	"bytes"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/intercept/condition"
	"github.com/zalando/intercept/payload"
)

// RequestCondition is evaluated on the incoming request.
type RequestCondition = condition.Condition[*http.Request]

// ResponseCondition is evaluated at the start of the response.
type ResponseCondition = condition.Condition[Response]

type (
	// StringReplacer returns the new body of a buffered response.
	StringReplacer func(body string, r *http.Request, rsp Response) (string, error)

	// BufferReplacer returns the new body of a buffered response.
	BufferReplacer func(body []byte, r *http.Request, rsp Response) ([]byte, error)

	// StreamInterceptor returns the reader of the new body. The body
	// written by the downstream handler can be read from upstream. When
	// it returns nil or upstream, the response is passed through.
	//
	// The interceptor is called on the goroutine of the downstream
	// handler, before the body is written, so it must not read from
	// upstream before returning. The returned reader is read on a
	// separate goroutine, and closed when it implements io.Closer.
	StreamInterceptor func(upstream io.Reader, r *http.Request, rsp Response) (io.Reader, error)

	// StreamTransformer returns a writer that receives the body written
	// by the downstream handler, and writes the new body to dst. When it
	// returns nil, the response is passed through. The writer is closed
	// when the downstream handler returns.
	StreamTransformer func(dst io.Writer, r *http.Request, rsp Response) (io.WriteCloser, error)
)

type tapMode int

const (
	bufferMode tapMode = iota
	pipeMode
	writerMode
)

// responseHandler installs a tap for each request.
type responseHandler struct {
	name    string
	options Options
	metrics Metrics
	ifCond  ResponseCondition
	await   ResponseCondition
	mode    tapMode

	// a nil buffer function flushes the body as it was written
	buffer    func(p *payload.Payload, r *http.Request, rsp Response) error
	intercept StreamInterceptor
	transform StreamTransformer
}

func (h *responseHandler) Handle(w http.ResponseWriter, r *http.Request, next http.Handler) error {
	t := newTap(h, w, r)
	defer func() {
		if p := recover(); p != nil {
			t.abort()
			panic(p)
		}
	}()

	next.ServeHTTP(t, r)
	if err := t.end(); err != nil {
		h.options.contain(w, r, err, t.sink.headerSent)
	}

	return nil
}

// RequestBuilder creates handlers of the request phase.
type RequestBuilder struct {
	options Options
	forCond RequestCondition
}

// RequestHandler returns a builder of request phase handlers.
func RequestHandler(o Options) *RequestBuilder {
	return &RequestBuilder{options: o.withDefaults()}
}

// For adds a condition on the request. Conditions added with For are
// combined with And.
func (b *RequestBuilder) For(c RequestCondition) *RequestBuilder {
	b.forCond = condition.And(b.forCond, c)
	return b
}

// Use combines the handlers into one. The first one is the outermost.
// When the For conditions don't match, the request is passed to the next
// handler directly.
func (b *RequestBuilder) Use(h Handler, more ...Handler) Handler {
	o := b.options
	forCond := b.forCond
	chained := o.chain(h, more...)
	return HandlerFunc(func(w http.ResponseWriter, r *http.Request, next http.Handler) error {
		ok, err := condition.Eval(forCond, r)
		switch {
		case err != nil && o.FailOnConditionError:
			o.contain(w, r, &ConditionError{Phase: "request", Err: err}, false)
			return nil
		case err != nil:
			log.Debugf("Skipping %s, request condition failed: %v", o.Name, err)
			o.metrics().IncError(o.Name, "condition")
			fallthrough
		case !ok:
			next.ServeHTTP(w, r)
			return nil
		default:
			return chained.Handle(w, r, next)
		}
	})
}

// GetRequest returns a handler that passes the request to the receiver
// before calling the next handler. When the receiver fails, the next
// handler is not called.
func (b *RequestBuilder) GetRequest(receiver func(*http.Request) error) Handler {
	return b.Use(HandlerFunc(func(w http.ResponseWriter, r *http.Request, next http.Handler) error {
		if err := try(func() error { return receiver(r) }); err != nil {
			return &TransformError{Handler: "get_request", Err: err}
		}

		next.ServeHTTP(w, r)
		return nil
	}))
}

// ResponseBuilder creates handlers of the response phase.
type ResponseBuilder struct {
	request RequestBuilder
	ifCond  ResponseCondition
	await   ResponseCondition
}

// ResponseHandler returns a builder of response phase handlers.
func ResponseHandler(o Options) *ResponseBuilder {
	return &ResponseBuilder{request: *RequestHandler(o)}
}

// For adds a condition on the request.
func (b *ResponseBuilder) For(c RequestCondition) *ResponseBuilder {
	b.request.For(c)
	return b
}

// If adds a condition evaluated when the response starts.
func (b *ResponseBuilder) If(c ResponseCondition) *ResponseBuilder {
	b.ifCond = condition.And(b.ifCond, c)
	return b
}

// Await adds a condition that is started when the response starts, and
// joined when the response ends. The transformation runs only when the
// conditions are true. When they fail, the request fails. The conditions
// see the header and the status as they were when the response started.
//
// With InterceptStream and TransformStream, the await conditions are
// evaluated when the response starts, since the body is not buffered.
func (b *ResponseBuilder) Await(c ResponseCondition) *ResponseBuilder {
	b.await = condition.And(b.await, c)
	return b
}

func (b *ResponseBuilder) clone() *ResponseBuilder {
	c := *b
	return &c
}

func (b *ResponseBuilder) handler(name string, h *responseHandler) Handler {
	h.name = name
	if b.request.options.Name != "" {
		h.name = b.request.options.Name + "." + name
	}

	h.options = b.request.options
	h.metrics = h.options.metrics()
	h.ifCond = b.ifCond
	h.await = b.await
	return b.request.Use(h)
}

func (b *ResponseBuilder) buffered(name string, f func(p *payload.Payload, r *http.Request, rsp Response) error) Handler {
	return b.handler(name, &responseHandler{mode: bufferMode, buffer: f})
}

// ReplaceString returns a handler that replaces the body by the result of
// the replacer. When the result equals the original body, the response is
// sent unchanged.
func (b *ResponseBuilder) ReplaceString(replacer StringReplacer) Handler {
	return b.buffered("replace_string", func(p *payload.Payload, r *http.Request, rsp Response) error {
		body, err := p.Text()
		if err != nil {
			return err
		}

		s, err := replacer(body, r, rsp)
		if err != nil || s == body {
			return err
		}

		return p.SetText(s)
	})
}

// ReplaceBuffer returns a handler that replaces the body by the result of
// the replacer.
func (b *ResponseBuilder) ReplaceBuffer(replacer BufferReplacer) Handler {
	return b.buffered("replace_buffer", func(p *payload.Payload, r *http.Request, rsp Response) error {
		body, err := p.Bytes()
		if err != nil {
			return err
		}

		// the replacer may modify the slice in place
		body, err = replacer(bytes.Clone(body), r, rsp)
		if err != nil {
			return err
		}

		return p.SetBytes(body)
	})
}

// InterceptStream returns a handler that sends the body read from the
// reader returned by the interceptor. The reader is consumed on a separate
// goroutine, and it must not use the response: the header changes are made
// before the interceptor returns. A downstream flush covers the output sent
// so far and the next output of the reader. Trailers set by the downstream
// handler are sent when the body ends.
func (b *ResponseBuilder) InterceptStream(interceptor StreamInterceptor) Handler {
	return b.handler("intercept_stream", &responseHandler{mode: pipeMode, intercept: interceptor})
}

// TransformStream returns a handler that sends the body through the
// writer returned by the transformer.
func (b *ResponseBuilder) TransformStream(transformer StreamTransformer) Handler {
	return b.handler("transform_stream", &responseHandler{mode: writerMode, transform: transformer})
}

// GetString returns a handler that passes the decoded body to the
// receiver. The response is sent unchanged.
func (b *ResponseBuilder) GetString(receiver func(body string, r *http.Request, rsp Response) error) Handler {
	return b.buffered("get_string", func(p *payload.Payload, r *http.Request, rsp Response) error {
		body, err := p.Text()
		if err != nil {
			return err
		}

		return receiver(body, r, rsp)
	})
}

// GetBuffer returns a handler that passes the decoded body to the
// receiver. The response is sent unchanged.
func (b *ResponseBuilder) GetBuffer(receiver func(body []byte, r *http.Request, rsp Response) error) Handler {
	return b.buffered("get_buffer", func(p *payload.Payload, r *http.Request, rsp Response) error {
		body, err := p.Bytes()
		if err != nil {
			return err
		}

		return receiver(bytes.Clone(body), r, rsp)
	})
}

// GetRequest returns a handler that passes the request to the receiver
// when the response ends.
func (b *ResponseBuilder) GetRequest(receiver func(*http.Request) error) Handler {
	return b.buffered("get_request", func(_ *payload.Payload, r *http.Request, _ Response) error {
		return receiver(r)
	})
}

// GetResponse returns a handler that passes the response to the receiver
// when the response ends. The receiver may change the status code and the
// headers.
func (b *ResponseBuilder) GetResponse(receiver func(Response) error) Handler {
	return b.buffered("get_response", func(_ *payload.Payload, _ *http.Request, rsp Response) error {
		return receiver(rsp)
	})
}
