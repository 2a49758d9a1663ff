package intercept

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/intercept/condition"
	"github.com/zalando/intercept/payload"
)

// Response is the view of an intercepted response given to the conditions
// and the transformations.
type Response interface {
	Header() http.Header
	StatusCode() int
	SetStatusCode(int)
}

type tapState int

const (
	idle tapState = iota
	skipped
	active
	finalizing
	closed
)

// sink writes to the original response writer. The header is sent with
// the first write, or at the end.
type sink struct {
	w          http.ResponseWriter
	method     string
	code       int
	headerSent bool
	noBody     bool
}

func bodyAllowed(code int) bool {
	switch {
	case code >= 100 && code < 200:
		return false
	case code == http.StatusNoContent, code == http.StatusNotModified:
		return false
	default:
		return true
	}
}

func (s *sink) writeHeader() {
	if s.headerSent {
		return
	}

	s.headerSent = true
	if !bodyAllowed(s.code) {
		h := s.w.Header()
		h.Del("Content-Length")
		h.Del("Transfer-Encoding")
		if s.code != http.StatusNotModified {
			h.Del("Content-Type")
		}

		s.noBody = true
	}

	if s.method == http.MethodHead {
		s.noBody = true
	}

	s.w.WriteHeader(s.code)
}

func (s *sink) Write(b []byte) (int, error) {
	s.writeHeader()
	if s.noBody {
		return len(b), nil
	}

	return s.w.Write(b)
}

func (s *sink) End(b []byte) error {
	s.writeHeader()
	if len(b) == 0 || s.noBody {
		return nil
	}

	_, err := s.w.Write(b)
	return err
}

// pipeSink serializes the writes of the stream copy with the flushes of
// the downstream handler.
type pipeSink struct {
	mu      sync.Mutex
	sink    *sink
	flusher http.Flusher

	// a flush request also covers the next write, which may carry the
	// data written before the request
	flushNext bool
}

func (p *pipeSink) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.sink.Write(b)
	if err == nil && p.flushNext {
		p.flushNext = false
		p.flusher.Flush()
	}

	return n, err
}

func (p *pipeSink) Flush() {
	if p.flusher == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushNext = true
	if p.sink.headerSent {
		p.flusher.Flush()
	}
}

// responseSnapshot is the response seen by the await conditions running
// next to the downstream handler.
type responseSnapshot struct {
	header http.Header
	code   int
}

func (s *responseSnapshot) Header() http.Header { return s.header }

func (s *responseSnapshot) StatusCode() int { return s.code }

func (s *responseSnapshot) SetStatusCode(code int) { s.code = code }

// tap replaces the response writer of the downstream handler. It decides
// at the start of the response whether it intercepts it.
type tap struct {
	handler *responseHandler
	request *http.Request
	sink    sink
	state   tapState

	headerCalled bool

	payload *payload.Payload
	future  *condition.Future

	// set when the response was committed but cannot be transformed
	err error

	pipe     *io.PipeWriter
	pipeOut  *pipeSink
	copyDone chan error

	// header of the downstream handler while the stream is copied, the
	// header of the original writer belongs to the copy
	downstreamHeader http.Header

	encoder   io.WriteCloser
	streamErr error
}

func newTap(h *responseHandler, w http.ResponseWriter, r *http.Request) *tap {
	return &tap{
		handler: h,
		request: r,
		sink:    sink{w: w, method: r.Method, code: http.StatusOK},
	}
}

func (t *tap) Header() http.Header {
	if t.downstreamHeader != nil {
		return t.downstreamHeader
	}

	return t.sink.w.Header()
}

func (t *tap) StatusCode() int { return t.sink.code }

// SetStatusCode changes the status code, until the header is sent.
func (t *tap) SetStatusCode(code int) {
	if t.sink.headerSent {
		return
	}

	t.sink.code = code
}

func (t *tap) WriteHeader(code int) {
	switch t.state {
	case idle:
		if code >= 100 && code < 200 {
			t.sink.w.WriteHeader(code)
			return
		}

		t.sink.code = code
		t.headerCalled = true
		t.start()
	case skipped:
		if code >= 100 && code < 200 {
			t.sink.w.WriteHeader(code)
			return
		}

		t.SetStatusCode(code)
		t.sink.writeHeader()
	}
}

func (t *tap) Write(b []byte) (int, error) {
	if t.state == idle {
		t.start()
	}

	if t.state != active {
		return t.sink.Write(b)
	}

	switch {
	case t.err != nil:
		return len(b), nil
	case t.pipe != nil:
		return t.pipe.Write(b)
	case t.encoder != nil:
		n, err := t.encoder.Write(b)
		if err != nil && t.streamErr == nil {
			t.streamErr = err
		}

		return n, err
	default:
		return t.payload.Write(b)
	}
}

func (t *tap) WriteString(s string) (int, error) {
	if t.state == idle {
		t.start()
	}

	if t.state == active && t.payload != nil && t.err == nil {
		return t.payload.WriteString(s)
	}

	return t.Write([]byte(s))
}

// Flush is forwarded only when the response is not buffered.
func (t *tap) Flush() {
	f, ok := t.sink.w.(http.Flusher)
	switch {
	case t.state == active && t.pipeOut != nil && t.err == nil:
		t.pipeOut.Flush()
		return
	case t.state == skipped:
		t.sink.writeHeader()
	case t.state == active && t.encoder != nil && t.err == nil:
		if ef, ok := t.encoder.(interface{ Flush() error }); ok {
			if err := ef.Flush(); err != nil {
				log.Debugf("Failed to flush the encoder: %v", err)
				return
			}
		}

		t.sink.writeHeader()
	default:
		return
	}

	if ok {
		f.Flush()
	}
}

// Hijack is supported only when the response is not intercepted.
func (t *tap) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if t.state != idle && t.state != skipped {
		return nil, nil, errHijacked
	}

	h, ok := t.sink.w.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}

	t.state = closed
	return h.Hijack()
}

// Unwrap returns the original writer, for http.ResponseController.
func (t *tap) Unwrap() http.ResponseWriter { return t.sink.w }

func (t *tap) skip() {
	t.state = skipped
	t.handler.metrics.IncOutcome(t.handler.name, OutcomeSkipped)
	if t.headerCalled {
		t.sink.writeHeader()
	}
}

// commit marks the response as intercepted, but failing.
func (t *tap) commit(err error) {
	t.state = active
	t.err = err
}

func (t *tap) start() {
	h := t.handler
	ok, err := condition.Eval(h.ifCond, Response(t))
	if err != nil {
		if !h.options.FailOnConditionError {
			log.Debugf("Skipping %s, response condition failed: %v", h.name, err)
			h.metrics.IncError(h.name, "condition")
			t.skip()
			return
		}

		t.commit(&ConditionError{Phase: "response", Err: err})
		return
	}

	if !ok {
		t.skip()
		return
	}

	switch h.mode {
	case bufferMode:
		t.activate()
		t.payload = payload.New(t.Header(), payload.Options{Codecs: h.options.Codecs, ETag: h.options.ETag})
		if h.await != nil {
			snapshot := &responseSnapshot{header: t.Header().Clone(), code: t.sink.code}
			t.future = condition.Go(h.await, Response(snapshot))
		}
	case pipeMode:
		if t.awaitNow() {
			t.startPipe()
		}
	case writerMode:
		if t.awaitNow() {
			t.startEncoder()
		}
	}
}

func (t *tap) activate() {
	t.state = active
	t.handler.metrics.IncOutcome(t.handler.name, OutcomeIntercepted)
}

// awaitNow evaluates the await conditions of the streaming modes,
// synchronously, before the body starts flowing.
func (t *tap) awaitNow() bool {
	h := t.handler
	ok, err := condition.Eval(h.await, Response(t))
	switch {
	case err != nil:
		t.commit(&TransformError{Handler: h.name, Err: &ConditionError{Phase: "await", Err: err}})
		return false
	case !ok:
		t.skip()
		return false
	default:
		return true
	}
}

func (t *tap) dropStaleLength(before []string) {
	after := t.Header().Values("Content-Length")
	if len(before) == len(after) && (len(before) == 0 || before[0] == after[0]) {
		t.Header().Del("Content-Length")
	}
}

func (t *tap) startPipe() {
	h := t.handler
	upstream, pw := io.Pipe()
	length := t.Header().Values("Content-Length")

	var out io.Reader
	if err := try(func() (err error) {
		out, err = h.intercept(upstream, t.request, t)
		return
	}); err != nil {
		upstream.Close()
		t.commit(&TransformError{Handler: h.name, Err: err})
		return
	}

	if out == nil || out == io.Reader(upstream) {
		upstream.Close()
		t.skip()
		return
	}

	t.dropStaleLength(length)
	t.activate()
	t.pipe = pw
	t.pipeOut = &pipeSink{sink: &t.sink}
	t.pipeOut.flusher, _ = t.sink.w.(http.Flusher)
	t.downstreamHeader = t.sink.w.Header().Clone()
	t.copyDone = make(chan error, 1)
	go func() {
		_, err := io.Copy(t.pipeOut, out)
		if c, ok := out.(io.Closer); ok {
			if cerr := c.Close(); err == nil {
				err = cerr
			}
		}

		// unblocks the downstream writes when the transformation stopped
		// reading early
		upstream.CloseWithError(err)
		t.copyDone <- err
	}()
}

func (t *tap) startEncoder() {
	h := t.handler
	length := t.Header().Values("Content-Length")

	var enc io.WriteCloser
	if err := try(func() (err error) {
		enc, err = h.transform(&t.sink, t.request, t)
		return
	}); err != nil {
		t.commit(&TransformError{Handler: h.name, Err: err})
		return
	}

	if enc == nil {
		t.skip()
		return
	}

	t.dropStaleLength(length)
	t.activate()
	t.encoder = enc
}

// abort releases the resources of the tap, when the downstream handler
// panicked.
func (t *tap) abort() {
	t.state = closed
	if t.pipe != nil {
		t.pipe.CloseWithError(io.ErrUnexpectedEOF)
		<-t.copyDone
	}

	if t.encoder != nil {
		t.encoder.Close()
	}
}

// fail prepares the response for the error handler.
func (t *tap) fail(err error) error {
	h := t.sink.w.Header()
	h.Del("Content-Length")
	h.Del("Content-Encoding")
	h.Del("ETag")
	t.SetStatusCode(http.StatusInternalServerError)
	return err
}

// end finalizes the response after the downstream handler returned.
func (t *tap) end() error {
	if t.state == idle {
		t.start()
	}

	switch t.state {
	case skipped:
		t.state = closed
		t.sink.writeHeader()
		return nil
	case active:
	default:
		return nil
	}

	t.state = finalizing
	defer func() { t.state = closed }()
	defer t.handler.metrics.MeasureFinalize(t.handler.name, time.Now())

	switch {
	case t.err != nil:
		return t.fail(t.err)
	case t.pipe != nil:
		return t.endPipe()
	case t.encoder != nil:
		return t.endEncoder()
	default:
		return t.endBuffer()
	}
}

func (t *tap) endBuffer() error {
	h := t.handler
	run := true
	if t.future != nil {
		ok, err := t.future.Wait(t.request.Context())
		if err != nil {
			return t.fail(&TransformError{Handler: h.name, Err: &ConditionError{Phase: "await", Err: err}})
		}

		run = ok
	}

	if run && h.buffer != nil {
		if err := try(func() error { return h.buffer(t.payload, t.request, t) }); err != nil {
			return t.fail(&TransformError{Handler: h.name, Err: err})
		}
	} else if !run {
		h.metrics.IncOutcome(h.name, OutcomeFiltered)
	}

	if err := t.request.Context().Err(); err != nil {
		return &FlushError{Err: err}
	}

	if err := t.payload.Flush(&t.sink); err != nil {
		return &FlushError{Err: err}
	}

	return nil
}

func (t *tap) endPipe() error {
	t.pipe.Close()
	if err := <-t.copyDone; err != nil {
		return t.streamFailed(err)
	}

	t.sink.writeHeader()
	t.copyTrailers()
	return nil
}

// copyTrailers sets the trailers of the downstream handler on the
// original writer, once the header was sent.
func (t *tap) copyTrailers() {
	h := t.sink.w.Header()
	declared := make(map[string]bool)
	for _, v := range h.Values("Trailer") {
		for _, k := range strings.Split(v, ",") {
			declared[http.CanonicalHeaderKey(strings.TrimSpace(k))] = true
		}
	}

	for k, v := range t.downstreamHeader {
		if declared[k] || strings.HasPrefix(k, http.TrailerPrefix) {
			h[k] = v
		}
	}
}

func (t *tap) endEncoder() error {
	err := t.streamErr
	if cerr := t.encoder.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return t.streamFailed(err)
	}

	if err := t.sink.End(nil); err != nil {
		return &FlushError{Err: err}
	}

	return nil
}

func (t *tap) streamFailed(err error) error {
	if t.sink.headerSent {
		return &FlushError{Err: err}
	}

	return t.fail(&TransformError{Handler: t.handler.name, Err: err})
}
