package intercept

import (
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/intercept/condition"
)

// ConditionError is returned when a condition fails with an error. Before
// the interception is active, it only causes the interception to be
// skipped, unless Options.FailOnConditionError is set.
type ConditionError struct {
	Phase string
	Err   error
}

// TransformError is returned when a transformation or an observer fails,
// or when a condition fails after the interception was committed.
type TransformError struct {
	Handler string
	Err     error
}

// FlushError is returned when the response could not be sent to the
// original writer.
type FlushError struct {
	Err error
}

// ErrorHandler is called when an intercepting handler fails. The response
// writer passed to it accepts a single response, and when the error
// handler doesn't send one, an empty 500 is sent.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

var errHijacked = errors.New("intercept: cannot hijack an intercepted response")

func (e *ConditionError) Error() string {
	return fmt.Sprintf("%s condition failed: %v", e.Phase, e.Err)
}

func (e *ConditionError) Unwrap() error { return e.Err }

func (e *TransformError) Error() string {
	if e.Handler == "" {
		return fmt.Sprintf("transformation failed: %v", e.Err)
	}

	return fmt.Sprintf("%s failed: %v", e.Handler, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

func (e *FlushError) Error() string {
	return fmt.Sprintf("failed to send the response: %v", e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

func errorKind(err error) string {
	var (
		cerr *ConditionError
		terr *TransformError
		ferr *FlushError
	)

	switch {
	case errors.As(err, &terr):
		return "transform"
	case errors.As(err, &cerr):
		return "condition"
	case errors.As(err, &ferr):
		return "flush"
	default:
		return "handler"
	}
}

// DefaultErrorHandler logs the error and responds with an empty 500.
func DefaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	log.Errorf("Error while intercepting the response of %s %s: %v", r.Method, r.URL.Path, err)

	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusInternalServerError)
}

// try calls f, and returns a panic raised by f as an error.
func try(f func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &condition.PanicError{Value: p}
		}
	}()

	return f()
}

// terminalWriter accepts a single response from an error handler. When
// the header was sent before the error, it discards everything.
type terminalWriter struct {
	w          http.ResponseWriter
	sentBefore bool
	headerSent bool
}

func (tw *terminalWriter) Header() http.Header { return tw.w.Header() }

func (tw *terminalWriter) WriteHeader(code int) {
	if tw.sentBefore || tw.headerSent {
		return
	}

	tw.headerSent = true
	tw.w.WriteHeader(code)
}

func (tw *terminalWriter) Write(b []byte) (int, error) {
	if tw.sentBefore {
		return len(b), nil
	}

	if !tw.headerSent {
		tw.WriteHeader(http.StatusOK)
	}

	return tw.w.Write(b)
}

func (tw *terminalWriter) Unwrap() http.ResponseWriter { return tw.w }

// contain passes err to the error handler, and makes sure that the
// request gets a response.
func (o *Options) contain(w http.ResponseWriter, r *http.Request, err error, headerSent bool) {
	o.metrics().IncError(o.Name, errorKind(err))

	if headerSent {
		log.Debugf("Response of %s %s failed after the header was sent: %v", r.Method, r.URL.Path, err)
	}

	tw := &terminalWriter{w: w, sentBefore: headerSent}
	eh := o.ErrorHandler
	if eh == nil {
		eh = DefaultErrorHandler
	}

	if perr := try(func() error { eh(tw, r, err); return nil }); perr != nil {
		log.Errorf("Error handler failed: %v", perr)
	}

	if !tw.sentBefore && !tw.headerSent {
		h := w.Header()
		h.Del("Content-Encoding")
		h.Del("ETag")
		h.Set("Content-Length", "0")
		w.WriteHeader(http.StatusInternalServerError)
	}
}
