package intercept

import (
	"net/http"
	"time"

	"github.com/zalando/intercept/codec"
	"github.com/zalando/intercept/payload"
)

// Handler is a middleware stage. It either calls next or responds by
// itself. The handlers created by the builders of this package contain
// their errors and always return nil.
type Handler interface {
	Handle(w http.ResponseWriter, r *http.Request, next http.Handler) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, next http.Handler) error

func (f HandlerFunc) Handle(w http.ResponseWriter, r *http.Request, next http.Handler) error {
	return f(w, r, next)
}

// Metrics receives the events of the intercepting handlers. The metrics
// package provides a Prometheus implementation.
type Metrics interface {

	// IncOutcome counts a response that was intercepted or skipped.
	IncOutcome(handler, outcome string)

	// IncError counts a contained error by its kind: condition,
	// transform, flush or handler.
	IncError(handler, kind string)

	// MeasureFinalize observes the time spent between the end of the
	// downstream handler and the end of the intercepted response.
	MeasureFinalize(handler string, start time.Time)
}

// Outcomes reported to Metrics.IncOutcome.
const (
	OutcomeIntercepted = "intercepted"
	OutcomeSkipped     = "skipped"
	OutcomeFiltered    = "filtered"
)

// Options of the builders.
type Options struct {

	// ErrorHandler is called with the contained errors. Defaults to
	// DefaultErrorHandler.
	ErrorHandler ErrorHandler

	// Codecs used to decode and re-encode the buffered bodies, and to
	// negotiate the compression. Defaults to codec.Default().
	Codecs *codec.Registry

	// ETag, when set, recalculates the ETag of replaced bodies. Otherwise
	// the ETag header of a replaced body is removed.
	ETag payload.ETagFunc

	// Metrics, when set, receives the events of the handlers.
	Metrics Metrics

	// FailOnConditionError makes the errors of the For and If conditions
	// fail the request instead of skipping the interception.
	FailOnConditionError bool

	// Name identifies the handlers in the logs and the metrics.
	Name string
}

type noMetrics struct{}

func (noMetrics) IncOutcome(string, string)         {}
func (noMetrics) IncError(string, string)           {}
func (noMetrics) MeasureFinalize(string, time.Time) {}

func (o *Options) metrics() Metrics {
	if o.Metrics == nil {
		return noMetrics{}
	}

	return o.Metrics
}

func (o Options) withDefaults() Options {
	if o.Codecs == nil {
		o.Codecs = codec.Default()
	}

	if o.ErrorHandler == nil {
		o.ErrorHandler = DefaultErrorHandler
	}

	return o
}

// Middleware returns h as a standard net/http middleware.
func Middleware(h Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return Wrap(h, next)
	}
}

// Wrap mounts h in front of next. Errors returned by h are passed to
// DefaultErrorHandler.
func Wrap(h Handler, next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}

	o := Options{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.Handle(w, r, next); err != nil {
			o.contain(w, r, err, false)
		}
	})
}

// chain combines the handlers into a single one, the first handler is the
// outermost. The errors of every handler are contained with o.
func (o *Options) chain(h Handler, more ...Handler) Handler {
	h = o.guard(h)
	if len(more) == 0 {
		return h
	}

	return seq(h, o.chain(more[0], more[1:]...))
}

func (o *Options) guard(h Handler) Handler {
	return HandlerFunc(func(w http.ResponseWriter, r *http.Request, next http.Handler) error {
		if err := h.Handle(w, r, next); err != nil {
			o.contain(w, r, err, false)
		}

		return nil
	})
}

// seq runs a, with b as its downstream in front of next.
func seq(a, b Handler) Handler {
	return HandlerFunc(func(w http.ResponseWriter, r *http.Request, next http.Handler) error {
		return a.Handle(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b.Handle(w, r, next)
		}))
	})
}
