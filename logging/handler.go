package logging

import (
	"net/http"
	"time"
)

type handler struct {
	next http.Handler
	now  func() time.Time
}

// NewHandler returns a handler that writes an access log entry for each
// request served by next.
func NewHandler(next http.Handler) http.Handler {
	return &handler{next: next, now: time.Now}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	lw := &loggingWriter{writer: w}
	h.next.ServeHTTP(lw, r)

	if lw.code == 0 {
		lw.code = http.StatusOK
	}

	LogAccess(&AccessEntry{
		Request:         r,
		StatusCode:      lw.code,
		ResponseSize:    lw.bytes,
		ContentEncoding: w.Header().Get("Content-Encoding"),
		Duration:        h.now().Sub(start),
		RequestTime:     start,
	})
}
