package builtin

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"golang.org/x/net/http/httpguts"

	"github.com/zalando/intercept"
)

type headerStack struct {
	header http.Header
}

// StackRequestHeader returns a handler that sets the request headers for
// the downstream handlers, and restores the previous values when the
// response ends, before the upstream handlers see the response. An empty
// value removes the header.
func StackRequestHeader(o intercept.Options, header http.Header) (intercept.Handler, error) {
	s := &headerStack{header: make(http.Header, len(header))}
	for name, values := range header {
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("invalid header name: %q", name)
		}

		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, fmt.Errorf("invalid value of header %s: %q", name, v)
			}
		}

		s.header[http.CanonicalHeaderKey(name)] = values
	}

	return intercept.RequestHandler(o).Use(
		intercept.HandlerFunc(s.push),
		intercept.ResponseHandler(o).GetRequest(s.pop),
	), nil
}

func (s *headerStack) push(w http.ResponseWriter, r *http.Request, next http.Handler) error {
	saved := make(http.Header, len(s.header))
	for name, values := range s.header {
		if prev, ok := r.Header[name]; ok {
			saved[name] = prev
		}

		if len(values) == 0 || len(values) == 1 && values[0] == "" {
			delete(r.Header, name)
		} else {
			r.Header[name] = slices.Clone(values)
		}
	}

	next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), s, saved)))
	return nil
}

func (s *headerStack) pop(r *http.Request) error {
	saved, _ := r.Context().Value(s).(http.Header)
	for name := range s.header {
		if prev, ok := saved[name]; ok {
			r.Header[name] = prev
		} else {
			delete(r.Header, name)
		}
	}

	return nil
}
