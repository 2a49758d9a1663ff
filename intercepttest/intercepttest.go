// Package intercepttest tests handlers both on the server side and on the
// client side.
//
// The checkers registered on a Tester observe the response on the server
// side, before it is sent. When a checker fails, the failure is reported
// to the client in the ErrorHeader, and Do returns it as an error:
//
//	rsp, err := intercepttest.New(app).
//		GetString(func(body string) error {
//			if body != "foo" {
//				return fmt.Errorf("unexpected body: %s", body)
//			}
//
//			return nil
//		}).
//		Get("/")
package intercepttest

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/zalando/intercept"
)

// ErrorHeader carries the base64 encoded failure of a checker.
const ErrorHeader = "X-Intercepttest-Error"

// Tester serves the requests with the app, behind the registered handlers.
type Tester struct {
	app      http.Handler
	handlers []intercept.Handler
	handler  http.Handler
}

// New creates a tester for app.
func New(app http.Handler) *Tester {
	return &Tester{app: app}
}

// Use adds a handler in front of the app. The first added handler is the
// outermost.
func (t *Tester) Use(h intercept.Handler) *Tester {
	t.handlers = append(t.handlers, h)
	t.handler = nil
	return t
}

func report(rsp intercept.Response, err error) error {
	if err != nil {
		rsp.Header().Set(ErrorHeader, base64.StdEncoding.EncodeToString([]byte(err.Error())))
	}

	return nil
}

// GetString registers a checker receiving the decoded body.
func (t *Tester) GetString(check func(body string) error) *Tester {
	return t.Use(intercept.ResponseHandler(intercept.Options{}).
		GetString(func(body string, _ *http.Request, rsp intercept.Response) error {
			return report(rsp, check(body))
		}))
}

// GetBuffer registers a checker receiving the decoded body.
func (t *Tester) GetBuffer(check func(body []byte) error) *Tester {
	return t.Use(intercept.ResponseHandler(intercept.Options{}).
		GetBuffer(func(body []byte, _ *http.Request, rsp intercept.Response) error {
			return report(rsp, check(body))
		}))
}

// GetRequest registers a checker receiving the request when the response
// ends.
func (t *Tester) GetRequest(check func(*http.Request) error) *Tester {
	return t.Use(intercept.ResponseHandler(intercept.Options{}).
		GetBuffer(func(_ []byte, r *http.Request, rsp intercept.Response) error {
			return report(rsp, check(r))
		}))
}

// GetResponse registers a checker receiving the response before it is
// sent.
func (t *Tester) GetResponse(check func(intercept.Response) error) *Tester {
	return t.Use(intercept.ResponseHandler(intercept.Options{}).
		GetBuffer(func(_ []byte, _ *http.Request, rsp intercept.Response) error {
			return report(rsp, check(rsp))
		}))
}

// Handler returns the app behind the registered handlers.
func (t *Tester) Handler() http.Handler {
	if t.handler != nil {
		return t.handler
	}

	t.handler = t.app
	if len(t.handlers) > 0 {
		h := intercept.RequestHandler(intercept.Options{}).Use(t.handlers[0], t.handlers[1:]...)
		t.handler = intercept.Wrap(h, t.app)
	}

	return t.handler
}

// Do serves the request. When a checker failed, it returns the failure.
func (t *Tester) Do(r *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	t.Handler().ServeHTTP(rec, r)
	rsp := rec.Result()

	if v := rsp.Header.Get(ErrorHeader); v != "" {
		rsp.Body.Close()
		msg, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, err
		}

		return nil, errors.New(string(msg))
	}

	return rsp, nil
}

func (t *Tester) request(method, target string, body io.Reader, header http.Header) (*http.Response, error) {
	r := httptest.NewRequest(method, target, body)
	for k, v := range header {
		r.Header[k] = v
	}

	return t.Do(r)
}

// Get sends a GET request. The optional header is added to the request.
func (t *Tester) Get(target string, header ...http.Header) (*http.Response, error) {
	return t.request(http.MethodGet, target, nil, merge(header))
}

// Head sends a HEAD request.
func (t *Tester) Head(target string, header ...http.Header) (*http.Response, error) {
	return t.request(http.MethodHead, target, nil, merge(header))
}

// Post sends a POST request with a body.
func (t *Tester) Post(target, contentType, body string) (*http.Response, error) {
	return t.request(http.MethodPost, target, strings.NewReader(body), http.Header{"Content-Type": {contentType}})
}

func merge(hs []http.Header) http.Header {
	m := make(http.Header)
	for _, h := range hs {
		for k, v := range h {
			m[http.CanonicalHeaderKey(k)] = v
		}
	}

	return m
}

// Body reads and closes the body of a response.
func Body(rsp *http.Response) (string, error) {
	defer rsp.Body.Close()
	b, err := io.ReadAll(rsp.Body)
	return string(b), err
}
