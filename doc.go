/*
Package intercept lets net/http middleware observe, buffer, transform or
replace the body of a response, without owning the connection and
without the downstream handler knowing about it.

Handlers

The package is built around the Handler interface, a middleware stage
that receives the next handler of the chain:

	type Handler interface {
		Handle(w http.ResponseWriter, r *http.Request, next http.Handler) error
	}

A Handler either calls next, to pass the request on, or it responds by
itself. Handlers are created with the builders returned by RequestHandler
and ResponseHandler, and they are mounted with Middleware or Wrap:

	upper := intercept.ResponseHandler(intercept.Options{}).
		If(intercept.ContentTypeIs("text/plain")).
		ReplaceString(func(body string, _ *http.Request, _ intercept.Response) (string, error) {
			return strings.ToUpper(body), nil
		})

	http.Handle("/", intercept.Wrap(upper, app))

Request phase and response phase

The conditions added with For are evaluated on the incoming request,
before anything is installed. When they fail, the handler simply calls
next.

The response handlers replace the response writer of the downstream
chain with a tap. On the first WriteHeader or Write call, or when the
downstream returns without writing, the tap evaluates the conditions
added with If, now that the status code and the headers are known. When
they fail, the tap switches to pass-through, and every later call goes
directly to the original writer. Otherwise the body is captured, and
when the downstream handler returns, the transformation runs and the
result is sent to the original writer.

Conditions added with Await are started when the tap activates, on a
separate goroutine, and joined only when the response ends, so a slow
condition delays only the finalization of its own response.

Buffering and streaming

ReplaceString, ReplaceBuffer, GetString, GetBuffer, GetRequest and
GetResponse buffer the complete body. The body is always presented
decoded, even when the response declares a supported Content-Encoding,
and it is encoded again when replaced. The Content-Length and ETag
headers are updated accordingly.

InterceptStream and TransformStream don't buffer. The body flows through
the returned reader or writer with the backpressure of the client
connection.

Errors

Errors returned or panics raised by the conditions and the
transformations never leave the handler. When a transformation fails
before any byte of the body was sent, the response becomes a 500 with an
empty body, and the ErrorHandler of the Options is called, exactly once.
Errors of the For and If conditions only skip the interception, unless
Options.FailOnConditionError is set.
*/
package intercept
