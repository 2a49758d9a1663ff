package builtin

import (
	"errors"
	"io"
	"net/http"

	"github.com/zalando/intercept"
	"github.com/zalando/intercept/codec"
	"github.com/zalando/intercept/condition"
)

// Compress returns a handler that compresses the successful responses of
// the listed media types while they are written, with the coding
// negotiated from the Accept-Encoding header. Without types, it uses
// intercept.DefaultCompressMIME.
//
// Unlike intercept's CompressResponse, the body is not buffered, and the
// response is sent without Content-Length.
func Compress(o intercept.Options, types ...string) intercept.Handler {
	if len(types) == 0 {
		types = intercept.DefaultCompressMIME
	}

	reg := codecs(o)
	return intercept.ResponseHandler(o).
		For(intercept.RequestHas("Accept-Encoding")).
		If(intercept.StatusIs(http.StatusOK)).
		If(intercept.NotEncoded()).
		If(condition.Not(intercept.ResponseHas("Transfer-Encoding"))).
		If(intercept.Transformable()).
		If(intercept.ContentTypeIs(types...)).
		TransformStream(func(dst io.Writer, r *http.Request, rsp intercept.Response) (io.WriteCloser, error) {
			enc := reg.Negotiate(r.Header.Get("Accept-Encoding"))
			if enc == "" {
				return nil, nil
			}

			h := rsp.Header()
			h.Set("Content-Encoding", enc)
			h.Del("Content-Length")
			intercept.AddVary(h)
			return reg.NewWriter(dst, enc)
		})
}

// Decompress returns a handler that decodes the successful responses
// while they are written. Responses with a coding missing from the
// registry are sent unchanged. With types, only the responses of the
// listed media types are decoded.
func Decompress(o intercept.Options, types ...string) intercept.Handler {
	b := intercept.ResponseHandler(o).
		If(intercept.StatusIs(http.StatusOK)).
		If(intercept.ResponseHas("Content-Encoding"))
	if len(types) > 0 {
		b.If(intercept.ContentTypeIs(types...))
	}

	reg := codecs(o)
	return b.InterceptStream(func(upstream io.Reader, _ *http.Request, rsp intercept.Response) (io.Reader, error) {
		h := rsp.Header()
		encs := codec.Encodings(h.Get("Content-Encoding"))
		if len(encs) == 0 || !reg.Supported(encs) {
			return nil, nil
		}

		h.Del("Content-Encoding")
		h.Del("Content-Length")
		return &lazyDecoder{codecs: reg, source: upstream, encodings: encs}, nil
	})
}

// lazyDecoder creates the decoders on the first read. Some decoders read
// the header of the stream when they are created, and the stream is not
// written yet when the interceptor returns.
type lazyDecoder struct {
	codecs    *codec.Registry
	source    io.Reader
	encodings []string
	body      io.ReadCloser
	err       error
}

func (d *lazyDecoder) Read(p []byte) (int, error) {
	if d.body == nil && d.err == nil {
		d.body, d.err = d.codecs.DecodeAll(d.source, d.encodings)
		if errors.Is(d.err, io.EOF) {
			// empty body
			d.err = io.EOF
		}
	}

	if d.err != nil {
		return 0, d.err
	}

	return d.body.Read(p)
}

func (d *lazyDecoder) Close() error {
	if d.body == nil {
		return nil
	}

	return d.body.Close()
}
