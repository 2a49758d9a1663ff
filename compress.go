package intercept

import (
	"net/http"
	"strings"

	"github.com/zalando/intercept/condition"
	"github.com/zalando/intercept/payload"
)

// DefaultCompressMIME lists the media types compressed by
// CompressResponse when no types are given.
var DefaultCompressMIME = []string{
	"text/plain",
	"text/html",
	"application/json",
	"application/javascript",
	"application/x-javascript",
	"text/javascript",
	"text/css",
	"image/svg+xml",
	"application/octet-stream",
}

// AddVary adds Accept-Encoding to the Vary header, unless it is listed
// already or the header is *.
func AddVary(h http.Header) {
	for _, v := range h.Values("Vary") {
		for f := range strings.SplitSeq(v, ",") {
			f = strings.TrimSpace(f)
			if f == "*" || strings.EqualFold(f, "Accept-Encoding") {
				return
			}
		}
	}

	h.Add("Vary", "Accept-Encoding")
}

// CompressResponse returns a handler that compresses the successful
// responses of the listed media types that have no content-coding and no
// transfer-coding, with the coding negotiated from the Accept-Encoding
// header of the request. The conditions of the builder are kept, and the
// builder is not modified.
func (b *ResponseBuilder) CompressResponse(types ...string) Handler {
	if len(types) == 0 {
		types = DefaultCompressMIME
	}

	codecs := b.request.options.Codecs
	cb := b.clone()
	cb.For(RequestHas("Accept-Encoding")).
		If(StatusIs(http.StatusOK)).
		If(NotEncoded()).
		If(condition.Not(ResponseHas("Transfer-Encoding"))).
		If(Transformable()).
		If(ContentTypeIs(types...))

	return cb.buffered("compress_response", func(p *payload.Payload, r *http.Request, rsp Response) error {
		enc := codecs.Negotiate(r.Header.Get("Accept-Encoding"))
		if enc == "" {
			return nil
		}

		body, err := p.Bytes()
		if err != nil {
			return err
		}

		if len(body) == 0 {
			return p.SetBytes(body)
		}

		rsp.Header().Set("Content-Encoding", enc)
		AddVary(rsp.Header())
		return p.SetBytes(body)
	})
}

// DecompressResponse returns a handler that removes the content-coding of
// the responses encoded with a single supported coding.
func (b *ResponseBuilder) DecompressResponse() Handler {
	cb := b.clone()
	cb.If(Encoded(b.request.options.Codecs))
	return cb.buffered("decompress_response", func(p *payload.Payload, _ *http.Request, rsp Response) error {
		body, err := p.Bytes()
		if err != nil {
			return err
		}

		rsp.Header().Del("Content-Encoding")
		return p.SetBytes(body)
	})
}
