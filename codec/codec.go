/*
Package codec implements a registry of HTTP content-codings.

A Registry maps a content-coding token, as it appears in the
Content-Encoding, Transfer-Encoding or Accept-Encoding headers, to a
Codec. Every Codec supports both one-shot encoding and decoding over a
byte slice, and streaming encoding and decoding over io.Writer and
io.Reader.

The registry is ordered. When a header lists more than one supported
coding, the registry order decides which one is selected, not the order
in which the client listed them.

A Registry is immutable after construction and safe for concurrent use.
The package holds no global, mutable codec table: callers create a
registry, typically with Default, and pass it to the components that need
it.
*/
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrUnsupported is returned, wrapped in an *Error, when a coding is
// not registered.
var ErrUnsupported = errors.New("unsupported encoding")

// Codec implements a single content-coding.
type Codec interface {

	// Name returns the content-coding token, e.g. gzip.
	Name() string

	// Encode compresses a complete body.
	Encode([]byte) ([]byte, error)

	// Decode decompresses a complete body. It fails on malformed
	// input instead of returning partial data.
	Decode([]byte) ([]byte, error)

	// NewWriter returns a writer compressing into w. Close flushes
	// the pending output, it does not close w.
	NewWriter(w io.Writer) (io.WriteCloser, error)

	// NewReader returns a reader decompressing from r. Close does not
	// close r.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Error reports a failed codec operation.
type Error struct {
	Op       string
	Encoding string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("codec: %s %s: %v", e.Op, e.Encoding, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Registry is an ordered set of codecs.
type Registry struct {
	codecs []Codec
	byName map[string]Codec
}

var tokenSeparator = regexp.MustCompile(`\W+`)

// New creates a registry from the given codecs. The argument order
// defines the priority. When two codecs have the same name, the later one
// replaces the earlier one, keeping the earlier position.
func New(codecs ...Codec) *Registry {
	r := &Registry{byName: make(map[string]Codec)}
	for _, c := range codecs {
		name := strings.ToLower(c.Name())
		if _, exists := r.byName[name]; exists {
			for i := range r.codecs {
				if strings.ToLower(r.codecs[i].Name()) == name {
					r.codecs[i] = c
				}
			}
		} else {
			r.codecs = append(r.codecs, c)
		}

		r.byName[name] = c
	}

	return r
}

// Default returns a registry with br, gzip, deflate and zstd, in this
// priority, using the default compression levels.
func Default() *Registry {
	return New(
		NewBrotli(BrotliDefaultCompression),
		NewGzip(GzipDefaultCompression),
		NewDeflate(DeflateDefaultCompression),
		NewZstd(ZstdDefaultCompression),
	)
}

// Names returns the registered tokens in priority order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.codecs))
	for i, c := range r.codecs {
		names[i] = c.Name()
	}

	return names
}

// Get returns the codec registered for a token.
func (r *Registry) Get(name string) (Codec, bool) {
	if r == nil {
		return nil, false
	}

	c, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Find selects the first supported coding present in a header value. The
// value is split on any non-word character, so both "gzip, br" and
// "gzip;q=1" are accepted. It returns "" when no registered coding is
// listed.
func (r *Registry) Find(header string) string {
	if r == nil || header == "" {
		return ""
	}

	present := make(map[string]bool)
	for _, t := range tokenSeparator.Split(header, -1) {
		if t != "" {
			present[strings.ToLower(t)] = true
		}
	}

	for _, c := range r.codecs {
		if present[strings.ToLower(c.Name())] {
			return c.Name()
		}
	}

	return ""
}

func (r *Registry) lookup(op, name string) (Codec, error) {
	c, ok := r.Get(name)
	if !ok {
		return nil, &Error{Op: op, Encoding: name, Err: ErrUnsupported}
	}

	return c, nil
}

// Decode decompresses b with the named coding.
func (r *Registry) Decode(b []byte, name string) ([]byte, error) {
	c, err := r.lookup("decode", name)
	if err != nil {
		return nil, err
	}

	d, err := c.Decode(b)
	if err != nil {
		return nil, &Error{Op: "decode", Encoding: name, Err: err}
	}

	return d, nil
}

// Encode compresses b with the named coding.
func (r *Registry) Encode(b []byte, name string) ([]byte, error) {
	c, err := r.lookup("encode", name)
	if err != nil {
		return nil, err
	}

	e, err := c.Encode(b)
	if err != nil {
		return nil, &Error{Op: "encode", Encoding: name, Err: err}
	}

	return e, nil
}

// NewWriter returns a streaming encoder for the named coding.
func (r *Registry) NewWriter(w io.Writer, name string) (io.WriteCloser, error) {
	c, err := r.lookup("encode", name)
	if err != nil {
		return nil, err
	}

	wc, err := c.NewWriter(w)
	if err != nil {
		return nil, &Error{Op: "encode", Encoding: name, Err: err}
	}

	return wc, nil
}

// NewReader returns a streaming decoder for the named coding.
func (r *Registry) NewReader(rd io.Reader, name string) (io.ReadCloser, error) {
	c, err := r.lookup("decode", name)
	if err != nil {
		return nil, err
	}

	rc, err := c.NewReader(rd)
	if err != nil {
		return nil, &Error{Op: "decode", Encoding: name, Err: err}
	}

	return rc, nil
}

// Encodings splits a Content-Encoding header into its codings, in the
// order they were applied, skipping identity.
func Encodings(header string) []string {
	var encs []string
	for _, e := range strings.Split(header, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && e != "identity" {
			encs = append(encs, e)
		}
	}

	return encs
}

// Supported tells whether all the given codings are registered.
func (r *Registry) Supported(encs []string) bool {
	for _, e := range encs {
		if _, ok := r.Get(e); !ok {
			return false
		}
	}

	return true
}

type decodedBody struct {
	decoders []io.ReadCloser
	reader   io.Reader
}

func (b *decodedBody) Read(p []byte) (int, error) { return b.reader.Read(p) }

func (b *decodedBody) Close() error {
	var errs []error
	for i := len(b.decoders) - 1; i >= 0; i-- {
		if err := b.decoders[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// DecodeAll returns a reader undoing all the listed codings. The codings
// are expected in the order they were applied, as in the Content-Encoding
// header, so they are removed from the last one to the first one.
func (r *Registry) DecodeAll(rd io.Reader, encs []string) (io.ReadCloser, error) {
	body := &decodedBody{reader: rd}
	for i := len(encs) - 1; i >= 0; i-- {
		d, err := r.NewReader(body.reader, encs[i])
		if err != nil {
			body.Close()
			return nil, err
		}

		body.decoders = append(body.decoders, d)
		body.reader = d
	}

	return body, nil
}

func encodeWith(c Codec, b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.NewWriter(&buf)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(b); err != nil {
		w.Close()
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeWith(c Codec, b []byte) ([]byte, error) {
	rd, err := c.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}

	d, err := io.ReadAll(rd)
	if cerr := rd.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return nil, err
	}

	return d, nil
}
