// Package payload implements the buffer holding an intercepted response
// body until it is transformed and flushed.
//
// A Payload stores the chunks in the order they were written. It exposes
// them as a single, decoded byte slice or string, and allows replacing them
// as a whole. When the body is replaced, the Content-Length, ETag and
// the content-coding of the body are updated, so that the headers stay
// consistent with the bytes that will be sent.
package payload

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/zalando/intercept/codec"
)

// ETagFunc calculates the ETag value of a decoded body.
type ETagFunc func([]byte) string

// Options of a Payload.
type Options struct {

	// Codecs used to decode and re-encode compressed bodies. When nil,
	// the body is never decoded.
	Codecs *codec.Registry

	// ETag, when set, is used to recalculate the ETag header when the
	// body is replaced. When not set, the ETag header is removed on
	// replacement, since it became stale.
	ETag ETagFunc
}

type chunk struct {
	data []byte
	text string

	isText bool
}

// Payload is the buffered body of a single response. It is not safe for
// concurrent use.
type Payload struct {
	header  http.Header
	options Options
	queue   []chunk
}

// Sink receives a flushed payload.
type Sink interface {

	// Write receives the chunks when there is more than one of them.
	Write([]byte) (int, error)

	// End is called exactly once, after all writes. When the payload
	// consists of a single chunk, it is passed to End instead of Write.
	End([]byte) error
}

// New creates an empty payload. The header is the header of the response,
// it is read and modified by the payload.
func New(h http.Header, o Options) *Payload {
	return &Payload{header: h, options: o}
}

// Write appends a copy of b. Empty writes are not stored.
func (p *Payload) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	p.queue = append(p.queue, chunk{data: bytes.Clone(b)})
	return len(b), nil
}

// WriteString appends s as a textual chunk.
func (p *Payload) WriteString(s string) (int, error) {
	if s == "" {
		return 0, nil
	}

	p.queue = append(p.queue, chunk{text: s, isText: true})
	return len(s), nil
}

// Chunks returns the number of stored chunks.
func (p *Payload) Chunks() int {
	return len(p.queue)
}

// Size returns the number of stored bytes, as they were written.
func (p *Payload) Size() int {
	var n int
	for _, c := range p.queue {
		n += c.len()
	}

	return n
}

func (c chunk) len() int {
	if c.isText {
		return len(c.text)
	}

	return len(c.data)
}

func (c chunk) bytes() []byte {
	if c.isText {
		return []byte(c.text)
	}

	return c.data
}

// the coding of the stored bytes, if it is a registered one
func (p *Payload) encoding() string {
	if p.options.Codecs == nil {
		return ""
	}

	if ce := p.header.Get("Content-Encoding"); ce != "" {
		return p.options.Codecs.Find(ce)
	}

	return p.options.Codecs.Find(p.header.Get("Transfer-Encoding"))
}

func (p *Payload) raw() []byte {
	switch len(p.queue) {
	case 0:
		return nil
	case 1:
		return p.queue[0].bytes()
	}

	b := make([]byte, 0, p.Size())
	for _, c := range p.queue {
		if c.isText {
			b = append(b, c.text...)
		} else {
			b = append(b, c.data...)
		}
	}

	return b
}

// Bytes returns the body concatenated and, when the response declares a
// registered content-coding, decoded. It doesn't modify the payload. The
// returned slice must not be modified.
func (p *Payload) Bytes() ([]byte, error) {
	b := p.raw()
	if len(b) == 0 {
		return b, nil
	}

	if enc := p.encoding(); enc != "" {
		return p.options.Codecs.Decode(b, enc)
	}

	return b, nil
}

// SetBytes replaces the body. It recalculates or removes the ETag,
// encodes the body with the declared content-coding and sets the
// Content-Length, also when it is 0.
func (p *Payload) SetBytes(b []byte) error {
	if p.options.ETag != nil {
		p.header.Set("ETag", p.options.ETag(b))
	} else {
		p.header.Del("ETag")
	}

	if enc := p.encoding(); enc != "" && len(b) > 0 {
		var err error
		if b, err = p.options.Codecs.Encode(b, enc); err != nil {
			return err
		}
	}

	p.header.Set("Content-Length", strconv.Itoa(len(b)))
	p.queue = []chunk{{data: b}}
	return nil
}

// Text returns the body as a string, decoded like in Bytes.
func (p *Payload) Text() (string, error) {
	if p.encoding() == "" && p.textOnly() {
		switch len(p.queue) {
		case 0:
			return "", nil
		case 1:
			return p.queue[0].text, nil
		}

		var sb strings.Builder
		sb.Grow(p.Size())
		for _, c := range p.queue {
			sb.WriteString(c.text)
		}

		return sb.String(), nil
	}

	b, err := p.Bytes()
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func (p *Payload) textOnly() bool {
	for _, c := range p.queue {
		if !c.isText {
			return false
		}
	}

	return true
}

// SetText replaces the body with s, like SetBytes.
func (p *Payload) SetText(s string) error {
	return p.SetBytes([]byte(s))
}

// Flush sends the stored chunks to dst. A single chunk is passed to End
// directly. Otherwise every chunk is written, even when a previous write
// failed, and End is called afterwards. The first error is returned.
func (p *Payload) Flush(dst Sink) error {
	if len(p.queue) == 1 {
		return dst.End(p.queue[0].bytes())
	}

	var first error
	for _, c := range p.queue {
		if _, err := dst.Write(c.bytes()); err != nil && first == nil {
			first = err
		}
	}

	if err := dst.End(nil); err != nil && first == nil {
		first = err
	}

	return first
}
