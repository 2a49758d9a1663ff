package codec

import (
	"errors"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

const (
	GzipDefaultCompression    = gzip.DefaultCompression
	DeflateDefaultCompression = zlib.DefaultCompression
	BrotliDefaultCompression  = brotli.DefaultCompression
	ZstdDefaultCompression    = zstd.SpeedDefault
)

var errClosed = errors.New("codec: writer closed")

type gzipCodec struct {
	level   int
	writers sync.Pool
	readers sync.Pool
}

type gzipWriter struct {
	codec *gzipCodec
	w     *gzip.Writer
}

type gzipReader struct {
	codec *gzipCodec
	r     *gzip.Reader
}

// NewGzip returns the gzip coding. Writers and readers are pooled.
func NewGzip(level int) Codec {
	return &gzipCodec{level: level}
}

func (c *gzipCodec) Name() string { return "gzip" }

func (c *gzipCodec) Encode(b []byte) ([]byte, error) { return encodeWith(c, b) }

func (c *gzipCodec) Decode(b []byte) ([]byte, error) { return decodeWith(c, b) }

func (c *gzipCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	if gw, ok := c.writers.Get().(*gzip.Writer); ok {
		gw.Reset(w)
		return &gzipWriter{codec: c, w: gw}, nil
	}

	gw, err := gzip.NewWriterLevel(w, c.level)
	if err != nil {
		return nil, err
	}

	return &gzipWriter{codec: c, w: gw}, nil
}

func (c *gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	if gr, ok := c.readers.Get().(*gzip.Reader); ok {
		if err := gr.Reset(r); err != nil {
			// a failed reset leaves the reader unusable
			return nil, err
		}

		return &gzipReader{codec: c, r: gr}, nil
	}

	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}

	return &gzipReader{codec: c, r: gr}, nil
}

func (w *gzipWriter) Write(p []byte) (int, error) {
	if w.w == nil {
		return 0, errClosed
	}

	return w.w.Write(p)
}

func (w *gzipWriter) Flush() error {
	if w.w == nil {
		return errClosed
	}

	return w.w.Flush()
}

func (w *gzipWriter) Close() error {
	if w.w == nil {
		return nil
	}

	err := w.w.Close()
	if err == nil {
		w.codec.writers.Put(w.w)
	}

	w.w = nil
	return err
}

func (r *gzipReader) Read(p []byte) (int, error) {
	if r.r == nil {
		return 0, io.ErrClosedPipe
	}

	return r.r.Read(p)
}

func (r *gzipReader) Close() error {
	if r.r == nil {
		return nil
	}

	err := r.r.Close()
	if err == nil {
		r.codec.readers.Put(r.r)
	}

	r.r = nil
	return err
}

type deflateCodec struct {
	level int
}

// NewDeflate returns the deflate coding. As HTTP defines it, deflate
// means the zlib format.
func NewDeflate(level int) Codec {
	return deflateCodec{level: level}
}

func (c deflateCodec) Name() string { return "deflate" }

func (c deflateCodec) Encode(b []byte) ([]byte, error) { return encodeWith(c, b) }

func (c deflateCodec) Decode(b []byte) ([]byte, error) { return decodeWith(c, b) }

func (c deflateCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zlib.NewWriterLevel(w, c.level)
}

func (c deflateCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return zlib.NewReader(r)
}

type brotliCodec struct {
	level int
}

// the brotli reader has no Close
type brotliReader struct {
	*brotli.Reader
}

func (brotliReader) Close() error { return nil }

// NewBrotli returns the br coding.
func NewBrotli(level int) Codec {
	return brotliCodec{level: level}
}

func (c brotliCodec) Name() string { return "br" }

func (c brotliCodec) Encode(b []byte) ([]byte, error) { return encodeWith(c, b) }

func (c brotliCodec) Decode(b []byte) ([]byte, error) { return decodeWith(c, b) }

func (c brotliCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return brotli.NewWriterLevel(w, c.level), nil
}

func (c brotliCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return brotliReader{brotli.NewReader(r)}, nil
}

type zstdCodec struct {
	level zstd.EncoderLevel

	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
}

// NewZstd returns the zstd coding. The one-shot operations share a single
// encoder and decoder, which are safe for concurrent use.
func NewZstd(level zstd.EncoderLevel) Codec {
	return &zstdCodec{level: level}
}

func (c *zstdCodec) init() error {
	c.once.Do(func() {
		c.encoder, c.initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
		if c.initErr != nil {
			return
		}

		c.decoder, c.initErr = zstd.NewReader(nil)
	})

	return c.initErr
}

func (c *zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Encode(b []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, err
	}

	return c.encoder.EncodeAll(b, nil), nil
}

func (c *zstdCodec) Decode(b []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, err
	}

	return c.decoder.DecodeAll(b, nil)
}

func (c *zstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(c.level), zstd.WithEncoderConcurrency(1))
}

func (c *zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}

	return d.IOReadCloser(), nil
}
