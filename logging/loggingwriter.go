package logging

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
)

var errHijackNotSupported = errors.New("could not hijack connection")

// loggingWriter counts the body bytes and keeps the status code sent to
// the client.
type loggingWriter struct {
	writer http.ResponseWriter
	code   int
	bytes  int64
}

func (lw *loggingWriter) Write(data []byte) (count int, err error) {
	if lw.code == 0 {
		lw.code = http.StatusOK
	}

	count, err = lw.writer.Write(data)
	lw.bytes += int64(count)
	return
}

func (lw *loggingWriter) WriteString(s string) (count int, err error) {
	if lw.code == 0 {
		lw.code = http.StatusOK
	}

	count, err = io.WriteString(lw.writer, s)
	lw.bytes += int64(count)
	return
}

func (lw *loggingWriter) WriteHeader(code int) {
	lw.writer.WriteHeader(code)

	// informational responses are followed by the final one
	if lw.code == 0 && code >= 200 {
		lw.code = code
	}
}

func (lw *loggingWriter) Header() http.Header {
	return lw.writer.Header()
}

func (lw *loggingWriter) Flush() {
	if f, ok := lw.writer.(http.Flusher); ok {
		f.Flush()
	}
}

func (lw *loggingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hij, ok := lw.writer.(http.Hijacker)
	if ok {
		return hij.Hijack()
	}

	return nil, nil, errHijackNotSupported
}

func (lw *loggingWriter) Unwrap() http.ResponseWriter {
	return lw.writer
}
