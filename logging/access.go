package logging

import (
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	dateFormat      = "02/Jan/2006:15:04:05 -0700"
	commonLogFormat = `%s - - [%s] "%s %s %s" %d %d`
	// format:
	// remote_host - - [date] "method uri protocol" status response_size "referer" "user_agent"
	combinedLogFormat = commonLogFormat + ` "%s" "%s"`
	// duration in ms, requested host and the content-coding of the response
	accessLogFormat = combinedLogFormat + " %d %s %s\n"
)

var accessLogKeys = []string{
	"host", "timestamp", "method", "uri", "proto",
	"status", "response-size", "referer", "user-agent",
	"duration", "requested-host", "content-encoding",
}

type accessLogFormatter struct {
	format string
}

// AccessEntry is an access log entry.
type AccessEntry struct {

	// The client request.
	Request *http.Request

	// The status code of the response.
	StatusCode int

	// The size of the response body in bytes, as sent.
	ResponseSize int64

	// The Content-Encoding of the response, as sent.
	ContentEncoding string

	// The time spent processing request.
	Duration time.Duration

	// The time that the request was received.
	RequestTime time.Time
}

var accessLog *log.Logger

// strip port from addresses with hostname, ipv4 or ipv6
func stripPort(address string) string {
	if h, _, err := net.SplitHostPort(address); err == nil {
		return h
	}

	return address
}

// The remote address of the client. When the 'X-Forwarded-For'
// header is set, then it is used instead.
func remoteAddr(r *http.Request) string {
	ff := r.Header.Get("X-Forwarded-For")
	if ff != "" {
		return ff
	}

	return r.RemoteAddr
}

func remoteHost(r *http.Request) string {
	a := remoteAddr(r)
	h := stripPort(a)
	if h != "" {
		return h
	}

	return "-"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func (f *accessLogFormatter) Format(e *log.Entry) ([]byte, error) {
	values := make([]any, len(accessLogKeys))
	for i, key := range accessLogKeys {
		values[i] = e.Data[key]
	}

	return fmt.Appendf(nil, f.format, values...), nil
}

// LogAccess logs an access event in Apache combined log format, extended
// with the duration, the requested host and the content-coding.
func LogAccess(entry *AccessEntry) {
	if accessLog == nil || entry == nil {
		return
	}

	host := "-"
	var method, uri, proto, referer, userAgent, requestedHost string
	if entry.Request != nil {
		host = remoteHost(entry.Request)
		method = entry.Request.Method
		uri = entry.Request.RequestURI
		proto = entry.Request.Proto
		referer = entry.Request.Referer()
		userAgent = entry.Request.UserAgent()
		requestedHost = entry.Request.Host
	}

	accessLog.WithFields(log.Fields{
		"timestamp":        entry.RequestTime.Format(dateFormat),
		"host":             host,
		"method":           method,
		"uri":              uri,
		"proto":            proto,
		"referer":          referer,
		"user-agent":       userAgent,
		"status":           entry.StatusCode,
		"response-size":    entry.ResponseSize,
		"requested-host":   orDash(requestedHost),
		"content-encoding": orDash(entry.ContentEncoding),
		"duration":         int64(entry.Duration / time.Millisecond),
	}).Infoln()
}
