package logging

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const logOutput = `127.0.0.1 - - [10/Oct/2000:13:55:36 -0700] "GET /apache_pb.gif HTTP/1.1" 418 2326 "" "" 42 127.0.0.1 gzip`

func testRequest() *http.Request {
	r, _ := http.NewRequest("GET", "http://frank@127.0.0.1", nil)
	r.RequestURI = "/apache_pb.gif"
	r.RemoteAddr = "127.0.0.1"
	return r
}

func testDate() time.Time {
	l := time.FixedZone("foo", -7*3600)
	return time.Date(2000, 10, 10, 13, 55, 36, 0, l)
}

func testAccessEntry() *AccessEntry {
	return &AccessEntry{
		Request:         testRequest(),
		ResponseSize:    2326,
		StatusCode:      http.StatusTeapot,
		ContentEncoding: "gzip",
		RequestTime:     testDate(),
		Duration:        42 * time.Millisecond,
	}
}

func testAccessLog(t *testing.T, entry *AccessEntry, expectedOutput string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Init(Options{AccessLogOutput: &buf}))
	LogAccess(entry)
	got := buf.String()
	if got != "" {
		got = got[:len(got)-1]
	}

	assert.Equal(t, expectedOutput, got)
}

func TestAccessLogFormatFull(t *testing.T) {
	testAccessLog(t, testAccessEntry(), logOutput)
}

func TestAccessLogIgnoresEmptyEntry(t *testing.T) {
	testAccessLog(t, nil, "")
}

func TestNoPanicOnMissingRequest(t *testing.T) {
	entry := testAccessEntry()
	entry.Request = nil
	entry.ContentEncoding = ""
	testAccessLog(t, entry, `- - - [10/Oct/2000:13:55:36 -0700] "  " 418 2326 "" "" 42 - -`)
}

func TestAccessLogAddresses(t *testing.T) {
	for _, test := range []struct {
		title         string
		forwardedFor  string
		remoteAddress string
		expectedHost  string
	}{
		{"x-forwarded-for", "192.168.3.3", "127.0.0.1", "192.168.3.3"},
		{"x-forwarded-for with port", "192.168.3.3:6969", "127.0.0.1", "192.168.3.3"},
		{"remote address with port", "", "192.168.3.3:6969", "192.168.3.3"},
		{"ipv6", "", "[::1]:6969", "::1"},
		{"missing", "", "", "-"},
	} {
		t.Run(test.title, func(t *testing.T) {
			entry := testAccessEntry()
			entry.Request.RemoteAddr = test.remoteAddress
			if test.forwardedFor != "" {
				entry.Request.Header.Set("X-Forwarded-For", test.forwardedFor)
			}

			testAccessLog(t, entry, test.expectedHost+logOutput[len("127.0.0.1"):])
		})
	}
}

func TestAccessLogJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{AccessLogOutput: &buf, AccessLogJSONEnabled: true}))
	LogAccess(testAccessEntry())

	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"content-encoding":"gzip"`)
	assert.Contains(t, buf.String(), `"uri":"/apache_pb.gif"`)
}

func TestAccessLogDisabled(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{AccessLogOutput: &buf, AccessLogDisabled: true}))
	LogAccess(testAccessEntry())
	assert.Empty(t, buf.String())
}
