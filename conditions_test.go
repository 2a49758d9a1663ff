package intercept

import (
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zalando/intercept/codec"
)

type testResponse struct {
	header http.Header
	code   int
}

func (r *testResponse) Header() http.Header { return r.header }
func (r *testResponse) StatusCode() int     { return r.code }
func (r *testResponse) SetStatusCode(c int) { r.code = c }

func response(code int, header ...string) *testResponse {
	h := make(http.Header)
	for i := 0; i+1 < len(header); i += 2 {
		h.Add(header[i], header[i+1])
	}

	return &testResponse{header: h, code: code}
}

func check(t *testing.T, c ResponseCondition, rsp Response, expected bool) {
	t.Helper()
	ok, err := c(rsp)
	assert.NoError(t, err)
	assert.Equal(t, expected, ok)
}

func TestStatusIs(t *testing.T) {
	c := StatusIs(http.StatusOK, http.StatusCreated)
	check(t, c, response(http.StatusOK), true)
	check(t, c, response(http.StatusCreated), true)
	check(t, c, response(http.StatusNotFound), false)
}

func TestContentTypeIs(t *testing.T) {
	for _, test := range []struct {
		contentType string
		types       []string
		expected    bool
	}{
		{"text/plain", []string{"text/plain"}, true},
		{"text/plain; charset=utf-8", []string{"text/plain"}, true},
		{"Text/HTML", []string{"text/html"}, true},
		{"text/html", []string{"TEXT/HTML"}, true},
		{"text/html", []string{"text/plain"}, false},
		{"text/csv", []string{"text/*"}, true},
		{"textual/csv", []string{"text/*"}, false},
		{"", []string{"text/plain"}, false},
		{"text/plain;;", []string{"text/plain"}, true},
	} {
		t.Run(test.contentType, func(t *testing.T) {
			check(t, ContentTypeIs(test.types...), response(http.StatusOK, "Content-Type", test.contentType), test.expected)
		})
	}
}

func TestContentTypeMatches(t *testing.T) {
	c := ContentTypeMatches(regexp.MustCompile(`json`))
	check(t, c, response(http.StatusOK, "Content-Type", "application/problem+json"), true)
	check(t, c, response(http.StatusOK, "Content-Type", "text/plain"), false)
}

func TestEncodingConditions(t *testing.T) {
	r := codec.Default()
	for _, test := range []struct {
		contentEncoding string
		notEncoded      bool
		encoded         bool
	}{
		{"", true, false},
		{"identity", true, false},
		{"gzip", false, true},
		{"GZIP", false, true},
		{"compress", false, false},
		{"gzip, br", false, false},
	} {
		t.Run(test.contentEncoding, func(t *testing.T) {
			rsp := response(http.StatusOK, "Content-Encoding", test.contentEncoding)
			check(t, NotEncoded(), rsp, test.notEncoded)
			check(t, Encoded(r), rsp, test.encoded)
		})
	}
}

func TestTransformable(t *testing.T) {
	check(t, Transformable(), response(http.StatusOK), true)
	check(t, Transformable(), response(http.StatusOK, "Cache-Control", "max-age=60"), true)
	check(t, Transformable(), response(http.StatusOK, "Cache-Control", "public, No-Transform"), false)
	check(t, Transformable(), response(http.StatusOK, "Cache-Control", "public", "Cache-Control", "no-transform"), false)
}

func TestResponseHas(t *testing.T) {
	check(t, ResponseHas("X-Test"), response(http.StatusOK, "X-Test", "foo"), true)
	check(t, ResponseHas("X-Test"), response(http.StatusOK), false)
}

func TestRequestConditions(t *testing.T) {
	r := get("/foo/bar")
	r.Header.Set("X-Test", "foo")

	for _, test := range []struct {
		title     string
		condition RequestCondition
		expected  bool
	}{
		{"method", MethodIs(http.MethodGet, http.MethodHead), true},
		{"other method", MethodIs(http.MethodPost), false},
		{"path", PathMatches(regexp.MustCompile("^/foo/")), true},
		{"other path", PathMatches(regexp.MustCompile("^/bar/")), false},
		{"header", RequestHas("X-Test"), true},
		{"missing header", RequestHas("X-Missing"), false},
	} {
		t.Run(test.title, func(t *testing.T) {
			ok, err := test.condition(r)
			assert.NoError(t, err)
			assert.Equal(t, test.expected, ok)
		})
	}
}
