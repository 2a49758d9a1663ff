package intercept

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/intercept/codec"
)

func TestConditions(t *testing.T) {
	o := Options{}
	pathHeader := func(rx string) ResponseCondition {
		r := regexp.MustCompile(rx)
		return func(rsp Response) (bool, error) {
			return r.MatchString(rsp.Header().Get("X-Path")), nil
		}
	}

	h := RequestHandler(o).Use(
		ResponseHandler(o).ReplaceString(appendString("/")),
		ResponseHandler(o).If(pathHeader("A")).ReplaceString(appendString("A")),
		ResponseHandler(o).If(pathHeader("B")).If(pathHeader("C")).ReplaceString(appendString("BC")),
		ResponseHandler(o).For(PathMatches(regexp.MustCompile("D"))).ReplaceString(appendString("D")),
		ResponseHandler(o).
			For(PathMatches(regexp.MustCompile("E"))).
			For(PathMatches(regexp.MustCompile("F"))).
			ReplaceString(appendString("EF")),
		ResponseHandler(o).
			For(PathMatches(regexp.MustCompile("G"))).
			If(pathHeader("H")).
			ReplaceString(appendString("GH")),
	)

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Path", r.URL.Path)
		text("/")(w, r)
	})

	for path, expected := range map[string]string{
		"/A/":  "/A/",
		"/BC/": "/BC/",
		"/B/":  "//",
		"/D/":  "/D/",
		"/EF/": "/EF/",
		"/E/":  "//",
		"/GH/": "/GH/",
		"/G/":  "//",
		"/X/":  "//",
	} {
		t.Run(path, func(t *testing.T) {
			rec := serve(h, app, get(path))
			assert.Equal(t, expected, rec.Body.String())
		})
	}
}

func TestGatedStageDoesNotAlterOutput(t *testing.T) {
	skippedA := ResponseHandler(Options{}).If(never).ReplaceString(appendString("A"))
	appliedB := ResponseHandler(Options{}).If(always).ReplaceString(appendString("B"))

	for _, test := range []struct {
		title string
		chain Handler
	}{{
		title: "skipped inside",
		chain: RequestHandler(Options{}).Use(appliedB, skippedA),
	}, {
		title: "skipped outside",
		chain: RequestHandler(Options{}).Use(skippedA, appliedB),
	}} {
		t.Run(test.title, func(t *testing.T) {
			rec := serve(test.chain, text("X"), get("/"))
			assert.Equal(t, "XB", rec.Body.String())
			assert.Equal(t, "2", rec.Header().Get("Content-Length"))
		})
	}
}

func TestSingleWriteOfReplacement(t *testing.T) {
	h := ResponseHandler(Options{}).ReplaceString(func(s string, _ *http.Request, _ Response) (string, error) {
		return strings.ToUpper(s), nil
	})

	rec := serve(h, text("H", "e", "l", "l", "o"), get("/"))
	assert.Equal(t, []string{"HELLO"}, rec.writes)
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))
}

func TestIdentityReplacement(t *testing.T) {
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc"`)
		text("Hello, ", "world!")(w, r)
	})

	t.Run("string", func(t *testing.T) {
		h := ResponseHandler(Options{}).ReplaceString(func(s string, _ *http.Request, _ Response) (string, error) {
			return s, nil
		})

		rec := serve(h, app, get("/"))
		assert.Equal(t, "Hello, world!", rec.Body.String())
		assert.Equal(t, "13", rec.Header().Get("Content-Length"))
		assert.Equal(t, `"abc"`, rec.Header().Get("ETag"))
	})

	t.Run("buffer", func(t *testing.T) {
		h := ResponseHandler(Options{}).ReplaceBuffer(func(b []byte, _ *http.Request, _ Response) ([]byte, error) {
			return b, nil
		})

		rec := serve(h, app, get("/"))
		assert.Equal(t, "Hello, world!", rec.Body.String())
		assert.Equal(t, "13", rec.Header().Get("Content-Length"))
		assert.Empty(t, rec.Header().Get("ETag"))
	})
}

func TestReplaceBufferEncodingConsistency(t *testing.T) {
	codecs := codec.Default()
	for _, enc := range []string{"gzip", "br", "deflate"} {
		t.Run(enc, func(t *testing.T) {
			h := ResponseHandler(Options{}).ReplaceBuffer(func(b []byte, _ *http.Request, _ Response) ([]byte, error) {
				return append(b, " replaced"...), nil
			})

			rec := serve(h, encoded(t, enc, "original"), get("/"))
			assert.Equal(t, enc, rec.Header().Get("Content-Encoding"))
			assert.Equal(t, mustLen(rec), rec.Body.Len())

			b, err := codecs.Decode(rec.Body.Bytes(), enc)
			require.NoError(t, err)
			assert.Equal(t, "original replaced", string(b))
		})
	}
}

func mustLen(rec *recorder) int {
	n, _ := strconv.Atoi(rec.Header().Get("Content-Length"))
	return n
}

func TestGetStringDecodes(t *testing.T) {
	var got string
	h := ResponseHandler(Options{}).GetString(func(s string, _ *http.Request, _ Response) error {
		got = s
		return nil
	})

	app := encoded(t, "gzip", "gzip")
	direct := newRecorder()
	app(direct, get("/"))

	rec := serve(h, app, get("/"))
	assert.Equal(t, "gzip", got)
	assert.Equal(t, direct.Body.Bytes(), rec.Body.Bytes())
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}

func TestGetBufferIsACopy(t *testing.T) {
	h := ResponseHandler(Options{}).GetBuffer(func(b []byte, _ *http.Request, _ Response) error {
		copy(b, "bar")
		return nil
	})

	rec := serve(h, text("foo"), get("/"))
	assert.Equal(t, "foo", rec.Body.String())
}

func TestRequestAndResponseObservers(t *testing.T) {
	o := Options{}
	h := RequestHandler(o).Use(
		RequestHandler(o).GetRequest(func(r *http.Request) error {
			r.Header.Set("X-Req-Req", "A")
			return nil
		}),
		ResponseHandler(o).GetRequest(func(r *http.Request) error {
			r.Header.Set("X-Req-Res", "B")
			return nil
		}),
		ResponseHandler(o).GetResponse(func(rsp Response) error {
			rsp.Header().Set("X-Res-Res", "D")
			return nil
		}),
	)

	var request *http.Request
	rec := serve(h, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		request = r
		or := func(s string) string {
			if s == "" {
				return "-"
			}

			return s
		}

		text(
			or(r.Header.Get("X-Req-Req")),
			or(r.Header.Get("X-Req-Res")),
			or(w.Header().Get("X-Res-Req")),
			or(w.Header().Get("X-Res-Res")),
		)(w, r)
	}), get("/"))

	assert.Equal(t, "A---", rec.Body.String())
	assert.Equal(t, "D", rec.Header().Get("X-Res-Res"))
	assert.Equal(t, "A", request.Header.Get("X-Req-Req"))
	assert.Equal(t, "B", request.Header.Get("X-Req-Res"))
}

func TestRequestGetRequestFailureStopsChain(t *testing.T) {
	var c errorCollector
	var called bool
	h := RequestHandler(c.options()).GetRequest(func(*http.Request) error {
		return errors.New("rejected")
	})

	rec := serve(h, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}), get("/"))

	assert.False(t, called)
	assert.Len(t, c.errs, 1)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAwait(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	h := ResponseHandler(Options{}).
		Await(func(rsp Response) (bool, error) {
			once.Do(func() { close(started) })
			return rsp.Header().Get("X-Transform") == "yes", nil
		}).
		ReplaceString(appendString("!"))

	rec := serve(h, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Transform", "yes")
		w.Write([]byte("foo"))

		// the condition runs while the body is produced
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Error("await condition not started")
		}

		w.Write([]byte("bar"))
	}), get("/"))

	assert.Equal(t, "foobar!", rec.Body.String())

	rec = serve(h, text("foo"), get("/"))
	assert.Equal(t, "foo", rec.Body.String())
	assert.Equal(t, "3", rec.Header().Get("Content-Length"))
}

func TestAwaitSeesResponseAtStart(t *testing.T) {
	var late bool
	h := ResponseHandler(Options{}).
		Await(func(rsp Response) (bool, error) {
			for range 100 {
				if rsp.Header().Get("X-Late") != "" {
					late = true
				}
			}

			return rsp.Header().Get("Content-Type") == "text/plain", nil
		}).
		ReplaceString(appendString("!"))

	rec := serve(h, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("foo"))
		for i := range 100 {
			w.Header().Set("X-Late", strconv.Itoa(i))
		}

		w.Write([]byte("bar"))
	}), get("/"))

	assert.Equal(t, "foobar!", rec.Body.String())
	assert.Equal(t, "99", rec.Header().Get("X-Late"))
	assert.False(t, late)
}

func TestAwaitCanceledByRequest(t *testing.T) {
	var c errorCollector
	release := make(chan struct{})
	returned := make(chan struct{})
	h := ResponseHandler(c.options()).
		Await(func(rsp Response) (bool, error) {
			defer close(returned)
			<-release
			return rsp.Header().Get("Content-Type") == "text/plain", nil
		}).
		ReplaceString(appendString("!"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := serve(h, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", "3")
		w.Write([]byte("foo"))
		cancel()
	}), get("/").WithContext(ctx))

	// the header was reset while the condition was still running
	close(release)
	<-returned

	require.Len(t, c.errs, 1)
	var cerr *ConditionError
	assert.ErrorAs(t, c.errs[0], &cerr)
	assert.Equal(t, "await", cerr.Phase)
	assert.ErrorIs(t, c.errs[0], context.Canceled)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())
}

func TestAwaitErrorFailsRequest(t *testing.T) {
	var c errorCollector
	h := ResponseHandler(c.options()).
		Await(func(Response) (bool, error) { return false, errors.New("lookup failed") }).
		ReplaceString(appendString("!"))

	rec := serve(h, text("foo"), get("/"))
	require.Len(t, c.errs, 1)

	var (
		terr *TransformError
		cerr *ConditionError
	)

	assert.ErrorAs(t, c.errs[0], &terr)
	assert.ErrorAs(t, c.errs[0], &cerr)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())
}

func TestConditionErrors(t *testing.T) {
	failing := errors.New("condition failed")
	for _, test := range []struct {
		title   string
		builder func(Options) *ResponseBuilder
	}{{
		title: "request",
		builder: func(o Options) *ResponseBuilder {
			return ResponseHandler(o).For(func(*http.Request) (bool, error) { return false, failing })
		},
	}, {
		title: "response",
		builder: func(o Options) *ResponseBuilder {
			return ResponseHandler(o).If(func(Response) (bool, error) { return false, failing })
		},
	}, {
		title: "panic",
		builder: func(o Options) *ResponseBuilder {
			return ResponseHandler(o).If(func(Response) (bool, error) { panic(failing) })
		},
	}} {
		t.Run(test.title+" skips", func(t *testing.T) {
			var c errorCollector
			rec := serve(test.builder(c.options()).ReplaceString(appendString("!")), text("foo"), get("/"))
			assert.Empty(t, c.errs)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "foo", rec.Body.String())
		})

		t.Run(test.title+" fails", func(t *testing.T) {
			var c errorCollector
			o := c.options()
			o.FailOnConditionError = true

			rec := serve(test.builder(o).ReplaceString(appendString("!")), text("foo"), get("/"))
			require.Len(t, c.errs, 1)
			var cerr *ConditionError
			assert.ErrorAs(t, c.errs[0], &cerr)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Empty(t, rec.Body.String())
		})
	}
}

func TestBuilderReuse(t *testing.T) {
	b := ResponseHandler(Options{}).If(StatusIs(http.StatusOK))
	plain := b.ReplaceString(appendString("1"))
	b.If(ContentTypeIs("application/json"))
	jsonOnly := b.ReplaceString(appendString("2"))

	rec := serve(plain, text("foo"), get("/"))
	assert.Equal(t, "foo1", rec.Body.String())

	rec = serve(jsonOnly, text("foo"), get("/"))
	assert.Equal(t, "foo", rec.Body.String())
}

func TestMiddleware(t *testing.T) {
	h := ResponseHandler(Options{}).ReplaceString(appendString("!"))
	rec := newRecorder()
	Middleware(h)(text("foo")).ServeHTTP(rec, get("/"))
	assert.Equal(t, "foo!", rec.Body.String())
}

func TestWrapNilNext(t *testing.T) {
	h := ResponseHandler(Options{}).ReplaceString(appendString("!"))
	rec := newRecorder()
	Wrap(h, nil).ServeHTTP(rec, get("/"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
