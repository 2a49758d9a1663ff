package intercept

import (
	"mime"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/zalando/intercept/codec"
	"github.com/zalando/intercept/condition"
)

// StatusIs matches the responses with one of the status codes.
func StatusIs(codes ...int) ResponseCondition {
	return condition.Bool(func(rsp Response) bool {
		return slices.Contains(codes, rsp.StatusCode())
	})
}

func mediaType(h http.Header) string {
	ct := h.Get("Content-Type")
	if ct == "" {
		return ""
	}

	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		// keep the part before the parameters of a malformed value
		mt, _, _ = strings.Cut(ct, ";")
		mt = strings.ToLower(strings.TrimSpace(mt))
	}

	return mt
}

// ContentTypeIs matches the responses whose media type, without the
// parameters, is one of the arguments. A type ending in "/*" matches every
// subtype.
func ContentTypeIs(types ...string) ResponseCondition {
	return condition.Bool(func(rsp Response) bool {
		mt := mediaType(rsp.Header())
		if mt == "" {
			return false
		}

		for _, t := range types {
			t = strings.ToLower(t)
			if prefix, ok := strings.CutSuffix(t, "/*"); ok {
				if strings.HasPrefix(mt, prefix+"/") {
					return true
				}

				continue
			}

			if t == mt {
				return true
			}
		}

		return false
	})
}

// ContentTypeMatches matches the responses whose Content-Type header
// matches the expression.
func ContentTypeMatches(rx *regexp.Regexp) ResponseCondition {
	return condition.Bool(func(rsp Response) bool {
		return rx.MatchString(rsp.Header().Get("Content-Type"))
	})
}

// NotEncoded matches the responses without a content-coding.
func NotEncoded() ResponseCondition {
	return condition.Bool(func(rsp Response) bool {
		return len(codec.Encodings(rsp.Header().Get("Content-Encoding"))) == 0
	})
}

// Encoded matches the responses with a single content-coding supported
// by the registry.
func Encoded(r *codec.Registry) ResponseCondition {
	return condition.Bool(func(rsp Response) bool {
		encs := codec.Encodings(rsp.Header().Get("Content-Encoding"))
		if len(encs) != 1 {
			return false
		}

		_, ok := r.Get(encs[0])
		return ok
	})
}

// Transformable matches the responses that don't forbid transformations
// with Cache-Control: no-transform.
func Transformable() ResponseCondition {
	return condition.Bool(func(rsp Response) bool {
		for _, v := range rsp.Header().Values("Cache-Control") {
			for d := range strings.SplitSeq(v, ",") {
				if strings.EqualFold(strings.TrimSpace(d), "no-transform") {
					return false
				}
			}
		}

		return true
	})
}

// ResponseHas matches the responses with the header set.
func ResponseHas(name string) ResponseCondition {
	return condition.Bool(func(rsp Response) bool {
		return rsp.Header().Get(name) != ""
	})
}

// MethodIs matches the requests with one of the methods.
func MethodIs(methods ...string) RequestCondition {
	return condition.Bool(func(r *http.Request) bool {
		return slices.Contains(methods, r.Method)
	})
}

// PathMatches matches the requests whose path matches the expression.
func PathMatches(rx *regexp.Regexp) RequestCondition {
	return condition.Bool(func(r *http.Request) bool {
		return rx.MatchString(r.URL.Path)
	})
}

// RequestHas matches the requests with the header set.
func RequestHas(name string) RequestCondition {
	return condition.Bool(func(r *http.Request) bool {
		return r.Header.Get(name) != ""
	})
}
