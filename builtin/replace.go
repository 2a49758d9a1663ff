package builtin

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/zalando/intercept"
)

// ErrInvalidRule is returned by ParseRule for malformed expressions.
var ErrInvalidRule = errors.New("invalid replace rule")

// Rule replaces the matches of Pattern by Replacement. $1 or ${name} in
// the replacement are expanded, as in regexp.Regexp.Expand.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

func (r Rule) String() string {
	return fmt.Sprintf("s/%s/%s/", r.Pattern, r.Replacement)
}

// ParseRule parses an expression of the form s/pattern/replacement/. Any
// character following the s is the delimiter, and it can be escaped with
// a backslash in the pattern and in the replacement.
func ParseRule(expr string) (Rule, error) {
	if len(expr) < 4 || expr[0] != 's' {
		return Rule{}, fmt.Errorf("%w: %q", ErrInvalidRule, expr)
	}

	delim := expr[1]
	var (
		parts   []string
		current strings.Builder
	)

	for i := 2; i < len(expr); i++ {
		c := expr[i]
		switch {
		case c == '\\' && i+1 < len(expr) && expr[i+1] == delim:
			current.WriteByte(delim)
			i++
		case c == delim:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}

	if len(parts) != 2 || current.Len() > 0 {
		return Rule{}, fmt.Errorf("%w: %q", ErrInvalidRule, expr)
	}

	rx, err := regexp.Compile(parts[0])
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	return Rule{Pattern: rx, Replacement: parts[1]}, nil
}

// ParseRules parses each expression with ParseRule.
func ParseRules(exprs ...string) ([]Rule, error) {
	rules := make([]Rule, 0, len(exprs))
	for _, e := range exprs {
		r, err := ParseRule(e)
		if err != nil {
			return nil, err
		}

		rules = append(rules, r)
	}

	return rules, nil
}

var textual = regexp.MustCompile(`^text/|[/+](json|xml|javascript)($|;)`)

// Replace returns a handler that applies the rules, in order, to the
// buffered body of the textual responses.
func Replace(o intercept.Options, rules ...Rule) intercept.Handler {
	return intercept.ResponseHandler(o).
		If(intercept.ContentTypeMatches(textual)).
		ReplaceString(func(body string, _ *http.Request, _ intercept.Response) (string, error) {
			for _, r := range rules {
				body = r.Pattern.ReplaceAllString(body, r.Replacement)
			}

			return body, nil
		})
}

// ReplaceStream returns a handler that applies the rules to the body of
// the textual responses while it is written. A partial match is held back
// until it is complete or it exceeds maxBuffer bytes. Empty matches are
// not replaced.
func ReplaceStream(o intercept.Options, maxBuffer int, rules ...Rule) intercept.Handler {
	return intercept.ResponseHandler(o).
		If(intercept.NotEncoded()).
		If(intercept.ContentTypeMatches(textual)).
		InterceptStream(func(upstream io.Reader, _ *http.Request, _ intercept.Response) (io.Reader, error) {
			if len(rules) == 0 {
				return nil, nil
			}

			var rd io.Reader = upstream
			for _, r := range rules {
				rd = newEditor(rd, r, maxBuffer)
			}

			return rd, nil
		})
}
