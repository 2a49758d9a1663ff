package config

import (
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"sort"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/zalando/intercept/builtin"
)

// replaceFlag collects the -replace rules, parsed when they are set. In the
// config file, the rules are a list, and they replace the list collected so
// far.
type replaceFlag struct {
	exprs []string
	rules []builtin.Rule
}

func (f *replaceFlag) String() string {
	if f == nil {
		return ""
	}

	return strings.Join(f.exprs, " ")
}

func (f *replaceFlag) Set(expr string) error {
	r, err := builtin.ParseRule(expr)
	if err != nil {
		return err
	}

	f.exprs = append(f.exprs, expr)
	f.rules = append(f.rules, r)
	return nil
}

func (f *replaceFlag) UnmarshalYAML(unmarshal func(any) error) error {
	var exprs []string
	if err := unmarshal(&exprs); err != nil {
		return err
	}

	rules, err := builtin.ParseRules(exprs...)
	if err != nil {
		return err
	}

	f.exprs, f.rules = exprs, rules
	return nil
}

// pathFlag collects the -exclude-path expressions. In the config file, it
// takes a single expression or a list.
type pathFlag []*regexp.Regexp

func compilePath(expr string) (*regexp.Regexp, error) {
	rx, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude path %q: %w", expr, err)
	}

	return rx, nil
}

func (f pathFlag) String() string {
	s := make([]string, len(f))
	for i, rx := range f {
		s[i] = rx.String()
	}

	return strings.Join(s, " ")
}

func (f *pathFlag) Set(expr string) error {
	rx, err := compilePath(expr)
	if err != nil {
		return err
	}

	*f = append(*f, rx)
	return nil
}

func (f *pathFlag) UnmarshalYAML(unmarshal func(any) error) error {
	var exprs []string
	var single string
	if err := unmarshal(&single); err == nil {
		if single != "" {
			exprs = []string{single}
		}
	} else if err := unmarshal(&exprs); err != nil {
		return err
	}

	paths := make(pathFlag, 0, len(exprs))
	for _, expr := range exprs {
		rx, err := compilePath(expr)
		if err != nil {
			return err
		}

		paths = append(paths, rx)
	}

	*f = paths
	return nil
}

// headerFlag collects the -request-header values, as name=value pairs
// separated by comma. The flag can be repeated. The names are
// canonicalized.
type headerFlag struct {
	header http.Header
}

func newHeaderFlag() *headerFlag {
	return &headerFlag{header: make(http.Header)}
}

func (f *headerFlag) String() string {
	if f == nil {
		return ""
	}

	var pairs []string
	for name, values := range f.header {
		for _, v := range values {
			pairs = append(pairs, name+"="+v)
		}
	}

	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (f *headerFlag) set(name, value string) error {
	name, value = strings.TrimSpace(name), strings.TrimSpace(value)
	if !httpguts.ValidHeaderFieldName(name) {
		return fmt.Errorf("invalid request header name: %q", name)
	}

	if value == "" || !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("invalid value of request header %s: %q", name, value)
	}

	f.header.Set(name, value)
	return nil
}

func (f *headerFlag) Set(value string) error {
	for _, pair := range strings.Split(value, ",") {
		name, v, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid request header, expected name=value but got: %q", pair)
		}

		if err := f.set(name, v); err != nil {
			return err
		}
	}

	return nil
}

func (f *headerFlag) UnmarshalYAML(unmarshal func(any) error) error {
	var values map[string]string
	if err := unmarshal(&values); err != nil {
		return err
	}

	parsed := newHeaderFlag()
	for name, v := range values {
		if err := parsed.set(name, v); err != nil {
			return err
		}
	}

	f.header = parsed.header
	return nil
}

// listFlag is a comma separated list of case insensitive tokens, like
// media types or content-codings. When the allowed tokens are set, other
// tokens are rejected. Setting the flag replaces the list.
type listFlag struct {
	allowed []string
	values  []string
}

func newListFlag(allowed ...string) *listFlag {
	return &listFlag{allowed: allowed}
}

func (lf *listFlag) setValues(values []string) error {
	var parsed []string
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}

		if len(lf.allowed) > 0 && !slices.Contains(lf.allowed, v) {
			return fmt.Errorf("unsupported value %q, expected one of: %s", v, strings.Join(lf.allowed, ", "))
		}

		parsed = append(parsed, v)
	}

	lf.values = parsed
	return nil
}

func (lf *listFlag) Set(value string) error {
	return lf.setValues(strings.Split(value, ","))
}

func (lf *listFlag) UnmarshalYAML(unmarshal func(any) error) error {
	var values []string
	if err := unmarshal(&values); err != nil {
		return err
	}

	return lf.setValues(values)
}

func (lf *listFlag) String() string {
	if lf == nil {
		return ""
	}

	return strings.Join(lf.values, ",")
}
