package config

import (
	"fmt"

	"github.com/zalando/intercept"
	"github.com/zalando/intercept/builtin"
	"github.com/zalando/intercept/codec"
	"github.com/zalando/intercept/condition"
	"github.com/zalando/intercept/payload"
)

// Codecs returns the registry of the enabled compression encodings, in the
// configured priority. When no encodings were configured, the default
// registry is returned.
func (c *Config) Codecs() *codec.Registry {
	if c.CompressEncodings == nil || len(c.CompressEncodings.values) == 0 {
		return codec.Default()
	}

	var (
		available = codec.Default()
		codecs    []codec.Codec
	)

	for _, name := range c.CompressEncodings.values {
		if ci, ok := available.Get(name); ok {
			codecs = append(codecs, ci)
		}
	}

	return codec.New(codecs...)
}

// InterceptOptions returns the options shared by the configured handlers.
func (c *Config) InterceptOptions(m intercept.Metrics) intercept.Options {
	o := intercept.Options{
		Codecs:               c.Codecs(),
		Metrics:              m,
		FailOnConditionError: c.FailOnConditionError,
		Name:                 c.Name,
	}

	switch c.ETag {
	case ETagWeak:
		o.ETag = payload.WeakETag
	case ETagHash:
		o.ETag = payload.HashETag
	}

	return o
}

func listValues(lf *listFlag) []string {
	if lf == nil {
		return nil
	}

	return lf.values
}

// Handler creates the interception chain of the proxy. The response of the
// backend is decompressed first, then the replacements are applied, and
// finally it gets compressed for the client. It returns nil when nothing
// was configured.
func (c *Config) Handler(m intercept.Metrics) (intercept.Handler, error) {
	o := c.InterceptOptions(m)

	var handlers []intercept.Handler
	if c.RequestHeaders != nil && len(c.RequestHeaders.header) > 0 {
		h, err := builtin.StackRequestHeader(o, c.RequestHeaders.header.Clone())
		if err != nil {
			return nil, fmt.Errorf("invalid request header: %w", err)
		}

		handlers = append(handlers, h)
	}

	if c.Compress {
		handlers = append(handlers, builtin.Compress(o, listValues(c.CompressTypes)...))
	}

	if len(c.ReplaceRules) > 0 {
		if c.ReplaceStream {
			handlers = append(handlers, builtin.ReplaceStream(o, c.ReplaceMaxBuffer, c.ReplaceRules...))
		} else {
			handlers = append(handlers, builtin.Replace(o, c.ReplaceRules...))
		}
	}

	if c.Decompress {
		handlers = append(handlers, builtin.Decompress(o, listValues(c.DecompressTypes)...))
	}

	if len(handlers) == 0 {
		return nil, nil
	}

	b := intercept.RequestHandler(o)
	if len(c.ExcludePaths) > 0 {
		var included []intercept.RequestCondition
		for _, rx := range c.ExcludePaths {
			included = append(included, condition.Not(intercept.PathMatches(rx)))
		}

		b = b.For(condition.All(included...))
	}

	return b.Use(handlers[0], handlers[1:]...), nil
}
