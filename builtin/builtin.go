// Package builtin provides ready made handlers built on the intercept
// package.
//
// Compress and Decompress stream the body through the registered codecs,
// without buffering it. StackRequestHeader sets request headers for the
// downstream handlers and restores them when the response ends. Replace
// and ReplaceStream edit the body with regular expressions.
package builtin

import (
	"github.com/zalando/intercept"
	"github.com/zalando/intercept/codec"
)

func codecs(o intercept.Options) *codec.Registry {
	if o.Codecs == nil {
		return codec.Default()
	}

	return o.Codecs
}
