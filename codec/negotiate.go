package codec

import (
	"sort"
	"strconv"
	"strings"
)

type acceptedEncoding struct {
	name     string
	q        float64
	priority int
}

type acceptedEncodings []acceptedEncoding

func (e acceptedEncodings) Len() int      { return len(e) }
func (e acceptedEncodings) Swap(i, j int) { e[i], e[j] = e[j], e[i] }

// higher q first, then registry priority
func (e acceptedEncodings) Less(i, j int) bool {
	if e[i].q != e[j].q {
		return e[i].q > e[j].q
	}

	return e[i].priority < e[j].priority
}

func (r *Registry) priority(name string) int {
	for i, c := range r.codecs {
		if strings.EqualFold(c.Name(), name) {
			return i
		}
	}

	return -1
}

// Negotiate selects a coding for a response from the Accept-Encoding
// header of the request. It honors the quality values, a coding with q=0
// is never selected. When the quality values are equal, the registry
// order decides. It doesn't assume that the client accepts any coding
// when the header is empty, and it ignores *.
func (r *Registry) Negotiate(acceptEncoding string) string {
	if r == nil {
		return ""
	}

	var encs acceptedEncodings
	for _, s := range strings.Split(acceptEncoding, ",") {
		sp := strings.Split(s, ";")
		name := strings.ToLower(strings.TrimSpace(sp[0]))
		p := r.priority(name)
		if p < 0 {
			continue
		}

		enc := acceptedEncoding{name: r.codecs[p].Name(), q: 1, priority: p}
		for _, spi := range sp[1:] {
			spi = strings.TrimSpace(spi)
			if !strings.HasPrefix(spi, "q=") {
				continue
			}

			q, err := strconv.ParseFloat(strings.TrimPrefix(spi, "q="), 64)
			if err != nil {
				continue
			}

			enc.q = q
			break
		}

		if enc.q > 0 {
			encs = append(encs, enc)
		}
	}

	if len(encs) == 0 {
		return ""
	}

	sort.Sort(encs)
	return encs[0].name
}
