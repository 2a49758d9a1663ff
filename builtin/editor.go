package builtin

import (
	"bytes"
	"io"
	"unicode/utf8"
)

const (
	editorReadSize         = 8 << 10
	defaultEditorMaxBuffer = 2 << 20
)

// editor applies a rule to a stream. The data after the last complete
// match is kept pending, because a later read may extend the match.
type editor struct {
	source    io.Reader
	rule      Rule
	template  []byte
	prefix    []byte
	maxBuffer int

	buf     []byte
	ready   []byte
	pending []byte

	// the pending data is a match, reaching to its end
	pendingMatch bool
	err          error
}

func newEditor(source io.Reader, rule Rule, maxBuffer int) *editor {
	if maxBuffer <= 0 {
		maxBuffer = defaultEditorMaxBuffer
	}

	prefix, _ := rule.Pattern.LiteralPrefix()
	return &editor{
		source:    source,
		rule:      rule,
		template:  []byte(rule.Replacement),
		prefix:    []byte(prefix),
		maxBuffer: maxBuffer,
		buf:       make([]byte, editorReadSize),
	}
}

// replaceAll appends src to dst, with the non-empty matches replaced.
func (e *editor) replaceAll(dst, src []byte) []byte {
	for len(src) > 0 {
		m := e.rule.Pattern.FindSubmatchIndex(src)
		if m == nil || m[0] == len(src) {
			break
		}

		if m[1] == m[0] {
			_, size := utf8.DecodeRune(src[m[0]:])
			dst = append(dst, src[:m[0]+size]...)
			src = src[m[0]+size:]
			continue
		}

		dst = append(dst, src[:m[0]]...)
		dst = e.rule.Pattern.Expand(dst, e.template, src, m)
		src = src[m[1]:]
	}

	return append(dst, src...)
}

// fill reads at most n times from the source.
func (e *editor) fill(n int) int {
	var count int
	for range n {
		var m int
		m, e.err = e.source.Read(e.buf)
		e.pending = append(e.pending, e.buf[:m]...)
		count += m
		if m == 0 || e.err != nil {
			break
		}
	}

	return count
}

// edit moves the pending data to ready, up to the last match that cannot
// grow anymore. It tells whether any data became ready.
func (e *editor) edit() bool {
	var progress bool
	for {
		if len(e.prefix) > 0 && len(e.pending) >= len(e.prefix) {
			if skip := bytes.Index(e.pending, e.prefix); skip > 0 {
				e.ready = append(e.ready, e.pending[:skip]...)
				e.pending = e.pending[skip:]
				progress = true
			}
		}

		m := e.rule.Pattern.FindSubmatchIndex(e.pending)
		if m == nil {
			e.pendingMatch = false
			return progress
		}

		if m[0] > 0 {
			progress = true
		}

		switch {
		case m[1] == m[0]:
			e.ready = append(e.ready, e.pending[:m[0]]...)
			e.pending = e.pending[m[0]:]
			e.pendingMatch = false
			return progress
		case m[1] == len(e.pending):
			e.ready = append(e.ready, e.pending[:m[0]]...)
			e.pending = e.pending[m[0]:]
			e.pendingMatch = true
			return progress
		}

		e.ready = append(e.ready, e.pending[:m[0]]...)
		e.ready = e.rule.Pattern.Expand(e.ready, e.template, e.pending, m)
		e.pending = e.pending[m[1]:]
		progress = true
	}
}

// trim makes the pending data ready when it exceeds the buffer limit.
func (e *editor) trim() {
	if e.pendingMatch {
		e.ready = e.replaceAll(e.ready, e.pending)
		e.pending = nil
		e.pendingMatch = false
		return
	}

	e.ready = append(e.ready, e.pending[:e.maxBuffer]...)
	e.pending = e.pending[e.maxBuffer:]
}

// finish makes the pending data ready when the source is done.
func (e *editor) finish() {
	e.ready = e.replaceAll(e.ready, e.pending)
	e.pending = nil
	e.pendingMatch = false
}

func (e *editor) Read(p []byte) (int, error) {
	var count int
	readSize := 1
	for {
		n := copy(p, e.ready)
		p, e.ready = p[n:], e.ready[n:]
		count += n
		if len(p) == 0 {
			return count, nil
		}

		if e.err != nil {
			if len(e.pending) > 0 {
				e.finish()
				continue
			}

			if count > 0 {
				return count, nil
			}

			return 0, e.err
		}

		if e.fill(readSize) == 0 {
			if e.err != nil {
				continue
			}

			return count, nil
		}

		readSize *= 2
		if e.edit() {
			readSize = 1
		}

		for len(e.pending) > e.maxBuffer {
			readSize = 1
			e.trim()
		}
	}
}
