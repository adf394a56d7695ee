package keys

import "strings"

// segment is one piece of a parsed key template: either literal text or a
// placeholder to be substituted at resolve time. Templates are parsed once
// and evaluated by substitution rather than re-scanned per call.
type segment struct {
	text        string
	placeholder bool
}

// Template is a parsed key template. Zero value renders to "".
type Template struct {
	segs []segment
}

// Parse splits a template like "course:{courseId}:detail:{caller}" into
// literal and placeholder segments. An unterminated '{' is treated as
// literal text.
func Parse(s string) Template {
	var segs []segment
	for len(s) > 0 {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			segs = append(segs, segment{text: s})
			break
		}
		close := strings.IndexByte(s[open:], '}')
		if close < 0 {
			segs = append(segs, segment{text: s})
			break
		}
		if open > 0 {
			segs = append(segs, segment{text: s[:open]})
		}
		segs = append(segs, segment{text: s[open+1 : open+close], placeholder: true})
		s = s[open+close+1:]
	}
	return Template{segs: segs}
}

// render substitutes placeholders via lookup. Returns false when any
// placeholder has no binding, so the caller can fall back to a coarser key
// instead of emitting a partially-substituted one.
func (t Template) render(lookup func(name string) (string, bool)) (string, bool) {
	var b strings.Builder
	for _, seg := range t.segs {
		if !seg.placeholder {
			b.WriteString(seg.text)
			continue
		}
		v, ok := lookup(seg.text)
		if !ok {
			return "", false
		}
		b.WriteString(v)
	}
	return b.String(), true
}
