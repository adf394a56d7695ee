package tiercache

import (
	"fmt"
	"strconv"
	"strings"
)

// ruleTemplate is a rule pattern/tag template parsed once at registration
// into literal and placeholder segments, evaluated by substitution against
// the firing event.
type ruleTemplate struct {
	raw  string
	segs []ruleSegment
}

type ruleSegment struct {
	text        string
	placeholder bool
}

func parseRuleTemplate(s string) (ruleTemplate, error) {
	t := ruleTemplate{raw: s}
	rest := s
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			t.segs = append(t.segs, ruleSegment{text: rest})
			break
		}
		close := strings.IndexByte(rest[open:], '}')
		if close < 0 {
			return ruleTemplate{}, fmt.Errorf("unterminated placeholder in %q", s)
		}
		if open > 0 {
			t.segs = append(t.segs, ruleSegment{text: rest[:open]})
		}
		name := rest[open+1 : open+close]
		switch name {
		case "entityType", "entityId", "timestamp":
		default:
			return ruleTemplate{}, fmt.Errorf("unknown placeholder {%s} in %q", name, s)
		}
		t.segs = append(t.segs, ruleSegment{text: name, placeholder: true})
		rest = rest[open+close+1:]
	}
	return t, nil
}

// expand substitutes event fields. A placeholder whose event field is empty
// is an expansion error; the caller skips that rule firing.
func (t ruleTemplate) expand(ev Event) (string, error) {
	var b strings.Builder
	for _, seg := range t.segs {
		if !seg.placeholder {
			b.WriteString(seg.text)
			continue
		}
		var v string
		switch seg.text {
		case "entityType":
			v = ev.EntityType
		case "entityId":
			v = ev.EntityID
		case "timestamp":
			if !ev.Timestamp.IsZero() {
				v = strconv.FormatInt(ev.Timestamp.Unix(), 10)
			}
		}
		if v == "" {
			return "", fmt.Errorf("event missing field for {%s} in %q", seg.text, t.raw)
		}
		b.WriteString(v)
	}
	return b.String(), nil
}
