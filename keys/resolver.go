// Package keys derives deterministic cache keys from a call context: the
// logical operation identity, the caller identity and fingerprints of the
// supplied arguments and query parameters.
//
// Identical logical calls with identical arguments always resolve to the
// identical key, across repeated calls and across process restarts. Distinct
// callers or distinct arguments resolve to distinct keys. Hashing uses
// xxhash — a stable, fast, non-cryptographic function; a derived lookup key
// is not a security boundary.
package keys

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// AnonymousCaller substitutes for the caller segment when no caller
// identity is present in the context.
const AnonymousCaller = "anonymous"

// CallContext carries the identity of a cacheable call.
type CallContext struct {
	Service string // logical service/component name
	Method  string // operation name within the service
	Caller  string // caller identity; empty => anonymous

	// Args are the operation's arguments in declaration order. ParamNames,
	// when set, bind declared parameter names to Args by position so that
	// templates can reference arguments by name.
	Args       []any
	ParamNames []string

	// Query holds read-style query parameters, fingerprinted as an extra
	// key segment when present.
	Query map[string]any
}

// Options tune the assembled key.
type Options struct {
	Prefix string
	Suffix string
	// Hash replaces the fully assembled key with its xxhash digest to bound
	// key length. The prefix/suffix remain in the clear.
	Hash bool
}

// Resolve turns a call context into a deterministic key string.
//
// With a template, placeholders are substituted: {service}, {method},
// {caller} (falls back to "anonymous"), and any declared parameter name
// bound by position to Args. A template referencing an unbound placeholder
// falls back to the default key — resolution never fails outright;
// precision is sacrificed instead of aborting the call.
//
// Without a template, a default key is assembled from service.method, the
// caller segment (only if present), a fingerprint of the argument list and,
// when query parameters exist, a fingerprint of those.
func Resolve(template string, ctx CallContext, opts Options) string {
	var key string
	if template != "" {
		if k, ok := Parse(template).render(ctx.binding()); ok {
			key = k
		} else {
			key = ctx.defaultKey()
		}
	} else {
		key = ctx.defaultKey()
	}

	if opts.Hash {
		key = hashString(key)
	}
	if opts.Prefix != "" {
		key = opts.Prefix + key
	}
	if opts.Suffix != "" {
		key = key + opts.Suffix
	}
	return key
}

// ResolveTemplate is Resolve for a pre-parsed template, for callers that
// compile templates once at registration time.
func ResolveTemplate(t Template, ctx CallContext, opts Options) string {
	key, ok := t.render(ctx.binding())
	if !ok {
		key = ctx.defaultKey()
	}
	if opts.Hash {
		key = hashString(key)
	}
	if opts.Prefix != "" {
		key = opts.Prefix + key
	}
	if opts.Suffix != "" {
		key = key + opts.Suffix
	}
	return key
}

func (c CallContext) binding() func(name string) (string, bool) {
	return func(name string) (string, bool) {
		switch name {
		case "service":
			return c.Service, c.Service != ""
		case "method":
			return c.Method, c.Method != ""
		case "caller":
			if c.Caller == "" {
				return AnonymousCaller, true
			}
			return c.Caller, true
		}
		for i, p := range c.ParamNames {
			if p != name || i >= len(c.Args) {
				continue
			}
			return stringify(c.Args[i])
		}
		return "", false
	}
}

func (c CallContext) defaultKey() string {
	var b strings.Builder
	b.WriteString(c.Service)
	b.WriteByte('.')
	b.WriteString(c.Method)
	if c.Caller != "" {
		b.WriteByte(':')
		b.WriteString(c.Caller)
	}
	if len(c.Args) > 0 {
		if fp, ok := fingerprint(c.Args); ok {
			b.WriteString(":a=")
			b.WriteString(fp)
		}
		// Non-serializable args: coarse key from the segments above only.
	}
	if len(c.Query) > 0 {
		if fp, ok := fingerprint(c.Query); ok {
			b.WriteString(":q=")
			b.WriteString(fp)
		}
	}
	return b.String()
}

// fingerprint hashes the JSON form of v. encoding/json sorts map keys, so
// the fingerprint is stable regardless of map iteration order.
func fingerprint(v any) (string, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return strconv.FormatUint(xxhash.Sum64(raw), 16), true
}

func stringify(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case nil:
		return "", false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func hashString(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}
