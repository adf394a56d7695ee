package keys

import (
	"strings"
	"testing"
)

func TestResolveDeterminism(t *testing.T) {
	ctx := CallContext{
		Service: "CourseService",
		Method:  "getCourse",
		Caller:  "u-42",
		Args:    []any{"123", true},
		Query:   map[string]any{"page": 2, "size": 20},
	}
	a := Resolve("", ctx, Options{})
	b := Resolve("", ctx, Options{})
	if a != b {
		t.Fatalf("identical contexts resolved differently: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "CourseService.getCourse:u-42") {
		t.Fatalf("unexpected key shape: %q", a)
	}
	if !strings.Contains(a, ":a=") || !strings.Contains(a, ":q=") {
		t.Fatalf("expected arg and query fingerprints in %q", a)
	}
}

func TestResolveDistinctInputs(t *testing.T) {
	base := CallContext{Service: "S", Method: "m", Caller: "alice", Args: []any{1}}

	otherCaller := base
	otherCaller.Caller = "bob"

	otherArgs := base
	otherArgs.Args = []any{2}

	k := Resolve("", base, Options{})
	if Resolve("", otherCaller, Options{}) == k {
		t.Fatalf("distinct callers must resolve to distinct keys")
	}
	if Resolve("", otherArgs, Options{}) == k {
		t.Fatalf("distinct args must resolve to distinct keys")
	}
}

func TestResolveTemplatePlaceholders(t *testing.T) {
	ctx := CallContext{
		Service:    "CourseService",
		Method:     "getCourse",
		Args:       []any{"123"},
		ParamNames: []string{"courseId"},
	}
	got := Resolve("course:{courseId}:detail:{caller}", ctx, Options{})
	if got != "course:123:detail:anonymous" {
		t.Fatalf("template resolution: %q", got)
	}

	ctx.Caller = "u-7"
	got = Resolve("{service}.{method}:{caller}", ctx, Options{})
	if got != "CourseService.getCourse:u-7" {
		t.Fatalf("identity placeholders: %q", got)
	}
}

func TestResolveTemplateMissingPlaceholderFallsBack(t *testing.T) {
	ctx := CallContext{Service: "S", Method: "m", Args: []any{"1"}, ParamNames: []string{"id"}}
	got := Resolve("x:{nope}", ctx, Options{})
	want := Resolve("", ctx, Options{})
	if got != want {
		t.Fatalf("missing placeholder should fall back to default key: got %q want %q", got, want)
	}
}

func TestResolveNonSerializableArgsFallsBack(t *testing.T) {
	ctx := CallContext{
		Service: "S",
		Method:  "m",
		Caller:  "alice",
		Args:    []any{func() {}}, // json.Marshal fails on func values
	}
	got := Resolve("", ctx, Options{})
	if got != "S.m:alice" {
		t.Fatalf("expected coarse fallback key, got %q", got)
	}
}

func TestResolveOptions(t *testing.T) {
	ctx := CallContext{Service: "S", Method: "m"}
	got := Resolve("", ctx, Options{Prefix: "v2:", Suffix: ":html"})
	if got != "v2:S.m:html" {
		t.Fatalf("prefix/suffix: %q", got)
	}

	hashed := Resolve("", ctx, Options{Prefix: "v2:", Hash: true})
	if !strings.HasPrefix(hashed, "v2:") || strings.Contains(hashed, "S.m") {
		t.Fatalf("hashed key should keep prefix and hide the assembled body: %q", hashed)
	}
	if hashed != Resolve("", ctx, Options{Prefix: "v2:", Hash: true}) {
		t.Fatalf("hashing must be stable")
	}
}

func TestParseUnterminatedBrace(t *testing.T) {
	ctx := CallContext{Service: "S", Method: "m"}
	if got := Resolve("literal-{oops", ctx, Options{}); got != "literal-{oops" {
		t.Fatalf("unterminated brace should be literal: %q", got)
	}
}
