// Package strip removes typed-script syntax so the result runs as plain
// script.
//
// It is a textual rewrite, not a parser. Pathological input (angle brackets
// or colons inside string literals, nested generics deeper than one level,
// object literals whose values look like type names) can come out mangled;
// callers must not rely on it preserving semantics. Strip never panics: if
// any rewrite fails it returns the input unchanged.
package strip

import (
	"time"

	"github.com/dlclark/regexp2"
)

// matchTimeout bounds each rewrite so catastrophic backtracking cannot hang
// the caller
const matchTimeout = 250 * time.Millisecond

// typeExpr matches a single type expression: names with dotted paths,
// one level of generic arguments, array suffixes, object and tuple literals,
// string literal types, unions and intersections of those.
const typeAtom = `(?:` +
	`[A-Za-z_$][\w$.]*(?:\s*<[^<>()]*(?:<[^<>()]*>[^<>()]*)*>)?` +
	`|\{[^{}]*\}` +
	`|\[[^\[\]]*\]` +
	`|'[^'\n]*'|"[^"\n]*"` +
	`)(?:\[\])*`

const typeExpr = typeAtom + `(?:\s*[|&]\s*` + typeAtom + `)*`

// typeParam is one entry of a generic parameter or argument list
const typeParam = typeExpr + `(?:\s+extends\s+` + typeExpr + `)?(?:\s*=\s*` + typeExpr + `)?`

type rule struct {
	name        string
	re          *regexp2.Regexp
	replacement string
}

func mustRule(name, pattern, replacement string) rule {
	re := regexp2.MustCompile(pattern, regexp2.Multiline)
	re.MatchTimeout = matchTimeout
	return rule{name: name, re: re, replacement: replacement}
}

// rules run in order; later rules assume earlier ones already fired
var rules = []rule{
	mustRule("interface declarations",
		`^[ \t]*(?:export\s+)?(?:declare\s+)?interface\s+[\w$]+(?:\s*<[^>{]*>)?(?:\s+extends\s+[^{]+)?\s*\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}[ \t]*;?`,
		""),
	mustRule("type aliases",
		`^[ \t]*(?:export\s+)?(?:declare\s+)?type\s+[\w$]+(?:\s*<[^>=]*>)?\s*=\s*(?:\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}|[^;\n]*)[ \t]*;?`,
		""),
	// constructor(private x: T) must lose the modifier before parameters are seen
	mustRule("access modifiers",
		`\b(?:public|private|protected|readonly)\s+(?=[A-Za-z_$#\[(])`,
		""),
	mustRule("implements clauses",
		`\s+implements\s+[\w$.,\s<>]+?(?=\s*\{)`,
		""),
	// let x: T =, const y: T;
	mustRule("declaration annotations",
		`\b(let|const|var)(\s+[A-Za-z_$][\w$]*)\s*:\s*`+typeExpr+`(?=\s*[=;,\n)])`,
		"$1$2"),
	// (a: T, b?: U, ...rest: V[]) parameter lists
	mustRule("parameter annotations",
		`(?<=[(,]\s*)((?:\.\.\.)?[A-Za-z_$][\w$]*)\??\s*:\s*`+typeExpr+`(?=\s*[,)=])`,
		"$1"),
	// class Box<T> {
	mustRule("class generics",
		`(?<=\bclass\s+[\w$]+)\s*<[^<>{}]*(?:<[^<>{}]*>[^<>{}]*)*>`,
		""),
	// function id<T>(, foo<string>(
	mustRule("call generics",
		`(?<=[\w$])\s*<\s*`+typeParam+`(?:\s*,\s*`+typeParam+`)*\s*>(?=\s*\()`,
		""),
	// const f = <T>(x) =>
	mustRule("arrow generics",
		`(?<=[=(,:]\s*)<\s*`+typeParam+`(?:\s*,\s*`+typeParam+`)*\s*>(?=\s*\()`,
		""),
	// ): T {  and  ): T =>
	mustRule("return types",
		`\)\s*:\s*`+typeExpr+`(?=\s*(?:\{|=>))`,
		")"),
	// class fields: `  name: string;` or `  count: number = 0`
	mustRule("field annotations",
		`^([ \t]*(?!(?:default|case)\b)[A-Za-z_$#][\w$]*)\??[ \t]*:[ \t]*`+typeExpr+`(?=[ \t]*[;=])`,
		"$1"),
	mustRule("type assertions",
		`\s+as\s+(?:const\b|`+typeExpr+`)(?=\s*[);,.\]}\n]|\s*$)`,
		""),
	mustRule("non-null assertions",
		`(?<=[\w$)\]])!(?=[.\[;,)])`,
		""),
	mustRule("trailing whitespace",
		`[ \t]+$`,
		""),
	mustRule("blank line runs",
		`\n{3,}`,
		"\n\n"),
}

// Strip rewrites typed source into plain source on a best-effort basis
func Strip(src string) (out string) {
	defer func() {
		if recover() != nil {
			out = src
		}
	}()

	out = src
	for _, r := range rules {
		next, err := r.re.Replace(out, r.replacement, -1, -1)
		if err != nil {
			return src
		}
		out = next
	}
	return out
}
