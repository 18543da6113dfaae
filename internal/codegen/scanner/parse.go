package scanner

import (
	"fmt"
	"strings"

	"github.com/Alia5/rtebind/internal/codegen/generror"
)

var closerOf = map[string]string{"(": ")", "[": "]", "{": "}"}

// matchIn returns the index of the token closing the group opened at toks[i].
func matchIn(file string, toks []token, i int) (int, error) {
	var stack []int
	for j := i; j < len(toks); j++ {
		t := toks[j]
		if t.kind != tokPunct {
			continue
		}
		switch t.text {
		case "(", "[", "{":
			stack = append(stack, j)
		case ")", "]", "}":
			if len(stack) == 0 {
				return 0, generror.SurfaceScan(file, t.line, fmt.Sprintf("unbalanced %q", t.text))
			}
			open := toks[stack[len(stack)-1]]
			if closerOf[open.text] != t.text {
				return 0, generror.SurfaceScan(file, t.line, fmt.Sprintf("unbalanced %q, %q opened on line %d", t.text, open.text, open.line))
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return j, nil
			}
		}
	}
	open := toks[stack[len(stack)-1]]
	return 0, generror.SurfaceScan(file, open.line, fmt.Sprintf("unbalanced %q", open.text))
}

// closeOf is matchIn for token runs already known to be balanced.
func closeOf(toks []token, i int) int {
	j, err := matchIn("", toks, i)
	if err != nil {
		return len(toks) - 1
	}
	return j
}

type parser struct {
	file    string
	toks    []token
	out     *fileDecls
	externC int
}

// parseTop splits the token stream into top-level declarations. A
// declaration ends at ';' or, for function definitions, at the closing
// brace of the body.
func (p *parser) parseTop() error {
	toks := p.toks
	for i := 0; i < len(toks); {
		t := toks[i]
		switch {
		case t.is(";"):
			i++
			continue
		case t.is("extern") && i+1 < len(toks) && toks[i+1].text == `"C"`:
			if i+2 < len(toks) && toks[i+2].is("{") {
				p.externC++
				i += 3
			} else {
				i += 2
			}
			continue
		case t.is("}") && p.externC > 0:
			p.externC--
			i++
			continue
		}

		start, end := i, -1
		hasBody := false
	collect:
		for j := i; j < len(toks); j++ {
			tj := toks[j]
			if tj.kind != tokPunct {
				continue
			}
			switch tj.text {
			case ";":
				end = j
				break collect
			case "(", "[", "{":
				closing, err := matchIn(p.file, toks, j)
				if err != nil {
					return err
				}
				if tj.is("{") && looksLikeFuncHeader(toks[start:j]) {
					p.declaration(toks[start:j], true)
					hasBody = true
					end = closing
					break collect
				}
				j = closing
			case ")", "]", "}":
				return generror.SurfaceScan(p.file, tj.line, fmt.Sprintf("unbalanced %q", tj.text))
			}
		}
		if end < 0 {
			// Trailing tokens without a terminator carry nothing we can use.
			return nil
		}
		if !hasBody {
			p.declaration(toks[start:end], false)
		}
		i = end + 1
	}
	return nil
}

func (p *parser) declaration(toks []token, hasBody bool) {
	if len(toks) == 0 {
		return
	}
	if toks[0].is("typedef") {
		p.typedef(toks[1:])
		return
	}
	if hasBody {
		p.function(toks, true)
		return
	}
	stripped, _ := stripDecl(toks, false)
	if kw, tag, open, closing, ok := findAggregate(stripped); ok {
		p.aggregate(kw, tag, "", stripped[open+1:closing])
		return
	}
	for _, t := range toks {
		if t.is("(") {
			p.function(toks, false)
			return
		}
	}
}

type specifiers struct {
	static   bool
	inline   bool
	extern   bool
	internal bool
}

// stripDecl removes storage specifiers and attributes, reporting which
// specifiers were present. In function mode an __rte_ name followed by a
// parameter list after a return type is kept, since it is the function
// name and not an attribute.
func stripDecl(toks []token, fn bool) ([]token, specifiers) {
	var out []token
	var sp specifiers
	depth := 0
	sawType, sawParen := false, false
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind == tokIdent {
			switch t.text {
			case "static":
				sp.static = true
				continue
			case "inline", "__inline", "__inline__":
				sp.inline = true
				continue
			case "extern":
				sp.extern = true
				continue
			case "__extension__", "RTE_STD_C11", "register":
				continue
			case "__attribute__", "__attribute":
				if i+1 < len(toks) && toks[i+1].is("(") {
					closing := closeOf(toks, i+1)
					for _, a := range toks[i+1 : closing] {
						if a.is("always_inline") || a.is("__always_inline__") {
							sp.inline = true
						}
					}
					i = closing
				}
				continue
			}
			if strings.HasPrefix(t.text, "__rte_") {
				hasGroup := i+1 < len(toks) && toks[i+1].is("(")
				if !(fn && hasGroup && sawType && !sawParen && depth == 0) {
					switch t.text {
					case "__rte_always_inline":
						sp.inline = true
					case "__rte_internal":
						sp.internal = true
					}
					if hasGroup {
						i = closeOf(toks, i+1)
					}
					continue
				}
			}
			if depth == 0 {
				sawType = true
			}
		}
		switch t.text {
		case "(", "[", "{":
			if depth == 0 && t.is("(") {
				sawParen = true
			}
			depth++
		case ")", "]", "}":
			depth--
		}
		out = append(out, t)
	}
	return out, sp
}

func looksLikeFuncHeader(head []token) bool {
	toks, _ := stripDecl(head, true)
	if len(toks) < 3 || !toks[len(toks)-1].is(")") {
		return false
	}
	for i := 1; i < len(toks); i++ {
		if toks[i].is("(") && toks[i-1].kind == tokIdent {
			return true
		}
	}
	return false
}

func (p *parser) skip(name token, reason string) {
	p.out.skipped = append(p.out.skipped, Skipped{Name: name.text, File: p.file, Line: name.line, Reason: reason})
}

func (p *parser) function(head []token, hasBody bool) {
	toks, sp := stripDecl(head, true)
	open := -1
	for i, t := range toks {
		if t.is("(") {
			open = i
			break
		}
	}
	if open < 2 || toks[open-1].kind != tokIdent {
		return
	}
	closing := closeOf(toks, open)
	if closing != len(toks)-1 {
		return
	}
	ret := toks[:open-1]
	for _, t := range ret {
		if t.kind != tokIdent && !t.is("*") {
			return
		}
	}
	name := toks[open-1]

	switch {
	case sp.internal:
		p.skip(name, "internal API")
		return
	case strings.HasPrefix(name.text, "_"):
		p.skip(name, "reserved identifier")
		return
	}
	params, variadic := parseParams(toks[open+1 : closing])
	if variadic {
		p.skip(name, "variadic")
		return
	}

	sym := Symbol{
		Name:   name.text,
		Return: joinTokens(ret),
		Params: params,
		File:   p.file,
		Line:   name.line,
	}
	switch {
	case hasBody && sp.inline:
		sym.Kind = KindInline
	case hasBody && sp.static:
		sym.Kind = KindStatic
	case hasBody:
		p.skip(name, "non-static definition in header")
		return
	case sp.static:
		// forward declaration of a definition further down
		return
	default:
		sym.Kind = KindExtern
		p.out.externs = append(p.out.externs, sym)
		return
	}
	p.out.symbols = append(p.out.symbols, sym)
}

func splitTop(toks []token, sep string) [][]token {
	var parts [][]token
	depth, start := 0, 0
	for i, t := range toks {
		switch t.text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
		case sep:
			if depth == 0 && t.kind == tokPunct {
				parts = append(parts, toks[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, toks[start:])
}

func parseParams(toks []token) ([]Param, bool) {
	if len(toks) == 0 || (len(toks) == 1 && toks[0].is("void")) {
		return nil, false
	}
	var params []Param
	for idx, part := range splitTop(toks, ",") {
		part, _ = stripDecl(part, false)
		if len(part) == 1 && part[0].is("...") {
			return nil, true
		}
		params = append(params, makeParam(idx, part))
	}
	return params, false
}

var typeKeywords = map[string]bool{
	"void": true, "char": true, "short": true, "int": true, "long": true,
	"float": true, "double": true, "signed": true, "unsigned": true,
	"_Bool": true, "bool": true, "const": true, "volatile": true,
	"restrict": true, "__restrict": true, "__restrict__": true,
}

func unnamed(idx, line int) token {
	return token{kind: tokIdent, text: fmt.Sprintf("_unnamed_arg%d", idx), line: line}
}

func makeParam(idx int, toks []token) Param {
	line := 0
	if len(toks) > 0 {
		line = toks[0].line
	}
	// function pointer: ret (*name)(args)
	for i := 0; i+2 < len(toks); i++ {
		if !toks[i].is("(") || !toks[i+1].is("*") {
			continue
		}
		typ, decl := toks, toks
		var name token
		if toks[i+2].kind == tokIdent {
			name = toks[i+2]
			typ = append(append([]token{}, toks[:i+2]...), toks[i+3:]...)
		} else {
			name = unnamed(idx, line)
			decl = append(append(append([]token{}, toks[:i+2]...), name), toks[i+2:]...)
		}
		return Param{Type: joinTokens(typ), Name: name.text, Decl: joinTokens(decl)}
	}

	before, array := toks, ""
	for i, t := range toks {
		if t.is("[") {
			before, array = toks[:i], joinTokens(toks[i:])
			break
		}
	}
	typ := before
	var name token
	if n := len(before); n > 1 && before[n-1].kind == tokIdent && !typeKeywords[before[n-1].text] &&
		!before[n-2].is("struct") && !before[n-2].is("union") && !before[n-2].is("enum") {
		name = before[n-1]
		typ = before[:n-1]
	} else {
		name = unnamed(idx, line)
	}
	decl := append(append([]token{}, typ...), name)
	return Param{
		Type:  joinTokens(typ),
		Name:  name.text,
		Array: array,
		Decl:  joinTokens(decl) + array,
	}
}

// findAggregate locates the first struct or union definition body in toks.
func findAggregate(toks []token) (kw, tag string, open, closing int, ok bool) {
	for i, t := range toks {
		if !t.is("struct") && !t.is("union") {
			continue
		}
		j := i + 1
		if j < len(toks) && toks[j].kind == tokIdent {
			tag = toks[j].text
			j++
		}
		if j < len(toks) && toks[j].is("{") {
			return t.text, tag, j, closeOf(toks, j), true
		}
		return "", "", 0, 0, false
	}
	return "", "", 0, 0, false
}

func (p *parser) typedef(toks []token) {
	stripped, _ := stripDecl(toks, false)
	kw, tag, open, closing, ok := findAggregate(stripped)
	if !ok {
		return
	}
	name := ""
	if closing+1 < len(stripped) && stripped[closing+1].kind == tokIdent {
		name = stripped[closing+1].text
	}
	p.aggregate(kw, tag, name, stripped[open+1:closing])
}

// aggregate records a complete struct or union definition and the
// bit-field members reachable from it by name.
func (p *parser) aggregate(kw, tag, typedefName string, body []token) {
	var expr, base string
	switch {
	case tag != "":
		expr, base = kw+" "+tag, tag
		p.out.structs = append(p.out.structs, expr)
	case typedefName != "":
		expr, base = typedefName, typedefName
	default:
		return
	}
	p.members(expr, base, "", body)
}

func (p *parser) members(expr, base, path string, body []token) {
	for _, member := range splitTop(body, ";") {
		m, _ := stripDecl(member, false)
		if len(m) == 0 {
			continue
		}
		if kw, tag, open, closing, ok := findAggregate(m); ok {
			if tag != "" {
				p.out.structs = append(p.out.structs, kw+" "+tag)
			}
			rest := m[closing+1:]
			switch {
			case len(rest) == 0:
				p.members(expr, base, path, m[open+1:closing])
			case rest[0].kind == tokIdent && (len(rest) == 1 || !rest[1].is("[")):
				p.members(expr, base, path+rest[0].text+".", m[open+1:closing])
			}
			continue
		}
		p.bitfields(expr, base, path, m)
	}
}

func (p *parser) bitfields(expr, base, path string, m []token) {
	declarators := splitTop(m, ",")
	var typ []token
	for n, d := range declarators {
		colon := -1
		for i, t := range d {
			if t.is(":") {
				colon = i
				break
			}
		}
		if colon < 0 {
			if n == 0 {
				return
			}
			continue
		}
		lhs := d[:colon]
		var name token
		if n == 0 {
			if len(lhs) < 2 || lhs[len(lhs)-1].kind != tokIdent || typeKeywords[lhs[len(lhs)-1].text] {
				// unnamed padding
				typ = lhs
				continue
			}
			typ, name = lhs[:len(lhs)-1], lhs[len(lhs)-1]
		} else {
			if len(lhs) != 1 || lhs[0].kind != tokIdent {
				continue
			}
			name = lhs[0]
		}
		field := path + name.text
		p.out.symbols = append(p.out.symbols, Symbol{
			Name:   base + "_" + strings.ReplaceAll(field, ".", "_"),
			Kind:   KindBitfield,
			Return: joinTokens(typ),
			File:   p.file,
			Line:   name.line,
			Struct: expr,
			Field:  field,
			Bits:   joinTokens(d[colon+1:]),
		})
	}
}

func needSpace(prev, cur string) bool {
	switch cur {
	case ",", ")", "]", "[", ";", ".", "->":
		return false
	}
	switch prev {
	case "(", "[", ".", "->", "~", "!":
		return false
	case "*":
		return cur == "const" || cur == "volatile"
	case ")":
		return cur != "("
	}
	return true
}

// joinTokens renders tokens as canonical C text, e.g. "struct rte_mbuf **pkts".
func joinTokens(toks []token) string {
	var b strings.Builder
	for i, t := range toks {
		if i > 0 && needSpace(toks[i-1].text, t.text) {
			b.WriteByte(' ')
		}
		b.WriteString(t.text)
	}
	return b.String()
}
