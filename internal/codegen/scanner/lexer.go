package scanner

import (
	"regexp"
	"strings"

	"github.com/Alia5/rtebind/internal/codegen/generror"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	line int
}

func (t token) is(s string) bool { return t.text == s }

// directive is a #define or #include seen in an active preprocessor branch.
type directive struct {
	name     string // "define" or "include"
	line     int
	ident    string
	params   []string
	funcLike bool
	body     string
	// include only
	path  string
	angle bool
}

// preprocessed is a header reduced to scannable code: comments removed,
// continuations joined, inactive conditional branches blanked and directive
// lines extracted. Line numbers are preserved.
type preprocessed struct {
	code       string
	directives []directive
}

// stripComments replaces comments with spaces, keeping newlines so line
// numbers survive. String and character literals are left intact.
func stripComments(file, src string) (string, error) {
	var b strings.Builder
	b.Grow(len(src))
	line := 1
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				b.WriteByte('\n')
				line++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			start := line
			i += 2
			closed := false
			for ; i < len(src); i++ {
				if src[i] == '*' && i+1 < len(src) && src[i+1] == '/' {
					i++
					closed = true
					break
				}
				if src[i] == '\n' {
					b.WriteByte('\n')
					line++
				}
			}
			if !closed {
				return "", generror.SurfaceScan(file, start, "unterminated comment")
			}
			b.WriteByte(' ')
		case c == '"' || c == '\'':
			quote := c
			b.WriteByte(c)
			for i++; i < len(src); i++ {
				b.WriteByte(src[i])
				if src[i] == '\\' && i+1 < len(src) {
					i++
					b.WriteByte(src[i])
					continue
				}
				if src[i] == quote || src[i] == '\n' {
					if src[i] == '\n' {
						line++
					}
					break
				}
			}
		default:
			if c == '\n' {
				line++
			}
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

var includeRe = regexp.MustCompile(`^([<"])([^>"]+)[>"]`)

// splitDirective splits "ifdef FOO" into ("ifdef", "FOO"); "if(x)" works too.
func splitDirective(body string) (kind, rest string) {
	i := 0
	for i < len(body) && body[i] >= 'a' && body[i] <= 'z' {
		i++
	}
	return body[:i], strings.TrimSpace(body[i:])
}

// parseDefine parses the text after "#define". A macro is function-like only
// when '(' immediately follows its name.
func parseDefine(rest string, line int) (directive, bool) {
	i := 0
	for i < len(rest) && isIdentChar(rest[i]) {
		i++
	}
	if i == 0 || !isIdentStart(rest[0]) {
		return directive{}, false
	}
	d := directive{name: "define", line: line, ident: rest[:i]}
	after := rest[i:]
	if strings.HasPrefix(after, "(") {
		end := strings.IndexByte(after, ')')
		if end < 0 {
			return directive{}, false
		}
		d.funcLike = true
		for _, p := range strings.Split(after[1:end], ",") {
			if p = strings.TrimSpace(p); p != "" {
				d.params = append(d.params, p)
			}
		}
		after = after[end+1:]
	}
	d.body = strings.TrimSpace(after)
	return d, true
}

type condFrame struct {
	parentActive bool
	active       bool
	taken        bool
	line         int
}

// branchTaken decides a conditional. Only the first branch of a group is
// scanned, except where that branch is known to be dead for a C build.
func branchTaken(kind, expr string) bool {
	expr = strings.TrimSpace(expr)
	switch kind {
	case "ifdef":
		return expr != "__cplusplus"
	case "if":
		compact := strings.ReplaceAll(expr, " ", "")
		if compact == "0" || compact == "defined(__cplusplus)" || compact == "defined__cplusplus" {
			return false
		}
	}
	return true
}

func preprocess(file, src string) (*preprocessed, error) {
	stripped, err := stripComments(file, src)
	if err != nil {
		return nil, err
	}
	physical := strings.Split(stripped, "\n")

	var out strings.Builder
	var dirs []directive
	var stack []condFrame
	active := true

	for i := 0; i < len(physical); i++ {
		lineNo := i + 1
		logical := physical[i]
		joined := 0
		for strings.HasSuffix(strings.TrimRight(logical, " \t\r"), "\\") && i+1 < len(physical) {
			logical = strings.TrimSuffix(strings.TrimRight(logical, " \t\r"), "\\") + " " + physical[i+1]
			i++
			joined++
		}

		trimmed := strings.TrimSpace(logical)
		if !strings.HasPrefix(trimmed, "#") {
			if active {
				out.WriteString(logical)
			}
			out.WriteString(strings.Repeat("\n", joined+1))
			continue
		}
		out.WriteString(strings.Repeat("\n", joined+1))

		body := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		kind, rest := splitDirective(body)

		switch kind {
		case "if", "ifdef", "ifndef":
			taken := branchTaken(kind, rest)
			stack = append(stack, condFrame{parentActive: active, active: active && taken, taken: taken, line: lineNo})
			active = active && taken
			continue
		case "elif", "else":
			if len(stack) == 0 {
				return nil, generror.SurfaceScan(file, lineNo, "#"+kind+" without #if")
			}
			top := &stack[len(stack)-1]
			top.active = top.parentActive && !top.taken
			if top.active {
				top.taken = true
			}
			active = top.active
			continue
		case "endif":
			if len(stack) == 0 {
				return nil, generror.SurfaceScan(file, lineNo, "#endif without #if")
			}
			active = stack[len(stack)-1].parentActive
			stack = stack[:len(stack)-1]
			continue
		}
		if !active {
			continue
		}

		switch {
		case kind == "define":
			if d, ok := parseDefine(rest, lineNo); ok {
				dirs = append(dirs, d)
			}
		case kind == "include":
			m := includeRe.FindStringSubmatch(rest)
			if m == nil {
				continue
			}
			dirs = append(dirs, directive{name: "include", line: lineNo, path: m[2], angle: m[1] == "<"})
		}
	}
	if len(stack) > 0 {
		return nil, generror.SurfaceScan(file, stack[len(stack)-1].line, "unterminated #if")
	}
	return &preprocessed{code: out.String(), directives: dirs}, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func tokenize(code string) []token {
	var toks []token
	line := 1
	for i := 0; i < len(code); {
		c := code[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			i++
		case isIdentStart(c):
			j := i + 1
			for j < len(code) && isIdentChar(code[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: code[i:j], line: line})
			i = j
		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(code) && (isIdentChar(code[j]) || code[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: code[i:j], line: line})
			i = j
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(code) && code[j] != c && code[j] != '\n' {
				if code[j] == '\\' {
					j++
				}
				j++
			}
			if j < len(code) && code[j] == c {
				j++
			}
			toks = append(toks, token{kind: tokString, text: code[i:min(j, len(code))], line: line})
			i = j
		case c == '.' && strings.HasPrefix(code[i:], "..."):
			toks = append(toks, token{kind: tokPunct, text: "...", line: line})
			i += 3
		case c == '-' && i+1 < len(code) && code[i+1] == '>':
			toks = append(toks, token{kind: tokPunct, text: "->", line: line})
			i += 2
		default:
			toks = append(toks, token{kind: tokPunct, text: string(c), line: line})
			i++
		}
	}
	return toks
}
