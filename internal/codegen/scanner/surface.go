package scanner

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Alia5/rtebind/internal/codegen/generror"
)

// Kind classifies a symbol of the header surface.
type Kind string

const (
	// KindInline is a static inline function; the archive need not contain it.
	KindInline Kind = "inline"
	// KindMacro is a function-like macro; no symbol exists at all.
	KindMacro Kind = "macro"
	// KindStatic is a static function definition without inline.
	KindStatic Kind = "static"
	// KindBitfield is a bit-field member that needs accessor functions.
	KindBitfield Kind = "bitfield"
	// KindExtern is a directly linkable prototype. It needs no shim.
	KindExtern Kind = "extern"
)

// NeedsShim reports whether symbols of this kind are invisible to direct
// foreign linkage.
func (k Kind) NeedsShim() bool {
	return k != KindExtern
}

// Param is one function parameter.
type Param struct {
	// Type is the declaration without the name, e.g. "struct rte_mbuf **".
	Type string `json:"type"`
	Name string `json:"name"`
	// Array holds a trailing array declarator, e.g. "[6]".
	Array string `json:"array,omitempty"`
	// Decl is the full declaration, used verbatim in shim prototypes.
	// It differs from Type+Name for function pointers.
	Decl string `json:"decl"`
}

// Symbol is a symbol descriptor extracted from header text.
type Symbol struct {
	Name   string  `json:"name"`
	Kind   Kind    `json:"kind"`
	Return string  `json:"return,omitempty"`
	Params []Param `json:"params,omitempty"`
	File   string  `json:"file"`
	Line   int     `json:"line"`

	// Macro only: parameter names and replacement text.
	MacroParams []string `json:"macroParams,omitempty"`
	MacroBody   string   `json:"macroBody,omitempty"`

	// Bitfield only: the aggregate type expression ("struct rte_mbuf" or a
	// typedef name) and the member path ("a.b").
	Struct string `json:"struct,omitempty"`
	Field  string `json:"field,omitempty"`
	Bits   string `json:"bits,omitempty"`
}

// Constant is an integer object-like macro.
type Constant struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	File  string `json:"file"`
	Line  int    `json:"line"`
}

// Skipped records a declaration the scanner saw but did not export.
type Skipped struct {
	Name   string `json:"name"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Surface is the result of a scan pass.
type Surface struct {
	Umbrella  string     `json:"umbrella"`
	Files     []string   `json:"files"`
	Symbols   []Symbol   `json:"symbols"`
	Externs   []Symbol   `json:"externs"`
	Constants []Constant `json:"constants"`
	// Structs lists the struct and union tags with a complete definition,
	// in discovery order.
	Structs []string  `json:"structs"`
	Skipped []Skipped `json:"skipped,omitempty"`
}

// Names returns every symbol name of the surface, shim candidates and
// externs alike.
func (s *Surface) Names() map[string]bool {
	names := make(map[string]bool, len(s.Symbols)+len(s.Externs))
	for _, sym := range s.Symbols {
		names[sym.Name] = true
	}
	for _, sym := range s.Externs {
		names[sym.Name] = true
	}
	return names
}

// HasStruct reports whether tag ("struct x" or "union x") has a definition.
func (s *Surface) HasStruct(tag string) bool {
	for _, t := range s.Structs {
		if t == tag {
			return true
		}
	}
	return false
}

type Options struct {
	// MacroPrefixes selects which function-like macros belong to the call
	// surface. Upper-case utility macros (RTE_MIN...) stay out by default.
	MacroPrefixes []string
	// ConstantPrefixes selects object-like macros exported as constants.
	ConstantPrefixes []string
}

func DefaultOptions() Options {
	return Options{
		MacroPrefixes:    []string{"rte_"},
		ConstantPrefixes: []string{"RTE_"},
	}
}

// Scan walks every header reachable from umbrella through includeDirs and
// returns the deduplicated surface in discovery order. Any parse failure
// aborts the whole pass.
func Scan(umbrella string, includeDirs []string, opts Options, logger *slog.Logger) (*Surface, error) {
	s := &Surface{Umbrella: umbrella}
	seenFile := map[string]bool{}
	seenSym := map[string]bool{}
	seenStruct := map[string]bool{}

	queue := []string{umbrella}
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", path, err)
		}
		if seenFile[abs] {
			continue
		}
		seenFile[abs] = true

		src, err := os.ReadFile(abs)
		if err != nil {
			return nil, generror.SurfaceScan(abs, 0, err.Error())
		}
		fd, err := scanSource(abs, string(src), opts)
		if err != nil {
			return nil, err
		}
		s.Files = append(s.Files, abs)
		logger.Debug("Scanned header", "file", abs, "symbols", len(fd.symbols), "externs", len(fd.externs))

		for _, sym := range fd.symbols {
			if seenSym[sym.Name] {
				continue
			}
			seenSym[sym.Name] = true
			s.Symbols = append(s.Symbols, sym)
		}
		for _, sym := range fd.externs {
			if seenSym[sym.Name] {
				continue
			}
			seenSym[sym.Name] = true
			s.Externs = append(s.Externs, sym)
		}
		for _, c := range fd.constants {
			if seenSym[c.Name] {
				continue
			}
			seenSym[c.Name] = true
			s.Constants = append(s.Constants, c)
		}
		for _, tag := range fd.structs {
			if !seenStruct[tag] {
				seenStruct[tag] = true
				s.Structs = append(s.Structs, tag)
			}
		}
		s.Skipped = append(s.Skipped, fd.skipped...)

		for _, inc := range fd.includes {
			if resolved := resolveInclude(abs, inc, includeDirs); resolved != "" {
				queue = append(queue, resolved)
			}
		}
	}
	return s, nil
}

func resolveInclude(from string, inc directive, includeDirs []string) string {
	var dirs []string
	if !inc.angle {
		dirs = append(dirs, filepath.Dir(from))
	}
	dirs = append(dirs, includeDirs...)
	for _, dir := range dirs {
		p := filepath.Join(dir, inc.path)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// fileDecls is what one header contributes.
type fileDecls struct {
	symbols   []Symbol
	externs   []Symbol
	constants []Constant
	structs   []string
	skipped   []Skipped
	includes  []directive
}

func scanSource(file, src string, opts Options) (*fileDecls, error) {
	pp, err := preprocess(file, src)
	if err != nil {
		return nil, err
	}
	fd := &fileDecls{}
	p := &parser{file: file, toks: tokenize(pp.code), out: fd}
	if err := p.parseTop(); err != nil {
		return nil, err
	}

	for _, d := range pp.directives {
		switch d.name {
		case "include":
			fd.includes = append(fd.includes, d)
		case "define":
			if strings.HasPrefix(d.ident, "_") {
				continue
			}
			if d.funcLike {
				if hasAnyPrefix(d.ident, opts.MacroPrefixes) {
					fd.symbols = append(fd.symbols, Symbol{
						Name:        d.ident,
						Kind:        KindMacro,
						File:        file,
						Line:        d.line,
						MacroParams: d.params,
						MacroBody:   d.body,
					})
				}
				continue
			}
			if hasAnyPrefix(d.ident, opts.ConstantPrefixes) {
				if v, ok := integerLiteral(d.body); ok {
					fd.constants = append(fd.constants, Constant{Name: d.ident, Value: v, File: file, Line: d.line})
				}
			}
		}
	}
	return fd, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

var (
	intLitRe = regexp.MustCompile(`^(-?)(0[xX][0-9a-fA-F]+|[0-9]+)[uUlL]*$`)
	shiftRe  = regexp.MustCompile(`^(0[xX][0-9a-fA-F]+|[0-9]+)[uUlL]*\s*<<\s*([0-9]+)[uUlL]*$`)
)

// integerLiteral recognizes plain integer literals, optionally
// parenthesized, negated or written as a shift, and returns them in Go syntax.
func integerLiteral(body string) (string, bool) {
	v := strings.TrimSpace(body)
	for strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	if m := intLitRe.FindStringSubmatch(v); m != nil {
		return m[1] + m[2], true
	}
	if m := shiftRe.FindStringSubmatch(v); m != nil {
		return m[1] + " << " + m[2], true
	}
	return "", false
}
