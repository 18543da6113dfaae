// Package shim synthesizes externally linkable C functions for the header
// symbols a foreign caller cannot reach directly.
package shim

import (
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/Alia5/rtebind/internal/codegen/common"
	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/scanner"
)

const (
	DefaultPrefix = "rtebind_"
	HeaderName    = "rtebind_shim.h"
	SourceName    = "rtebind_shim.c"
)

// MacroPolicy decides what happens to function-like macros without a
// curated signature.
type MacroPolicy string

const (
	PolicyReject MacroPolicy = "reject"
	PolicySkip   MacroPolicy = "skip"
)

type Options struct {
	Prefix      string      `help:"Prefix of synthesized shim functions" default:"rtebind_" name:"shim-prefix" env:"RTEBIND_SHIM_PREFIX"`
	MacroPolicy MacroPolicy `help:"Untriaged function-like macros: reject aborts, skip leaves them out" default:"reject" enum:"reject,skip" name:"macro-policy" env:"RTEBIND_MACRO_POLICY"`
}

// Function is one synthesized C function.
type Function struct {
	Name   string
	GoName string
	Return string
	Params []scanner.Param
	Body   string
}

func declare(typ, name string) string {
	if strings.HasSuffix(typ, "*") {
		return typ + name
	}
	return typ + " " + name
}

// Prototype renders the C declaration without the trailing semicolon.
func (f Function) Prototype() string {
	params := "void"
	if len(f.Params) > 0 {
		decls := make([]string, len(f.Params))
		for i, p := range f.Params {
			decls[i] = p.Decl
		}
		params = strings.Join(decls, ", ")
	}
	return declare(f.Return, f.Name) + "(" + params + ")"
}

// Unit is the shim for one symbol. Forwarders have a single function;
// bit-field accessors have a getter and a setter.
type Unit struct {
	Name      string
	Symbol    scanner.Symbol
	Functions []Function
	// Curated marks hand-written exception bodies.
	Curated bool
}

type span struct {
	start, end int
	unit       string
}

// Set is the complete shim translation unit.
type Set struct {
	Prefix   string
	Umbrella string
	Includes []string
	Units    []Unit

	header []byte
	source []byte
	spans  []span
}

func newParam(typ, name string) scanner.Param {
	return scanner.Param{Type: typ, Name: name, Decl: declare(typ, name)}
}

func argNames(params []scanner.Param) string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}

func callBody(ret, callee string, params []scanner.Param) string {
	call := callee + "(" + argNames(params) + ");"
	if ret == "void" {
		return call
	}
	return "return " + call
}

func forwardUnit(prefix string, sym scanner.Symbol) Unit {
	name := prefix + sym.Name
	return Unit{
		Name:   name,
		Symbol: sym,
		Functions: []Function{{
			Name:   name,
			GoName: common.ToPascalCase(sym.Name),
			Return: sym.Return,
			Params: sym.Params,
			Body:   callBody(sym.Return, sym.Name, sym.Params),
		}},
	}
}

func bitfieldUnit(prefix string, sym scanner.Symbol) Unit {
	name := prefix + sym.Name
	goName := common.ToPascalCase(sym.Name)
	return Unit{
		Name:   name,
		Symbol: sym,
		Functions: []Function{
			{
				Name:   name,
				GoName: goName,
				Return: sym.Return,
				Params: []scanner.Param{newParam("const "+sym.Struct+" *", "obj")},
				Body:   "return obj->" + sym.Field + ";",
			},
			{
				Name:   name + "_set",
				GoName: goName + "Set",
				Return: "void",
				Params: []scanner.Param{newParam(sym.Struct+" *", "obj"), newParam(sym.Return, "v")},
				Body:   "obj->" + sym.Field + " = v;",
			},
		},
	}
}

func curatedUnit(prefix string, sym scanner.Symbol, sig macroSig, exception bool) Unit {
	name := prefix + sym.Name
	params := make([]scanner.Param, len(sig.Args))
	for i, a := range sig.Args {
		params[i] = newParam(a.Type, a.Name)
	}
	body := sig.Body
	if body == "" {
		body = callBody(sig.Return, sym.Name, params)
	}
	return Unit{
		Name:   name,
		Symbol: sym,
		Functions: []Function{{
			Name:   name,
			GoName: common.ToPascalCase(sym.Name),
			Return: sig.Return,
			Params: params,
			Body:   body,
		}},
		Curated: exception,
	}
}

func lookupMacro(name string) (macroSig, bool, bool) {
	if sig, ok := exceptions[name]; ok {
		return sig, true, true
	}
	if sig, ok := forwarded[name]; ok {
		return sig, false, true
	}
	return macroSig{}, false, false
}

// Synthesize builds one shim unit per inline function, static function,
// triaged macro and bit-field member of the surface, plus the curated
// system-header macros.
func Synthesize(surface *scanner.Surface, opts Options, logger *slog.Logger) (*Set, error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	set := &Set{Prefix: prefix, Umbrella: filepath.Base(surface.Umbrella)}

	var untriaged []string
	for _, sym := range surface.Symbols {
		switch sym.Kind {
		case scanner.KindInline, scanner.KindStatic:
			set.Units = append(set.Units, forwardUnit(prefix, sym))
		case scanner.KindBitfield:
			set.Units = append(set.Units, bitfieldUnit(prefix, sym))
		case scanner.KindMacro:
			if reason, ok := notCallable[sym.Name]; ok {
				logger.Debug("Macro not exportable", "macro", sym.Name, "reason", reason)
				continue
			}
			sig, exception, ok := lookupMacro(sym.Name)
			if !ok {
				untriaged = append(untriaged, sym.Name)
				continue
			}
			if sig.Body == "" && len(sig.Args) != len(sym.MacroParams) {
				return nil, generror.ShimSynthesis(sym.Name, fmt.Sprintf("curated signature takes %d arguments, macro at %s:%d takes %d",
					len(sig.Args), sym.File, sym.Line, len(sym.MacroParams)))
			}
			set.Units = append(set.Units, curatedUnit(prefix, sym, sig, exception))
		}
	}

	if len(untriaged) > 0 {
		if opts.MacroPolicy == PolicySkip {
			for _, name := range untriaged {
				logger.Warn("Skipping function-like macro without curated signature", "macro", name)
			}
		} else {
			return nil, generror.ShimSynthesis(strings.Join(untriaged, ", "),
				"function-like macros without a curated signature (add them to the curated tables or use --macro-policy=skip)")
		}
	}

	set.addSystemUnits()

	if err := set.checkCollisions(surface); err != nil {
		return nil, err
	}
	if err := set.render(); err != nil {
		return nil, err
	}
	logger.Info("Synthesized shims", "units", len(set.Units), "untriaged", len(untriaged))
	return set, nil
}

func (s *Set) addSystemUnits() {
	var names []string
	includes := map[string]bool{}
	for name, sig := range forwarded {
		if sig.Include != "" {
			names = append(names, name)
			includes[sig.Include] = true
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sig := forwarded[name]
		sym := scanner.Symbol{Name: name, Kind: scanner.KindMacro, File: "<" + sig.Include + ">"}
		s.Units = append(s.Units, curatedUnit(s.Prefix, sym, sig, false))
	}
	for inc := range includes {
		s.Includes = append(s.Includes, inc)
	}
	sort.Strings(s.Includes)
}

func (s *Set) checkCollisions(surface *scanner.Surface) error {
	taken := surface.Names()
	for _, c := range surface.Constants {
		taken[c.Name] = true
	}
	owner := map[string]string{}
	goOwner := map[string]string{}
	for _, u := range s.Units {
		for _, f := range u.Functions {
			if taken[f.Name] {
				return generror.ShimSynthesis(u.Symbol.Name, fmt.Sprintf("shim name %s collides with a header symbol", f.Name))
			}
			if prev, ok := owner[f.Name]; ok {
				return generror.ShimSynthesis(u.Symbol.Name, fmt.Sprintf("shim name %s is also produced for %s", f.Name, prev))
			}
			owner[f.Name] = u.Symbol.Name
			if prev, ok := goOwner[f.GoName]; ok {
				return generror.ShimSynthesis(u.Symbol.Name, fmt.Sprintf("Go name %s is also produced for %s", f.GoName, prev))
			}
			goOwner[f.GoName] = u.Symbol.Name
		}
	}
	return nil
}

const headerTmpl = `/* Code generated by rtebind. DO NOT EDIT. */
#ifndef RTEBIND_SHIM_H
#define RTEBIND_SHIM_H

#ifndef _GNU_SOURCE
#define _GNU_SOURCE
#endif
{{range .Includes}}#include <{{.}}>
{{end}}#include "{{.Umbrella}}"

{{range .Units}}{{range .Functions}}{{.Prototype}};
{{end}}{{end}}
#endif /* RTEBIND_SHIM_H */
`

const sourcePreamble = `/* Code generated by rtebind. DO NOT EDIT. */
#include "` + HeaderName + `"
`

const unitTmpl = `
/* {{.Symbol.Kind}} {{.Symbol.Name}} */
{{range .Functions}}{{.Prototype}}
{
	{{.Body}}
}
{{end}}`

var (
	headerTemplate = template.Must(template.New(HeaderName).Parse(headerTmpl))
	unitTemplate   = template.Must(template.New("unit").Parse(unitTmpl))
)

func (s *Set) render() error {
	var h bytes.Buffer
	if err := headerTemplate.Execute(&h, s); err != nil {
		return fmt.Errorf("exec shim header tmpl: %w", err)
	}
	s.header = h.Bytes()

	var src bytes.Buffer
	src.WriteString(sourcePreamble)
	line := bytes.Count(src.Bytes(), []byte("\n"))
	s.spans = s.spans[:0]
	for _, u := range s.Units {
		var b bytes.Buffer
		if err := unitTemplate.Execute(&b, u); err != nil {
			return fmt.Errorf("exec shim unit tmpl for %s: %w", u.Name, err)
		}
		n := bytes.Count(b.Bytes(), []byte("\n"))
		s.spans = append(s.spans, span{start: line + 1, end: line + n, unit: u.Name})
		line += n
		src.Write(b.Bytes())
	}
	s.source = src.Bytes()
	return nil
}

func (s *Set) Header() []byte { return s.header }
func (s *Set) Source() []byte { return s.source }

// UnitAt maps a line of the shim source to the unit generated there.
func (s *Set) UnitAt(line int) (Unit, bool) {
	for i, sp := range s.spans {
		if line >= sp.start && line <= sp.end {
			return s.Units[i], true
		}
	}
	return Unit{}, false
}

// Names returns the sorted unit names. Together with the library version
// they determine the generated declarations.
func (s *Set) Names() []string {
	names := make([]string, len(s.Units))
	for i, u := range s.Units {
		names[i] = u.Name
	}
	sort.Strings(names)
	return names
}

// Functions returns every synthesized C function in unit order.
func (s *Set) Functions() []Function {
	var out []Function
	for _, u := range s.Units {
		out = append(out, u.Functions...)
	}
	return out
}

// Write stores the header and source in dir and returns the source path.
func (s *Set) Write(dir string) (string, error) {
	if err := common.WriteFileAtomic(filepath.Join(dir, HeaderName), s.header, 0o644); err != nil {
		return "", fmt.Errorf("write shim header: %w", err)
	}
	src := filepath.Join(dir, SourceName)
	if err := common.WriteFileAtomic(src, s.source, 0o644); err != nil {
		return "", fmt.Errorf("write shim source: %w", err)
	}
	return src, nil
}
