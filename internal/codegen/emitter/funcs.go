package emitter

import (
	"bytes"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/Alia5/rtebind/internal/codegen/common"
	"github.com/Alia5/rtebind/internal/codegen/scanner"
	"github.com/Alia5/rtebind/internal/codegen/shim"
)

var structPtrRe = regexp.MustCompile(`\bstruct\s+(\w+)\s*\*`)

// shadowing parameter names that would hide a package or type the
// wrapper body needs
var shadowing = map[string]bool{
	"C": true, "unsafe": true, "bool": true, "byte": true, "int": true, "uint": true, "uintptr": true,
	"int8": true, "int16": true, "int32": true, "int64": true,
	"uint8": true, "uint16": true, "uint32": true, "uint64": true,
	"float32": true, "float64": true,
}

type wrapParam struct {
	Name string
	Type common.GoType
}

type wrapper struct {
	GoName string
	CName  string
	Kind   scanner.Kind
	Ret    common.GoType
	Params []wrapParam
	ctypes []string
}

func (w wrapper) Signature() string {
	parts := make([]string, len(w.Params))
	for i, p := range w.Params {
		parts[i] = p.Name + " " + p.Type.Go
	}
	sig := "(" + strings.Join(parts, ", ") + ")"
	if !w.Ret.IsVoid() {
		sig += " " + w.Ret.Go
	}
	return sig
}

func (w wrapper) Call() string {
	args := make([]string, len(w.Params))
	for i, p := range w.Params {
		args[i] = p.Type.ToC(p.Name)
	}
	call := "C." + w.CName + "(" + strings.Join(args, ", ") + ")"
	if w.Ret.IsVoid() {
		return call
	}
	return "return " + w.Ret.FromC(call)
}

func paramCType(p scanner.Param) (string, bool) {
	switch strings.Count(p.Array, "[") {
	case 0:
		return p.Type, true
	case 1:
		// array parameters decay to pointers
		return p.Type + " *", true
	}
	return "", false
}

// wrappers maps every shim function and extern to a Go signature. Shims
// come first; a later function with a Go name already taken is skipped.
func (e *emitter) wrappers() []wrapper {
	structType := func(tag string) (string, bool) {
		return GoTypeName(tag), e.md.Surface.HasStruct("struct " + tag)
	}

	type candidate struct {
		goName, cName string
		kind          scanner.Kind
		ret           string
		params        []scanner.Param
	}
	var cands []candidate
	for _, u := range e.md.Shims.Units {
		for _, f := range u.Functions {
			cands = append(cands, candidate{f.GoName, f.Name, u.Symbol.Kind, f.Return, f.Params})
		}
	}
	for _, sym := range e.md.Surface.Externs {
		cands = append(cands, candidate{common.ToPascalCase(sym.Name), sym.Name, sym.Kind, sym.Return, sym.Params})
	}

	seen := map[string]bool{}
	var out []wrapper
	for _, c := range cands {
		if seen[c.goName] {
			e.logger.Debug("Skipping wrapper with taken Go name", "symbol", c.cName, "go", c.goName)
			continue
		}
		w, reason := mapWrapper(c.goName, c.cName, c.ret, c.params, structType)
		if reason != "" {
			e.logger.Debug("Leaving function to C. callers", "symbol", c.cName, "reason", reason)
			continue
		}
		w.Kind = c.kind
		seen[c.goName] = true
		out = append(out, w)
	}
	return out
}

func mapWrapper(goName, cName, ret string, params []scanner.Param, structType func(string) (string, bool)) (wrapper, string) {
	w := wrapper{GoName: goName, CName: cName}
	rt, ok := common.MapCType(ret, structType)
	if !ok {
		return w, "unmappable return type " + ret
	}
	w.Ret = rt
	w.ctypes = append(w.ctypes, ret)

	used := map[string]bool{}
	for _, p := range params {
		ctype, ok := paramCType(p)
		if !ok {
			return w, "multi-dimensional array parameter " + p.Decl
		}
		pt, ok := common.MapCType(ctype, structType)
		if !ok || pt.IsVoid() {
			return w, "unmappable parameter " + p.Decl
		}
		name := common.GoParamName(p.Name)
		for shadowing[name] || used[name] {
			name += "_"
		}
		used[name] = true
		w.Params = append(w.Params, wrapParam{Name: name, Type: pt})
		w.ctypes = append(w.ctypes, ctype)
	}
	return w, ""
}

// structTags lists the complete structs the wrappers point at.
func structTags(wrappers []wrapper, surface *scanner.Surface) []string {
	seen := map[string]bool{}
	for _, w := range wrappers {
		for _, ct := range w.ctypes {
			for _, m := range structPtrRe.FindAllStringSubmatch(ct, -1) {
				if surface.HasStruct("struct " + m[1]) {
					seen[m[1]] = true
				}
			}
		}
	}
	return sortedKeys(seen)
}

// dropShadowed removes wrappers whose name equals a generated type.
func (e *emitter) dropShadowed(wrappers []wrapper, tags []string) []wrapper {
	types := map[string]bool{}
	for _, tag := range tags {
		types[GoTypeName(tag)] = true
	}
	out := wrappers[:0]
	for _, w := range wrappers {
		if types[w.GoName] {
			e.logger.Debug("Skipping wrapper named like a struct layout", "symbol", w.CName, "go", w.GoName)
			continue
		}
		out = append(out, w)
	}
	return out
}

var funcsTmpl = template.Must(template.New("funcs").Parse(`{{.Header}}

package {{.Package}}

// #include "{{.ShimHeader}}"
import "C"

import "unsafe"

var _ unsafe.Pointer
{{range .Wrappers}}
// {{.GoName}} calls {{.CName}}.
func {{.GoName}}{{.Signature}} {
	{{.Call}}
}
{{end}}`))

func (e *emitter) renderFuncs(wrappers []wrapper) ([]byte, error) {
	var b bytes.Buffer
	err := funcsTmpl.Execute(&b, map[string]any{
		"Header":     generatedHeader,
		"Package":    e.opts.Package,
		"ShimHeader": shim.HeaderName,
		"Wrappers":   wrappers,
	})
	if err != nil {
		return nil, err
	}
	return formatGo(b.Bytes())
}

var constTmpl = template.Must(template.New("const").Parse(`{{.Header}}

package {{.Package}}
{{if .Consts}}
const (
{{- range .Consts}}
	{{.Name}} = {{.Value}}
{{- end}}
)
{{end}}`))

// renderConsts writes the integer constants whose names are still free.
func (e *emitter) renderConsts(wrappers []wrapper, tags []string) ([]byte, int, error) {
	taken := map[string]bool{}
	for _, w := range wrappers {
		taken[w.GoName] = true
	}
	for _, tag := range tags {
		taken[GoTypeName(tag)] = true
	}
	var consts []scanner.Constant
	for _, c := range e.md.Surface.Constants {
		if taken[c.Name] {
			e.logger.Debug("Skipping constant with taken Go name", "constant", c.Name)
			continue
		}
		taken[c.Name] = true
		consts = append(consts, c)
	}
	sort.SliceStable(consts, func(i, j int) bool { return consts[i].Name < consts[j].Name })

	var b bytes.Buffer
	err := constTmpl.Execute(&b, map[string]any{
		"Header":  generatedHeader,
		"Package": e.opts.Package,
		"Consts":  consts,
	})
	if err != nil {
		return nil, 0, err
	}
	out, err := formatGo(b.Bytes())
	return out, len(consts), err
}
