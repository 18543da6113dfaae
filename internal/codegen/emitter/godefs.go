package emitter

import (
	"bytes"
	"context"
	"fmt"
	"go/format"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Alia5/rtebind/internal/codegen/common"
	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/shim"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
)

var (
	ctypeStructRe = regexp.MustCompile(`(\*?)_Ctype_struct_(\w+)`)
	ctypePtrRe    = regexp.MustCompile(`\*+_Ctype_\w+`)
	ctypeAnyRe    = regexp.MustCompile(`_Ctype_\w+`)
	packageRe     = regexp.MustCompile(`(?m)^package \w+\n`)
)

// GoTypeName is the Go name of the generated layout for a struct tag.
func GoTypeName(tag string) string {
	return common.ToPascalCase(tag)
}

func (e *emitter) godefsInput(tags []string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "package %s\n\n/*\n#include \"%s\"\n*/\nimport \"C\"\n\n", e.opts.Package, shim.HeaderName)
	for _, tag := range tags {
		fmt.Fprintf(&b, "type %s C.struct_%s\n", GoTypeName(tag), tag)
	}
	return b.Bytes()
}

func (e *emitter) runGodefs(ctx context.Context, tmp string, tags []string) ([]byte, error) {
	input := filepath.Join(tmp, "types.go")
	if err := os.WriteFile(input, e.godefsInput(tags), 0o644); err != nil {
		return nil, fmt.Errorf("write godefs input: %w", err)
	}
	args := []string{"tool", "cgo", "-godefs", "-objdir", tmp, "--"}
	args = append(args, e.cflags()...)
	args = append(args, input)
	res, err := e.runner.Run(ctx, toolchain.Command{Dir: tmp, Name: e.opts.Go, Args: args})
	if err != nil {
		return nil, generror.BindingGeneration("go tool cgo -godefs failed", string(res.Stderr), err)
	}
	return res.Stdout, nil
}

// generateTypes produces the struct layouts. godefs leaves references to
// structs it was not asked for as _Ctype_struct_x, so they are added and
// the pass repeated. A struct embedded by value is complete for the C
// compiler even when a macro declared it (STAILQ_HEAD and friends), so it
// is always added; a pointer target is only added when the headers define
// it, the rest stay unsafe.Pointer.
func (e *emitter) generateTypes(ctx context.Context, initial []string) ([]byte, []string, error) {
	declared := map[string]bool{}
	for _, tag := range initial {
		declared[tag] = true
	}
	if len(declared) == 0 {
		out, err := formatGo(fmt.Appendf(nil, "%s\n\npackage %s\n", generatedHeader, e.opts.Package))
		return out, nil, err
	}

	tmp, err := os.MkdirTemp(e.md.BuildDir, ".rtebind-godefs-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create godefs dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	for round := 1; ; round++ {
		tags := sortedKeys(declared)
		out, err := e.runGodefs(ctx, tmp, tags)
		if err != nil {
			return nil, nil, err
		}

		added := 0
		for _, m := range ctypeStructRe.FindAllSubmatch(out, -1) {
			byValue, tag := len(m[1]) == 0, string(m[2])
			if !declared[tag] && (byValue || e.md.Surface.HasStruct("struct "+tag)) {
				declared[tag] = true
				added++
			}
		}
		if added == 0 {
			e.logger.Debug("Resolved struct layouts", "types", len(tags), "rounds", round)
			src, err := normalizeGodefs(out)
			if err != nil {
				return nil, nil, err
			}
			return src, tags, nil
		}
		if round >= e.opts.MaxRounds {
			return nil, nil, generror.BindingGeneration(fmt.Sprintf("struct references still unresolved after %d godefs rounds", round), "", nil)
		}
	}
}

// normalizeGodefs drops the banner line carrying temp paths, turns
// pointers to opaque structs into unsafe.Pointer and gofmts the result.
func normalizeGodefs(out []byte) ([]byte, error) {
	var lines []string
	for _, l := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(l, "// cgo -godefs") {
			continue
		}
		lines = append(lines, l)
	}
	src := strings.Join(lines, "\n")

	src = ctypePtrRe.ReplaceAllString(src, "unsafe.Pointer")
	if left := ctypeAnyRe.FindAllString(src, -1); len(left) > 0 {
		return nil, generror.BindingGeneration("opaque C types embedded by value: "+strings.Join(dedupe(left), ", "), "", nil)
	}
	if strings.Contains(src, "unsafe.Pointer") {
		src = addImport(src, "unsafe")
	}
	return formatGo([]byte(src))
}

func addImport(src, pkg string) string {
	loc := packageRe.FindStringIndex(src)
	if loc == nil {
		return src
	}
	return src[:loc[1]] + "\nimport \"" + pkg + "\"\n" + src[loc[1]:]
}

func formatGo(src []byte) ([]byte, error) {
	out, err := format.Source(src)
	if err != nil {
		return nil, generror.BindingGeneration("generated Go does not parse", string(src), err)
	}
	return out, nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
