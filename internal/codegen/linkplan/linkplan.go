// Package linkplan builds the static-link flags that embed the native
// library into the final Go binary and hands them to the Go build.
package linkplan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/locator"
)

const (
	WholeArchive   = "-Wl,--whole-archive"
	NoWholeArchive = "-Wl,--no-whole-archive"

	umbrellaArchive = "libdpdk.a"
)

// DefaultAux are linked after the bracket on every build.
var DefaultAux = []string{"numa", "m"}

// mlx5Aux are needed once an mlx5 driver archive is linked.
var mlx5Aux = []string{"ibverbs", "mlx5"}

type Options struct {
	InjectLDFlags bool     `help:"Write the link flags into the generated package instead of printing CGO_LDFLAGS" default:"true" negatable:"" env:"RTEBIND_INJECT_LDFLAGS" name:"inject-ldflags"`
	ExtraLibs     []string `help:"Extra libraries linked after the native archives (name or raw flag)" env:"RTEBIND_EXTRA_LIBS" name:"extra-lib"`
}

// Plan is the ordered link line. Native archives sit inside exactly one
// whole-archive bracket so constructor-registered drivers survive; the
// shim archive precedes the bracket and auxiliaries follow it.
type Plan struct {
	ShimArchive string   `json:"shimArchive"`
	LibDir      string   `json:"libDir"`
	Archives    []string `json:"archives"`
	Aux         []string `json:"aux"`
	Flags       []string `json:"flags"`
}

func (p *Plan) String() string {
	return strings.Join(p.Flags, " ")
}

// Build assembles the plan for lib and the compiled shim archive.
func Build(lib *locator.Library, shimArchive string, opts Options) (*Plan, error) {
	if lib.LibDir == "" {
		return nil, generror.LinkPlanIncomplete(lib.Root, "no library directory resolved")
	}
	if fi, err := os.Stat(lib.LibDir); err != nil || !fi.IsDir() {
		return nil, generror.LinkPlanIncomplete(lib.LibDir, "library directory missing")
	}
	if _, err := os.Stat(shimArchive); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, generror.LinkPlanIncomplete(shimArchive, "shim archive missing")
		}
		return nil, fmt.Errorf("stat shim archive: %w", err)
	}

	var archives []string
	for _, a := range lib.Archives {
		name := filepath.Base(a)
		if name == umbrellaArchive {
			// libdpdk.a already contains every component archive
			archives = []string{name}
			break
		}
		archives = append(archives, name)
	}
	if len(archives) == 0 {
		return nil, generror.LinkPlanIncomplete(lib.LibDir, "no librte_*.a archives")
	}

	aux := append([]string(nil), DefaultAux...)
	if slices.ContainsFunc(lib.Archives, func(a string) bool { return strings.Contains(filepath.Base(a), "mlx5") }) {
		aux = append(aux, mlx5Aux...)
	}
	aux = append(aux, opts.ExtraLibs...)
	aux = dedupe(aux)

	p := &Plan{
		ShimArchive: shimArchive,
		LibDir:      lib.LibDir,
		Archives:    archives,
		Aux:         aux,
	}
	p.Flags = append(p.Flags, "-L"+filepath.Dir(shimArchive), "-l:"+filepath.Base(shimArchive))
	p.Flags = append(p.Flags, "-L"+lib.LibDir, WholeArchive)
	for _, a := range archives {
		p.Flags = append(p.Flags, "-l:"+a)
	}
	p.Flags = append(p.Flags, NoWholeArchive)
	for _, l := range aux {
		p.Flags = append(p.Flags, libFlag(l))
	}
	return p, nil
}

func libFlag(l string) string {
	if strings.HasPrefix(l, "-") {
		return l
	}
	return "-l" + l
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Verify checks the bracket invariant of a flag list: exactly one
// whole-archive bracket, only native archives inside it, the shim archive
// before it and at least one flag after it.
func Verify(flags []string) error {
	openAt, closeAt := -1, -1
	for i, f := range flags {
		switch f {
		case WholeArchive:
			if openAt >= 0 {
				return fmt.Errorf("more than one %s", WholeArchive)
			}
			openAt = i
		case NoWholeArchive:
			if openAt < 0 || closeAt >= 0 {
				return fmt.Errorf("unbalanced %s", NoWholeArchive)
			}
			closeAt = i
		}
	}
	if openAt < 0 || closeAt < 0 {
		return errors.New("no whole-archive bracket")
	}
	if closeAt == openAt+1 {
		return errors.New("empty whole-archive bracket")
	}
	for _, f := range flags[openAt+1 : closeAt] {
		if !strings.HasPrefix(f, "-l:") || strings.Contains(f, "rtebind_shim") {
			return fmt.Errorf("%s inside the whole-archive bracket", f)
		}
	}
	shim := slices.IndexFunc(flags, func(f string) bool { return strings.Contains(f, "rtebind_shim") })
	if shim < 0 || shim > openAt {
		return errors.New("shim archive must precede the whole-archive bracket")
	}
	if closeAt == len(flags)-1 {
		return errors.New("no auxiliary libraries after the whole-archive bracket")
	}
	return nil
}
