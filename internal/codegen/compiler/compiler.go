// Package compiler builds the synthesized shim source into a static archive.
package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/locator"
	"github.com/Alia5/rtebind/internal/codegen/shim"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
)

const ArchiveName = "librtebind_shim.a"

type Options struct {
	CC     string   `help:"C compiler" default:"cc" env:"CC" name:"cc"`
	AR     string   `help:"Archiver" default:"ar" env:"AR" name:"ar"`
	CFlags []string `help:"Shim compile flags" default:"-O3,-march=native,-fPIC,-w" env:"RTEBIND_SHIM_CFLAGS" name:"shim-cflag"`
}

var (
	diagRe = regexp.MustCompile(`^([^:\s]+):(\d+):(?:\d+:)?\s*(fatal error|error|warning|note):\s*(.*)$`)
	// gcc names the enclosing function before its diagnostics.
	scopeRe = regexp.MustCompile(`^([^:\s]+): (?:In function [‘'](\w+)[’']|At top level):`)
)

// Compile compiles src (the shim source next to its header) and archives
// it as librtebind_shim.a in the same directory. The archive only appears
// once both steps succeed.
func Compile(ctx context.Context, runner toolchain.Runner, lib *locator.Library, set *shim.Set, src string, opts Options, logger *slog.Logger) (string, error) {
	dir := filepath.Dir(src)
	cc, ar := opts.CC, opts.AR
	if cc == "" {
		cc = "cc"
	}
	if ar == "" {
		ar = "ar"
	}

	tmp, err := os.MkdirTemp(dir, ".rtebind-cc-*")
	if err != nil {
		return "", fmt.Errorf("create compile dir: %w", err)
	}
	defer os.RemoveAll(tmp)
	obj := filepath.Join(tmp, "rtebind_shim.o")
	tmpArchive := filepath.Join(tmp, ArchiveName)

	args := []string{"-c"}
	args = append(args, opts.CFlags...)
	args = append(args, "-I"+dir, "-I"+lib.IncludeDir, src, "-o", obj)

	logger.Info("Compiling shims", "units", len(set.Units), "cc", cc)
	res, err := runner.Run(ctx, toolchain.Command{Dir: dir, Name: cc, Args: args})
	if err != nil {
		output := string(res.Combined())
		return "", generror.ShimCompile(strings.Join(failedSymbols(set, filepath.Base(src), output), ", "), output, err)
	}

	res, err = runner.Run(ctx, toolchain.Command{Dir: dir, Name: ar, Args: []string{"rcs", tmpArchive, obj}})
	if err != nil {
		return "", generror.ShimCompile("", string(res.Combined()), fmt.Errorf("archive: %w", err))
	}

	archive := filepath.Join(dir, ArchiveName)
	if err := os.Rename(tmpArchive, archive); err != nil {
		return "", fmt.Errorf("install shim archive: %w", err)
	}
	logger.Info("Built shim archive", "archive", archive)
	return archive, nil
}

// failedSymbols maps compiler diagnostics back to the symbols their shims
// were generated for. An error on a shim line names its unit. An error in
// a DPDK header names the unit of the enclosing function gcc reported, or
// of the shim line a following "in expansion of macro" note points at.
// Header errors with neither map to nothing.
func failedSymbols(set *shim.Set, srcName, output string) []string {
	seen := map[string]bool{}
	scope := ""
	inError := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if m := scopeRe.FindStringSubmatch(line); m != nil {
			scope, inError = unitForFunction(set, m[2]), false
			continue
		}
		m := diagRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		inShim := filepath.Base(m[1]) == srcName
		switch m[3] {
		case "error", "fatal error":
			inError = true
			if inShim {
				if name := unitAtLine(set, m[2]); name != "" {
					seen[name] = true
					continue
				}
			}
			if scope != "" {
				seen[scope] = true
			}
		case "note":
			if inError && inShim && strings.HasPrefix(m[4], "in expansion of macro") {
				if name := unitAtLine(set, m[2]); name != "" {
					seen[name] = true
				}
			}
		default:
			inError = false
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unitAtLine(set *shim.Set, line string) string {
	n, err := strconv.Atoi(line)
	if err != nil {
		return ""
	}
	if u, ok := set.UnitAt(n); ok {
		return u.Symbol.Name
	}
	return ""
}

// unitForFunction finds the unit of a shim function, or the unit wrapping
// a DPDK inline function of that name.
func unitForFunction(set *shim.Set, fn string) string {
	if fn == "" {
		return ""
	}
	for _, u := range set.Units {
		for _, f := range u.Functions {
			if f.Name == fn {
				return u.Symbol.Name
			}
		}
	}
	for _, u := range set.Units {
		if u.Symbol.Name == fn {
			return u.Symbol.Name
		}
	}
	return ""
}
