package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/Alia5/rtebind/internal/codegen/generator"
	"github.com/Alia5/rtebind/internal/codegen/locator"
	"github.com/Alia5/rtebind/internal/codegen/scanner"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
)

// Scan prints the symbol surface without synthesizing or compiling anything.
type Scan struct {
	BuildDir  string   `help:"Directory for the umbrella header" default:"build/rtebind" env:"RTEBIND_BUILD_DIR" name:"build-dir" type:"path"`
	Blocklist []string `help:"Header stems left out of the umbrella header" default:"rte_function_versioning,rte_pmd_dlb,rte_pmd_dlb2" env:"RTEBIND_BLOCKLIST" name:"block"`
	CC        string   `help:"C compiler used to detect the machine triple" default:"cc" env:"CC" name:"cc"`
	Format    string   `help:"Output format" enum:"table,json" default:"table"`
	Skipped   bool     `help:"Also list declarations that were seen but not exported"`

	Locator locator.Hints `embed:""`
}

func (s *Scan) Run(logger *slog.Logger, runner toolchain.Runner) error {
	opts := generator.Options{BuildDir: s.BuildDir, Blocklist: s.Blocklist, Locator: s.Locator}
	opts.Compiler.CC = s.CC
	md, err := generator.New(opts, runner, logger).ScanAll(context.Background())
	if err != nil {
		return err
	}
	if s.Format == "json" {
		return writeJSON(stdout, md.Surface)
	}
	renderSurface(stdout, md.Surface, s.Skipped)
	return nil
}

func location(file string, line int) string {
	return file + ":" + strconv.Itoa(line)
}

func renderSurface(w io.Writer, s *scanner.Surface, skipped bool) {
	table := newTable(w, "NAME", "KIND", "RETURN", "FILE:LINE")
	for _, syms := range [][]scanner.Symbol{s.Symbols, s.Externs} {
		for _, sym := range syms {
			ret := sym.Return
			if sym.Kind == scanner.KindBitfield {
				ret = sym.Struct + "." + sym.Field
			}
			table.Append([]string{sym.Name, string(sym.Kind), ret, location(sym.File, sym.Line)})
		}
	}
	table.Render()
	fmt.Fprintf(w, "\n%d shim candidates, %d externs, %d constants, %d structs\n",
		len(s.Symbols), len(s.Externs), len(s.Constants), len(s.Structs))

	if !skipped || len(s.Skipped) == 0 {
		return
	}
	fmt.Fprintln(w)
	table = newTable(w, "SKIPPED", "REASON", "FILE:LINE")
	for _, sk := range s.Skipped {
		table.Append([]string{sk.Name, sk.Reason, location(sk.File, sk.Line)})
	}
	table.Render()
}
