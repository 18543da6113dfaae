// Package emitter generates the Go binding package over the shim and the
// native headers: struct layouts from cgo -godefs, cgo wrappers for every
// mappable function, and the scanned integer constants.
package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Alia5/rtebind/internal/codegen/cache"
	"github.com/Alia5/rtebind/internal/codegen/common"
	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/meta"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
)

const (
	TypesFile     = "zdpdk_types.go"
	FuncsFile     = "zdpdk_funcs.go"
	ConstFile     = "zdpdk_const.go"
	CgoFile       = "zdpdk_cgo.go"
	GitignoreFile = ".gitignore"

	generatedHeader = "// Code generated by rtebind. DO NOT EDIT."
	defaultRounds   = 8
)

type Options struct {
	Package   string `help:"Name of the generated Go package" default:"dpdk" env:"RTEBIND_PACKAGE" name:"package"`
	Go        string `help:"Go command that runs cgo -godefs" default:"go" env:"RTEBIND_GO" name:"go"`
	Cache     bool   `help:"Reuse declarations cached under the same fingerprint" default:"true" negatable:"" env:"RTEBIND_CACHE" name:"cache"`
	CacheDir  string `help:"Declaration cache directory" default:"${cache_dir}" env:"RTEBIND_CACHE_DIR" name:"cache-dir" type:"path"`
	MaxRounds int    `help:"Upper bound on cgo -godefs passes while closing over struct references" default:"8" hidden:"" name:"godefs-rounds"`
}

// Result describes one emission.
type Result struct {
	Fingerprint string
	ToolVersion string
	// Files are the names written into the output dir, sorted.
	Files  []string
	Cached bool
	Types  int
	Funcs  int
	Consts int
}

type emitter struct {
	runner toolchain.Runner
	md     *meta.Metadata
	opts   Options
	logger *slog.Logger
}

// ToolVersion identifies the generator: this binary plus the Go toolchain
// running cgo -godefs.
func ToolVersion(ctx context.Context, runner toolchain.Runner, goCmd string) (string, error) {
	version, err := common.GetVersion()
	if err != nil {
		return "", err
	}
	out, err := toolchain.Output(ctx, runner, toolchain.Command{Name: goCmd, Args: []string{"version"}})
	if err != nil {
		return "", generror.BindingGeneration("go toolchain unavailable", "", err)
	}
	return "rtebind " + version + "; " + out, nil
}

// Emit writes the binding package for md into md.OutDir. md must carry the
// located library, the scanned surface and the synthesized shim set; the
// shim header must already be written to md.BuildDir.
func Emit(ctx context.Context, runner toolchain.Runner, md *meta.Metadata, opts Options, logger *slog.Logger) (*Result, error) {
	if opts.Package == "" {
		opts.Package = "dpdk"
	}
	if opts.Go == "" {
		opts.Go = "go"
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = defaultRounds
	}
	e := &emitter{runner: runner, md: md, opts: opts, logger: logger}

	toolVersion, err := ToolVersion(ctx, runner, opts.Go)
	if err != nil {
		return nil, err
	}
	res := &Result{
		ToolVersion: toolVersion,
		Fingerprint: cache.Fingerprint(md.Library.Version, md.Shims.Names(), toolVersion,
			"package="+opts.Package, "surface="+surfaceDigest(md)),
	}

	var c *cache.Cache
	if opts.Cache && opts.CacheDir != "" {
		c = cache.New(opts.CacheDir, logger)
		if entry, ok := c.Lookup(res.Fingerprint); ok {
			names, err := entry.Restore(md.OutDir)
			if err != nil {
				return nil, err
			}
			if err := e.writeCgo(); err != nil {
				return nil, err
			}
			logger.Info("Reused cached bindings", "fingerprint", res.Fingerprint)
			res.Cached = true
			res.Files = sortedNames(append(names, CgoFile))
			return res, nil
		}
	}

	files, err := e.generate(ctx, res)
	if err != nil {
		return nil, err
	}
	for _, name := range sortedKeysOf(files) {
		if err := common.WriteFileAtomic(filepath.Join(md.OutDir, name), files[name], 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		res.Files = append(res.Files, name)
	}
	if err := e.writeCgo(); err != nil {
		return nil, err
	}
	res.Files = sortedNames(append(res.Files, CgoFile))

	logger.Info("Generated bindings", "dir", md.OutDir, "types", res.Types, "funcs", res.Funcs, "consts", res.Consts)
	if c != nil {
		if err := c.Store(res.Fingerprint, md.Library.Version, toolVersion, files); err != nil {
			logger.Warn("Failed to cache bindings", "error", err)
		}
	}
	return res, nil
}

// generate renders every cacheable file. Nothing is written.
func (e *emitter) generate(ctx context.Context, res *Result) (map[string][]byte, error) {
	wrappers := e.wrappers()
	types, tags, err := e.generateTypes(ctx, structTags(wrappers, e.md.Surface))
	if err != nil {
		return nil, err
	}
	wrappers = e.dropShadowed(wrappers, tags)
	funcs, err := e.renderFuncs(wrappers)
	if err != nil {
		return nil, err
	}
	consts, n, err := e.renderConsts(wrappers, tags)
	if err != nil {
		return nil, err
	}

	res.Types, res.Funcs, res.Consts = len(tags), len(wrappers), n
	if res.Types+res.Funcs+res.Consts == 0 {
		return nil, generror.BindingGeneration("no declarations generated", "", nil)
	}
	return map[string][]byte{
		TypesFile:     types,
		FuncsFile:     funcs,
		ConstFile:     consts,
		GitignoreFile: []byte("# " + strings.TrimPrefix(generatedHeader, "// ") + "\n*\n"),
	}, nil
}

// surfaceDigest covers what reaches the generated files besides the shim
// names: shim and extern signatures, constants and struct tags.
func surfaceDigest(md *meta.Metadata) string {
	var lines []string
	for _, f := range md.Shims.Functions() {
		lines = append(lines, "shim "+f.Prototype())
	}
	for _, sym := range md.Surface.Externs {
		decls := make([]string, len(sym.Params))
		for i, p := range sym.Params {
			decls[i] = p.Decl
		}
		lines = append(lines, "extern "+sym.Return+" "+sym.Name+"("+strings.Join(decls, ", ")+")")
	}
	for _, c := range md.Surface.Constants {
		lines = append(lines, "const "+c.Name+" = "+c.Value)
	}
	for _, tag := range md.Surface.Structs {
		lines = append(lines, "type "+tag)
	}
	sort.Strings(lines)
	return cache.Digest(lines)
}

func (e *emitter) cflags() []string {
	return []string{"-I" + e.md.Library.IncludeDir, "-I" + e.md.BuildDir}
}

// writeCgo writes the compile flags. They carry absolute paths of this
// build, so the file is regenerated on every run and never cached.
func (e *emitter) writeCgo() error {
	src := fmt.Sprintf("%s\n\npackage %s\n\n// #cgo CFLAGS: %s -march=native\nimport \"C\"\n",
		generatedHeader, e.opts.Package, strings.Join(e.cflags(), " "))
	out, err := formatGo([]byte(src))
	if err != nil {
		return err
	}
	if err := common.WriteFileAtomic(filepath.Join(e.md.OutDir, CgoFile), out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", CgoFile, err)
	}
	return nil
}

func sortedKeysOf(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedNames(names []string) []string {
	sort.Strings(names)
	return names
}
