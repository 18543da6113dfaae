// Package generator runs the binding pipeline: locate the native library,
// scan its headers, synthesize and compile shims, emit the Go package and
// plan the static link.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/Alia5/rtebind/internal/codegen/common"
	"github.com/Alia5/rtebind/internal/codegen/compiler"
	"github.com/Alia5/rtebind/internal/codegen/emitter"
	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/linkplan"
	"github.com/Alia5/rtebind/internal/codegen/locator"
	"github.com/Alia5/rtebind/internal/codegen/meta"
	"github.com/Alia5/rtebind/internal/codegen/scanner"
	"github.com/Alia5/rtebind/internal/codegen/shim"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
)

const ManifestName = "rtebind-manifest.json"

type Options struct {
	BuildDir  string   `help:"Directory for the umbrella header, shim sources and shim archive" default:"build/rtebind" env:"RTEBIND_BUILD_DIR" name:"build-dir" type:"path"`
	OutDir    string   `help:"Directory of the generated Go package" default:"dpdk" env:"RTEBIND_OUT" name:"out" type:"path"`
	Blocklist []string `help:"Header stems left out of the umbrella header" default:"rte_function_versioning,rte_pmd_dlb,rte_pmd_dlb2" env:"RTEBIND_BLOCKLIST" name:"block"`

	Locator  locator.Hints        `embed:""`
	Fetch    locator.FetchOptions `embed:""`
	Shim     shim.Options         `embed:""`
	Compiler compiler.Options     `embed:""`
	Emitter  emitter.Options      `embed:""`
	Link     linkplan.Options     `embed:""`
}

// Manifest records one successful run in the build dir.
type Manifest struct {
	Library     *locator.Library  `json:"library"`
	Shims       []string          `json:"shims"`
	ShimArchive string            `json:"shimArchive"`
	Fingerprint string            `json:"fingerprint"`
	ToolVersion string            `json:"toolVersion"`
	Cached      bool              `json:"cached"`
	OutDir      string            `json:"outDir"`
	Files       []string          `json:"files"`
	Link        *linkplan.Plan    `json:"link"`
	Skipped     []scanner.Skipped `json:"skipped,omitempty"`
}

type Generator struct {
	opts   Options
	runner toolchain.Runner
	logger *slog.Logger
	// LinkEnv is where link guidance goes when flags are not injected.
	LinkEnv linkplan.Env
}

func New(opts Options, runner toolchain.Runner, logger *slog.Logger) *Generator {
	if len(opts.Blocklist) == 0 {
		opts.Blocklist = scanner.DefaultBlocklist
	}
	if opts.Compiler.CC == "" {
		opts.Compiler.CC = "cc"
	}
	if opts.Emitter.Package == "" {
		opts.Emitter.Package = "dpdk"
	}
	opts.Locator.CC = opts.Compiler.CC
	return &Generator{
		opts:    opts,
		runner:  runner,
		logger:  logger,
		LinkEnv: linkplan.StdoutEnv(),
	}
}

// Locate resolves the native library, fetching and building it into the
// build dir when that is enabled and nothing is installed.
func (g *Generator) Locate(ctx context.Context) (*locator.Library, error) {
	lib, err := locator.Locate(ctx, g.runner, g.opts.Locator, g.logger)
	if err == nil || !g.opts.Fetch.Enabled || !errors.Is(err, generror.ErrMissingDependency) {
		return lib, err
	}
	g.logger.Warn("DPDK not installed, fetching", "error", err)
	prefix, ferr := locator.Fetch(ctx, g.runner, g.opts.BuildDir, g.opts.Fetch, g.logger)
	if ferr != nil {
		return nil, ferr
	}
	hints := g.opts.Locator
	hints.SDKRoot, hints.Target = prefix, ""
	return locator.Locate(ctx, g.runner, hints, g.logger)
}

// ScanAll locates the library, writes the umbrella header and scans the
// surface it exposes.
func (g *Generator) ScanAll(ctx context.Context) (*meta.Metadata, error) {
	lib, err := g.Locate(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(g.opts.BuildDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}

	headers, err := scanner.CollectHeaders(lib.IncludeDir, lib.ConfigHeader, g.opts.Blocklist)
	if err != nil {
		return nil, err
	}
	umbrella, err := scanner.WriteUmbrella(g.opts.BuildDir, lib.ConfigHeader, headers)
	if err != nil {
		return nil, err
	}
	g.logger.Info("Wrote umbrella header", "path", umbrella, "headers", len(headers))

	surface, err := scanner.Scan(umbrella, []string{lib.IncludeDir}, scanner.DefaultOptions(), g.logger)
	if err != nil {
		return nil, err
	}
	g.logger.Info("Scanned symbol surface",
		"symbols", len(surface.Symbols),
		"externs", len(surface.Externs),
		"constants", len(surface.Constants),
		"skipped", len(surface.Skipped))

	return &meta.Metadata{
		Library:  lib,
		Surface:  surface,
		BuildDir: g.opts.BuildDir,
		OutDir:   g.opts.OutDir,
	}, nil
}

// Run executes the whole pipeline. Every stage fails fast; the shim
// compile and the binding emission run concurrently.
func (g *Generator) Run(ctx context.Context) (*Manifest, error) {
	md, err := g.ScanAll(ctx)
	if err != nil {
		return nil, err
	}

	md.Shims, err = shim.Synthesize(md.Surface, g.opts.Shim, g.logger)
	if err != nil {
		return nil, err
	}
	src, err := md.Shims.Write(md.BuildDir)
	if err != nil {
		return nil, err
	}

	var emitted *emitter.Result
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		archive, err := compiler.Compile(egCtx, g.runner, md.Library, md.Shims, src, g.opts.Compiler, g.logger)
		md.ShimArchive = archive
		return err
	})
	eg.Go(func() error {
		res, err := emitter.Emit(egCtx, g.runner, md, g.opts.Emitter, g.logger)
		emitted = res
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	md.Fingerprint, md.ToolVersion = emitted.Fingerprint, emitted.ToolVersion

	plan, err := linkplan.Build(md.Library, md.ShimArchive, g.opts.Link)
	if err != nil {
		return nil, err
	}
	if err := linkplan.Emit(plan, md.OutDir, g.opts.Emitter.Package, g.opts.Link, g.LinkEnv, g.logger); err != nil {
		return nil, err
	}

	files := emitted.Files
	if g.opts.Link.InjectLDFlags {
		files = append(files, linkplan.LinkFile)
	}
	m := &Manifest{
		Library:     md.Library,
		Shims:       md.Shims.Names(),
		ShimArchive: md.ShimArchive,
		Fingerprint: md.Fingerprint,
		ToolVersion: md.ToolVersion,
		Cached:      emitted.Cached,
		OutDir:      md.OutDir,
		Files:       files,
		Link:        plan,
		Skipped:     md.Surface.Skipped,
	}
	if err := writeManifest(md.BuildDir, m); err != nil {
		return nil, err
	}
	g.logger.Info("Bindings ready", "package", md.OutDir, "fingerprint", md.Fingerprint, "cached", emitted.Cached)
	return m, nil
}

func writeManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode build manifest: %w", err)
	}
	if err := common.WriteFileAtomic(filepath.Join(dir, ManifestName), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write build manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of the last successful run in buildDir.
func ReadManifest(buildDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(buildDir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("read build manifest (run rtebind generate first): %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode build manifest: %w", err)
	}
	if m.Link == nil {
		return nil, fmt.Errorf("build manifest %s has no link plan", filepath.Join(buildDir, ManifestName))
	}
	return &m, nil
}
