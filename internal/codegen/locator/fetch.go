package locator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
)

// FetchOptions controls the fetch-and-build fallback used when no DPDK
// install is present. Off unless Enabled is set.
type FetchOptions struct {
	Enabled bool   `help:"Clone and build DPDK into the build dir when it cannot be located" name:"fetch" env:"RTEBIND_FETCH"`
	Repo    string `help:"DPDK git repository" default:"https://github.com/DPDK/dpdk.git" name:"fetch-repo" env:"RTEBIND_FETCH_REPO"`
	Ref     string `help:"DPDK git tag or branch" default:"v23.11" name:"fetch-ref" env:"RTEBIND_FETCH_REF"`
	Jobs    int    `help:"Parallel build jobs (0: number of CPUs)" default:"0" name:"fetch-jobs"`
}

// Fetch clones DPDK into workDir/3rdparty/dpdk (unless already cloned),
// builds it as static libraries with meson and ninja, and installs it under
// workDir/3rdparty/dpdk-install. It returns the install prefix, which can be
// used as Hints.SDKRoot.
func Fetch(ctx context.Context, runner toolchain.Runner, workDir string, opts FetchOptions, logger *slog.Logger) (string, error) {
	base := filepath.Join(workDir, "3rdparty")
	src := filepath.Join(base, "dpdk")
	prefix := filepath.Join(base, "dpdk-install")
	build := filepath.Join(src, "build")

	if _, err := os.Stat(filepath.Join(prefix, "include", "dpdk", ConfigHeaderName)); err == nil {
		logger.Info("Reusing fetched DPDK", "prefix", prefix)
		return prefix, nil
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create fetch dir: %w", err)
	}

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	var steps []toolchain.Command
	if _, err := os.Stat(src); os.IsNotExist(err) {
		steps = append(steps, toolchain.Command{
			Dir:  base,
			Name: "git",
			Args: []string{"clone", "--depth", "1", "-b", opts.Ref, opts.Repo, src},
		})
	}
	steps = append(steps,
		toolchain.Command{
			Dir:  src,
			Name: "meson",
			Args: []string{"setup", build, "--prefix", prefix, "--libdir", "lib", "-Ddefault_library=static", "-Dtests=false", "-Denable_docs=false"},
		},
		toolchain.Command{
			Dir:  src,
			Name: "ninja",
			Args: []string{"-C", build, "-j", strconv.Itoa(jobs), "install"},
		},
	)

	logger.Info("Fetching and building DPDK", "repo", opts.Repo, "ref", opts.Ref, "prefix", prefix)
	for _, step := range steps {
		logger.Info("Running build step", "cmd", step.Name)
		if res, err := runner.Run(ctx, step); err != nil {
			e := generror.MissingDependency(prefix, fmt.Sprintf("fetch-and-build step %q failed", step.String()))
			e.Output = string(res.Combined())
			e.Err = err
			return "", e
		}
	}
	return prefix, nil
}
