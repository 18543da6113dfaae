// Package locator resolves the installed DPDK library: its header
// directory, its static archive directory and its version.
package locator

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
)

const ConfigHeaderName = "rte_config.h"

// DefaultFallbackRoots are searched when no SDK root is given.
var DefaultFallbackRoots = []string{"/usr/local", "/usr"}

// Hints are the environment-provided inputs to the locator. They are
// resolved once by the CLI and passed in; the locator never reads the
// process environment itself.
type Hints struct {
	SDKRoot       string   `help:"DPDK installation root" env:"RTE_SDK" name:"sdk" type:"path"`
	Target        string   `help:"DPDK target directory below the SDK root (legacy make layout)" env:"RTE_TARGET" name:"target"`
	FallbackRoots []string `help:"Install prefixes searched when --sdk is not set" default:"/usr/local,/usr" env:"RTEBIND_FALLBACK_ROOTS" name:"fallback-root"`
	Machine       string   `help:"Machine triple used for multiarch lib dirs (default: cc -dumpmachine)" env:"RTEBIND_MACHINE" name:"machine"`
	CC            string   `kong:"-"`
}

// Library is the resolved native library reference. It is immutable once
// Locate returns.
type Library struct {
	Root         string   `json:"root"`
	IncludeDir   string   `json:"includeDir"`
	LibDir       string   `json:"libDir"`
	ConfigHeader string   `json:"configHeader"`
	Version      string   `json:"version"`
	Target       string   `json:"target"`
	Archives     []string `json:"archives"`
}

// Locate resolves the library from the hints. The search is read-only apart
// from asking the C compiler for its machine triple.
func Locate(ctx context.Context, runner toolchain.Runner, h Hints, logger *slog.Logger) (*Library, error) {
	machine := h.Machine
	if machine == "" {
		machine = detectMachine(ctx, runner, h.CC)
		logger.Debug("Detected machine", "machine", machine)
	}

	roots, err := candidateRoots(h)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, root := range roots {
		lib, err := inspectRoot(root, machine)
		if err != nil {
			logger.Debug("DPDK not found under root", "root", root, "error", err)
			lastErr = err
			// An explicit SDK root must resolve; do not fall through to the
			// system install and silently build against something else.
			if h.SDKRoot != "" {
				return nil, err
			}
			continue
		}
		lib.Target = machine
		if h.Target != "" {
			lib.Target = h.Target
		}
		logger.Info("Located DPDK",
			"version", lib.Version,
			"include", lib.IncludeDir,
			"lib", lib.LibDir,
			"archives", len(lib.Archives))
		return lib, nil
	}
	if lastErr == nil {
		lastErr = generror.MissingDependency("", "no install roots to search")
	}
	return nil, lastErr
}

func candidateRoots(h Hints) ([]string, error) {
	if h.SDKRoot != "" {
		if h.Target != "" {
			root := filepath.Join(h.SDKRoot, h.Target)
			if !isDir(root) {
				return nil, generror.MissingDependency(root, "RTE_TARGET directory does not exist below RTE_SDK")
			}
			return []string{root}, nil
		}
		if build := filepath.Join(h.SDKRoot, "build"); isDir(filepath.Join(build, "include")) {
			return []string{build}, nil
		}
		return []string{h.SDKRoot}, nil
	}
	roots := h.FallbackRoots
	if len(roots) == 0 {
		roots = DefaultFallbackRoots
	}
	return roots, nil
}

func inspectRoot(root, machine string) (*Library, error) {
	includeDir := ""
	for _, dir := range []string{filepath.Join(root, "include", "dpdk"), filepath.Join(root, "include")} {
		if isFile(filepath.Join(dir, ConfigHeaderName)) {
			includeDir = dir
			break
		}
	}
	if includeDir == "" {
		return nil, generror.MissingDependency(filepath.Join(root, "include", "dpdk", ConfigHeaderName), "DPDK headers not found")
	}

	var libDirs []string
	if machine != "" {
		libDirs = append(libDirs, filepath.Join(root, "lib", machine))
	}
	libDirs = append(libDirs, filepath.Join(root, "lib64"), filepath.Join(root, "lib"))

	var libDir string
	var archives []string
	for _, dir := range libDirs {
		found, err := FindArchives(dir)
		if err == nil && len(found) > 0 {
			libDir, archives = dir, found
			break
		}
	}
	if libDir == "" {
		return nil, generror.MissingDependency(libDirs[0], "no static librte_*.a archives found")
	}

	version, err := ReadVersion(includeDir)
	if err != nil {
		return nil, err
	}

	return &Library{
		Root:         root,
		IncludeDir:   includeDir,
		LibDir:       libDir,
		ConfigHeader: filepath.Join(includeDir, ConfigHeaderName),
		Version:      version,
		Archives:     archives,
	}, nil
}

// FindArchives lists the librte_*.a archives of dir (plus libdpdk.a, if
// present), sorted by path.
func FindArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".a") {
			continue
		}
		if strings.HasPrefix(name, "librte_") || name == "libdpdk.a" {
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

var versionDefine = regexp.MustCompile(`^#\s*define\s+RTE_VER_(YEAR|MONTH|MINOR|SUFFIX|RELEASE)\s+(.+?)\s*$`)

// ReadVersion reads the RTE_VER_* defines from rte_build_config.h (meson
// installs) or rte_version.h (legacy installs).
func ReadVersion(includeDir string) (string, error) {
	parts := map[string]string{}
	for _, name := range []string{"rte_build_config.h", "rte_version.h"} {
		f, err := os.Open(filepath.Join(includeDir, name))
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			m := versionDefine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
			if m == nil {
				continue
			}
			if _, seen := parts[m[1]]; !seen {
				parts[m[1]] = strings.Trim(m[2], `"`)
			}
		}
		f.Close()
		if parts["YEAR"] != "" && parts["MONTH"] != "" {
			break
		}
	}
	if parts["YEAR"] == "" || parts["MONTH"] == "" {
		return "", generror.MissingDependency(filepath.Join(includeDir, "rte_build_config.h"), "RTE_VER_YEAR/RTE_VER_MONTH not defined")
	}
	minor := parts["MINOR"]
	if minor == "" {
		minor = "0"
	}
	v := fmt.Sprintf("%s.%s.%s", parts["YEAR"], leftPad(parts["MONTH"]), minor)
	if s := parts["SUFFIX"]; s != "" {
		v += s
	}
	return v, nil
}

func leftPad(month string) string {
	if len(month) == 1 {
		return "0" + month
	}
	return month
}

func detectMachine(ctx context.Context, runner toolchain.Runner, cc string) string {
	if cc == "" {
		cc = "cc"
	}
	if out, err := toolchain.Output(ctx, runner, toolchain.Command{Name: cc, Args: []string{"-dumpmachine"}}); err == nil && out != "" {
		return out
	}
	return hostMachine()
}

func isDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}

func isFile(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}
