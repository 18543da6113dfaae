package linkplan

import (
	"errors"
	"fmt"
	"go/format"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"golang.org/x/term"

	"github.com/Alia5/rtebind/internal/codegen/common"
)

const LinkFile = "zdpdk_link.go"

// AllowPattern admits the whole-archive bracket in a #cgo LDFLAGS
// directive. cgo rejects -Wl,--whole-archive there unless CGO_LDFLAGS_ALLOW
// matches it; flags taken from the CGO_LDFLAGS variable are not checked.
const AllowPattern = `-Wl,--(no-)?whole-archive`

// Env is what Emit needs to know about the caller.
type Env struct {
	// CurrentLDFlags is the CGO_LDFLAGS value the next build would see.
	CurrentLDFlags string
	// CurrentLDFlagsAllow is the CGO_LDFLAGS_ALLOW value the next build
	// would see.
	CurrentLDFlagsAllow string
	Out                 io.Writer
	Terminal            bool
}

// StdoutEnv describes the running process.
func StdoutEnv() Env {
	return Env{
		CurrentLDFlags:      os.Getenv("CGO_LDFLAGS"),
		CurrentLDFlagsAllow: os.Getenv("CGO_LDFLAGS_ALLOW"),
		Out:                 os.Stdout,
		Terminal:            term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// ExportLine is the shell line that hands the plan to the next build.
func ExportLine(p *Plan) string {
	return `export CGO_LDFLAGS="` + p.String() + `"`
}

// AllowLine is the shell line that lets cgo accept an injected plan.
func AllowLine() string {
	return `export CGO_LDFLAGS_ALLOW='` + AllowPattern + `'`
}

// BracketAllowed reports whether allow, taken as a CGO_LDFLAGS_ALLOW value,
// admits both bracket flags.
func BracketAllowed(allow string) bool {
	if allow == "" {
		return false
	}
	re, err := regexp.Compile(`^(?:` + allow + `)$`)
	if err != nil {
		return false
	}
	return re.MatchString(WholeArchive) && re.MatchString(NoWholeArchive)
}

// Emit hands the plan to the Go build. Injection writes a cgo LDFLAGS
// directive into the generated package pkg in outDir and prints the
// CGO_LDFLAGS_ALLOW line unless env already admits the bracket. Otherwise
// the directive file is removed and an export line is printed unless env
// already carries the plan.
func Emit(p *Plan, outDir, pkg string, opts Options, env Env, logger *slog.Logger) error {
	if err := Verify(p.Flags); err != nil {
		return fmt.Errorf("link plan: %w", err)
	}
	path := filepath.Join(outDir, LinkFile)

	if opts.InjectLDFlags {
		src := fmt.Sprintf("// Code generated by rtebind. DO NOT EDIT.\n\npackage %s\n\n// Building this package needs CGO_LDFLAGS_ALLOW='%s'.\n\n// #cgo LDFLAGS: %s\nimport \"C\"\n",
			pkg, AllowPattern, p.String())
		out, err := format.Source([]byte(src))
		if err != nil {
			return fmt.Errorf("format %s: %w", LinkFile, err)
		}
		if err := common.WriteFileAtomic(path, out, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", LinkFile, err)
		}
		logger.Info("Injected link flags", "file", path)
		if BracketAllowed(env.CurrentLDFlagsAllow) {
			return nil
		}
		if env.Out == nil {
			env.Out = io.Discard
		}
		if env.Terminal {
			fmt.Fprintf(env.Out, "Link flags are injected. cgo only accepts the whole-archive bracket after:\n\n    %s\n\n", AllowLine())
			return nil
		}
		fmt.Fprintln(env.Out, AllowLine())
		return nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale %s: %w", LinkFile, err)
	}
	if env.CurrentLDFlags == p.String() {
		logger.Info("CGO_LDFLAGS already carries the link plan")
		return nil
	}
	if env.Out == nil {
		env.Out = io.Discard
	}
	if env.Terminal {
		fmt.Fprintf(env.Out, "Link flags are not injected. Before building, run:\n\n    %s\n\n", ExportLine(p))
		return nil
	}
	fmt.Fprintln(env.Out, ExportLine(p))
	return nil
}
