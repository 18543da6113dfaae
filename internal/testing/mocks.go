package testing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/Alia5/rtebind/internal/codegen/toolchain"
)

const (
	FakeMachine   = "x86_64-linux-gnu"
	FakeGoVersion = "go version go1.25.0 linux/amd64"
)

type HandlerFunc func(cmd toolchain.Command) (toolchain.Result, error)

// FakeRunner answers commands from registered handlers keyed by program
// base name and records every call.
type FakeRunner struct {
	mu       sync.Mutex
	calls    []toolchain.Command
	handlers map[string]HandlerFunc
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{handlers: map[string]HandlerFunc{}}
}

// CreateMockToolchain returns a runner that behaves like a working cc, ar
// and go toolchain. godefsRefs maps a struct tag to the struct tags its
// fake godefs layout points at.
func CreateMockToolchain(t *testing.T, godefsRefs map[string][]string) *FakeRunner {
	t.Helper()
	r := NewFakeRunner()
	r.Handle("cc", FakeCC(""))
	r.Handle("ar", FakeAR())
	r.Handle("go", FakeGo(godefsRefs))
	return r
}

func (f *FakeRunner) Handle(name string, h HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
}

func (f *FakeRunner) Run(_ context.Context, cmd toolchain.Command) (toolchain.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h := f.handlers[filepath.Base(cmd.Name)]
	f.mu.Unlock()
	if h == nil {
		return toolchain.Result{}, fmt.Errorf("%s: executable file not found in $PATH", cmd.Name)
	}
	return h(cmd)
}

// Calls returns the recorded commands run under the given program name.
func (f *FakeRunner) Calls(name string) []toolchain.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []toolchain.Command
	for _, c := range f.calls {
		if filepath.Base(c.Name) == name {
			out = append(out, c)
		}
	}
	return out
}

func resolve(cmd toolchain.Command, p string) string {
	if filepath.IsAbs(p) || cmd.Dir == "" {
		return p
	}
	return filepath.Join(cmd.Dir, p)
}

func argAfter(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

// FakeCC answers -dumpmachine and writes the -o object of -c compiles.
// A non-empty failOutput makes every compile fail with that stderr.
func FakeCC(failOutput string) HandlerFunc {
	return func(cmd toolchain.Command) (toolchain.Result, error) {
		if slices.Contains(cmd.Args, "-dumpmachine") {
			return toolchain.Result{Stdout: []byte(FakeMachine + "\n")}, nil
		}
		if failOutput != "" {
			return toolchain.Result{Stderr: []byte(failOutput)}, errors.New("exit status 1")
		}
		out := argAfter(cmd.Args, "-o")
		if out == "" {
			return toolchain.Result{}, errors.New("no output file")
		}
		return toolchain.Result{}, os.WriteFile(resolve(cmd, out), []byte("\x7fELF fake object"), 0o644)
	}
}

// FakeAR writes the archive named after "rcs".
func FakeAR() HandlerFunc {
	return func(cmd toolchain.Command) (toolchain.Result, error) {
		archive := argAfter(cmd.Args, "rcs")
		if archive == "" {
			return toolchain.Result{}, errors.New("usage: ar rcs archive files")
		}
		return toolchain.Result{}, os.WriteFile(resolve(cmd, archive), []byte("!<arch>\n"), 0o644)
	}
}

var godefsDecl = regexp.MustCompile(`(?m)^type (\w+) C\.struct_(\w+)$`)

// FakeGo answers "go version" and "go tool cgo -godefs". The godefs
// layouts are opaque byte arrays plus one pointer field per entry of refs,
// which refers to undeclared tags the way the real tool does. An entry
// starting with "+" is a member embedded by value instead.
func FakeGo(refs map[string][]string) HandlerFunc {
	return func(cmd toolchain.Command) (toolchain.Result, error) {
		if len(cmd.Args) > 0 && cmd.Args[0] == "version" {
			return toolchain.Result{Stdout: []byte(FakeGoVersion + "\n")}, nil
		}
		if !slices.Contains(cmd.Args, "-godefs") {
			return toolchain.Result{}, fmt.Errorf("unexpected go invocation: %s", cmd.String())
		}
		input := cmd.Args[len(cmd.Args)-1]
		src, err := os.ReadFile(resolve(cmd, input))
		if err != nil {
			return toolchain.Result{Stderr: []byte(err.Error())}, errors.New("exit status 2")
		}

		declared := map[string]string{}
		var order []string
		for _, m := range godefsDecl.FindAllStringSubmatch(string(src), -1) {
			declared[m[2]] = m[1]
			order = append(order, m[2])
		}
		sort.Strings(order)

		var b strings.Builder
		b.WriteString("// Code generated by cmd/cgo -godefs; DO NOT EDIT.\n")
		fmt.Fprintf(&b, "// cgo -godefs -- %s\n\n", strings.Join(cmd.Args[4:], " "))
		b.WriteString("package dpdk\n\n")
		for _, tag := range order {
			fmt.Fprintf(&b, "type %s struct {\n", declared[tag])
			for i, ref := range refs[tag] {
				ptr := "*"
				if value, ok := strings.CutPrefix(ref, "+"); ok {
					ptr, ref = "", value
				}
				typ := "_Ctype_struct_" + ref
				if name, ok := declared[ref]; ok {
					typ = name
				}
				fmt.Fprintf(&b, "\tRef%d %s%s\n", i, ptr, typ)
			}
			fmt.Fprintf(&b, "\tX_%s [%d]byte\n}\n\n", tag, 8*(len(tag)%4+1))
		}
		return toolchain.Result{Stdout: []byte(b.String())}, nil
	}
}
