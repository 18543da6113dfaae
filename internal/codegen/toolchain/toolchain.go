// Package toolchain runs the external programs the pipeline depends on:
// the C compiler, the archiver, the Go toolchain, and the DPDK build tools.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/Alia5/rtebind/internal/log"
)

type Command struct {
	Dir  string
	Name string
	Args []string
	// Env is appended to the current process environment.
	Env []string
}

func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

type Result struct {
	Stdout []byte
	Stderr []byte
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() []byte {
	return append(append([]byte{}, r.Stdout...), r.Stderr...)
}

// Runner executes a command to completion. Implementations must be safe for
// concurrent use; the compiler and emitter stages share one.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Logger     *slog.Logger
	Transcript log.Transcript
}

func NewExecRunner(logger *slog.Logger, transcript log.Transcript) *ExecRunner {
	if transcript == nil {
		transcript = log.NewTranscript(nil)
	}
	return &ExecRunner{Logger: logger, Transcript: transcript}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.Debug("Running command", "cmd", c.String(), "dir", c.Dir)
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	r.Transcript.Record(c.Dir, c.Argv(), res.Combined(), err)
	if err != nil {
		return res, fmt.Errorf("%s: %w", c.Name, err)
	}
	return res, nil
}

// Output runs cmd and returns its trimmed stdout.
func Output(ctx context.Context, r Runner, cmd Command) (string, error) {
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}
