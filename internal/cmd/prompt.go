package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chzyer/readline"

	"github.com/Alia5/rtebind/internal/codegen/locator"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
)

type lineReader interface {
	Readline() (string, error)
}

var errPromptAborted = errors.New("no DPDK installation selected")

// newPrompt is swapped in tests.
var newPrompt = func() (lineReader, io.Closer, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "DPDK SDK root: ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("readline init: %w", err)
	}
	return rl, rl, nil
}

// promptSDK asks for SDK roots until one resolves. An empty line or EOF
// gives up.
func promptSDK(ctx context.Context, r lineReader, w io.Writer, runner toolchain.Runner, h locator.Hints, logger *slog.Logger) (*locator.Library, error) {
	for {
		line, err := r.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil, errPromptAborted
			}
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return nil, errPromptAborted
		}

		h.SDKRoot, h.FallbackRoots = line, nil
		lib, err := locator.Locate(ctx, runner, h, logger)
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			continue
		}
		return lib, nil
	}
}
