package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Alia5/rtebind/internal/codegen/generator"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
)

type Generate struct {
	generator.Options `embed:""`
}

// Run is called by Kong when the generate command is executed.
func (g *Generate) Run(logger *slog.Logger, runner toolchain.Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting binding generation", "sdk", g.Locator.SDKRoot, "out", g.OutDir, "build", g.BuildDir)
	gen := generator.New(g.Options, runner, logger)
	gen.LinkEnv.Out = stdout
	m, err := gen.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("Generated package",
		"dir", m.OutDir,
		"dpdk", m.Library.Version,
		"shims", len(m.Shims),
		"files", len(m.Files),
		"skipped", len(m.Skipped),
		"cached", m.Cached)
	return nil
}
