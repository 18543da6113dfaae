package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Alia5/rtebind/internal/codegen/generator"
	"github.com/Alia5/rtebind/internal/codegen/linkplan"
)

// LinkFlags prints the link plan recorded by the last generate run, for
// builds that do not inject the flags into the package.
type LinkFlags struct {
	BuildDir string `help:"Build directory of the generate run" default:"build/rtebind" env:"RTEBIND_BUILD_DIR" name:"build-dir" type:"path"`
	Format   string `help:"flags: bare flags, export: a shell export line, json: the full plan" enum:"flags,export,json" default:"flags"`
}

func (l *LinkFlags) Run(logger *slog.Logger) error {
	m, err := generator.ReadManifest(l.BuildDir)
	if err != nil {
		return err
	}
	logger.Debug("Read build manifest", "dir", l.BuildDir, "fingerprint", m.Fingerprint)
	if err := linkplan.Verify(m.Link.Flags); err != nil {
		return err
	}
	return renderLinkPlan(stdout, m.Link, l.Format)
}

func renderLinkPlan(w io.Writer, p *linkplan.Plan, format string) error {
	switch format {
	case "json":
		return writeJSON(w, p)
	case "export":
		_, err := fmt.Fprintln(w, linkplan.ExportLine(p))
		return err
	default:
		_, err := fmt.Fprintln(w, p.String())
		return err
	}
}
