package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/locator"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
	"github.com/Alia5/rtebind/internal/configpaths"
)

type Locate struct {
	CC          string `help:"C compiler used to detect the machine triple" default:"cc" env:"CC" name:"cc"`
	Format      string `help:"Output format" enum:"table,json" default:"table"`
	Interactive bool   `help:"Prompt for the SDK root when DPDK cannot be located" short:"i"`
	Save        string `help:"Store the resolved SDK root as sdk in this JSON config file (user: the default user config)" placeholder:"FILE"`

	Locator locator.Hints `embed:""`
}

func (l *Locate) Run(logger *slog.Logger, runner toolchain.Runner) error {
	ctx := context.Background()
	h := l.Locator
	h.CC = l.CC

	lib, err := locator.Locate(ctx, runner, h, logger)
	if err != nil && l.Interactive && errors.Is(err, generror.ErrMissingDependency) {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		r, closer, perr := newPrompt()
		if perr != nil {
			return perr
		}
		defer closer.Close()
		lib, err = promptSDK(ctx, r, os.Stderr, runner, h, logger)
	}
	if err != nil {
		return err
	}

	if l.Save != "" {
		path := l.Save
		if path == "user" {
			if path, err = configpaths.DefaultConfigPath("json"); err != nil {
				return err
			}
		}
		if err := saveSDKRoot(path, lib.Root); err != nil {
			return err
		}
		logger.Info("Saved SDK root", "config", path, "sdk", lib.Root)
	}

	if l.Format == "json" {
		return writeJSON(stdout, lib)
	}
	renderLibrary(stdout, lib)
	return nil
}

func renderLibrary(w io.Writer, lib *locator.Library) {
	table := newTable(w, "KEY", "VALUE")
	table.AppendBulk([][]string{
		{"root", lib.Root},
		{"version", lib.Version},
		{"target", lib.Target},
		{"include", lib.IncludeDir},
		{"config", lib.ConfigHeader},
		{"lib", lib.LibDir},
		{"archives", fmt.Sprint(len(lib.Archives))},
	})
	table.Render()
}

// saveSDKRoot merges {"sdk": root} into a JSON config file, keeping every
// other key.
func saveSDKRoot(path, root string) error {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".toml":
		return fmt.Errorf("can only save into a JSON config file: %s", path)
	}
	cfg := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(strings.TrimSpace(string(data))) > 0 {
			if err := json.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	cfg["sdk"] = root

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := configpaths.EnsureDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, append(out, '\n'), 0o644)
}
