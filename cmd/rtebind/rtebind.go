package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/Alia5/rtebind/internal/codegen/common"
	"github.com/Alia5/rtebind/internal/codegen/generror"
	"github.com/Alia5/rtebind/internal/codegen/toolchain"
	"github.com/Alia5/rtebind/internal/config"
	"github.com/Alia5/rtebind/internal/configpaths"
	"github.com/Alia5/rtebind/internal/log"
)

func main() {
	userCfg := findUserConfig(os.Args[1:])
	jsonPaths, yamlPaths, tomlPaths := configpaths.ConfigCandidatePaths(userCfg)

	version, err := common.GetVersion()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	cacheDir, err := configpaths.DefaultCacheDir()
	if err != nil {
		cacheDir = ".rtebind-cache"
	}

	var cli config.CLI
	ctx := kong.Parse(&cli,
		kong.Name("rtebind"),
		kong.Description("Go bindings and static link plan for DPDK"),
		kong.UsageOnError(),
		kong.Vars{"version": version, "cache_dir": cacheDir},
		// Load configuration from JSON/YAML/TOML in priority order; flags/env override config values.
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	logger, closeFiles, err := log.SetupLogger(cli.Log.Level, cli.Log.File)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() {
		for _, c := range closeFiles {
			_ = c.Close()
		}
	}()

	var transcript log.Transcript
	if cli.Log.TranscriptFile != "" {
		f, err := os.OpenFile(cli.Log.TranscriptFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Error("failed to open transcript file", "file", cli.Log.TranscriptFile, "error", err)
			transcript = log.NewTranscript(nil)
		} else {
			transcript = log.NewTranscript(f)
			closeFiles = append(closeFiles, f)
		}
	} else if cli.Log.Level == "trace" {
		transcript = log.NewTranscript(os.Stdout)
	} else {
		transcript = log.NewTranscript(nil)
	}

	ctx.Bind(logger)
	ctx.BindTo(toolchain.NewExecRunner(logger, transcript), (*toolchain.Runner)(nil))

	err = ctx.Run()
	if err != nil {
		reportFailure(os.Stderr, logger, err)
	}
	ctx.FatalIfErrorf(err)
}

// reportFailure logs the failure kind and dumps any captured tool output,
// which is usually what explains it.
func reportFailure(w io.Writer, logger *slog.Logger, err error) {
	ge, ok := generror.As(err)
	if !ok {
		return
	}
	logger.Error("Generation failed", "kind", string(ge.Kind), "path", ge.Path, "symbol", ge.Symbol)
	if ge.Output != "" {
		fmt.Fprintf(w, "--- tool output ---\n%s\n", strings.TrimRight(ge.Output, "\n"))
	}
}

func findUserConfig(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--config=") {
			return a[len("--config="):]
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	if v := os.Getenv("RTEBIND_CONFIG"); v != "" {
		return v
	}
	return ""
}
