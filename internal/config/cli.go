// Package config holds the root command line of rtebind.
package config

import (
	"github.com/alecthomas/kong"

	"github.com/Alia5/rtebind/internal/cmd"
)

type Log struct {
	Level          string `help:"Log level" default:"info" enum:"trace,debug,info,warn,error" env:"RTEBIND_LOG_LEVEL"`
	File           string `help:"Also write logs to this file" env:"RTEBIND_LOG_FILE" type:"path"`
	TranscriptFile string `help:"Write every external command and its output to this file (stdout at trace level)" env:"RTEBIND_LOG_TRANSCRIPT_FILE" type:"path"`
}

type CLI struct {
	ConfigFile string           `help:"Config file (json, yaml or toml)" name:"config" env:"RTEBIND_CONFIG" type:"path"`
	Log        Log              `embed:"" prefix:"log."`
	Version    kong.VersionFlag `help:"Print the version and exit"`

	Generate  cmd.Generate      `cmd:"" default:"withargs" help:"Generate the Go binding package, shim archive and link plan"`
	Scan      cmd.Scan          `cmd:"" help:"List the symbol surface of the located headers"`
	Locate    cmd.Locate        `cmd:"" help:"Resolve the DPDK installation"`
	Linkflags cmd.LinkFlags     `cmd:"" help:"Print the link flags of the last generate run"`
	Cache     cmd.CacheCommand  `cmd:"" help:"Inspect or prune the declaration cache"`
	Config    cmd.ConfigCommand `cmd:"" help:"Configuration file helpers"`
}
