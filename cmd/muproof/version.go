package main

import (
	"context"
	"flag"
	"fmt"
	"runtime/debug"

	"github.com/google/subcommands"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = ""

// Version implements subcommands.Command for the "version" command.
type Version struct{}

// Name implements subcommands.Command.Name.
func (*Version) Name() string {
	return "version"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Version) Synopsis() string {
	return "Print the version."
}

// Usage implements subcommands.Command.Usage.
func (*Version) Usage() string {
	return "version\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Version) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Version) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	fmt.Printf("muproof %s\n", currentVersion())
	return subcommands.ExitSuccess
}

func currentVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "devel"
}
