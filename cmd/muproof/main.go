// Command muproof verifies concurrency invariants of Go programs.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Check), "")
	subcommands.Register(new(Schedule), "")
	subcommands.Register(new(Version), "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
