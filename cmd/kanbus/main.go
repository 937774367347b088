// Package main provides kanbus, a local issue tracker whose commands read a
// per-project index served by a background daemon.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/calvinalkan/kanbus/internal/cli"
)

func main() {
	// The daemon subcommand shuts down on either signal; other commands
	// cancel their context.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	os.Exit(cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, cli.Environ(os.Environ()), sigCh))
}
