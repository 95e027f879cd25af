// Package main is the entry point for the mole binary.
//
// mole manages long-lived SSH tunnels declared in ~/.ssh/config. Tunnels are
// regular Host blocks with a forward directive, optionally tagged with a
// "# mole:group=" comment; mole starts them under autossh, reconciles its
// records with live processes, and adopts tunnels started outside of it.
//
// Usage:
//
//	mole up db-prod        # start one tunnel
//	mole up --group work   # start every tunnel in a group
//	mole list              # show declared tunnels with live status
//	mole down --all        # stop everything
//
// The command tree is built in internal/cli; this file wires it together
// and handles top-level error reporting.
package main

import (
	"fmt"
	"os"

	"github.com/mole-cli/mole/internal/cli"
)

func main() {
	cmd, err := cli.NewRootCommand()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
