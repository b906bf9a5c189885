// Command syslogcored is the daemon entry point: it wires configured
// queues, actions, and a ruleset into a running router and serves the
// optional read-only admin surface (spec.md §6.E).
package main

import (
	"log"

	"github.com/syslogcore/engine/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
