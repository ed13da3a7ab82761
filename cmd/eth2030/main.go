// Command eth2030 wires a Casper consensus engine to a world-state
// store and exposes it over a small set of CLI subcommands: init a
// datadir, deposit into the validator registry, inspect registry/epoch
// status, and run an idle process that serves Prometheus metrics while
// periodically reporting engine state. There is no P2P, RPC or block
// source here: wiring the consensus core and its state backend to the
// outside world is the entrypoint's whole job.
//
// Usage:
//
//	eth2030 init    --datadir <path> [--pebble] [--contract <addr>]
//	eth2030 deposit --datadir <path> --from <addr> --bucket <n> --code <hex> --commitment <hash>
//	eth2030 status  --datadir <path>
//	eth2030 [--verbosity <level>] run --datadir <path> [--metrics-addr <addr>]
//	eth2030 prune-dunkles --datadir <path> --caller <addr> --hashes <hex,hex,...>
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/eth2030/eth2030/log"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "eth2030: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "eth2030"
	app.Usage = "Casper proof-of-stake engine and world-state store"
	app.Version = fmt.Sprintf("%s (commit %s)", version, commit)
	app.Flags = []cli.Flag{
		&cli.IntFlag{Name: "verbosity", Value: 2, Usage: "log level 0-4 (0=error, 4=debug)"},
	}
	app.Before = func(c *cli.Context) error {
		log.SetDefault(log.New(verbosityToSlogLevel(c.Int("verbosity"))))
		return nil
	}
	app.Commands = []*cli.Command{
		initCommand(),
		depositCommand(),
		statusCommand(),
		runCommand(),
		pruneDunklesCommand(),
	}
	return app
}
