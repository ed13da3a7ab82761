package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/log"
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "create a fresh datadir and run the Casper contract's genesis state setup",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Required: true, Usage: "data directory path"},
			&cli.BoolFlag{Name: "pebble", Value: true, Usage: "use a cockroachdb/pebble-backed datadir (false = in-memory, discarded on exit)"},
			&cli.StringFlag{Name: "contract", Value: "0x000000000000000000000000000000000000c0", Usage: "address the Casper contract's balance is tracked under"},
		},
		Action: func(c *cli.Context) error {
			dataDir := c.String("datadir")
			contractAddr := types.HexToAddress(c.String("contract"))

			b, err := openBackend(dataDir, c.Bool("pebble"))
			if err != nil {
				return fmt.Errorf("open datadir: %w", err)
			}
			defer b.close()

			engine := newEngine(contractAddr)
			if err := engine.Strategy.StateInitialize(b.st); err != nil {
				return fmt.Errorf("initialize genesis state: %w", err)
			}

			root, err := b.commit(dataDir, true)
			if err != nil {
				return fmt.Errorf("commit genesis state: %w", err)
			}
			log.Default().Module("cmd").Info("datadir initialized", "datadir", dataDir, "contract", contractAddr.Hex(), "root", root.Hex())
			return nil
		},
	}
}
