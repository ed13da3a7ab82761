package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/eth2030/eth2030/core/types"
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "print registry and epoch state for a datadir",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Required: true, Usage: "data directory path"},
			&cli.BoolFlag{Name: "pebble", Value: true, Usage: "the datadir is pebble-backed (must match how it was init'd)"},
			&cli.StringFlag{Name: "contract", Value: "0x000000000000000000000000000000000000c0", Usage: "Casper contract address"},
		},
		Action: func(c *cli.Context) error {
			b, err := openBackend(c.String("datadir"), c.Bool("pebble"))
			if err != nil {
				return fmt.Errorf("open datadir: %w", err)
			}
			defer b.close()

			engine := newEngine(types.HexToAddress(c.String("contract")))
			stats := engine.Registry.Stats()
			fmt.Printf("current_epoch:  %d\n", engine.Epochs.CurrentEpoch())
			fmt.Printf("total_deposits: %s\n", engine.Epochs.TotalDeposits())
			fmt.Printf("total_skips:    %d\n", engine.Epochs.TotalSkips())
			fmt.Printf("global_randao:  %x\n", engine.Selector.GlobalRandao())
			for b := 0; b < len(stats.LiveValidators); b++ {
				fmt.Printf("bucket[%02d]:     %d live, %d free\n", b, stats.LiveValidators[b], stats.FreeSlots[b])
			}

			bal, err := b.st.GetBalance(engine.Registry.ContractAddress())
			if err != nil {
				return fmt.Errorf("get contract balance: %w", err)
			}
			fmt.Printf("contract_balance: %s\n", bal)
			return nil
		},
	}
}
