package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/log"
)

func pruneDunklesCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune-dunkles",
		Usage: "clear aged-out dunkle records and collect the removeOldDunkleRecords reward",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Required: true, Usage: "data directory path"},
			&cli.BoolFlag{Name: "pebble", Value: true, Usage: "the datadir is pebble-backed (must match how it was init'd)"},
			&cli.StringFlag{Name: "contract", Value: "0x000000000000000000000000000000000000c0", Usage: "Casper contract address"},
			&cli.StringFlag{Name: "caller", Required: true, Usage: "address to receive the removal reward"},
			&cli.StringFlag{Name: "hashes", Required: true, Usage: "comma-separated hex dunkle hashes to remove"},
			&cli.Int64Flag{Name: "now", Usage: "unix timestamp to evaluate record age against (default: current time)"},
		},
		Action: func(c *cli.Context) error {
			dataDir := c.String("datadir")

			var hashes []types.Hash
			for _, s := range strings.Split(c.String("hashes"), ",") {
				s = strings.TrimSpace(s)
				if s == "" {
					continue
				}
				hashes = append(hashes, types.HexToHash(s))
			}
			if len(hashes) == 0 {
				return fmt.Errorf("--hashes must name at least one hash")
			}

			now := c.Int64("now")
			if now == 0 {
				now = time.Now().Unix()
			}

			b, err := openBackend(dataDir, c.Bool("pebble"))
			if err != nil {
				return fmt.Errorf("open datadir: %w", err)
			}
			defer b.close()

			engine := newEngine(types.HexToAddress(c.String("contract")))
			caller := types.HexToAddress(c.String("caller"))

			if err := engine.Verifier.RemoveOldDunkles(engine.Dunkles, b.st, caller, hashes, now); err != nil {
				return fmt.Errorf("remove old dunkles: %w", err)
			}

			root, err := b.commit(dataDir, false)
			if err != nil {
				return fmt.Errorf("commit: %w", err)
			}
			log.Default().Module("cmd").Info("old dunkles pruned", "count", len(hashes), "caller", caller.Hex(), "root", root.Hex())
			return nil
		},
	}
}
