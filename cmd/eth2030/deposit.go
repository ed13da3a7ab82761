package main

import (
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/eth2030/eth2030/casper"
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/log"
)

func depositCommand() *cli.Command {
	return &cli.Command{
		Name:  "deposit",
		Usage: "deposit a validator into one of the twelve fixed-size buckets",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Required: true, Usage: "data directory path"},
			&cli.BoolFlag{Name: "pebble", Value: true, Usage: "the datadir is pebble-backed (must match how it was init'd)"},
			&cli.StringFlag{Name: "contract", Value: "0x000000000000000000000000000000000000c0", Usage: "Casper contract address"},
			&cli.StringFlag{Name: "from", Required: true, Usage: "depositing address (must already hold at least the bucket's balance)"},
			&cli.IntFlag{Name: "bucket", Required: true, Usage: "bucket index 0-11"},
			&cli.StringFlag{Name: "code", Required: true, Usage: "hex-encoded validation_code"},
			&cli.StringFlag{Name: "commitment", Required: true, Usage: "hex-encoded randao commitment hash"},
		},
		Action: func(c *cli.Context) error {
			dataDir := c.String("datadir")
			bucket := c.Int("bucket")
			if bucket < 0 || bucket >= casper.NumBuckets {
				return fmt.Errorf("bucket %d out of range [0,%d)", bucket, casper.NumBuckets)
			}
			validationCode, err := hex.DecodeString(trim0x(c.String("code")))
			if err != nil {
				return fmt.Errorf("decode --code: %w", err)
			}

			b, err := openBackend(dataDir, c.Bool("pebble"))
			if err != nil {
				return fmt.Errorf("open datadir: %w", err)
			}
			defer b.close()

			engine := newEngine(types.HexToAddress(c.String("contract")))
			from := types.HexToAddress(c.String("from"))
			commitment := types.HexToHash(c.String("commitment"))

			bucketIdx, slot, err := engine.Registry.Deposit(b.st, engine.Epochs, from, casper.BucketSize(bucket), validationCode, commitment)
			if err != nil {
				return fmt.Errorf("deposit: %w", err)
			}

			root, err := b.commit(dataDir, false)
			if err != nil {
				return fmt.Errorf("commit: %w", err)
			}
			log.Default().Module("cmd").Info("deposit accepted", "from", from.Hex(), "bucket", bucketIdx, "slot", slot, "root", root.Hex())
			return nil
		},
	}
}

// trim0x strips an optional "0x"/"0X" prefix before hex.DecodeString.
func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
