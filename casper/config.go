// Package casper implements the validator-set and block-proposer
// contract: deposits into fixed-size buckets, epoch rollovers,
// deposit-weighted proposer selection, header verification, dunkle
// inclusion, and withdrawals. It is itself a piece of world state —
// every deposit, reward, and withdrawal moves value through a
// core/state.State instance rather than a private ledger.
package casper

import "github.com/holiman/uint256"

// NumBuckets is the number of fixed deposit-size buckets validators are
// segregated into.
const NumBuckets = 12

// NoEndEpoch is the end_epoch sentinel meaning "active indefinitely".
const NoEndEpoch uint64 = 1<<64 - 1

// BlockMakingPPB is the parts-per-billion block reward rate applied to
// max(total_deposits, MinRewardBase).
const BlockMakingPPB uint64 = 10

// MinRewardBase is the minimum deposit base used for the block reward
// formula, 10^6 * 10^18.
var MinRewardBase = mustWei(1_000_000)

// MaxProposerRetries bounds Selector.Pick's rehash-on-retry loop so an
// all-inactive validator set fails fast instead of spinning forever.
const MaxProposerRetries = 256

// DunkleMinAgeSeconds is the age, in seconds, a dunkle record must reach
// before removeOldDunkleRecords will clear it.
const DunkleMinAgeSeconds int64 = 10_000_000

// DunkleRewardDivisor is the divisor in the removeOldDunkleRecords payout
// formula: BLOCK_REWARD * len / DunkleRewardDivisor.
const DunkleRewardDivisor = 250

// bucketSizesEth lists the twelve fixed deposit sizes, in whole ether,
// that segregate validators into buckets.
var bucketSizesEth = [NumBuckets]uint64{
	64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536, 131072,
}

// mustWei converts a whole-ether amount to wei (* 10^18).
func mustWei(eth uint64) *uint256.Int {
	v := new(uint256.Int).SetUint64(eth)
	return v.Mul(v, uint256.NewInt(1_000_000_000_000_000_000))
}

// BucketSize returns the deposit size, in wei, for bucket b. Panics if b
// is out of range; callers are expected to validate first.
func BucketSize(b int) *uint256.Int {
	return mustWei(bucketSizesEth[b])
}

// BucketForDeposit returns the bucket whose fixed size exactly matches v,
// and ok=false if no bucket matches.
func BucketForDeposit(v *uint256.Int) (int, bool) {
	for b := 0; b < NumBuckets; b++ {
		if v.Eq(BucketSize(b)) {
			return b, true
		}
	}
	return 0, false
}

// Config holds the fork-independent constants of the Casper contract
// deployment: epoch length, genesis timestamp, and the reward/lock
// formula parameters spec.md states in prose.
type Config struct {
	EpochLength      uint64
	GenesisTimestamp uint64

	// SecondsPerSkip is the per-skip timestamp widening applied by
	// MinTimestamp, matching the original contract's literal "6".
	SecondsPerSkip uint64
	// SecondsPerBlock is the block-interval term in MinTimestamp,
	// matching the original contract's literal "3".
	SecondsPerBlock uint64
}

// DefaultConfig returns the standard deployment parameters: a five-block
// epoch length suitable for tests, 3-second blocks and 6-second skips
// per the original contract's MinTimestamp formula.
func DefaultConfig() *Config {
	return &Config{
		EpochLength:      5,
		GenesisTimestamp: 0,
		SecondsPerSkip:   6,
		SecondsPerBlock:  3,
	}
}

// MinTimestamp implements spec.md §4.E's proposer time gate:
// genesis_timestamp + 3*block_number + 6*(total_skips + skips).
func (c *Config) MinTimestamp(blockNumber, totalSkips, skips uint64) uint64 {
	return c.GenesisTimestamp + c.SecondsPerBlock*blockNumber + c.SecondsPerSkip*(totalSkips+skips)
}
