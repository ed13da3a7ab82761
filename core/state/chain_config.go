// Package state implements the transactional world-state store: a
// write-through cache and reversible journal layered over a secure
// Merkle-Patricia trie, plus the fork-activation predicates the Casper
// contract and header verifier consult.
package state

// Fork names recognized by ChainConfig.IsFork. Declared as constants
// rather than an enum so callers can pass the spec's names directly.
const (
	Homestead      = "HOMESTEAD"
	DAO            = "DAO"
	AntiDoS        = "ANTI_DOS"
	SpuriousDragon = "SPURIOUS_DRAGON"
	Metropolis     = "METROPOLIS"
	Serenity       = "SERENITY"
)

// ChainConfig holds the per-network fork schedule and the small set of
// numeric constants the state engine and header verifier need.
type ChainConfig struct {
	// ForkBlocks maps a fork name to its activation block number.
	ForkBlocks map[string]uint64

	AccountInitialNonce      uint64
	ContractCodeSizeLimit    int
	MetropolisBlockhashStore [20]byte // well-known contract address
	MetropolisWraparound     uint64
	PrevHeaderDepth          uint64
}

// DefaultChainConfig returns a config with every fork active from block 0,
// matching a from-genesis PoS deployment.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		ForkBlocks: map[string]uint64{
			Homestead:      0,
			DAO:            0,
			AntiDoS:        0,
			SpuriousDragon: 0,
			Metropolis:     0,
			Serenity:       0,
		},
		AccountInitialNonce:   0,
		ContractCodeSizeLimit: 24576,
		MetropolisWraparound:  256,
		PrevHeaderDepth:       256,
	}
}

// IsFork reports whether the named fork is active at blockNumber. When
// atForkHeight is true it requires exact equality (the block that
// activates the fork), otherwise it is a "since" predicate.
func (c *ChainConfig) IsFork(name string, atForkHeight bool, blockNumber uint64) bool {
	forkBlock, ok := c.ForkBlocks[name]
	if !ok {
		return false
	}
	if atForkHeight {
		return blockNumber == forkBlock
	}
	return blockNumber >= forkBlock
}
