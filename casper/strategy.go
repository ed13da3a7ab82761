// strategy.go defines the pluggable consensus-hook seam SPEC_FULL.md §9
// asks for: a Strategy interface the block-processing pipeline calls at
// fixed points, with a PoS implementation wired over HeaderVerifier and
// a no-op implementation for the PoW-fallback slot spec.md places out
// of scope. Grounded in step shape on consensus/header_validator.go's
// ValidateHeader (a fixed sequence of named checks returning the first
// error), generalized into named pipeline hooks instead of one method.
package casper

import (
	"github.com/eth2030/eth2030/core/state"
	"github.com/eth2030/eth2030/core/types"
	"github.com/holiman/uint256"
)

// Strategy is the seven-method consensus hook a block-processing
// pipeline calls at fixed points, letting the Casper path and a
// no-op PoW-fallback path share one call site without branching on a
// fork flag everywhere the hooks are needed.
type Strategy interface {
	// HeaderCheck runs cheap, context-free header shape checks.
	HeaderCheck(header *types.Header) error
	// HeaderValidate runs the full header acceptance algorithm against
	// st, mutating st and the strategy's internal state on success.
	HeaderValidate(st *state.State, header *types.Header) error
	// UncleValidate runs the dunkle/uncle-inclusion algorithm for a
	// non-canonical header at the given canonical hash and block
	// number, at wall-clock time now.
	UncleValidate(header *types.Header, canonicalHash types.Hash, currentBlockNumber uint64, now int64) error
	// BlockSetup runs before a block's transactions execute.
	BlockSetup(st *state.State, header *types.Header) error
	// BlockPreFinalize runs after transactions execute but before the
	// block's state root is computed.
	BlockPreFinalize(st *state.State, header *types.Header) error
	// BlockPostFinalize runs after the block's state root is computed
	// and committed.
	BlockPostFinalize(st *state.State, header *types.Header) error
	// StateInitialize seeds st with any consensus-required accounts
	// (e.g. the Casper contract itself) at genesis.
	StateInitialize(st *state.State) error
}

// PoSStrategy implements Strategy over a HeaderVerifier/Registry/
// EpochManager triple: HeaderValidate and UncleValidate delegate
// directly, BlockSetup/BlockPreFinalize/BlockPostFinalize are no-ops
// (epoch rollovers happen inside HeaderValidate), and StateInitialize ensures the contract account exists so the first
// deposit's TransferValue does not find a brand-new, uninitialized
// account.
type PoSStrategy struct {
	verifier *HeaderVerifier
	registry *Registry
	epochs   *EpochManager
	dunkles  *DunkleLedger
}

// NewPoSStrategy wires a PoSStrategy over the given components.
func NewPoSStrategy(verifier *HeaderVerifier, registry *Registry, epochs *EpochManager, dunkles *DunkleLedger) *PoSStrategy {
	return &PoSStrategy{verifier: verifier, registry: registry, epochs: epochs, dunkles: dunkles}
}

// HeaderCheck implements Strategy: a PoS header must carry at least the
// fixed-width ExtraData prefix.
func (p *PoSStrategy) HeaderCheck(header *types.Header) error {
	if len(header.Extra) < ExtraDataPrefixLen {
		return ErrInvalidHeader
	}
	return nil
}

// HeaderValidate implements Strategy by delegating to HeaderVerifier.
func (p *PoSStrategy) HeaderValidate(st *state.State, header *types.Header) error {
	return p.verifier.VerifyHeader(st, header)
}

// UncleValidate implements Strategy by delegating to
// HeaderVerifier.IncludeDunkle against this strategy's dunkle ledger.
func (p *PoSStrategy) UncleValidate(header *types.Header, canonicalHash types.Hash, currentBlockNumber uint64, now int64) error {
	return p.verifier.IncludeDunkle(p.dunkles, header, canonicalHash, currentBlockNumber, now)
}

// BlockSetup implements Strategy; PoS requires no per-block setup
// beyond what HeaderValidate already performed.
func (p *PoSStrategy) BlockSetup(st *state.State, header *types.Header) error {
	return nil
}

// BlockPreFinalize implements Strategy; PoS has no pre-root-computation
// hook of its own.
func (p *PoSStrategy) BlockPreFinalize(st *state.State, header *types.Header) error {
	return nil
}

// BlockPostFinalize implements Strategy; PoS has no post-commit hook of
// its own, since epoch rollovers happen inside HeaderValidate.
func (p *PoSStrategy) BlockPostFinalize(st *state.State, header *types.Header) error {
	return nil
}

// StateInitialize implements Strategy: it guarantees the Casper
// contract's account exists at genesis so the first Deposit's
// TransferValue targets an already-present account.
func (p *PoSStrategy) StateInitialize(st *state.State) error {
	exists, err := st.AccountExists(p.registry.ContractAddress())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return st.SetBalance(p.registry.ContractAddress(), uint256.NewInt(0))
}

// NoOpStrategy implements Strategy with every method a no-op, for the
// PoW-fallback slot spec.md places out of scope but whose interface
// seam the core still expresses, per spec.md §9 "Nullable members map
// to explicit no-op variants".
type NoOpStrategy struct{}

func (NoOpStrategy) HeaderCheck(header *types.Header) error                 { return nil }
func (NoOpStrategy) HeaderValidate(st *state.State, header *types.Header) error { return nil }
func (NoOpStrategy) UncleValidate(header *types.Header, canonicalHash types.Hash, currentBlockNumber uint64, now int64) error {
	return nil
}
func (NoOpStrategy) BlockSetup(st *state.State, header *types.Header) error        { return nil }
func (NoOpStrategy) BlockPreFinalize(st *state.State, header *types.Header) error   { return nil }
func (NoOpStrategy) BlockPostFinalize(st *state.State, header *types.Header) error  { return nil }
func (NoOpStrategy) StateInitialize(st *state.State) error                         { return nil }
